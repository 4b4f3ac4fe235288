package backup

import (
	"context"

	"print-marketplace/internal/models"
	"print-marketplace/internal/store"
)

// Source is a full-table view of the four marketplace tables. Both the pool
// (*store.Store) and a read-only transaction (*store.Snapshot) satisfy it.
type Source interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	ListSettings(ctx context.Context) ([]models.Settings, error)
}

// Snapshotter opens a consistent read view for exports
type Snapshotter interface {
	BeginSnapshot(ctx context.Context) (*store.Snapshot, error)
}

// Replacer opens the transaction a restore runs in
type Replacer interface {
	BeginReplace(ctx context.Context) (*store.ReplaceTx, error)
}

// StorageProvider abstracts archive storage for the different backend types.
// An archive is an opaque payload plus its metadata.
type StorageProvider interface {
	Store(ctx context.Context, metadata *ArchiveMetadata, payload []byte) error
	Retrieve(ctx context.Context, archiveID string) ([]byte, error)
	Delete(ctx context.Context, archiveID string) error
	List(ctx context.Context, filter StorageFilter) ([]*ArchiveMetadata, error)
	GetMetadata(ctx context.Context, archiveID string) (*ArchiveMetadata, error)
}
