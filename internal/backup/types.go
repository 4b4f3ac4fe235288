package backup

import (
	"fmt"
	"time"
)

// RestorePhase is a state of the restore state machine
type RestorePhase string

const (
	PhaseReceived          RestorePhase = "received"
	PhaseValidated         RestorePhase = "validated"
	PhaseTransactionOpen   RestorePhase = "transaction_open"
	PhaseTablesCleared     RestorePhase = "tables_cleared"
	PhaseTablesRepopulated RestorePhase = "tables_repopulated"
	PhaseCommitted         RestorePhase = "committed"
	PhaseRolledBack        RestorePhase = "rolled_back"
	PhaseFailed            RestorePhase = "failed"
)

// Summary counts the records per entity in a document or a restore
type Summary struct {
	Users    int `json:"users" yaml:"users"`
	Products int `json:"products" yaml:"products"`
	Orders   int `json:"orders" yaml:"orders"`
	Settings int `json:"settings" yaml:"settings"`
}

// Total returns the number of records across all entities
func (s Summary) Total() int {
	return s.Users + s.Products + s.Orders + s.Settings
}

// Map returns the counts keyed by table name, for structured logs
func (s Summary) Map() map[string]int {
	return map[string]int{
		"users":    s.Users,
		"products": s.Products,
		"orders":   s.Orders,
		"settings": s.Settings,
	}
}

// String renders the summary on one line
func (s Summary) String() string {
	return fmt.Sprintf("users: %d, products: %d, orders: %d, settings: %d", s.Users, s.Products, s.Orders, s.Settings)
}

// CompressionType represents different compression algorithms
type CompressionType string

const (
	CompressionTypeNone CompressionType = "NONE"
	CompressionTypeGzip CompressionType = "GZIP"
	CompressionTypeLZ4  CompressionType = "LZ4"
	CompressionTypeZstd CompressionType = "ZSTD"
)

// StorageProviderType represents different storage provider types
type StorageProviderType string

const (
	StorageProviderLocal StorageProviderType = "LOCAL"
	StorageProviderS3    StorageProviderType = "S3"
	StorageProviderAzure StorageProviderType = "AZURE"
	StorageProviderGCS   StorageProviderType = "GCS"
)

// ArchiveMetadata describes a stored archive. It is kept next to the payload
// so listing never has to download or decrypt archives.
type ArchiveMetadata struct {
	ID              string          `json:"id" yaml:"id"`
	CreatedAt       time.Time       `json:"created_at" yaml:"created_at"`
	CreatedBy       string          `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	Description     string          `json:"description,omitempty" yaml:"description,omitempty"`
	Checksum        string          `json:"checksum" yaml:"checksum"`
	Counts          Summary         `json:"counts" yaml:"counts"`
	Compression     CompressionType `json:"compression" yaml:"compression"`
	Encrypted       bool            `json:"encrypted" yaml:"encrypted"`
	Size            int64           `json:"size" yaml:"size"`
	StoredSize      int64           `json:"stored_size" yaml:"stored_size"`
	StorageLocation string          `json:"storage_location,omitempty" yaml:"storage_location,omitempty"`
}

// Validate checks the fields every stored archive must carry
func (m *ArchiveMetadata) Validate() error {
	var errs ValidationErrors
	if m.ID == "" {
		errs.Add("id", "archive id is required")
	}
	if m.CreatedAt.IsZero() {
		errs.Add("created_at", "creation time is required")
	}
	if m.Checksum == "" {
		errs.Add("checksum", "checksum is required")
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// StorageFilter narrows archive listings
type StorageFilter struct {
	Prefix   string
	MaxItems int
}
