package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"print-marketplace/internal/logging"

	"github.com/google/uuid"
)

// SaveOptions annotate a new archive
type SaveOptions struct {
	CreatedBy   string
	Description string
}

// Archiver keeps exported documents in a storage provider, compressed and
// optionally encrypted
type Archiver struct {
	storage     StorageProvider
	compressor  *Compressor
	encryptor   *Encryptor
	compression CompressionConfig
	logger      *logging.Logger
	now         func() time.Time
}

// NewArchiver creates an archiver over storage using the compression and
// encryption settings of config
func NewArchiver(storage StorageProvider, config Config, logger *logging.Logger) *Archiver {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Archiver{
		storage:     storage,
		compressor:  NewCompressor(),
		encryptor:   NewEncryptor(config.Encryption),
		compression: config.Compression,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Save stores doc as a new archive. The checksum covers the plain document.
func (a *Archiver) Save(ctx context.Context, doc *Document, opts SaveOptions) (*ArchiveMetadata, error) {
	finish := a.logger.LogOperationStart("archive_save", map[string]interface{}{
		"compression": string(a.compression.Algorithm),
		"encrypted":   a.encryptor.Enabled(),
	})

	metadata, err := a.save(ctx, doc, opts)
	finish(err)
	return metadata, err
}

func (a *Archiver) save(ctx context.Context, doc *Document, opts SaveOptions) (*ArchiveMetadata, error) {
	if doc == nil {
		return nil, NewConfigurationError("document is required", nil)
	}

	data, err := doc.Marshal()
	if err != nil {
		return nil, NewStorageError("failed to encode document", err)
	}

	compressed, stats, err := a.compressor.Compress(data, a.compression.Algorithm, a.compression.Level)
	if err != nil {
		return nil, err
	}
	sealed, err := a.encryptor.Encrypt(compressed)
	if err != nil {
		return nil, err
	}

	metadata := &ArchiveMetadata{
		ID:          uuid.NewString(),
		CreatedAt:   a.now(),
		CreatedBy:   opts.CreatedBy,
		Description: opts.Description,
		Checksum:    Checksum(data),
		Counts:      doc.Summary(),
		Compression: stats.Algorithm,
		Encrypted:   a.encryptor.Enabled(),
		Size:        int64(len(data)),
		StoredSize:  int64(len(sealed)),
	}
	if err := a.storage.Store(ctx, metadata, sealed); err != nil {
		return nil, err
	}

	a.logger.WithContext(ctx).WithField("archive_id", metadata.ID).
		WithField("ratio", stats.CompressionRatio).
		Info("Backup archive saved")
	return metadata, nil
}

// Load reads an archive back into a validated document
func (a *Archiver) Load(ctx context.Context, archiveID string) (*Document, *ArchiveMetadata, error) {
	metadata, err := a.storage.GetMetadata(ctx, archiveID)
	if err != nil {
		return nil, nil, err
	}
	payload, err := a.storage.Retrieve(ctx, archiveID)
	if err != nil {
		return nil, nil, err
	}

	if metadata.Encrypted {
		if !a.encryptor.Enabled() {
			return nil, nil, NewEncryptionError("archive is encrypted but no encryption key is configured", nil)
		}
		if payload, err = a.encryptor.Decrypt(payload); err != nil {
			return nil, nil, err
		}
	}

	data, err := a.compressor.Decompress(payload, metadata.Compression)
	if err != nil {
		return nil, nil, err
	}
	if sum := Checksum(data); sum != metadata.Checksum {
		return nil, nil, NewCorruptionError("archive checksum verification failed", nil).
			WithContext("expected", metadata.Checksum).
			WithContext("actual", sum)
	}

	doc, err := ParseDocument(data)
	if err != nil {
		return nil, nil, err
	}
	return doc, metadata, nil
}

// Get returns the metadata of one archive
func (a *Archiver) Get(ctx context.Context, archiveID string) (*ArchiveMetadata, error) {
	return a.storage.GetMetadata(ctx, archiveID)
}

// List returns stored archives, newest first
func (a *Archiver) List(ctx context.Context, filter StorageFilter) ([]*ArchiveMetadata, error) {
	return a.storage.List(ctx, filter)
}

// Delete removes an archive
func (a *Archiver) Delete(ctx context.Context, archiveID string) error {
	if err := a.storage.Delete(ctx, archiveID); err != nil {
		return err
	}
	a.logger.WithContext(ctx).WithField("archive_id", archiveID).Info("Backup archive deleted")
	return nil
}

// Checksum returns the hex SHA-256 of data
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
