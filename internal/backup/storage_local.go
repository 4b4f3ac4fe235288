package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorageProvider keeps archives in directories under a base path
type LocalStorageProvider struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalStorageProvider creates the base directory if needed
func NewLocalStorageProvider(config LocalConfig) (*LocalStorageProvider, error) {
	if config.BasePath == "" {
		return nil, NewConfigurationError("local storage base path is required", nil)
	}
	if config.Permissions == 0 {
		config.Permissions = 0755
	}

	provider := &LocalStorageProvider{basePath: config.BasePath, permissions: config.Permissions}
	if err := os.MkdirAll(provider.basePath, provider.permissions); err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to create base directory %s", provider.basePath), err)
	}
	return provider, nil
}

// BasePath returns the directory archives are stored under
func (lsp *LocalStorageProvider) BasePath() string {
	return lsp.basePath
}

// Store writes the payload and its metadata. The metadata is written last so a
// half-written archive never shows up in listings.
func (lsp *LocalStorageProvider) Store(ctx context.Context, metadata *ArchiveMetadata, payload []byte) error {
	if metadata == nil {
		return NewConfigurationError("archive metadata is required", nil)
	}

	dir := lsp.archiveDir(metadata.ID)
	if err := os.MkdirAll(dir, lsp.permissions); err != nil {
		return NewStorageError("failed to create archive directory", err)
	}
	metadata.StorageLocation = dir

	if err := os.WriteFile(filepath.Join(dir, payloadObject), payload, 0600); err != nil {
		return NewStorageError("failed to write archive payload", err)
	}

	data, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, metadataObject), data, 0644); err != nil {
		return NewStorageError("failed to write archive metadata", err)
	}
	return nil
}

// Retrieve reads an archive payload
func (lsp *LocalStorageProvider) Retrieve(ctx context.Context, archiveID string) ([]byte, error) {
	if archiveID == "" {
		return nil, NewConfigurationError("archive id cannot be empty", nil)
	}
	data, err := os.ReadFile(filepath.Join(lsp.archiveDir(archiveID), payloadObject))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, NewNotFoundError(fmt.Sprintf("archive %s not found", archiveID), err)
	}
	if err != nil {
		return nil, NewStorageError("failed to read archive payload", err)
	}
	return data, nil
}

// Delete removes an archive directory
func (lsp *LocalStorageProvider) Delete(ctx context.Context, archiveID string) error {
	if archiveID == "" {
		return NewConfigurationError("archive id cannot be empty", nil)
	}
	dir := lsp.archiveDir(archiveID)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return NewNotFoundError(fmt.Sprintf("archive %s not found", archiveID), err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return NewStorageError("failed to delete archive directory", err)
	}
	return nil
}

// List returns the metadata of stored archives, newest first. Directories
// without readable metadata are skipped.
func (lsp *LocalStorageProvider) List(ctx context.Context, filter StorageFilter) ([]*ArchiveMetadata, error) {
	entries, err := os.ReadDir(lsp.basePath)
	if err != nil {
		return nil, NewStorageError("failed to list archives", err)
	}

	archives := []*ArchiveMetadata{}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), filter.Prefix) {
			continue
		}
		metadata, err := lsp.loadMetadata(filepath.Join(lsp.basePath, entry.Name(), metadataObject))
		if err != nil {
			continue
		}
		archives = append(archives, metadata)
	}

	sortNewestFirst(archives)
	return limit(archives, filter), nil
}

// GetMetadata reads the metadata of one archive
func (lsp *LocalStorageProvider) GetMetadata(ctx context.Context, archiveID string) (*ArchiveMetadata, error) {
	if archiveID == "" {
		return nil, NewConfigurationError("archive id cannot be empty", nil)
	}
	path := filepath.Join(lsp.archiveDir(archiveID), metadataObject)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, NewNotFoundError(fmt.Sprintf("archive %s not found", archiveID), err)
	}
	return lsp.loadMetadata(path)
}

func (lsp *LocalStorageProvider) archiveDir(archiveID string) string {
	return filepath.Join(lsp.basePath, sanitizeArchiveID(archiveID))
}

func (lsp *LocalStorageProvider) loadMetadata(path string) (*ArchiveMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewStorageError("failed to read archive metadata", err)
	}
	return decodeMetadata(data)
}
