package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Object names inside an archive's directory or key prefix
const (
	payloadObject  = "archive.bin"
	metadataObject = "metadata.json"
)

// NewStorageProvider creates the provider selected by config
func NewStorageProvider(ctx context.Context, config StorageConfig) (StorageProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, NewConfigurationError("invalid storage configuration", err)
	}

	switch config.Provider {
	case StorageProviderLocal:
		return NewLocalStorageProvider(config.Local)
	case StorageProviderS3:
		return NewS3StorageProvider(config.S3)
	case StorageProviderAzure:
		return NewAzureStorageProvider(config.Azure)
	case StorageProviderGCS:
		return NewGCSStorageProvider(ctx, config.GCS)
	default:
		return nil, NewConfigurationError(fmt.Sprintf("unsupported storage provider: %s", config.Provider), nil)
	}
}

// SupportedProviders lists the storage provider types
func SupportedProviders() []StorageProviderType {
	return []StorageProviderType{StorageProviderLocal, StorageProviderS3, StorageProviderAzure, StorageProviderGCS}
}

// normalizePrefix makes a key prefix end with exactly one slash
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return defaultArchivePrefix
	}
	return prefix + "/"
}

// sanitizeArchiveID keeps ids from escaping their directory or key prefix
func sanitizeArchiveID(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", " ", "_")
	return r.Replace(id)
}

// archiveIDFromKey extracts the id from "<prefix><id>/metadata.json"
func archiveIDFromKey(prefix, key string) string {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return ""
	}
	id, ok := strings.CutSuffix(rest, "/"+metadataObject)
	if !ok || id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}

func encodeMetadata(metadata *ArchiveMetadata) ([]byte, error) {
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, NewStorageError("failed to serialize archive metadata", err)
	}
	return data, nil
}

func decodeMetadata(data []byte) (*ArchiveMetadata, error) {
	var metadata ArchiveMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, NewCorruptionError("failed to parse archive metadata", err)
	}
	if err := metadata.Validate(); err != nil {
		return nil, NewCorruptionError("invalid archive metadata", err)
	}
	return &metadata, nil
}

// sortNewestFirst orders listings by creation time, newest first
func sortNewestFirst(archives []*ArchiveMetadata) {
	sort.SliceStable(archives, func(i, j int) bool {
		return archives[i].CreatedAt.After(archives[j].CreatedAt)
	})
}

// limit trims a sorted listing to filter.MaxItems
func limit(archives []*ArchiveMetadata, filter StorageFilter) []*ArchiveMetadata {
	if filter.MaxItems > 0 && len(archives) > filter.MaxItems {
		return archives[:filter.MaxItems]
	}
	return archives
}
