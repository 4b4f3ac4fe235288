package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMetadata(id string, created time.Time) *ArchiveMetadata {
	return &ArchiveMetadata{
		ID:          id,
		CreatedAt:   created,
		Checksum:    Checksum([]byte(id)),
		Counts:      Summary{Users: 1},
		Compression: CompressionTypeNone,
	}
}

func TestNewLocalStorageProvider(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name    string
		config  LocalConfig
		wantErr bool
	}{
		{name: "valid config", config: LocalConfig{BasePath: tempDir, Permissions: 0755}},
		{name: "nested directory is created", config: LocalConfig{BasePath: filepath.Join(tempDir, "a", "b")}},
		{name: "empty base path", config: LocalConfig{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewLocalStorageProvider(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.DirExists(t, provider.BasePath())
		})
	}
}

func TestLocalStorageProviderLifecycle(t *testing.T) {
	provider, err := NewLocalStorageProvider(LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	metadata := testMetadata("archive-1", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, provider.Store(ctx, metadata, []byte("payload")))
	assert.Equal(t, filepath.Join(provider.BasePath(), "archive-1"), metadata.StorageLocation)

	payload, err := provider.Retrieve(ctx, "archive-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), payload)

	stored, err := provider.GetMetadata(ctx, "archive-1")
	require.NoError(t, err)
	assert.Equal(t, metadata.Checksum, stored.Checksum)
	assert.True(t, metadata.CreatedAt.Equal(stored.CreatedAt))

	require.NoError(t, provider.Delete(ctx, "archive-1"))
	_, err = provider.Retrieve(ctx, "archive-1")
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(provider.Delete(ctx, "archive-1")))

	_, err = provider.GetMetadata(ctx, "missing")
	assert.True(t, IsNotFound(err))
	_, err = provider.Retrieve(ctx, "")
	assert.Error(t, err)
}

func TestLocalStorageProviderList(t *testing.T) {
	provider, err := NewLocalStorageProvider(LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"daily-1", "daily-2", "manual-1"} {
		require.NoError(t, provider.Store(ctx, testMetadata(id, base.Add(time.Duration(i)*time.Hour)), []byte(id)))
	}

	// a directory without metadata is not an archive
	require.NoError(t, os.MkdirAll(filepath.Join(provider.BasePath(), "stray"), 0755))

	all, err := provider.List(ctx, StorageFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"manual-1", "daily-2", "daily-1"}, archiveIDs(all))

	daily, err := provider.List(ctx, StorageFilter{Prefix: "daily-", MaxItems: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"daily-2"}, archiveIDs(daily))
}

func TestLocalStorageProviderSanitizesIDs(t *testing.T) {
	provider, err := NewLocalStorageProvider(LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	metadata := testMetadata("../escape", time.Now())
	require.NoError(t, provider.Store(context.Background(), metadata, []byte("x")))
	assert.Equal(t, provider.BasePath(), filepath.Dir(metadata.StorageLocation))
}

func TestStorageKeyHelpers(t *testing.T) {
	assert.Equal(t, "archives/", normalizePrefix(""))
	assert.Equal(t, "backups/", normalizePrefix("/backups"))
	assert.Equal(t, "a/b/", normalizePrefix("a/b//"))

	assert.Equal(t, "abc", archiveIDFromKey("archives/", "archives/abc/metadata.json"))
	assert.Equal(t, "", archiveIDFromKey("archives/", "archives/abc/archive.bin"))
	assert.Equal(t, "", archiveIDFromKey("archives/", "other/abc/metadata.json"))
	assert.Equal(t, "", archiveIDFromKey("archives/", "archives/a/b/metadata.json"))

	assert.Equal(t, "__x_y", sanitizeArchiveID("../x/y"))
}

func TestNewStorageProviderRejectsBadConfig(t *testing.T) {
	_, err := NewStorageProvider(context.Background(), StorageConfig{Provider: "FTP"})
	require.Error(t, err)

	provider, err := NewStorageProvider(context.Background(), StorageConfig{
		Provider: StorageProviderLocal,
		Local:    LocalConfig{BasePath: t.TempDir()},
	})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorageProvider{}, provider)
	assert.Len(t, SupportedProviders(), 4)
}

func archiveIDs(archives []*ArchiveMetadata) []string {
	ids := make([]string, len(archives))
	for i, a := range archives {
		ids[i] = a.ID
	}
	return ids
}
