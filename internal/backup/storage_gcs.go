package backup

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStorageProvider keeps archives in a Google Cloud Storage bucket
type GCSStorageProvider struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStorageProvider creates a client from a credentials file, or from the
// default credentials when no file is configured
func NewGCSStorageProvider(ctx context.Context, config GCSConfig) (*GCSStorageProvider, error) {
	if config.Bucket == "" {
		return nil, NewConfigurationError("GCS bucket is required", nil)
	}

	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, NewStorageError("failed to create GCS client", err)
	}

	return &GCSStorageProvider{client: client, bucket: config.Bucket, prefix: normalizePrefix(config.Prefix)}, nil
}

// Store uploads the payload, then the metadata
func (g *GCSStorageProvider) Store(ctx context.Context, metadata *ArchiveMetadata, payload []byte) error {
	if metadata == nil {
		return NewConfigurationError("archive metadata is required", nil)
	}

	name := g.objectName(metadata.ID)
	metadata.StorageLocation = fmt.Sprintf("gs://%s/%s", g.bucket, name)

	err := g.upload(ctx, name+"/"+payloadObject, payload, "application/octet-stream", map[string]string{
		"archive-id":  metadata.ID,
		"compression": string(metadata.Compression),
		"checksum":    metadata.Checksum,
	})
	if err != nil {
		return NewStorageError("failed to upload archive to GCS", err)
	}

	data, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	if err := g.upload(ctx, name+"/"+metadataObject, data, "application/json", nil); err != nil {
		return NewStorageError("failed to upload archive metadata to GCS", err)
	}
	return nil
}

// Retrieve downloads an archive payload
func (g *GCSStorageProvider) Retrieve(ctx context.Context, archiveID string) ([]byte, error) {
	if archiveID == "" {
		return nil, NewConfigurationError("archive id cannot be empty", nil)
	}
	return g.download(ctx, archiveID, payloadObject)
}

// Delete removes every object under the archive's prefix
func (g *GCSStorageProvider) Delete(ctx context.Context, archiveID string) error {
	if archiveID == "" {
		return NewConfigurationError("archive id cannot be empty", nil)
	}

	bucket := g.client.Bucket(g.bucket)
	it := bucket.Objects(ctx, &storage.Query{Prefix: g.objectName(archiveID) + "/"})

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return NewStorageError("failed to list archive objects", err)
		}
		names = append(names, attrs.Name)
	}
	if len(names) == 0 {
		return NewNotFoundError(fmt.Sprintf("archive %s not found", archiveID), nil)
	}

	for _, name := range names {
		if err := bucket.Object(name).Delete(ctx); err != nil {
			return NewStorageError(fmt.Sprintf("failed to delete object %s", name), err)
		}
	}
	return nil
}

// List reads the metadata object of every archive under the prefix
func (g *GCSStorageProvider) List(ctx context.Context, filter StorageFilter) ([]*ArchiveMetadata, error) {
	archives := []*ArchiveMetadata{}
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: g.prefix + filter.Prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, NewStorageError("failed to list archives in GCS", err)
		}

		id := archiveIDFromKey(g.prefix, attrs.Name)
		if id == "" {
			continue
		}
		if metadata, err := g.GetMetadata(ctx, id); err == nil {
			archives = append(archives, metadata)
		}
	}

	sortNewestFirst(archives)
	return limit(archives, filter), nil
}

// GetMetadata downloads the metadata object of one archive
func (g *GCSStorageProvider) GetMetadata(ctx context.Context, archiveID string) (*ArchiveMetadata, error) {
	if archiveID == "" {
		return nil, NewConfigurationError("archive id cannot be empty", nil)
	}
	data, err := g.download(ctx, archiveID, metadataObject)
	if err != nil {
		return nil, err
	}
	return decodeMetadata(data)
}

// Close releases the GCS client
func (g *GCSStorageProvider) Close() error {
	return g.client.Close()
}

func (g *GCSStorageProvider) upload(ctx context.Context, name string, data []byte, contentType string, metadata map[string]string) error {
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = metadata
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (g *GCSStorageProvider) download(ctx context.Context, archiveID, object string) ([]byte, error) {
	r, err := g.client.Bucket(g.bucket).Object(g.objectName(archiveID) + "/" + object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, NewNotFoundError(fmt.Sprintf("archive %s not found", archiveID), err)
	}
	if err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to download %s of archive %s", object, archiveID), err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, NewStorageError("failed to read archive object", err)
	}
	return data, nil
}

func (g *GCSStorageProvider) objectName(archiveID string) string {
	return g.prefix + sanitizeArchiveID(archiveID)
}
