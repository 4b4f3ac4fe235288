package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureStorageProvider keeps archives in an Azure Blob container
type AzureStorageProvider struct {
	container     azblob.ContainerURL
	containerName string
	prefix        string
}

// NewAzureStorageProvider creates a container client from a shared key
func NewAzureStorageProvider(config AzureConfig) (*AzureStorageProvider, error) {
	if config.AccountName == "" || config.AccountKey == "" || config.ContainerName == "" {
		return nil, NewConfigurationError("Azure account name, account key and container name are required", nil)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, NewStorageError("failed to create Azure credentials", err)
	}

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, NewStorageError("failed to parse Azure service URL", err)
	}
	service := azblob.NewServiceURL(*serviceURL, azblob.NewPipeline(credential, azblob.PipelineOptions{}))

	return &AzureStorageProvider{
		container:     service.NewContainerURL(config.ContainerName),
		containerName: config.ContainerName,
		prefix:        normalizePrefix(config.Prefix),
	}, nil
}

// Store uploads the payload, then the metadata
func (azp *AzureStorageProvider) Store(ctx context.Context, metadata *ArchiveMetadata, payload []byte) error {
	if metadata == nil {
		return NewConfigurationError("archive metadata is required", nil)
	}

	name := azp.archiveName(metadata.ID)
	metadata.StorageLocation = fmt.Sprintf("azure://%s/%s", azp.containerName, name)

	err := azp.upload(ctx, name+"/"+payloadObject, payload, "application/octet-stream", azblob.Metadata{
		"archiveid":   metadata.ID,
		"compression": string(metadata.Compression),
		"checksum":    metadata.Checksum,
	})
	if err != nil {
		return NewStorageError("failed to upload archive to Azure", err)
	}

	data, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	if err := azp.upload(ctx, name+"/"+metadataObject, data, "application/json", nil); err != nil {
		return NewStorageError("failed to upload archive metadata to Azure", err)
	}
	return nil
}

// Retrieve downloads an archive payload
func (azp *AzureStorageProvider) Retrieve(ctx context.Context, archiveID string) ([]byte, error) {
	if archiveID == "" {
		return nil, NewConfigurationError("archive id cannot be empty", nil)
	}
	return azp.download(ctx, archiveID, payloadObject)
}

// Delete removes every blob under the archive's prefix
func (azp *AzureStorageProvider) Delete(ctx context.Context, archiveID string) error {
	if archiveID == "" {
		return NewConfigurationError("archive id cannot be empty", nil)
	}

	var names []string
	err := azp.walk(ctx, azp.archiveName(archiveID)+"/", func(name string) bool {
		names = append(names, name)
		return true
	})
	if err != nil {
		return NewStorageError("failed to list archive blobs", err)
	}
	if len(names) == 0 {
		return NewNotFoundError(fmt.Sprintf("archive %s not found", archiveID), nil)
	}

	for _, name := range names {
		blob := azp.container.NewBlockBlobURL(name)
		if _, err := blob.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{}); err != nil {
			return NewStorageError(fmt.Sprintf("failed to delete blob %s", name), err)
		}
	}
	return nil
}

// List reads the metadata blob of every archive under the prefix
func (azp *AzureStorageProvider) List(ctx context.Context, filter StorageFilter) ([]*ArchiveMetadata, error) {
	archives := []*ArchiveMetadata{}
	err := azp.walk(ctx, azp.prefix+filter.Prefix, func(name string) bool {
		id := archiveIDFromKey(azp.prefix, name)
		if id == "" {
			return true
		}
		if metadata, err := azp.GetMetadata(ctx, id); err == nil {
			archives = append(archives, metadata)
		}
		return true
	})
	if err != nil {
		return nil, NewStorageError("failed to list archives in Azure", err)
	}

	sortNewestFirst(archives)
	return limit(archives, filter), nil
}

// GetMetadata downloads the metadata blob of one archive
func (azp *AzureStorageProvider) GetMetadata(ctx context.Context, archiveID string) (*ArchiveMetadata, error) {
	if archiveID == "" {
		return nil, NewConfigurationError("archive id cannot be empty", nil)
	}
	data, err := azp.download(ctx, archiveID, metadataObject)
	if err != nil {
		return nil, err
	}
	return decodeMetadata(data)
}

func (azp *AzureStorageProvider) upload(ctx context.Context, name string, data []byte, contentType string, metadata azblob.Metadata) error {
	blob := azp.container.NewBlockBlobURL(name)
	_, err := azblob.UploadBufferToBlockBlob(ctx, data, blob, azblob.UploadToBlockBlobOptions{
		BlockSize:       4 * 1024 * 1024,
		Parallelism:     16,
		Metadata:        metadata,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: contentType},
	})
	return err
}

func (azp *AzureStorageProvider) download(ctx context.Context, archiveID, object string) ([]byte, error) {
	blob := azp.container.NewBlockBlobURL(azp.archiveName(archiveID) + "/" + object)
	resp, err := blob.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		var serr azblob.StorageError
		if errors.As(err, &serr) && serr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return nil, NewNotFoundError(fmt.Sprintf("archive %s not found", archiveID), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download %s of archive %s", object, archiveID), err)
	}

	body := resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return nil, NewStorageError("failed to read archive blob", err)
	}
	return buf.Bytes(), nil
}

// walk calls fn for every blob name under prefix until fn returns false
func (azp *AzureStorageProvider) walk(ctx context.Context, prefix string, fn func(name string) bool) error {
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := azp.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{Prefix: prefix})
		if err != nil {
			return err
		}
		for _, item := range resp.Segment.BlobItems {
			if !fn(item.Name) {
				return nil
			}
		}
		marker = resp.NextMarker
	}
	return nil
}

func (azp *AzureStorageProvider) archiveName(archiveID string) string {
	return azp.prefix + sanitizeArchiveID(archiveID)
}
