package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3StorageProvider keeps archives in an S3 bucket under a key prefix
type S3StorageProvider struct {
	client *s3.S3
	bucket string
	prefix string
}

// NewS3StorageProvider creates an S3 client. Without static keys the default
// AWS credential chain is used.
func NewS3StorageProvider(config S3Config) (*S3StorageProvider, error) {
	if config.Bucket == "" {
		return nil, NewConfigurationError("S3 bucket is required", nil)
	}

	awsConfig := &aws.Config{Region: aws.String(config.Region)}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, NewStorageError("failed to create AWS session", err)
	}

	return &S3StorageProvider{client: s3.New(sess), bucket: config.Bucket, prefix: normalizePrefix(config.Prefix)}, nil
}

// Store uploads the payload, then the metadata
func (s3p *S3StorageProvider) Store(ctx context.Context, metadata *ArchiveMetadata, payload []byte) error {
	if metadata == nil {
		return NewConfigurationError("archive metadata is required", nil)
	}

	key := s3p.archiveKey(metadata.ID)
	metadata.StorageLocation = fmt.Sprintf("s3://%s/%s", s3p.bucket, key)

	_, err := s3p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s3p.bucket),
		Key:         aws.String(key + "/" + payloadObject),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]*string{
			"archive-id":  aws.String(metadata.ID),
			"compression": aws.String(string(metadata.Compression)),
			"checksum":    aws.String(metadata.Checksum),
		},
	})
	if err != nil {
		return NewStorageError("failed to upload archive to S3", err)
	}

	data, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	_, err = s3p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s3p.bucket),
		Key:         aws.String(key + "/" + metadataObject),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return NewStorageError("failed to upload archive metadata to S3", err)
	}
	return nil
}

// Retrieve downloads an archive payload
func (s3p *S3StorageProvider) Retrieve(ctx context.Context, archiveID string) ([]byte, error) {
	if archiveID == "" {
		return nil, NewConfigurationError("archive id cannot be empty", nil)
	}
	return s3p.download(ctx, archiveID, payloadObject)
}

// Delete removes every object under the archive's key prefix
func (s3p *S3StorageProvider) Delete(ctx context.Context, archiveID string) error {
	if archiveID == "" {
		return NewConfigurationError("archive id cannot be empty", nil)
	}

	listed, err := s3p.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s3p.bucket),
		Prefix: aws.String(s3p.archiveKey(archiveID) + "/"),
	})
	if err != nil {
		return NewStorageError("failed to list archive objects", err)
	}
	if len(listed.Contents) == 0 {
		return NewNotFoundError(fmt.Sprintf("archive %s not found", archiveID), nil)
	}

	objects := make([]*s3.ObjectIdentifier, 0, len(listed.Contents))
	for _, obj := range listed.Contents {
		objects = append(objects, &s3.ObjectIdentifier{Key: obj.Key})
	}
	_, err = s3p.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s3p.bucket),
		Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return NewStorageError("failed to delete archive objects from S3", err)
	}
	return nil
}

// List pages through the metadata objects under the prefix
func (s3p *S3StorageProvider) List(ctx context.Context, filter StorageFilter) ([]*ArchiveMetadata, error) {
	archives := []*ArchiveMetadata{}
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s3p.bucket),
		Prefix: aws.String(s3p.prefix + filter.Prefix),
	}

	err := s3p.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			id := archiveIDFromKey(s3p.prefix, aws.StringValue(obj.Key))
			if id == "" {
				continue
			}
			metadata, err := s3p.GetMetadata(ctx, id)
			if err != nil {
				continue
			}
			archives = append(archives, metadata)
		}
		return true
	})
	if err != nil {
		return nil, NewStorageError("failed to list archives in S3", err)
	}

	sortNewestFirst(archives)
	return limit(archives, filter), nil
}

// GetMetadata downloads the metadata object of one archive
func (s3p *S3StorageProvider) GetMetadata(ctx context.Context, archiveID string) (*ArchiveMetadata, error) {
	if archiveID == "" {
		return nil, NewConfigurationError("archive id cannot be empty", nil)
	}
	data, err := s3p.download(ctx, archiveID, metadataObject)
	if err != nil {
		return nil, err
	}
	return decodeMetadata(data)
}

func (s3p *S3StorageProvider) download(ctx context.Context, archiveID, object string) ([]byte, error) {
	result, err := s3p.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s3p.bucket),
		Key:    aws.String(s3p.archiveKey(archiveID) + "/" + object),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, NewNotFoundError(fmt.Sprintf("archive %s not found", archiveID), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download %s of archive %s", object, archiveID), err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, NewStorageError("failed to read archive object", err)
	}
	return data, nil
}

func (s3p *S3StorageProvider) archiveKey(archiveID string) string {
	return s3p.prefix + sanitizeArchiveID(archiveID)
}
