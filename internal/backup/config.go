package backup

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the backup section of the application configuration
type Config struct {
	RestoreTimeout   time.Duration     `mapstructure:"restore_timeout" yaml:"restore_timeout"`
	ConsistentExport bool              `mapstructure:"consistent_export" yaml:"consistent_export"`
	Storage          StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Compression      CompressionConfig `mapstructure:"compression" yaml:"compression"`
	Encryption       EncryptionConfig  `mapstructure:"encryption" yaml:"encryption"`
	Retention        RetentionConfig   `mapstructure:"retention" yaml:"retention"`
}

// StorageConfig selects and configures the archive storage backend
type StorageConfig struct {
	Provider StorageProviderType `mapstructure:"provider" yaml:"provider"`
	Local    LocalConfig         `mapstructure:"local" yaml:"local"`
	S3       S3Config            `mapstructure:"s3" yaml:"s3"`
	Azure    AzureConfig         `mapstructure:"azure" yaml:"azure"`
	GCS      GCSConfig           `mapstructure:"gcs" yaml:"gcs"`
}

// LocalConfig configures archives on the local file system
type LocalConfig struct {
	BasePath    string      `mapstructure:"base_path" yaml:"base_path"`
	Permissions os.FileMode `mapstructure:"permissions" yaml:"permissions"`
}

// S3Config configures archives in an S3 bucket
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
}

// AzureConfig configures archives in an Azure Blob container
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	Prefix        string `mapstructure:"prefix" yaml:"prefix"`
}

// GCSConfig configures archives in a Google Cloud Storage bucket
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
	ProjectID       string `mapstructure:"project_id" yaml:"project_id"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
}

// CompressionConfig defines archive compression
type CompressionConfig struct {
	Algorithm CompressionType `mapstructure:"algorithm" yaml:"algorithm"`
	Level     int             `mapstructure:"level" yaml:"level"`
}

// EncryptionConfig defines archive encryption
type EncryptionConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	KeySource  string `mapstructure:"key_source" yaml:"key_source"` // env, file or passphrase
	KeyEnvVar  string `mapstructure:"key_env_var" yaml:"key_env_var"`
	KeyPath    string `mapstructure:"key_path" yaml:"key_path"`
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase,omitempty"`

	// KeyRetriever overrides the key source, for tests and custom key management
	KeyRetriever func() ([]byte, error) `mapstructure:"-" yaml:"-"`
}

// RetentionConfig bounds how many archives are kept. Zero disables a rule.
type RetentionConfig struct {
	MaxArchives int           `mapstructure:"max_archives" yaml:"max_archives"`
	MaxAge      time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

const defaultArchivePrefix = "archives/"

// SetDefaults fills unset values
func (c *Config) SetDefaults() {
	if c.RestoreTimeout <= 0 {
		c.RestoreTimeout = DefaultRestoreTimeout
	}
	c.Storage.SetDefaults()
	c.Compression.SetDefaults()
	c.Encryption.SetDefaults()
}

// Validate checks every section and reports all problems together
func (c *Config) Validate() error {
	var errs ValidationErrors
	if c.RestoreTimeout < 0 {
		errs.Add("restore_timeout", "restore timeout must not be negative")
	}
	if c.Retention.MaxArchives < 0 {
		errs.Add("retention.max_archives", "max archives must not be negative")
	}
	if c.Retention.MaxAge < 0 {
		errs.Add("retention.max_age", "max age must not be negative")
	}
	for _, section := range []error{c.Storage.Validate(), c.Compression.Validate(), c.Encryption.Validate()} {
		if problems, ok := section.(ValidationErrors); ok {
			errs = append(errs, problems...)
		}
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults fills unset values for the selected provider
func (sc *StorageConfig) SetDefaults() {
	sc.Provider = StorageProviderType(strings.ToUpper(string(sc.Provider)))
	if sc.Provider == "" {
		sc.Provider = StorageProviderLocal
	}

	if sc.Local.BasePath == "" {
		sc.Local.BasePath = "./backups"
	}
	if sc.Local.Permissions == 0 {
		sc.Local.Permissions = 0755
	}
	if sc.S3.Region == "" {
		sc.S3.Region = "us-east-1"
	}
	if sc.S3.Prefix == "" {
		sc.S3.Prefix = defaultArchivePrefix
	}
	if sc.Azure.Prefix == "" {
		sc.Azure.Prefix = defaultArchivePrefix
	}
	if sc.GCS.Prefix == "" {
		sc.GCS.Prefix = defaultArchivePrefix
	}
	if sc.GCS.CredentialsPath == "" {
		sc.GCS.CredentialsPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
}

// Validate checks the settings the selected provider needs
func (sc *StorageConfig) Validate() error {
	var errs ValidationErrors
	switch sc.Provider {
	case StorageProviderLocal:
		if sc.Local.BasePath == "" {
			errs.Add("storage.local.base_path", "base path is required")
		}
	case StorageProviderS3:
		if sc.S3.Bucket == "" {
			errs.Add("storage.s3.bucket", "bucket is required")
		}
		if sc.S3.Region == "" {
			errs.Add("storage.s3.region", "region is required")
		}
		if (sc.S3.AccessKey == "") != (sc.S3.SecretKey == "") {
			errs.Add("storage.s3.access_key", "access key and secret key must be set together")
		}
	case StorageProviderAzure:
		if sc.Azure.AccountName == "" {
			errs.Add("storage.azure.account_name", "account name is required")
		}
		if sc.Azure.AccountKey == "" {
			errs.Add("storage.azure.account_key", "account key is required")
		}
		if sc.Azure.ContainerName == "" {
			errs.Add("storage.azure.container_name", "container name is required")
		}
	case StorageProviderGCS:
		if sc.GCS.Bucket == "" {
			errs.Add("storage.gcs.bucket", "bucket is required")
		}
	default:
		errs.Add("storage.provider", fmt.Sprintf("unsupported storage provider %q (use local, s3, azure or gcs)", sc.Provider))
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults normalizes the algorithm name
func (cc *CompressionConfig) SetDefaults() {
	if t, err := ParseCompressionType(string(cc.Algorithm)); err == nil {
		cc.Algorithm = t
	}
}

// Validate checks the algorithm name
func (cc *CompressionConfig) Validate() error {
	if _, err := ParseCompressionType(string(cc.Algorithm)); err != nil {
		return ValidationErrors{{Field: "compression.algorithm", Message: err.(*BackupError).Message}}
	}
	return nil
}

// SetDefaults picks the env key source when encryption is on without one
func (ec *EncryptionConfig) SetDefaults() {
	if ec.Enabled && ec.KeySource == "" {
		ec.KeySource = "env"
	}
	if ec.KeySource == "env" && ec.KeyEnvVar == "" {
		ec.KeyEnvVar = "MARKETPLACE_BACKUP_KEY"
	}
}

// Validate checks that the chosen key source is usable
func (ec *EncryptionConfig) Validate() error {
	if !ec.Enabled || ec.KeyRetriever != nil {
		return nil
	}
	var errs ValidationErrors
	switch ec.KeySource {
	case "env":
		if ec.KeyEnvVar == "" {
			errs.Add("encryption.key_env_var", "key environment variable name is required for env key source")
		}
	case "file":
		if ec.KeyPath == "" {
			errs.Add("encryption.key_path", "key file path is required for file key source")
		}
	case "passphrase":
		if ec.Passphrase == "" {
			errs.Add("encryption.passphrase", "passphrase is required for passphrase key source")
		}
	default:
		errs.Add("encryption.key_source", "key source must be 'env', 'file' or 'passphrase'")
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (ec *EncryptionConfig) usesPassphrase() bool {
	return ec.KeyRetriever == nil && ec.KeySource == "passphrase"
}

// GetEncryptionKey returns the AES-256 key. salt is only used by the
// passphrase source.
func (ec *EncryptionConfig) GetEncryptionKey(salt []byte) ([]byte, error) {
	if !ec.Enabled {
		return nil, nil
	}
	if ec.KeyRetriever != nil {
		return ec.KeyRetriever()
	}

	switch ec.KeySource {
	case "env":
		keyStr := os.Getenv(ec.KeyEnvVar)
		if keyStr == "" {
			return nil, fmt.Errorf("encryption key not found in environment variable %s", ec.KeyEnvVar)
		}
		key, err := hex.DecodeString(strings.TrimSpace(keyStr))
		if err != nil {
			return nil, fmt.Errorf("failed to decode hex key from environment variable: %w", err)
		}
		if len(key) != keySize {
			return nil, fmt.Errorf("encryption key must be %d bytes for AES-256, got %d bytes", keySize, len(key))
		}
		return key, nil

	case "file":
		key, err := os.ReadFile(ec.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read encryption key from file %s: %w", ec.KeyPath, err)
		}
		if len(key) != keySize {
			return nil, fmt.Errorf("encryption key file must contain %d bytes for AES-256, got %d bytes", keySize, len(key))
		}
		return key, nil

	case "passphrase":
		if ec.Passphrase == "" {
			return nil, fmt.Errorf("encryption passphrase is empty")
		}
		return DeriveKey(ec.Passphrase, salt), nil

	default:
		return nil, fmt.Errorf("invalid key source: %s", ec.KeySource)
	}
}
