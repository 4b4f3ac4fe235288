package config

import (
	"fmt"
	"os"
	"path/filepath"

	"print-marketplace/internal/backup"
)

// CheckResult collects the findings of an environment check
type CheckResult struct {
	Errors           []string
	Warnings         []string
	RecommendedFixes []string
}

// OK reports whether the check found no errors
func (r *CheckResult) OK() bool {
	return len(r.Errors) == 0
}

func (r *CheckResult) fail(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *CheckResult) warn(warning, fix string) {
	r.Warnings = append(r.Warnings, warning)
	if fix != "" {
		r.RecommendedFixes = append(r.RecommendedFixes, fix)
	}
}

// Check verifies that the directories, keys and credentials the
// configuration points at are usable. It creates missing local directories.
func (c *Config) Check() *CheckResult {
	result := &CheckResult{}

	if err := checkWritableDir(c.Server.UploadDir); err != nil {
		result.fail("upload directory: %v", err)
	}
	if c.Server.StaticDir != "" {
		if _, err := os.Stat(filepath.Join(c.Server.StaticDir, "index.html")); err != nil {
			result.warn(
				fmt.Sprintf("static directory %s has no index.html", c.Server.StaticDir),
				"Build the frontend into the static directory or clear server.static_dir",
			)
		}
	}

	c.checkStorage(result)
	c.checkEncryption(result)

	if c.Backup.Retention.MaxArchives == 0 && c.Backup.Retention.MaxAge == 0 {
		result.RecommendedFixes = append(result.RecommendedFixes,
			"Configure backup.retention to prevent unlimited archive growth")
	}
	if c.Backup.Storage.Provider != backup.StorageProviderLocal && !c.Backup.Encryption.Enabled {
		result.RecommendedFixes = append(result.RecommendedFixes,
			"Consider enabling backup.encryption for archives kept in cloud storage; they contain password hashes")
	}
	return result
}

func (c *Config) checkStorage(result *CheckResult) {
	storage := c.Backup.Storage
	switch storage.Provider {
	case backup.StorageProviderLocal:
		if err := checkWritableDir(storage.Local.BasePath); err != nil {
			result.fail("archive directory: %v", err)
		}
	case backup.StorageProviderS3:
		if storage.S3.AccessKey == "" && os.Getenv("AWS_ACCESS_KEY_ID") == "" && os.Getenv("AWS_PROFILE") == "" {
			result.warn("no AWS credentials configured", "Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY, or backup.storage.s3.access_key")
		}
	case backup.StorageProviderAzure:
		if storage.Azure.AccountKey == "" {
			result.warn("Azure storage account key is not configured", "Set MARKETPLACE_BACKUP_STORAGE_AZURE_ACCOUNT_KEY")
		}
	case backup.StorageProviderGCS:
		if storage.GCS.CredentialsPath == "" {
			result.warn("Google Cloud credentials not configured, falling back to application default credentials",
				"Set GOOGLE_APPLICATION_CREDENTIALS=/path/to/credentials.json")
		} else if _, err := os.Stat(storage.GCS.CredentialsPath); err != nil {
			result.fail("GCS credentials file %s: %v", storage.GCS.CredentialsPath, err)
		}
	}
}

func (c *Config) checkEncryption(result *CheckResult) {
	enc := c.Backup.Encryption
	if !enc.Enabled {
		return
	}
	if enc.KeySource == "passphrase" {
		return
	}
	if _, err := enc.GetEncryptionKey(nil); err != nil {
		result.fail("encryption key: %v", err)
		switch enc.KeySource {
		case "env":
			result.RecommendedFixes = append(result.RecommendedFixes,
				fmt.Sprintf("Generate a key: export %s=$(openssl rand -hex 32)", enc.KeyEnvVar))
		case "file":
			result.RecommendedFixes = append(result.RecommendedFixes,
				fmt.Sprintf("Generate a key file: openssl rand -out %s 32", enc.KeyPath))
		}
	}
}

// checkWritableDir creates dir when missing and probes it with a temp file
func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	probe, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}
