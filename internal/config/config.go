// Package config loads the marketplace configuration from a YAML file,
// MARKETPLACE_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"print-marketplace/internal/backup"
	"print-marketplace/internal/database"
	"print-marketplace/internal/display"
	"print-marketplace/internal/logging"
	"print-marketplace/internal/server"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. MARKETPLACE_SERVER_LISTEN
	EnvPrefix = "MARKETPLACE"
	// FileName is the config file name searched for without an explicit --config
	FileName = ".print-marketplace"
)

// Config is the complete application configuration
type Config struct {
	Server   server.Config           `mapstructure:"server" yaml:"server"`
	Database database.DatabaseConfig `mapstructure:"database" yaml:"database"`
	Backup   backup.Config           `mapstructure:"backup" yaml:"backup"`
	Logging  LoggingConfig           `mapstructure:"logging" yaml:"logging"`
	Display  display.DisplayConfig   `mapstructure:"display" yaml:"display"`

	// File is the config file that was read, empty when none was found
	File string `mapstructure:"-" yaml:"-"`
}

// LoggingConfig configures the application logger
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	ShowCaller bool   `mapstructure:"show_caller" yaml:"show_caller"`
}

// LoggerConfig converts the section into a logging.Config
func (lc LoggingConfig) LoggerConfig() logging.Config {
	level := logging.LogLevel(strings.ToLower(lc.Level))
	return logging.Config{
		Level:      level,
		Format:     lc.Format,
		ShowCaller: lc.ShowCaller || level == logging.LogLevelDebug,
		LogFile:    lc.File,
	}
}

// Validate checks the level and format names
func (lc LoggingConfig) Validate() error {
	var errs []error
	switch logging.LogLevel(strings.ToLower(lc.Level)) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q, must be one of: quiet, normal, verbose, debug", lc.Level))
	}
	switch lc.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q, must be text or json", lc.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("logging configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// registerDefaults declares every key so AutomaticEnv can resolve it during
// Unmarshal, even when no config file mentions it
func registerDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":3000")
	v.SetDefault("server.upload_dir", "uploads")
	v.SetDefault("server.max_upload_size", server.DefaultMaxUploadSize)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.read_timeout", 2*time.Minute)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.driver", database.DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "marketplace")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "")
	v.SetDefault("database.timeout", 30*time.Second)
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.max_idle_conns", 0)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("backup.restore_timeout", backup.DefaultRestoreTimeout)
	v.SetDefault("backup.consistent_export", false)
	v.SetDefault("backup.storage.provider", "local")
	v.SetDefault("backup.storage.local.base_path", "./backups")
	v.SetDefault("backup.storage.local.permissions", 0o755)
	for _, key := range []string{
		"s3.bucket", "s3.region", "s3.endpoint", "s3.access_key", "s3.secret_key", "s3.prefix",
		"azure.account_name", "azure.account_key", "azure.container_name", "azure.prefix",
		"gcs.bucket", "gcs.credentials_path", "gcs.project_id", "gcs.prefix",
	} {
		v.SetDefault("backup.storage."+key, "")
	}
	v.SetDefault("backup.compression.algorithm", "gzip")
	v.SetDefault("backup.compression.level", 0)
	v.SetDefault("backup.encryption.enabled", false)
	v.SetDefault("backup.encryption.key_source", "env")
	v.SetDefault("backup.encryption.key_env_var", "MARKETPLACE_BACKUP_KEY")
	v.SetDefault("backup.encryption.key_path", "")
	v.SetDefault("backup.encryption.passphrase", "")
	v.SetDefault("backup.retention.max_archives", 0)
	v.SetDefault("backup.retention.max_age", time.Duration(0))

	v.SetDefault("logging.level", string(logging.LogLevelNormal))
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.show_caller", false)

	v.SetDefault("display.color_enabled", true)
	v.SetDefault("display.theme", string(display.ThemeDark))
	v.SetDefault("display.output_format", string(display.FormatTable))
	v.SetDefault("display.use_icons", true)
	v.SetDefault("display.table_style", string(display.TableStyleDefault))
	v.SetDefault("display.max_table_width", 120)
	v.SetDefault("display.verbose", false)
	v.SetDefault("display.quiet", false)
}

// NewViper returns a viper instance with defaults, environment binding and
// the config search path set up. configFile overrides the search.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	registerDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
			v.AddConfigPath(filepath.Join(home, ".config", "print-marketplace"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile reads the config file if one is present. A missing file is only
// an error when it was named explicitly.
func ReadFile(v *viper.Viper, explicit bool) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	if !explicit && os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("error reading config file: %w", err)
}

// Load unmarshals, completes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is configured
func Default() *Config {
	v := viper.New()
	registerDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		// the built-in defaults always validate; see TestDefaultConfig
		panic(err)
	}
	return cfg
}

// SetDefaults completes every section
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Database.SetDefaults()
	c.Backup.SetDefaults()
	if c.Logging.Level == "" {
		c.Logging.Level = string(logging.LogLevelNormal)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	c.Display.SetDefaults()
}

// Validate checks every section and reports all failures together
func (c *Config) Validate() error {
	var errs []error
	if err := c.Server.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Database.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Backup.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("backup configuration validation failed: %w", err))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Display.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// EnvironmentVariables lists the variable for every configuration key
func EnvironmentVariables(v *viper.Viper) []string {
	keys := v.AllKeys()
	vars := make([]string, 0, len(keys))
	replacer := strings.NewReplacer(".", "_")
	for _, key := range keys {
		vars = append(vars, EnvPrefix+"_"+strings.ToUpper(replacer.Replace(key)))
	}
	sort.Strings(vars)
	return vars
}
