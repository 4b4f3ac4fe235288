package server

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// DefaultMaxUploadSize is the largest accepted restore upload
const DefaultMaxUploadSize int64 = 50 << 20

// Config holds HTTP server settings
type Config struct {
	Listen            string        `mapstructure:"listen" yaml:"listen"`
	UploadDir         string        `mapstructure:"upload_dir" yaml:"upload_dir"`
	MaxUploadSize     int64         `mapstructure:"max_upload_size" yaml:"max_upload_size"`
	StaticDir         string        `mapstructure:"static_dir" yaml:"static_dir,omitempty"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.Listen == "" {
		c.Listen = ":3000"
	}
	if c.UploadDir == "" {
		c.UploadDir = "uploads"
	}
	if c.MaxUploadSize == 0 {
		c.MaxUploadSize = DefaultMaxUploadSize
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	// covers the whole body, so a 50MB upload over a slow link needs minutes
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 2 * time.Minute
	}
	// a restore may hold the request for its whole transaction budget
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 2 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
}

// ImageDir is where product images are stored. Restore uploads stay in
// UploadDir itself, which is never served.
func (c Config) ImageDir() string {
	return filepath.Join(c.UploadDir, "images")
}

// Validate checks the server configuration
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.UploadDir == "" {
		errs = append(errs, errors.New("upload directory is required"))
	}
	if c.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("max upload size must be positive"))
	}
	if c.ReadHeaderTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}
