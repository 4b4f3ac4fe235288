package database

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Supported database/sql driver names
const (
	DriverPostgres = "pgx"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite3"
)

// DatabaseConfig holds the configuration parameters for database connection
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	Username        string        `mapstructure:"username" yaml:"username"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Database        string        `mapstructure:"database" yaml:"database"`
	SSLMode         string        `mapstructure:"ssl_mode" yaml:"ssl_mode"`
	Path            string        `mapstructure:"path" yaml:"path"` // sqlite3 only
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// NormalizeDriver maps common aliases onto the registered driver names
func NormalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "pgx", "postgres", "postgresql":
		return DriverPostgres
	case "mysql", "mariadb":
		return DriverMySQL
	case "sqlite", "sqlite3":
		return DriverSQLite
	default:
		return driver
	}
}

// SetDefaults fills unset values. Port and pool sizes depend on the driver.
func (dc *DatabaseConfig) SetDefaults() {
	dc.Driver = NormalizeDriver(dc.Driver)

	if dc.Port == 0 {
		switch dc.Driver {
		case DriverPostgres:
			dc.Port = 5432
		case DriverMySQL:
			dc.Port = 3306
		}
	}
	if dc.Host == "" && dc.Driver != DriverSQLite {
		dc.Host = "localhost"
	}
	if dc.Database == "" && dc.Driver != DriverSQLite {
		dc.Database = "marketplace"
	}
	if dc.Path == "" && dc.Driver == DriverSQLite {
		dc.Path = "marketplace.db"
	}
	if dc.SSLMode == "" {
		dc.SSLMode = "disable"
	}
	if dc.Timeout <= 0 {
		dc.Timeout = 30 * time.Second
	}
	if dc.MaxOpenConns == 0 {
		dc.MaxOpenConns = 5
		if dc.Driver == DriverSQLite {
			dc.MaxOpenConns = 1
		}
	}
	if dc.MaxIdleConns == 0 {
		dc.MaxIdleConns = dc.MaxOpenConns
	}
	if dc.ConnMaxLifetime == 0 {
		dc.ConnMaxLifetime = 5 * time.Minute
	}
}

// Validate checks if the database configuration has all required parameters
func (dc *DatabaseConfig) Validate() error {
	var errs []error

	switch NormalizeDriver(dc.Driver) {
	case DriverSQLite:
		if dc.Path == "" {
			errs = append(errs, errors.New("path is required for sqlite3"))
		}
	case DriverPostgres, DriverMySQL:
		if dc.Host == "" {
			errs = append(errs, errors.New("host is required"))
		}
		if dc.Port <= 0 || dc.Port > 65535 {
			errs = append(errs, errors.New("port must be between 1 and 65535"))
		}
		if dc.Username == "" {
			errs = append(errs, errors.New("username is required"))
		}
		if dc.Database == "" {
			errs = append(errs, errors.New("database name is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported driver %q (use pgx, mysql or sqlite3)", dc.Driver))
	}

	if dc.MaxOpenConns < 0 || dc.MaxIdleConns < 0 {
		errs = append(errs, errors.New("connection pool sizes must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("database configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// DSN returns the data source name for the configured driver
func (dc *DatabaseConfig) DSN() string {
	switch NormalizeDriver(dc.Driver) {
	case DriverMySQL:
		cfg := mysql.NewConfig()
		cfg.User = dc.Username
		cfg.Passwd = dc.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port))
		cfg.DBName = dc.Database
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		cfg.ClientFoundRows = true
		cfg.Timeout = dc.Timeout
		cfg.Params = map[string]string{"charset": "utf8mb4"}
		return cfg.FormatDSN()

	case DriverSQLite:
		query := url.Values{}
		query.Set("_busy_timeout", strconv.FormatInt(dc.Timeout.Milliseconds(), 10))
		query.Set("_foreign_keys", "on")
		return "file:" + dc.Path + "?" + query.Encode()

	default:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(dc.Username, dc.Password),
			Host:   net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port)),
			Path:   "/" + dc.Database,
		}
		query := url.Values{}
		query.Set("sslmode", dc.SSLMode)
		query.Set("connect_timeout", strconv.Itoa(int(dc.Timeout.Seconds())))
		u.RawQuery = query.Encode()
		return u.String()
	}
}

// Target describes the database without credentials, for logs and banners
func (dc *DatabaseConfig) Target() string {
	if NormalizeDriver(dc.Driver) == DriverSQLite {
		return dc.Path
	}
	return fmt.Sprintf("%s:%d/%s", dc.Host, dc.Port, dc.Database)
}
