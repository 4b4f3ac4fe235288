package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"print-marketplace/internal/errors"
	"print-marketplace/internal/logging"
	"print-marketplace/internal/models"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver, registered as "pgx"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultAdminID is the id of the administrator account created on first start
	DefaultAdminID       = 1
	DefaultAdminUsername = "admin"
	defaultAdminPassword = "123456"
)

// Service opens and prepares the marketplace database
type Service struct {
	connectionTimeout time.Duration
	logger            *logging.Logger
	retryHandler      *errors.RetryHandler
}

// NewService creates a new database service with default settings
func NewService(logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Service{
		connectionTimeout: 30 * time.Second,
		logger:            logger,
		retryHandler:      errors.NewDefaultRetryHandler(),
	}
}

// NewServiceWithOptions creates a new database service with custom retry behaviour
func NewServiceWithOptions(logger *logging.Logger, timeout time.Duration, maxRetries int, retryDelay time.Duration) *Service {
	s := NewService(logger)
	s.connectionTimeout = timeout
	s.retryHandler = errors.NewRetryHandler(errors.RetryConfig{
		MaxAttempts: maxRetries,
		BaseDelay:   retryDelay,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	})
	return s
}

// Connect opens a pool for config, retrying recoverable failures
func (s *Service) Connect(ctx context.Context, config DatabaseConfig) (*sqlx.DB, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeValidation, "invalid database configuration", err)
	}

	startTime := time.Now()
	s.logger.WithFields(map[string]interface{}{
		"driver": config.Driver,
		"target": config.Target(),
	}).Info("Attempting database connection")

	ctx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	var db *sqlx.DB
	err := s.retryHandler.Retry(ctx, func() error {
		opened, openErr := sqlx.Open(config.Driver, config.DSN())
		if openErr != nil {
			return errors.WrapError(openErr, "failed to open database connection")
		}

		opened.SetMaxOpenConns(config.MaxOpenConns)
		opened.SetMaxIdleConns(config.MaxIdleConns)
		opened.SetConnMaxLifetime(config.ConnMaxLifetime)

		if pingErr := s.TestConnection(ctx, opened.DB); pingErr != nil {
			opened.Close()
			return pingErr
		}

		db = opened
		return nil
	})

	s.logger.LogDatabaseConnection(config.Driver, config.DSN(), err == nil, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// TestConnection verifies that the database connection is working
func (s *Service) TestConnection(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return errors.WrapError(err, "failed to ping database")
	}

	s.logger.Debug("Database connection test successful")
	return nil
}

// Close gracefully closes the database connection
func (s *Service) Close(db *sqlx.DB) error {
	if db == nil {
		return nil
	}

	if err := db.Close(); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to close database connection")
		return errors.WrapError(err, "failed to close database connection")
	}

	s.logger.Debug("Database connection closed")
	return nil
}

// Seed creates the default administrator and the settings row when missing
func (s *Service) Seed(ctx context.Context, db *sqlx.DB) error {
	var admins int
	if err := db.GetContext(ctx, &admins, db.Rebind("SELECT COUNT(*) FROM users WHERE id = ?"), DefaultAdminID); err != nil {
		return errors.WrapError(err, "failed to look up default administrator")
	}

	if admins == 0 {
		hash, err := bcrypt.GenerateFromPassword([]byte(defaultAdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash default admin password: %w", err)
		}

		now := time.Now().UTC()
		admin := models.User{
			ID:               DefaultAdminID,
			Username:         DefaultAdminUsername,
			Password:         string(hash),
			Role:             models.RoleAdmin,
			RegistrationDate: now,
			UpdatedDate:      now,
		}
		_, err = db.NamedExecContext(ctx, `INSERT INTO users (id, username, password, role, registration_date, updated_date)
			VALUES (:id, :username, :password, :role, :registration_date, :updated_date)`, admin)
		if err != nil {
			return errors.WrapError(err, "failed to create default administrator")
		}
		if err := SyncSequence(ctx, db, "users"); err != nil {
			return err
		}
		s.logger.Info("Default administrator account created")
	}

	var settingsRows int
	if err := db.GetContext(ctx, &settingsRows, "SELECT COUNT(*) FROM settings"); err != nil {
		return errors.WrapError(err, "failed to look up settings")
	}

	if settingsRows == 0 {
		defaults := models.DefaultSettings()
		_, err := db.NamedExecContext(ctx, `INSERT INTO settings (payment_info, price_coefficient, discount_rules, show_discount_on_products)
			VALUES (:payment_info, :price_coefficient, :discount_rules, :show_discount_on_products)`, defaults)
		if err != nil {
			return errors.WrapError(err, "failed to create default settings")
		}
		s.logger.Info("Default settings created")
	}

	return nil
}

// SyncSequence moves a PostgreSQL serial sequence past the highest id in
// table. Rows inserted with explicit ids do not advance it. Other drivers
// track this on their own.
func SyncSequence(ctx context.Context, db sqlx.ExecerContext, table string) error {
	if dbDriver(db) != DriverPostgres {
		return nil
	}

	stmt := fmt.Sprintf(
		"SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), COALESCE((SELECT MAX(id) FROM %[1]s), 0) + 1, false)",
		table)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return errors.WrapError(err, fmt.Sprintf("failed to sync id sequence of %s", table))
	}
	return nil
}

type driverNamer interface {
	DriverName() string
}

func dbDriver(db interface{}) string {
	if named, ok := db.(driverNamer); ok {
		return NormalizeDriver(named.DriverName())
	}
	return ""
}
