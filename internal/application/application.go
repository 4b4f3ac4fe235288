// Package application wires the configuration, database, backup services and
// HTTP server into the running marketplace.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"print-marketplace/internal/backup"
	"print-marketplace/internal/config"
	"print-marketplace/internal/database"
	appErrors "print-marketplace/internal/errors"
	"print-marketplace/internal/logging"
	"print-marketplace/internal/server"
	"print-marketplace/internal/store"

	"github.com/jmoiron/sqlx"
)

const (
	connectRetries    = 3
	connectRetryDelay = time.Second
)

// Application represents the main application
type Application struct {
	config          *config.Config
	logger          *logging.Logger
	dbService       *database.Service
	shutdownHandler *appErrors.GracefulShutdownHandler
	classifier      *appErrors.ErrorClassifier
	stderr          io.Writer

	db       *sqlx.DB
	store    *store.Store
	exporter *backup.Exporter
	restorer *backup.Restorer
	archiver *backup.Archiver
	storage  backup.StorageProvider
}

// Option customizes an Application
type Option func(*Application)

// WithLogger replaces the logger built from the logging section
func WithLogger(logger *logging.Logger) Option {
	return func(app *Application) {
		app.logger = logger
	}
}

// WithErrorOutput redirects user facing error messages, os.Stderr by default
func WithErrorOutput(w io.Writer) Option {
	return func(app *Application) {
		app.stderr = w
	}
}

// NewApplication creates a new application instance. Nothing is opened until
// Open is called.
func NewApplication(cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	app := &Application{
		config:          cfg,
		shutdownHandler: appErrors.NewGracefulShutdownHandler(),
		classifier:      appErrors.NewErrorClassifier(),
		stderr:          os.Stderr,
	}
	for _, opt := range opts {
		opt(app)
	}

	if app.logger == nil {
		logCfg := cfg.Logging.LoggerConfig()
		// stdout carries exported documents and structured output
		logCfg.Output = os.Stderr
		logger, err := logging.NewLogger(logCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		app.logger = logger
	}

	app.dbService = database.NewServiceWithOptions(app.logger, cfg.Database.Timeout, connectRetries, connectRetryDelay)
	return app, nil
}

// Open connects to the database, applies the schema, seeds the default rows
// and builds the export and restore services
func (app *Application) Open(ctx context.Context) error {
	if app.db != nil {
		return nil
	}

	db, err := app.dbService.Connect(ctx, app.config.Database)
	if err != nil {
		return err
	}
	if err := app.dbService.Migrate(ctx, db); err != nil {
		app.dbService.Close(db)
		return err
	}
	if err := app.dbService.Seed(ctx, db); err != nil {
		app.dbService.Close(db)
		return err
	}

	app.db = db
	app.store = store.New(db, app.logger)
	app.exporter = backup.NewExporter(app.store, app.logger, app.config.Backup.ConsistentExport)
	app.restorer = backup.NewRestorer(app.store, app.logger, app.config.Backup.RestoreTimeout)
	return nil
}

// Archiver returns the archive service, creating the storage provider on first use
func (app *Application) Archiver(ctx context.Context) (*backup.Archiver, error) {
	if app.archiver != nil {
		return app.archiver, nil
	}
	provider, err := backup.NewStorageProvider(ctx, app.config.Backup.Storage)
	if err != nil {
		return nil, err
	}
	app.storage = provider
	app.archiver = backup.NewArchiver(provider, app.config.Backup, app.logger)
	return app.archiver, nil
}

// Serve runs the HTTP server until SIGINT or SIGTERM. Archive routes are
// disabled when the archive storage cannot be set up.
func (app *Application) Serve(ctx context.Context, version string) error {
	app.logger.Info("Print marketplace starting")

	if err := app.Open(ctx); err != nil {
		return err
	}

	deps := server.Dependencies{
		Store:    app.store,
		Exporter: app.exporter,
		Restorer: app.restorer,
		Logger:   app.logger,
		Version:  version,
	}
	if archiver, err := app.Archiver(ctx); err != nil {
		app.logger.WithField("error", err.Error()).Warn("Archive storage unavailable, archive endpoints disabled")
	} else {
		deps.Archives = archiver
	}

	srv, err := server.New(app.config.Server, deps)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.shutdownHandler.RegisterShutdownFunc(app.Close)
	app.shutdownHandler.RegisterShutdownFunc(func() error {
		app.logger.Info("Performing graceful shutdown...")
		return nil
	})

	err = srv.Run(ctx)
	app.shutdownHandler.Start()
	app.shutdownHandler.Trigger()
	app.shutdownHandler.WaitForShutdown()
	app.shutdownHandler.Stop()

	if err != nil {
		return err
	}
	app.logger.Info("Print marketplace stopped")
	return nil
}

// Export reads every collection into a backup document
func (app *Application) Export(ctx context.Context) (*backup.Document, error) {
	if err := app.Open(ctx); err != nil {
		return nil, err
	}
	return app.exporter.Export(ctx)
}

// CurrentSummary counts the rows a restore would replace
func (app *Application) CurrentSummary(ctx context.Context) (backup.Summary, error) {
	doc, err := app.Export(ctx)
	if err != nil {
		return backup.Summary{}, err
	}
	return doc.Summary(), nil
}

// Restore replaces every collection with the contents of doc
func (app *Application) Restore(ctx context.Context, doc *backup.Document) (backup.Summary, error) {
	if err := app.Open(ctx); err != nil {
		return backup.Summary{}, err
	}
	return app.restorer.Restore(ctx, doc)
}

// Migrate applies the schema and seeds the default rows, then closes the connection
func (app *Application) Migrate(ctx context.Context) error {
	if err := app.Open(ctx); err != nil {
		return err
	}
	app.logger.Info("Database schema is up to date")
	return app.Close()
}

// Close releases the database pool and the archive storage client
func (app *Application) Close() error {
	var errs []error
	if closer, ok := app.storage.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	app.storage = nil
	app.archiver = nil

	if app.db != nil {
		if err := app.dbService.Close(app.db); err != nil {
			errs = append(errs, err)
		}
		app.db = nil
	}
	return errors.Join(errs...)
}

// Target describes the configured database without credentials
func (app *Application) Target() string {
	return app.config.Database.Driver + " " + app.config.Database.Target()
}

// Config returns the configuration the application was built with
func (app *Application) Config() *config.Config {
	return app.config
}

// GetLogger returns the application logger
func (app *Application) GetLogger() *logging.Logger {
	return app.logger
}

// HandleError prints a user friendly message for err, with troubleshooting
// hints where the failure category has any, and logs the details
func (app *Application) HandleError(err error) {
	if err == nil {
		return
	}

	var backupErr *backup.BackupError
	if errors.As(err, &backupErr) {
		fmt.Fprintf(app.stderr, "Error: %s\n", backupErr.UserMessage())
		app.logger.WithFields(map[string]interface{}{
			"error_type":     string(backupErr.Type),
			"phase":          string(backupErr.Phase),
			"data_unchanged": backupErr.DataUnchanged(),
		}).Error("Backup operation failed")
		return
	}

	var appErr *appErrors.AppError
	if !errors.As(err, &appErr) {
		appErr = app.classifier.ClassifyError(err)
	}

	fmt.Fprintf(app.stderr, "Error: %s\n", appErrors.FormatUserError(appErr))
	app.logger.WithFields(map[string]interface{}{
		"error_type":  string(appErr.Type),
		"recoverable": appErr.IsRecoverable(),
		"context":     appErr.Context,
	}).Error("Execution failed")

	app.provideTroubleshootingHints(appErr)
}

var troubleshootingHints = map[appErrors.ErrorType][]string{
	appErrors.ErrorTypeConnection: {
		"Check that the database server is running",
		"Verify database.host and database.port",
		"Ensure network connectivity to the database server",
		"For sqlite3, check that the directory of database.path exists",
	},
	appErrors.ErrorTypePermission: {
		"Verify the username and password are correct",
		"Check that the user may create tables in the database",
		"Check the permissions of the upload and archive directories",
	},
	appErrors.ErrorTypeValidation: {
		"Run 'print-marketplace config check' to inspect the configuration",
		"Review the command line arguments",
	},
	appErrors.ErrorTypeTimeout: {
		"The operation may be taking longer than expected",
		"Try increasing database.timeout or backup.restore_timeout",
		"Check database server performance",
	},
	appErrors.ErrorTypeSchema: {
		"Run 'print-marketplace migrate' to create the tables",
	},
}

func (app *Application) provideTroubleshootingHints(appErr *appErrors.AppError) {
	hints, ok := troubleshootingHints[appErr.Type]
	if !ok {
		return
	}
	fmt.Fprintf(app.stderr, "\nTroubleshooting hints:\n")
	for _, hint := range hints {
		fmt.Fprintf(app.stderr, "- %s\n", hint)
	}
}
