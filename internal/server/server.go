// Package server exposes the marketplace API and the backup endpoints over HTTP.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"print-marketplace/internal/backup"
	"print-marketplace/internal/logging"
	"print-marketplace/internal/models"
	"print-marketplace/internal/store"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// Marketplace is the storage the API handlers work against
type Marketplace interface {
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	ListPublicUsers(ctx context.Context, filter store.UserFilter) ([]models.PublicUser, error)
	SearchProducts(ctx context.Context, filter store.ProductFilter) ([]models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	SearchOrders(ctx context.Context, filter store.OrderFilter) ([]models.Order, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrCreateSettings(ctx context.Context) (*models.Settings, error)
	UpdateSettings(ctx context.Context, settings models.Settings) error
}

// Exporter produces a backup document of the whole store
type Exporter interface {
	Export(ctx context.Context) (*backup.Document, error)
}

// Restorer replaces the store with a backup
type Restorer interface {
	RestoreFile(ctx context.Context, path string) (backup.Summary, error)
	Restore(ctx context.Context, doc *backup.Document) (backup.Summary, error)
}

// Archives keeps backup documents in archive storage
type Archives interface {
	Save(ctx context.Context, doc *backup.Document, opts backup.SaveOptions) (*backup.ArchiveMetadata, error)
	Load(ctx context.Context, archiveID string) (*backup.Document, *backup.ArchiveMetadata, error)
	List(ctx context.Context, filter backup.StorageFilter) ([]*backup.ArchiveMetadata, error)
	Delete(ctx context.Context, archiveID string) error
}

// Dependencies are the services the handlers call. Archives may be nil, in
// which case the archive routes answer 503.
type Dependencies struct {
	Store    Marketplace
	Exporter Exporter
	Restorer Restorer
	Archives Archives
	Logger   *logging.Logger
	Version  string
}

// Server serves the HTTP API
type Server struct {
	config  Config
	deps    Dependencies
	logger  *logging.Logger
	router  *mux.Router
	started time.Time
}

// New creates a server and prepares its upload directory
func New(config Config, deps Dependencies) (*Server, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Exporter == nil || deps.Restorer == nil {
		return nil, stderrors.New("server requires a store, an exporter and a restorer")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewDefaultLogger()
	}
	if err := os.MkdirAll(config.UploadDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload directory %s: %w", config.UploadDir, err)
	}
	if err := os.MkdirAll(config.ImageDir(), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create image directory %s: %w", config.ImageDir(), err)
	}

	s := &Server{
		config:  config,
		deps:    deps,
		logger:  deps.Logger,
		started: time.Now(),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	api := router.PathPrefix("/api").Subrouter()
	api.NotFoundHandler = router.NotFoundHandler
	api.MethodNotAllowedHandler = router.MethodNotAllowedHandler

	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/users", s.handleListUsers).Methods(http.MethodGet)
	api.HandleFunc("/products", s.handleListProducts).Methods(http.MethodGet)
	api.HandleFunc("/products", s.handleCreateProduct).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods(http.MethodPut)
	api.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)

	backupRouter := api.PathPrefix("/backup").Subrouter()
	backupRouter.HandleFunc("/all", s.handleExport).Methods(http.MethodGet)
	backupRouter.HandleFunc("/restore", s.handleRestore).Methods(http.MethodPost)
	backupRouter.HandleFunc("/archives", s.handleListArchives).Methods(http.MethodGet)
	backupRouter.HandleFunc("/archives", s.handleCreateArchive).Methods(http.MethodPost)
	backupRouter.HandleFunc("/archives/{id}", s.handleDeleteArchive).Methods(http.MethodDelete)
	backupRouter.HandleFunc("/archives/{id}/restore", s.handleRestoreArchive).Methods(http.MethodPost)

	router.PathPrefix(imageURLPrefix).Handler(imageHandler{dir: s.config.ImageDir(), notFound: router.NotFoundHandler}).
		Methods(http.MethodGet, http.MethodHead)

	if s.config.StaticDir != "" {
		router.PathPrefix("/").Handler(spaHandler{dir: s.config.StaticDir, notFound: router.NotFoundHandler}).
			Methods(http.MethodGet, http.MethodHead)
	}
	return router
}

// Handler returns the router wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins(s.config.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", requestIDHeader}),
		handlers.ExposedHeaders([]string{requestIDHeader}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(s.logger.WithField("component", "http")),
		handlers.PrintRecoveryStack(s.logger.IsLevelEnabled(logging.LogLevelDebug)),
	)

	var h http.Handler = s.router
	h = cors(h)
	h = securityHeaders(h)
	h = s.accessLog(h)
	h = s.requestID(h)
	return recovery(h)
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. In-flight requests
// get ShutdownTimeout to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		ErrorLog:          log.New(s.logger.Writer(), "http: ", 0),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	s.logger.WithFields(map[string]interface{}{
		"address":         ln.Addr().String(),
		"upload_dir":      s.config.UploadDir,
		"static_dir":      s.config.StaticDir,
		"max_upload_size": s.config.MaxUploadSize,
		"archives":        s.deps.Archives != nil,
	}).Info("HTTP server started")

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
