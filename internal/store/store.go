// Package store is the sqlx persistence layer for the marketplace tables.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"print-marketplace/internal/database"
	"print-marketplace/internal/errors"
	"print-marketplace/internal/logging"
	"print-marketplace/internal/models"

	"github.com/jmoiron/sqlx"
)

// Table names
const (
	TableUsers    = "users"
	TableProducts = "products"
	TableOrders   = "orders"
	TableSettings = "settings"
)

// DefaultBatchSize bounds the rows sent in one multi-row INSERT
const DefaultBatchSize = 100

var (
	userColumns = []string{
		"id", "username", "password", "role", "avatar", "city", "birthday", "notes",
		"initial_username", "registration_date", "updated_date",
	}
	productColumns = []string{
		"id", "name", "related_name", "description", "original_height", "original_width",
		"original_length", "parts_count", "main_image", "additional_images", "price_options",
		"is_visible", "sales_count", "favorites_count", "created_date", "updated_date",
	}
	orderColumns = []string{
		"id", "user_id", "products", "total_price", "status", "notes", "admin_notes",
		"assigned_executors", "created_date", "updated_date",
	}
	settingsColumns = []string{
		"id", "payment_info", "price_coefficient", "discount_rules", "show_discount_on_products",
	}
)

func selectAll(table string, columns []string) string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY id", strings.Join(columns, ", "), table)
}

func insertInto(table string, columns []string) string {
	named := make([]string, len(columns))
	for i, c := range columns {
		named[i] = ":" + c
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(named, ", "))
}

// without drops the id column, for inserts that let the database assign it
func without(columns []string, drop string) []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if c != drop {
			out = append(out, c)
		}
	}
	return out
}

// Store reads and writes the four marketplace tables
type Store struct {
	db        *sqlx.DB
	logger    *logging.Logger
	batchSize int
}

// New wraps an open database
func New(db *sqlx.DB, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Store{db: db, logger: logger, batchSize: DefaultBatchSize}
}

// WithBatchSize overrides the number of rows per INSERT statement
func (s *Store) WithBatchSize(n int) *Store {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

// DB exposes the underlying pool
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// reader runs full-table reads against a pool or a transaction
type reader struct {
	q      sqlx.QueryerContext
	logger *logging.Logger
}

func (r reader) selectRows(ctx context.Context, dest interface{}, query string) error {
	start := time.Now()
	err := sqlx.SelectContext(ctx, r.q, dest, query)
	r.logger.LogSQLExecution(ctx, query, time.Since(start), -1, err)
	return err
}

func (r reader) listUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	if err := r.selectRows(ctx, &users, selectAll(TableUsers, userColumns)); err != nil {
		return nil, errors.WrapError(err, "failed to read users")
	}
	return users, nil
}

func (r reader) listProducts(ctx context.Context) ([]models.Product, error) {
	products := []models.Product{}
	if err := r.selectRows(ctx, &products, selectAll(TableProducts, productColumns)); err != nil {
		return nil, errors.WrapError(err, "failed to read products")
	}
	return products, nil
}

func (r reader) listOrders(ctx context.Context) ([]models.Order, error) {
	orders := []models.Order{}
	if err := r.selectRows(ctx, &orders, selectAll(TableOrders, orderColumns)); err != nil {
		return nil, errors.WrapError(err, "failed to read orders")
	}
	return orders, nil
}

func (r reader) listSettings(ctx context.Context) ([]models.Settings, error) {
	settings := []models.Settings{}
	if err := r.selectRows(ctx, &settings, selectAll(TableSettings, settingsColumns)); err != nil {
		return nil, errors.WrapError(err, "failed to read settings")
	}
	return settings, nil
}

func (s *Store) reader() reader {
	return reader{q: s.db, logger: s.logger}
}

// ListUsers returns every user row
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.reader().listUsers(ctx)
}

// ListProducts returns every product row
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.reader().listProducts(ctx)
}

// ListOrders returns every order row
func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.reader().listOrders(ctx)
}

// ListSettings returns every settings row
func (s *Store) ListSettings(ctx context.Context) ([]models.Settings, error) {
	return s.reader().listSettings(ctx)
}

// Snapshot is a read-only transaction giving a consistent view of all tables
type Snapshot struct {
	reader
	tx *sqlx.Tx
}

// BeginSnapshot opens a read-only serializable transaction where the driver
// supports it
func (s *Store) BeginSnapshot(ctx context.Context) (*Snapshot, error) {
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: true}
	if database.NormalizeDriver(s.db.DriverName()) == database.DriverSQLite {
		opts = nil
	}

	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return nil, errors.WrapError(err, "failed to begin snapshot transaction")
	}
	return &Snapshot{reader: reader{q: tx, logger: s.logger}, tx: tx}, nil
}

// ListUsers returns every user row
func (s *Snapshot) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.listUsers(ctx)
}

// ListProducts returns every product row
func (s *Snapshot) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.listProducts(ctx)
}

// ListOrders returns every order row
func (s *Snapshot) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.listOrders(ctx)
}

// ListSettings returns every settings row
func (s *Snapshot) ListSettings(ctx context.Context) ([]models.Settings, error) {
	return s.listSettings(ctx)
}

// Close ends the snapshot. Nothing was written, so it always rolls back.
func (s *Snapshot) Close() error {
	if err := s.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return err
	}
	return nil
}
