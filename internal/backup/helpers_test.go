package backup

import (
	"context"
	"path/filepath"
	"testing"

	"print-marketplace/internal/database"
	"print-marketplace/internal/logging"
	"print-marketplace/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

const sampleBackup = `{
  "users": [
    {"id": 1, "username": "admin", "password": "$2a$10$adminhash", "role": "admin", "avatar": null,
     "city": "Moscow", "birthday": null, "notes": null, "initial_username": null,
     "registration_date": "2024-01-01T10:00:00Z", "updated_date": "2024-01-02T10:00:00Z"},
    {"id": 2, "username": "buyer1", "password": "$2a$10$buyerhash", "role": "buyer", "avatar": "a.png",
     "city": null, "birthday": "1990-05-05", "notes": "vip", "initial_username": "buyer",
     "registration_date": "2024-02-01T08:30:00Z", "updated_date": "2024-02-01T08:30:00Z"}
  ],
  "products": [
    {"id": 5, "name": "Dragon", "related_name": null, "description": "Resin dragon kit",
     "original_height": 12.5, "original_width": null, "original_length": null, "parts_count": 3,
     "main_image": "dragon.png", "additional_images": "[\"d1.png\",\"d2.png\"]",
     "price_options": "[{\"scale\":\"1:10\",\"price\":1500}]", "is_visible": true,
     "sales_count": 4, "favorites_count": 9,
     "created_date": "2024-03-01T12:00:00Z", "updated_date": "2024-03-02T12:00:00Z"},
    {"id": 6, "name": "Knight", "related_name": "Dragon", "description": null,
     "original_height": null, "original_width": null, "original_length": null, "parts_count": 1,
     "main_image": null, "additional_images": "[]", "price_options": "[]", "is_visible": false,
     "sales_count": 0, "favorites_count": 0,
     "created_date": "2024-03-05T12:00:00Z", "updated_date": "2024-03-05T12:00:00Z"}
  ],
  "orders": [
    {"id": 7, "user_id": 2, "products": "[{\"id\":5,\"qty\":1}]", "total_price": 1500,
     "status": "создан заказ", "notes": null, "admin_notes": "call first",
     "assigned_executors": "[\"3\"]",
     "created_date": "2024-04-01T09:00:00Z", "updated_date": "2024-04-01T09:00:00Z"}
  ],
  "settings": [
    {"id": 1, "payment_info": "Card 1234", "price_coefficient": 5.25, "discount_rules": "[]",
     "show_discount_on_products": true}
  ]
}`

func parseSample(t *testing.T) *Document {
	t.Helper()
	doc, err := ParseDocument([]byte(sampleBackup))
	require.NoError(t, err)
	return doc
}

// newTestStore opens a migrated sqlite database in a temp dir
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	cfg := database.DatabaseConfig{Driver: "sqlite3", Path: filepath.Join(t.TempDir(), "marketplace.db")}
	cfg.SetDefaults()

	db, err := sqlx.Open(cfg.Driver, cfg.DSN())
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewService(logging.NewNopLogger()).Migrate(context.Background(), db))
	return store.New(db, logging.NewNopLogger())
}

// newMockStore wraps a sqlmock connection in a store
func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return store.New(sqlx.NewDb(mockDB, "sqlmock"), logging.NewNopLogger()), mock
}

// exportJSON exports st and returns the encoded document
func exportJSON(t *testing.T, st *store.Store) string {
	t.Helper()
	doc, err := NewExporter(st, logging.NewNopLogger(), false).Export(context.Background())
	require.NoError(t, err)
	data, err := doc.Marshal()
	require.NoError(t, err)
	return string(data)
}

func marshalDoc(t *testing.T, doc *Document) string {
	t.Helper()
	data, err := doc.Marshal()
	require.NoError(t, err)
	return string(data)
}
