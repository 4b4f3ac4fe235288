package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Tables in the order they are created
var Tables = []string{"users", "products", "orders", "settings"}

type columnTypes struct {
	serial    string
	text      string
	varchar   string
	float     string
	boolean   string
	timestamp string
}

func typesFor(driver string) columnTypes {
	switch NormalizeDriver(driver) {
	case DriverMySQL:
		return columnTypes{
			serial:    "INT AUTO_INCREMENT PRIMARY KEY",
			text:      "LONGTEXT",
			varchar:   "VARCHAR(255)",
			float:     "DOUBLE",
			boolean:   "BOOLEAN",
			timestamp: "DATETIME(6)",
		}
	case DriverSQLite:
		return columnTypes{
			serial:    "INTEGER PRIMARY KEY AUTOINCREMENT",
			text:      "TEXT",
			varchar:   "VARCHAR(255)",
			float:     "REAL",
			boolean:   "BOOLEAN",
			timestamp: "DATETIME",
		}
	default:
		return columnTypes{
			serial:    "SERIAL PRIMARY KEY",
			text:      "TEXT",
			varchar:   "VARCHAR(255)",
			float:     "DOUBLE PRECISION",
			boolean:   "BOOLEAN",
			timestamp: "TIMESTAMP WITH TIME ZONE",
		}
	}
}

// SchemaStatements returns the CREATE TABLE statements for a driver
func SchemaStatements(driver string) []string {
	t := typesFor(driver)

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
	id %s,
	username %s NOT NULL UNIQUE,
	password %s NOT NULL,
	role %s DEFAULT 'buyer',
	avatar %s,
	city %s,
	birthday %s,
	notes %s,
	initial_username %s,
	registration_date %s NOT NULL,
	updated_date %s NOT NULL
)`, t.serial, t.varchar, t.varchar, t.varchar, t.text, t.varchar, t.varchar, t.text, t.varchar, t.timestamp, t.timestamp),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS products (
	id %s,
	name %s NOT NULL,
	related_name %s,
	description %s,
	original_height %s,
	original_width %s,
	original_length %s,
	parts_count INTEGER DEFAULT 1,
	main_image %s,
	additional_images %s,
	price_options %s NOT NULL,
	is_visible %s DEFAULT TRUE,
	sales_count INTEGER DEFAULT 0,
	favorites_count INTEGER DEFAULT 0,
	created_date %s NOT NULL,
	updated_date %s NOT NULL
)`, t.serial, t.varchar, t.varchar, t.text, t.float, t.float, t.float, t.text, t.text, t.text, t.boolean, t.timestamp, t.timestamp),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS orders (
	id %s,
	user_id INTEGER NOT NULL,
	products %s,
	total_price %s,
	status %s DEFAULT 'создан заказ',
	notes %s,
	admin_notes %s,
	assigned_executors %s,
	created_date %s NOT NULL,
	updated_date %s NOT NULL
)`, t.serial, t.text, t.float, t.varchar, t.text, t.text, t.text, t.timestamp, t.timestamp),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS settings (
	id %s,
	payment_info %s,
	price_coefficient %s DEFAULT 5.25,
	discount_rules %s,
	show_discount_on_products %s DEFAULT FALSE
)`, t.serial, t.text, t.float, t.text, t.boolean),
	}
}

// Migrate creates any missing tables
func (s *Service) Migrate(ctx context.Context, db *sqlx.DB) error {
	done := s.logger.LogOperationStart("schema_migration", map[string]interface{}{
		"driver": db.DriverName(),
	})

	for _, stmt := range SchemaStatements(db.DriverName()) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			wrapped := fmt.Errorf("create table: %w", err)
			done(wrapped)
			return wrapped
		}
	}

	done(nil)
	return nil
}
