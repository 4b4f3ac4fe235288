package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"print-marketplace/internal/database"
	"print-marketplace/internal/errors"
	"print-marketplace/internal/models"
)

// UserFilter narrows ListPublicUsers
type UserFilter struct {
	Search string // username substring or exact id
	Role   string
}

// ProductFilter narrows SearchProducts
type ProductFilter struct {
	Search        string
	Field         string // name (default), description or id
	IncludeHidden bool
}

// OrderFilter narrows SearchOrders. With All unset, UserID or ExecutorID
// restricts the result to one customer or one executor.
type OrderFilter struct {
	All        bool
	UserID     int64
	ExecutorID string
	Search     string // exact order id
	Status     string
}

// queryBuilder collects WHERE clauses with ? placeholders
type queryBuilder struct {
	where []string
	args  []interface{}
}

func (b *queryBuilder) add(clause string, args ...interface{}) {
	b.where = append(b.where, clause)
	b.args = append(b.args, args...)
}

func (b *queryBuilder) build(base, order string) string {
	query := base
	if len(b.where) > 0 {
		query += " WHERE " + strings.Join(b.where, " AND ")
	}
	return query + " ORDER BY " + order
}

// parseID mirrors the lenient id search: anything unparsable matches id 0
func parseID(s string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func likePattern(s string) string {
	return "%" + strings.ToLower(strings.TrimSpace(s)) + "%"
}

// FindUserByUsername returns the user with username or a not_found error
func (s *Store) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	query := s.db.Rebind(fmt.Sprintf("SELECT %s FROM users WHERE username = ?", strings.Join(userColumns, ", ")))
	if err := s.db.GetContext(ctx, &user, query, username); err != nil {
		return nil, errors.WrapError(err, "failed to find user")
	}
	return &user, nil
}

// CreateUser inserts a user and sets its id
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	user.ApplyDefaults(time.Now().UTC())
	id, err := s.insertReturningID(ctx, TableUsers, without(userColumns, "id"), user)
	if err != nil {
		return errors.WrapError(err, "failed to create user")
	}
	user.ID = id
	return nil
}

// ListPublicUsers returns users without password hashes, newest first
func (s *Store) ListPublicUsers(ctx context.Context, filter UserFilter) ([]models.PublicUser, error) {
	var b queryBuilder
	if search := strings.TrimSpace(filter.Search); search != "" {
		b.add("(LOWER(username) LIKE ? OR id = ?)", likePattern(search), parseID(search))
	}
	if filter.Role != "" {
		b.add("role = ?", filter.Role)
	}

	users := []models.User{}
	query := s.db.Rebind(b.build(fmt.Sprintf("SELECT %s FROM users", strings.Join(userColumns, ", ")), "registration_date DESC"))
	if err := s.db.SelectContext(ctx, &users, query, b.args...); err != nil {
		return nil, errors.WrapError(err, "failed to list users")
	}

	public := make([]models.PublicUser, len(users))
	for i, u := range users {
		public[i] = u.Public()
	}
	return public, nil
}

// SearchProducts returns products matching filter, newest first
func (s *Store) SearchProducts(ctx context.Context, filter ProductFilter) ([]models.Product, error) {
	var b queryBuilder
	if !filter.IncludeHidden {
		b.add("is_visible = ?", true)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		switch filter.Field {
		case "description":
			b.add("LOWER(description) LIKE ?", likePattern(search))
		case "id":
			b.add("id = ?", parseID(search))
		default:
			b.add("LOWER(name) LIKE ?", likePattern(search))
		}
	}

	products := []models.Product{}
	query := s.db.Rebind(b.build(fmt.Sprintf("SELECT %s FROM products", strings.Join(productColumns, ", ")), "created_date DESC"))
	if err := s.db.SelectContext(ctx, &products, query, b.args...); err != nil {
		return nil, errors.WrapError(err, "failed to search products")
	}
	return products, nil
}

// CreateProduct inserts a product and sets its id
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	product.ApplyDefaults(time.Now().UTC())
	if !product.AdditionalImages.Valid {
		product.AdditionalImages = models.EmptyJSONList()
	}
	id, err := s.insertReturningID(ctx, TableProducts, without(productColumns, "id"), product)
	if err != nil {
		return errors.WrapError(err, "failed to create product")
	}
	product.ID = id
	return nil
}

// SearchOrders returns orders matching filter, newest first
func (s *Store) SearchOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	var b queryBuilder
	switch {
	case filter.All:
	case filter.ExecutorID != "":
		b.add("assigned_executors LIKE ?", "%"+filter.ExecutorID+"%")
	case filter.UserID != 0:
		b.add("user_id = ?", filter.UserID)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		b.add("id = ?", parseID(search))
	}
	if filter.Status != "" {
		b.add("status = ?", filter.Status)
	}

	orders := []models.Order{}
	query := s.db.Rebind(b.build(fmt.Sprintf("SELECT %s FROM orders", strings.Join(orderColumns, ", ")), "created_date DESC"))
	if err := s.db.SelectContext(ctx, &orders, query, b.args...); err != nil {
		return nil, errors.WrapError(err, "failed to list orders")
	}
	return orders, nil
}

// CreateOrder inserts an order and sets its id
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	order.ApplyDefaults(time.Now().UTC())
	if !order.AssignedExecutors.Valid {
		order.AssignedExecutors = models.EmptyJSONList()
	}
	id, err := s.insertReturningID(ctx, TableOrders, without(orderColumns, "id"), order)
	if err != nil {
		return errors.WrapError(err, "failed to create order")
	}
	order.ID = id
	return nil
}

// GetOrCreateSettings returns the first settings row, creating the defaults
// when the table is empty (for example after a restore without settings)
func (s *Store) GetOrCreateSettings(ctx context.Context) (*models.Settings, error) {
	var settings models.Settings
	query := fmt.Sprintf("SELECT %s FROM settings ORDER BY id LIMIT 1", strings.Join(settingsColumns, ", "))
	err := s.db.GetContext(ctx, &settings, query)
	if err == nil {
		return &settings, nil
	}
	if !stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.WrapError(err, "failed to read settings")
	}

	settings = models.DefaultSettings()
	id, err := s.insertReturningID(ctx, TableSettings, without(settingsColumns, "id"), settings)
	if err != nil {
		return nil, errors.WrapError(err, "failed to create default settings")
	}
	settings.ID = id
	s.logger.Info("Default settings created")
	return &settings, nil
}

// UpdateSettings overwrites the settings row with the given id
func (s *Store) UpdateSettings(ctx context.Context, settings models.Settings) error {
	query := `UPDATE settings SET payment_info = :payment_info, price_coefficient = :price_coefficient,
		discount_rules = :discount_rules, show_discount_on_products = :show_discount_on_products
		WHERE id = :id`
	result, err := s.db.NamedExecContext(ctx, query, settings)
	if err != nil {
		return errors.WrapError(err, "failed to update settings")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NewAppError(errors.ErrorTypeNotFound, fmt.Sprintf("settings %d not found", settings.ID), nil)
	}
	return nil
}

// insertReturningID inserts arg into table and returns the generated id
func (s *Store) insertReturningID(ctx context.Context, table string, columns []string, arg interface{}) (int64, error) {
	query := insertInto(table, columns)

	if database.NormalizeDriver(s.db.DriverName()) == database.DriverPostgres {
		rows, err := s.db.NamedQueryContext(ctx, query+" RETURNING id", arg)
		if err != nil {
			return 0, err
		}
		defer rows.Close()

		var id int64
		if rows.Next() {
			if err := rows.Scan(&id); err != nil {
				return 0, err
			}
		}
		return id, rows.Err()
	}

	result, err := s.db.NamedExecContext(ctx, query, arg)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}
