package store

import (
	"context"
	"fmt"
	"time"

	"print-marketplace/internal/database"
	"print-marketplace/internal/errors"
	"print-marketplace/internal/logging"
	"print-marketplace/internal/models"

	"github.com/jmoiron/sqlx"
)

// ReplaceTx is the transaction a restore runs in. Nothing it writes is visible
// to other connections until Commit.
type ReplaceTx struct {
	tx        *sqlx.Tx
	logger    *logging.Logger
	batchSize int
}

// BeginReplace opens the transaction a restore runs in
func (s *Store) BeginReplace(ctx context.Context) (*ReplaceTx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.WrapError(err, "failed to begin restore transaction")
	}
	return &ReplaceTx{tx: tx, logger: s.logger, batchSize: s.batchSize}, nil
}

// DeleteAll removes every row of table
func (t *ReplaceTx) DeleteAll(ctx context.Context, table string) (int64, error) {
	switch table {
	case TableUsers, TableProducts, TableOrders, TableSettings:
	default:
		return 0, errors.NewAppError(errors.ErrorTypeValidation, fmt.Sprintf("unknown table %q", table), nil)
	}

	query := "DELETE FROM " + table
	start := time.Now()
	result, err := t.tx.ExecContext(ctx, query)

	var affected int64
	if result != nil {
		affected, _ = result.RowsAffected()
	}
	t.logger.LogSQLExecution(ctx, query, time.Since(start), affected, err)

	if err != nil {
		return 0, errors.WrapError(err, fmt.Sprintf("failed to clear %s", table))
	}
	return affected, nil
}

// InsertUsers bulk-inserts users
func (t *ReplaceTx) InsertUsers(ctx context.Context, users []models.User) error {
	now := time.Now().UTC()
	for i := range users {
		users[i].ApplyDefaults(now)
	}
	return insertRows(ctx, t, TableUsers, userColumns, users, func(r models.User) int64 { return r.ID })
}

// InsertProducts bulk-inserts products
func (t *ReplaceTx) InsertProducts(ctx context.Context, products []models.Product) error {
	now := time.Now().UTC()
	for i := range products {
		products[i].ApplyDefaults(now)
	}
	return insertRows(ctx, t, TableProducts, productColumns, products, func(r models.Product) int64 { return r.ID })
}

// InsertOrders bulk-inserts orders
func (t *ReplaceTx) InsertOrders(ctx context.Context, orders []models.Order) error {
	now := time.Now().UTC()
	for i := range orders {
		orders[i].ApplyDefaults(now)
	}
	return insertRows(ctx, t, TableOrders, orderColumns, orders, func(r models.Order) int64 { return r.ID })
}

// InsertSettings bulk-inserts settings rows
func (t *ReplaceTx) InsertSettings(ctx context.Context, settings []models.Settings) error {
	return insertRows(ctx, t, TableSettings, settingsColumns, settings, func(r models.Settings) int64 { return r.ID })
}

// SyncSequences realigns id sequences with the restored rows
func (t *ReplaceTx) SyncSequences(ctx context.Context) error {
	for _, table := range []string{TableUsers, TableProducts, TableOrders, TableSettings} {
		if err := database.SyncSequence(ctx, t.tx, table); err != nil {
			return err
		}
	}
	return nil
}

// Commit makes the replacement visible
func (t *ReplaceTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return errors.WrapError(err, "failed to commit restore transaction")
	}
	return nil
}

// Rollback discards everything written in the transaction
func (t *ReplaceTx) Rollback() error {
	return t.tx.Rollback()
}

// insertRows inserts rows that carry an id with it, then lets the database
// assign ids to the rest. The sequence is moved past the explicit ids first.
func insertRows[T any](ctx context.Context, t *ReplaceTx, table string, columns []string, rows []T, id func(T) int64) error {
	var withID, withoutID []T
	for _, row := range rows {
		if id(row) > 0 {
			withID = append(withID, row)
		} else {
			withoutID = append(withoutID, row)
		}
	}

	if err := insertBatches(ctx, t, table, insertInto(table, columns), withID); err != nil {
		return err
	}
	if len(withoutID) == 0 {
		return nil
	}
	if len(withID) > 0 {
		if err := database.SyncSequence(ctx, t.tx, table); err != nil {
			return err
		}
	}
	return insertBatches(ctx, t, table, insertInto(table, without(columns, "id")), withoutID)
}

func insertBatches[T any](ctx context.Context, t *ReplaceTx, table, query string, rows []T) error {
	for start := 0; start < len(rows); start += t.batchSize {
		end := start + t.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		began := time.Now()
		_, err := t.tx.NamedExecContext(ctx, query, batch)
		t.logger.LogSQLExecution(ctx, query, time.Since(began), int64(len(batch)), err)

		if err != nil {
			return errors.WrapError(err, fmt.Sprintf("failed to insert %s rows %d-%d", table, start+1, end)).(*errors.AppError).
				WithContext("table", table)
		}
	}
	return nil
}
