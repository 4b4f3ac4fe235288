package backup

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"print-marketplace/internal/logging"
	"print-marketplace/internal/store"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

// DefaultRestoreTimeout bounds a whole restore transaction
const DefaultRestoreTimeout = 60 * time.Second

// errRestoreTimeout is the cancellation cause when the restorer's own budget runs out
var errRestoreTimeout = errors.New("restore time limit reached")

// ClearOrder is the order tables are emptied in. Deletes run one at a time.
var ClearOrder = []string{store.TableOrders, store.TableProducts, store.TableUsers, store.TableSettings}

// Restorer replaces the contents of the four tables with a Document
type Restorer struct {
	target  Replacer
	logger  *logging.Logger
	timeout time.Duration
}

// NewRestorer creates a restorer. A non-positive timeout uses DefaultRestoreTimeout.
func NewRestorer(target Replacer, logger *logging.Logger, timeout time.Duration) *Restorer {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if timeout <= 0 {
		timeout = DefaultRestoreTimeout
	}
	return &Restorer{target: target, logger: logger, timeout: timeout}
}

// Timeout returns the wall-clock budget of one restore
func (r *Restorer) Timeout() time.Duration {
	return r.timeout
}

// RestoreFile restores from an uploaded file and removes the file afterwards,
// whatever the outcome. Failing to remove it is logged and never changes the
// result.
func (r *Restorer) RestoreFile(ctx context.Context, path string) (Summary, error) {
	defer r.cleanup(ctx, path)

	data, err := os.ReadFile(path)
	if err != nil {
		err = NewStorageError("failed to read uploaded backup", err).WithPhase(PhaseReceived)
		r.logger.LogRestore(ctx, string(PhaseReceived), nil, 0, err)
		return Summary{}, err
	}
	return r.RestoreBytes(ctx, data)
}

// RestoreBytes parses, validates and restores a raw document
func (r *Restorer) RestoreBytes(ctx context.Context, data []byte) (Summary, error) {
	start := time.Now()
	doc, err := ParseDocument(data)
	if err != nil {
		r.logger.LogRestore(ctx, string(PhaseReceived), nil, time.Since(start), err)
		return Summary{}, err
	}
	return r.Restore(ctx, doc)
}

// Restore replaces every table with the contents of doc in one transaction.
// Either the whole replacement commits or nothing changes. Settings are only
// written when the document carries some, so a document without settings
// leaves the settings table empty.
func (r *Restorer) Restore(ctx context.Context, doc *Document) (Summary, error) {
	start := time.Now()
	if doc == nil {
		var problems ValidationErrors
		problems.Add("document", "backup document is required")
		return Summary{}, NewValidationError(problems).WithPhase(PhaseReceived)
	}
	summary := doc.Summary()
	r.transition(ctx, PhaseValidated)

	txCtx, cancel := context.WithTimeoutCause(ctx, r.timeout, errRestoreTimeout)
	defer cancel()

	tx, err := r.target.BeginReplace(txCtx)
	if err != nil {
		err = r.failure(txCtx, "failed to open restore transaction", err).WithPhase(PhaseValidated).
			WithContext("step", "begin")
		r.logger.LogRestore(ctx, string(PhaseFailed), nil, time.Since(start), err)
		return Summary{}, err
	}
	r.transition(ctx, PhaseTransactionOpen)

	phase, failed := r.replace(txCtx, tx, doc)
	if failed == nil {
		if cerr := tx.Commit(); cerr != nil {
			if connectionLost(cerr) {
				final := NewCommitUnknownError("connection lost while committing restore", cerr).
					WithPhase(phase).WithContext("step", "commit")
				r.logger.WithContext(ctx).WithFields(logrus.Fields{
					"operation": "backup_restore",
					"severity":  string(SeverityCritical),
					"error":     cerr.Error(),
				}).Error("CRITICAL: restore commit outcome unknown, verify the database")
				r.logger.LogRestore(ctx, string(PhaseFailed), nil, time.Since(start), final)
				return Summary{}, final
			}
			failed = r.failure(txCtx, "failed to commit restore", cerr).WithPhase(phase).WithContext("step", "commit")
		}
	}

	if failed != nil {
		final := r.rollback(ctx, tx, failed)
		r.logger.LogRestore(ctx, string(finalPhase(final)), nil, time.Since(start), final)
		return Summary{}, final
	}

	r.logger.LogRestore(ctx, string(PhaseCommitted), summary.Map(), time.Since(start), nil)
	return summary, nil
}

// replace clears and repopulates inside tx, returning the last phase reached
func (r *Restorer) replace(ctx context.Context, tx *store.ReplaceTx, doc *Document) (RestorePhase, *BackupError) {
	for _, table := range ClearOrder {
		if _, err := tx.DeleteAll(ctx, table); err != nil {
			return PhaseTransactionOpen, r.failure(ctx, fmt.Sprintf("failed to clear %s", table), err).
				WithPhase(PhaseTransactionOpen).WithContext("step", "clear").WithContext("table", table)
		}
	}
	r.transition(ctx, PhaseTablesCleared)

	inserts := []struct {
		table string
		count int
		run   func() error
	}{
		{store.TableUsers, len(doc.Users), func() error { return tx.InsertUsers(ctx, doc.Users) }},
		{store.TableProducts, len(doc.Products), func() error { return tx.InsertProducts(ctx, doc.Products) }},
		{store.TableOrders, len(doc.Orders), func() error { return tx.InsertOrders(ctx, doc.Orders) }},
		{store.TableSettings, len(doc.Settings), func() error { return tx.InsertSettings(ctx, doc.Settings) }},
	}
	for _, insert := range inserts {
		if insert.count == 0 {
			continue
		}
		if err := insert.run(); err != nil {
			return PhaseTablesCleared, r.failure(ctx, fmt.Sprintf("failed to insert %s", insert.table), err).
				WithPhase(PhaseTablesCleared).WithContext("step", "insert").WithContext("table", insert.table)
		}
	}

	if err := tx.SyncSequences(ctx); err != nil {
		return PhaseTablesCleared, r.failure(ctx, "failed to reset id sequences", err).
			WithPhase(PhaseTablesCleared).WithContext("step", "sequences")
	}
	r.transition(ctx, PhaseTablesRepopulated)
	return PhaseTablesRepopulated, nil
}

// rollback undoes tx after cause. A transaction the driver already ended
// (deadline, failed commit) counts as rolled back.
func (r *Restorer) rollback(ctx context.Context, tx *store.ReplaceTx, cause *BackupError) *BackupError {
	rbErr := tx.Rollback()
	if rbErr == nil || errors.Is(rbErr, sql.ErrTxDone) {
		r.transition(ctx, PhaseRolledBack)
		return cause
	}

	failure := NewRollbackFailure("rollback after a failed restore did not succeed", rbErr).
		WithPhase(cause.Phase).
		WithContext("restore_error", cause.Error())
	r.logger.WithContext(ctx).WithFields(logrus.Fields{
		"operation":     "backup_restore",
		"severity":      string(SeverityCritical),
		"phase":         string(cause.Phase),
		"restore_error": cause.Error(),
		"error":         rbErr.Error(),
	}).Error("CRITICAL: restore rollback failed, data integrity cannot be guaranteed")
	return failure
}

// failure classifies an error raised inside the transaction
func (r *Restorer) failure(ctx context.Context, message string, err error) *BackupError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if errors.Is(context.Cause(ctx), errRestoreTimeout) {
			return NewTimeoutError(fmt.Sprintf("restore exceeded its %s time limit", r.timeout), err)
		}
		return NewTimeoutError("restore stopped because the caller's deadline expired", err)
	}
	return NewPersistenceError(message, err)
}

// connectionLost reports whether err means the server may or may not have
// seen the statement
func connectionLost(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (r *Restorer) transition(ctx context.Context, phase RestorePhase) {
	r.logger.WithContext(ctx).WithField("phase", string(phase)).Debug("Restore phase reached")
}

func (r *Restorer) cleanup(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		warning := NewCleanupWarning("failed to remove uploaded backup file", err).WithContext("path", path)
		r.logger.WithContext(ctx).WithFields(logrus.Fields{
			"severity": string(warning.Severity()),
			"path":     path,
			"error":    err.Error(),
		}).Warn("Failed to remove uploaded backup file")
	}
}

func finalPhase(err *BackupError) RestorePhase {
	if !err.DataUnchanged() {
		return PhaseFailed
	}
	return PhaseRolledBack
}
