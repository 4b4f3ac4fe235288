package backup

import (
	"context"
	"database/sql/driver"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"print-marketplace/internal/logging"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestoreRoundTrip(t *testing.T) {
	st := newTestStore(t)
	restorer := NewRestorer(st, logging.NewNopLogger(), 0)

	summary, err := restorer.RestoreBytes(context.Background(), []byte(sampleBackup))
	require.NoError(t, err)
	assert.Equal(t, Summary{Users: 2, Products: 2, Orders: 1, Settings: 1}, summary)

	assert.JSONEq(t, marshalDoc(t, parseSample(t)), exportJSON(t, st))
}

func TestRestoreIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	restorer := NewRestorer(st, logging.NewNopLogger(), time.Minute)
	ctx := context.Background()

	_, err := restorer.RestoreBytes(ctx, []byte(sampleBackup))
	require.NoError(t, err)
	first := exportJSON(t, st)

	_, err = restorer.RestoreBytes(ctx, []byte(sampleBackup))
	require.NoError(t, err)
	assert.JSONEq(t, first, exportJSON(t, st))
}

func TestRestoreReplacesExistingRows(t *testing.T) {
	st := newTestStore(t)
	restorer := NewRestorer(st, logging.NewNopLogger(), time.Minute)
	ctx := context.Background()

	_, err := restorer.RestoreBytes(ctx, []byte(sampleBackup))
	require.NoError(t, err)

	summary, err := restorer.RestoreBytes(ctx, []byte(`{
		"users": [{"id": 9, "username": "solo", "password": "x", "role": "buyer",
			"registration_date": "2024-05-01T00:00:00Z", "updated_date": "2024-05-01T00:00:00Z"}],
		"products": [], "orders": [], "settings": []
	}`))
	require.NoError(t, err)
	assert.Equal(t, Summary{Users: 1}, summary)

	users, err := st.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "solo", users[0].Username)

	products, err := st.ListProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)

	settings, err := st.ListSettings(ctx)
	require.NoError(t, err)
	assert.Empty(t, settings)
}

func TestRestoreWithoutSettingsLeavesTableEmpty(t *testing.T) {
	st := newTestStore(t)
	restorer := NewRestorer(st, logging.NewNopLogger(), time.Minute)
	ctx := context.Background()

	_, err := restorer.RestoreBytes(ctx, []byte(sampleBackup))
	require.NoError(t, err)

	summary, err := restorer.RestoreBytes(ctx, []byte(`{"users": [], "products": [], "orders": []}`))
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)

	settings, err := st.ListSettings(ctx)
	require.NoError(t, err)
	assert.Empty(t, settings)
}

func TestRestoreFailureLeavesDataUntouched(t *testing.T) {
	st := newTestStore(t)
	restorer := NewRestorer(st, logging.NewNopLogger(), time.Minute)
	ctx := context.Background()

	_, err := restorer.RestoreBytes(ctx, []byte(sampleBackup))
	require.NoError(t, err)
	before := exportJSON(t, st)

	// Two orders with the same id violate the primary key after users and
	// products were already inserted.
	broken := `{
		"users": [{"id": 3, "username": "other", "password": "x", "role": "buyer",
			"registration_date": "2024-05-01T00:00:00Z", "updated_date": "2024-05-01T00:00:00Z"}],
		"products": [{"id": 4, "name": "Gnome", "parts_count": 1, "additional_images": "[]",
			"price_options": "[]", "is_visible": true,
			"created_date": "2024-05-01T00:00:00Z", "updated_date": "2024-05-01T00:00:00Z"}],
		"orders": [
			{"id": 1, "user_id": 3, "products": "[]", "total_price": 10, "status": "new",
			 "created_date": "2024-05-01T00:00:00Z", "updated_date": "2024-05-01T00:00:00Z"},
			{"id": 1, "user_id": 3, "products": "[]", "total_price": 20, "status": "new",
			 "created_date": "2024-05-01T00:00:00Z", "updated_date": "2024-05-01T00:00:00Z"}
		],
		"settings": []
	}`
	summary, err := restorer.RestoreBytes(ctx, []byte(broken))
	require.Error(t, err)
	assert.Equal(t, Summary{}, summary)

	var backupErr *BackupError
	require.True(t, errors.As(err, &backupErr))
	assert.Equal(t, BackupErrorTypePersistence, backupErr.Type)
	assert.Equal(t, PhaseTablesCleared, backupErr.Phase)
	assert.Equal(t, "orders", backupErr.Context["table"])
	assert.True(t, backupErr.DataUnchanged())
	assert.Contains(t, backupErr.UserMessage(), "no data was changed")

	assert.JSONEq(t, before, exportJSON(t, st))
}

func TestRestoreAssignsMissingIDs(t *testing.T) {
	st := newTestStore(t)
	restorer := NewRestorer(st, logging.NewNopLogger(), time.Minute)
	ctx := context.Background()

	summary, err := restorer.RestoreBytes(ctx, []byte(`{
		"users": [
			{"username": "a", "password": "x"},
			{"username": "b", "password": "y"}
		],
		"products": [], "orders": []
	}`))
	require.NoError(t, err)
	assert.Equal(t, Summary{Users: 2}, summary)

	users, err := st.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.NotZero(t, users[0].ID)
	assert.NotZero(t, users[1].ID)
	assert.NotEqual(t, users[0].ID, users[1].ID)
}

func TestRestoreMixesExplicitAndMissingIDs(t *testing.T) {
	st := newTestStore(t)
	restorer := NewRestorer(st, logging.NewNopLogger(), time.Minute)
	ctx := context.Background()

	_, err := restorer.RestoreBytes(ctx, []byte(`{
		"users": [
			{"username": "generated", "password": "x"},
			{"id": 5, "username": "kept", "password": "y"}
		],
		"products": [], "orders": []
	}`))
	require.NoError(t, err)

	users, err := st.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	ids := map[string]int64{}
	for _, u := range users {
		ids[u.Username] = u.ID
	}
	assert.Equal(t, int64(5), ids["kept"])
	assert.Greater(t, ids["generated"], int64(5))
}

func TestRestoreValidationFailureTouchesNothing(t *testing.T) {
	st := newTestStore(t)
	restorer := NewRestorer(st, logging.NewNopLogger(), time.Minute)
	ctx := context.Background()

	_, err := restorer.RestoreBytes(ctx, []byte(sampleBackup))
	require.NoError(t, err)
	before := exportJSON(t, st)

	_, err = restorer.RestoreBytes(ctx, []byte(`{"users": []}`))
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, []string{"orders", "products"}, MissingFields(err))

	_, err = restorer.RestoreBytes(ctx, []byte(`{"users": [`))
	require.Error(t, err)
	assert.True(t, IsMalformedInput(err))

	assert.JSONEq(t, before, exportJSON(t, st))
}

func TestRestoreNilDocument(t *testing.T) {
	restorer := NewRestorer(newTestStore(t), logging.NewNopLogger(), time.Minute)

	_, err := restorer.Restore(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestRestoreFileRemovesUpload(t *testing.T) {
	st := newTestStore(t)
	restorer := NewRestorer(st, logging.NewNopLogger(), time.Minute)
	dir := t.TempDir()

	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(sampleBackup), 0600))
	summary, err := restorer.RestoreFile(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Total())
	assert.NoFileExists(t, good)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`not json`), 0600))
	_, err = restorer.RestoreFile(context.Background(), bad)
	assert.True(t, IsMalformedInput(err))
	assert.NoFileExists(t, bad)
}

func TestRestoreFileMissing(t *testing.T) {
	restorer := NewRestorer(newTestStore(t), logging.NewNopLogger(), time.Minute)

	_, err := restorer.RestoreFile(context.Background(), filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)

	var backupErr *BackupError
	require.True(t, errors.As(err, &backupErr))
	assert.Equal(t, BackupErrorTypeStorage, backupErr.Type)
}

func TestRestoreRollsBackOnInsertFailure(t *testing.T) {
	st, mock := newMockStore(t)
	restorer := NewRestorer(st, logging.NewNopLogger(), time.Minute)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM orders").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM products").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM users").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM settings").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO users").WillReturnError(errors.New("value too long for type character varying(255)"))
	mock.ExpectRollback()

	_, err := restorer.Restore(context.Background(), parseSample(t))
	require.Error(t, err)

	var backupErr *BackupError
	require.True(t, errors.As(err, &backupErr))
	assert.Equal(t, BackupErrorTypePersistence, backupErr.Type)
	assert.Equal(t, PhaseTablesCleared, backupErr.Phase)
	assert.Equal(t, "insert", backupErr.Context["step"])
	assert.Equal(t, "users", backupErr.Context["table"])
	assert.Equal(t, SeverityError, backupErr.Severity())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreReportsRollbackFailure(t *testing.T) {
	st, mock := newMockStore(t)
	restorer := NewRestorer(st, logging.NewNopLogger(), time.Minute)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM orders").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback().WillReturnError(errors.New("connection reset by peer"))

	_, err := restorer.Restore(context.Background(), parseSample(t))
	require.Error(t, err)
	assert.True(t, IsRollbackFailure(err))

	var backupErr *BackupError
	require.True(t, errors.As(err, &backupErr))
	assert.Equal(t, PhaseTransactionOpen, backupErr.Phase)
	assert.Equal(t, SeverityCritical, backupErr.Severity())
	assert.False(t, backupErr.DataUnchanged())
	assert.Equal(t, IntegrityWarning, backupErr.UserMessage())
	assert.Contains(t, backupErr.Context["restore_error"], "disk I/O error")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreCommitFailure(t *testing.T) {
	st, mock := newMockStore(t)
	restorer := NewRestorer(st, logging.NewNopLogger(), time.Minute)

	mock.ExpectBegin()
	for _, table := range []string{"orders", "products", "users", "settings"} {
		mock.ExpectExec("DELETE FROM " + table).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("could not serialize access"))

	doc := &Document{Users: parseSample(t).Users[:1]}
	_, err := restorer.Restore(context.Background(), doc)
	require.Error(t, err)
	assert.True(t, IsPersistence(err))

	var backupErr *BackupError
	require.True(t, errors.As(err, &backupErr))
	assert.Equal(t, "commit", backupErr.Context["step"])
	assert.Equal(t, PhaseTablesRepopulated, backupErr.Phase)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreCommitConnectionLost(t *testing.T) {
	st, mock := newMockStore(t)
	restorer := NewRestorer(st, logging.NewNopLogger(), time.Minute)

	mock.ExpectBegin()
	for _, table := range []string{"orders", "products", "users", "settings"} {
		mock.ExpectExec("DELETE FROM " + table).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(driver.ErrBadConn)

	doc := &Document{Users: parseSample(t).Users[:1]}
	_, err := restorer.Restore(context.Background(), doc)
	require.Error(t, err)
	assert.True(t, IsCommitUnknown(err))
	assert.False(t, IsPersistence(err))

	var backupErr *BackupError
	require.True(t, errors.As(err, &backupErr))
	assert.False(t, backupErr.DataUnchanged())
	assert.Equal(t, SeverityCritical, backupErr.Severity())
	assert.Equal(t, CommitUnknownWarning, backupErr.UserMessage())
	assert.NotContains(t, backupErr.UserMessage(), "no data was changed")
	assert.Equal(t, "commit", backupErr.Context["step"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreCallerDeadline(t *testing.T) {
	st, _ := newMockStore(t)
	restorer := NewRestorer(st, logging.NewNopLogger(), time.Minute)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := restorer.Restore(ctx, parseSample(t))
	require.Error(t, err)

	var backupErr *BackupError
	require.True(t, errors.As(err, &backupErr))
	assert.Equal(t, BackupErrorTypeTimeout, backupErr.Type)
	assert.Contains(t, backupErr.Message, "caller's deadline")
	assert.NotContains(t, backupErr.Message, "1m0s")
}

func TestRestoreTimeout(t *testing.T) {
	st, mock := newMockStore(t)
	restorer := NewRestorer(st, logging.NewNopLogger(), 20*time.Millisecond)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM orders").WillDelayFor(time.Second).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := restorer.Restore(context.Background(), parseSample(t))
	require.Error(t, err)

	var backupErr *BackupError
	require.True(t, errors.As(err, &backupErr))
	assert.Equal(t, BackupErrorTypeTimeout, backupErr.Type)
	assert.Contains(t, backupErr.Message, "20ms time limit")
	assert.True(t, backupErr.DataUnchanged())
	assert.True(t, IsRetryable(err))
}

func TestNewRestorerDefaults(t *testing.T) {
	restorer := NewRestorer(nil, nil, -time.Second)
	assert.Equal(t, DefaultRestoreTimeout, restorer.Timeout())
}
