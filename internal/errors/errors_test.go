package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

func TestAppError(t *testing.T) {
	cause := errors.New("underlying error")
	appErr := NewAppError(ErrorTypeConnection, "connection failed", cause)

	if appErr.IsRecoverable() {
		t.Error("Expected non-recoverable error")
	}

	expected := "connection: connection failed (caused by: underlying error)"
	if appErr.Error() != expected {
		t.Errorf("Expected error string %v, got %v", expected, appErr.Error())
	}

	if !errors.Is(appErr, cause) {
		t.Error("Expected AppError to unwrap to its cause")
	}
}

func TestAppErrorUserMessage(t *testing.T) {
	appErr := NewAppError(ErrorTypeSQL, "insert into orders failed", nil)
	if appErr.GetUserMessage() != "insert into orders failed" {
		t.Errorf("Expected message fallback, got %q", appErr.GetUserMessage())
	}

	appErr.WithUserMessage("Could not save order").WithContext("table", "orders")
	if appErr.GetUserMessage() != "Could not save order" {
		t.Errorf("Unexpected user message %q", appErr.GetUserMessage())
	}
	if appErr.Context["table"] != "orders" {
		t.Errorf("Expected context table=orders, got %v", appErr.Context["table"])
	}
}

func TestErrorClassifier_ClassifyPostgresError(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		code        string
		wantType    ErrorType
		recoverable bool
	}{
		{"28P01", ErrorTypePermission, false},
		{"42P01", ErrorTypeSchema, false},
		{"23505", ErrorTypeConflict, false},
		{"23503", ErrorTypeValidation, false},
		{"40001", ErrorTypeSQL, true},
		{"08006", ErrorTypeConnection, true},
		{"XX000", ErrorTypeSQL, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := fmt.Errorf("exec: %w", &pgconn.PgError{Code: tt.code, Message: "boom"})
			got := classifier.ClassifyError(err)

			if got.Type != tt.wantType {
				t.Errorf("code %s: type = %v, want %v", tt.code, got.Type, tt.wantType)
			}
			if got.IsRecoverable() != tt.recoverable {
				t.Errorf("code %s: recoverable = %v, want %v", tt.code, got.IsRecoverable(), tt.recoverable)
			}
			if got.Context["sqlstate"] != tt.code {
				t.Errorf("code %s: sqlstate context = %v", tt.code, got.Context["sqlstate"])
			}
		})
	}
}

func TestErrorClassifier_ClassifyMySQLError(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		number      uint16
		wantType    ErrorType
		recoverable bool
	}{
		{1045, ErrorTypePermission, false},
		{1146, ErrorTypeSchema, false},
		{1062, ErrorTypeConflict, false},
		{1213, ErrorTypeSQL, true},
		{2003, ErrorTypeConnection, true},
		{9999, ErrorTypeSQL, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.number), func(t *testing.T) {
			got := classifier.ClassifyError(&mysql.MySQLError{Number: tt.number, Message: "boom"})

			if got.Type != tt.wantType {
				t.Errorf("number %d: type = %v, want %v", tt.number, got.Type, tt.wantType)
			}
			if got.IsRecoverable() != tt.recoverable {
				t.Errorf("number %d: recoverable = %v, want %v", tt.number, got.IsRecoverable(), tt.recoverable)
			}
		})
	}
}

func TestErrorClassifier_ClassifySQLiteError(t *testing.T) {
	classifier := NewErrorClassifier()

	unique := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}
	if got := classifier.ClassifyError(unique); got.Type != ErrorTypeConflict {
		t.Errorf("unique violation: type = %v", got.Type)
	}

	notNull := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}
	if got := classifier.ClassifyError(notNull); got.Type != ErrorTypeValidation {
		t.Errorf("not null violation: type = %v", got.Type)
	}

	busy := sqlite3.Error{Code: sqlite3.ErrBusy}
	if got := classifier.ClassifyError(busy); !got.IsRecoverable() {
		t.Error("busy database should be recoverable")
	}
}

func TestErrorClassifier_ClassifySQLSentinels(t *testing.T) {
	classifier := NewErrorClassifier()

	if got := classifier.ClassifyError(sql.ErrNoRows); got.Type != ErrorTypeNotFound {
		t.Errorf("ErrNoRows: type = %v", got.Type)
	}
	if got := classifier.ClassifyError(sql.ErrTxDone); got.Type != ErrorTypeSQL {
		t.Errorf("ErrTxDone: type = %v", got.Type)
	}
	if got := classifier.ClassifyError(sql.ErrConnDone); !got.IsRecoverable() {
		t.Error("ErrConnDone should be recoverable")
	}
}

func TestErrorClassifier_ClassifyContextError(t *testing.T) {
	classifier := NewErrorClassifier()

	if got := classifier.ClassifyError(context.DeadlineExceeded); got.Type != ErrorTypeTimeout || !got.IsRecoverable() {
		t.Errorf("DeadlineExceeded: got %v recoverable=%v", got.Type, got.IsRecoverable())
	}
	if got := classifier.ClassifyError(context.Canceled); got.Type != ErrorTypeInterruption {
		t.Errorf("Canceled: type = %v", got.Type)
	}
}

func TestErrorClassifier_ClassifyFileSystemError(t *testing.T) {
	classifier := NewErrorClassifier()

	missing := &os.PathError{Op: "open", Path: "/tmp/upload.json", Err: syscall.ENOENT}
	if got := classifier.ClassifyError(missing); got.Type != ErrorTypeNotFound {
		t.Errorf("ENOENT: type = %v", got.Type)
	}

	denied := &os.PathError{Op: "open", Path: "/root", Err: syscall.EACCES}
	if got := classifier.ClassifyError(denied); got.Type != ErrorTypePermission {
		t.Errorf("EACCES: type = %v", got.Type)
	}
}

func TestErrorClassifier_ClassifyNetworkError(t *testing.T) {
	classifier := NewErrorClassifier()

	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	if got := classifier.ClassifyError(dial); got.Type != ErrorTypeConnection || !got.IsRecoverable() {
		t.Errorf("dial error: got %v recoverable=%v", got.Type, got.IsRecoverable())
	}
}

func TestErrorClassifier_Unknown(t *testing.T) {
	got := NewErrorClassifier().ClassifyError(errors.New("mystery"))
	if got.Type != ErrorTypeUnknown {
		t.Errorf("type = %v, want unknown", got.Type)
	}
	if NewErrorClassifier().ClassifyError(nil) != nil {
		t.Error("nil error should classify as nil")
	}
}

func TestRetryHandler_Retry(t *testing.T) {
	config := RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
	handler := NewRetryHandler(config)

	t.Run("success after retries", func(t *testing.T) {
		attempts := 0
		err := handler.Retry(context.Background(), func() error {
			attempts++
			if attempts < 3 {
				return NewRecoverableError(ErrorTypeConnection, "temporary failure", nil)
			}
			return nil
		})

		if err != nil {
			t.Errorf("Expected no error, got %v", err)
		}
		if attempts != 3 {
			t.Errorf("Expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("non-recoverable error stops immediately", func(t *testing.T) {
		attempts := 0
		err := handler.Retry(context.Background(), func() error {
			attempts++
			return &mysql.MySQLError{Number: 1045, Message: "denied"}
		})

		if attempts != 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}
		if GetErrorType(err) != ErrorTypePermission {
			t.Errorf("Expected permission error, got %v", err)
		}
	})

	t.Run("max attempts exceeded", func(t *testing.T) {
		attempts := 0
		err := handler.Retry(context.Background(), func() error {
			attempts++
			return NewRecoverableError(ErrorTypeConnection, "always fails", nil)
		})

		if err == nil {
			t.Fatal("Expected error, got nil")
		}
		if attempts != config.MaxAttempts {
			t.Errorf("Expected %d attempts, got %d", config.MaxAttempts, attempts)
		}
	})

	t.Run("context canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := handler.Retry(ctx, func() error { return nil })
		if GetErrorType(err) != ErrorTypeInterruption {
			t.Errorf("Expected interruption error, got %v", err)
		}
	})
}

func TestRetryHandler_CalculateDelay(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, 1 * time.Second},
	}

	for _, tt := range tests {
		if got := handler.calculateDelay(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: delay = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestGracefulShutdownHandler(t *testing.T) {
	handler := NewGracefulShutdownHandler()

	var order []int
	handler.RegisterShutdownFunc(func() error { order = append(order, 1); return nil })
	handler.RegisterShutdownFunc(func() error { order = append(order, 2); return errors.New("ignored") })

	handler.Start()
	handler.Trigger()
	handler.WaitForShutdown()
	handler.Stop()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("shutdown funcs ran in order %v, want [2 1]", order)
	}
}

func TestFormatUserError(t *testing.T) {
	if FormatUserError(nil) != "" {
		t.Error("nil error should format as empty string")
	}

	appErr := NewAppError(ErrorTypeValidation, "bad input", nil).WithUserMessage("Please fix the form")
	if got := FormatUserError(fmt.Errorf("handler: %w", appErr)); got != "Please fix the form" {
		t.Errorf("FormatUserError() = %q", got)
	}

	if got := FormatUserError(errors.New("raw")); got == "raw" {
		t.Error("raw errors should not leak to users")
	}
}

func TestWrapError(t *testing.T) {
	if WrapError(nil, "ignored") != nil {
		t.Error("WrapError(nil) should be nil")
	}

	wrapped := WrapError(sql.ErrNoRows, "user lookup failed")
	if GetErrorType(wrapped) != ErrorTypeNotFound {
		t.Errorf("wrapped type = %v", GetErrorType(wrapped))
	}
	if !errors.Is(wrapped, sql.ErrNoRows) {
		t.Error("wrapped error should keep its cause")
	}
}

func TestIsRecoverableError(t *testing.T) {
	if !IsRecoverableError(NewRecoverableError(ErrorTypeTimeout, "slow", nil)) {
		t.Error("expected recoverable")
	}
	if IsRecoverableError(errors.New("plain")) {
		t.Error("plain errors are not recoverable")
	}
}
