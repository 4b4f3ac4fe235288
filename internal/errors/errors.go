package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeConnection represents database connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeSQL represents SQL execution errors
	ErrorTypeSQL ErrorType = "sql"
	// ErrorTypeSchema represents missing tables or columns
	ErrorTypeSchema ErrorType = "schema"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConflict represents uniqueness violations
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeNotFound represents missing records
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypePermission represents permission/access errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInterruption represents user interruption
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	UserMessage string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns a user-friendly error message
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// IsRecoverable returns whether the error is recoverable
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets the message shown to API clients and CLI users
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewRecoverableError creates a new recoverable error
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: true,
	}
}

// ErrorClassifier provides methods to classify and handle different types of errors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	classifiers := []func(error) *AppError{
		ec.classifyPostgresError,
		ec.classifyMySQLError,
		ec.classifySQLiteError,
		ec.classifySQLError,
		ec.classifyNetworkError,
		ec.classifyContextError,
		ec.classifyFileSystemError,
	}
	for _, classify := range classifiers {
		if classified := classify(err); classified != nil {
			return classified
		}
	}

	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

// classifyPostgresError maps SQLSTATE codes reported by pgx
func (ec *ErrorClassifier) classifyPostgresError(err error) *AppError {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}

	var classified *AppError
	switch {
	case pgErr.Code == "28P01" || pgErr.Code == "28000":
		classified = NewAppError(ErrorTypePermission, "Database access denied - check username and password", err)
	case pgErr.Code == "3D000":
		classified = NewAppError(ErrorTypeValidation, "Database does not exist", err)
	case pgErr.Code == "42P01":
		classified = NewAppError(ErrorTypeSchema, "Table does not exist", err)
	case pgErr.Code == "42703":
		classified = NewAppError(ErrorTypeSchema, "Column does not exist", err)
	case pgErr.Code == "23505":
		classified = NewAppError(ErrorTypeConflict, "Duplicate entry - record already exists", err)
	case pgErr.Code == "23502" || pgErr.Code == "23503" || pgErr.Code == "23514" || pgErr.Code == "22P02":
		classified = NewAppError(ErrorTypeValidation, "Record violates a table constraint", err)
	case pgErr.Code == "42601":
		classified = NewAppError(ErrorTypeSQL, "SQL syntax error", err)
	case pgErr.Code == "40001" || pgErr.Code == "40P01":
		classified = NewRecoverableError(ErrorTypeSQL, "Transaction conflicted with a concurrent transaction", err)
	case pgErr.Code == "57014":
		classified = NewAppError(ErrorTypeTimeout, "Statement canceled", err)
	case strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P01":
		classified = NewRecoverableError(ErrorTypeConnection, "PostgreSQL server connection lost", err)
	default:
		classified = NewAppError(ErrorTypeSQL, fmt.Sprintf("PostgreSQL error: %s", pgErr.Message), err)
	}

	return classified.WithContext("sqlstate", pgErr.Code)
}

// classifyMySQLError classifies MySQL-specific errors
func (ec *ErrorClassifier) classifyMySQLError(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return nil
	}

	var classified *AppError
	switch mysqlErr.Number {
	case 1045: // Access denied
		classified = NewAppError(ErrorTypePermission, "Database access denied - check username and password", err)
	case 1049: // Unknown database
		classified = NewAppError(ErrorTypeValidation, "Database does not exist", err)
	case 1146: // Table doesn't exist
		classified = NewAppError(ErrorTypeSchema, "Table does not exist", err)
	case 1054: // Unknown column
		classified = NewAppError(ErrorTypeSchema, "Column does not exist", err)
	case 1062: // Duplicate entry
		classified = NewAppError(ErrorTypeConflict, "Duplicate entry - record already exists", err)
	case 1064: // SQL syntax error
		classified = NewAppError(ErrorTypeSQL, "SQL syntax error", err)
	case 1205, 1213: // Lock wait timeout, deadlock
		classified = NewRecoverableError(ErrorTypeSQL, "Transaction conflicted with a concurrent transaction", err)
	case 2003: // Can't connect to MySQL server
		classified = NewRecoverableError(ErrorTypeConnection, "Cannot connect to MySQL server - server may be down or unreachable", err)
	case 2006: // MySQL server has gone away
		classified = NewRecoverableError(ErrorTypeConnection, "MySQL server connection lost - attempting to reconnect", err)
	default:
		classified = NewAppError(ErrorTypeSQL, fmt.Sprintf("MySQL error: %s", mysqlErr.Message), err)
	}

	return classified.WithContext("mysql_error_code", mysqlErr.Number)
}

// classifySQLiteError classifies errors reported by the embedded SQLite driver
func (ec *ErrorClassifier) classifySQLiteError(err error) *AppError {
	var liteErr sqlite3.Error
	if !errors.As(err, &liteErr) {
		return nil
	}

	var classified *AppError
	switch liteErr.Code {
	case sqlite3.ErrConstraint:
		if liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			classified = NewAppError(ErrorTypeConflict, "Duplicate entry - record already exists", err)
		} else {
			classified = NewAppError(ErrorTypeValidation, "Record violates a table constraint", err)
		}
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		classified = NewRecoverableError(ErrorTypeSQL, "Database is locked by another connection", err)
	case sqlite3.ErrCantOpen:
		classified = NewAppError(ErrorTypeConnection, "Cannot open database file", err)
	case sqlite3.ErrPerm, sqlite3.ErrAuth, sqlite3.ErrReadonly:
		classified = NewAppError(ErrorTypePermission, "Database access denied", err)
	default:
		classified = NewAppError(ErrorTypeSQL, fmt.Sprintf("SQLite error: %s", liteErr.Error()), err)
	}

	return classified.WithContext("sqlite_error_code", int(liteErr.Code))
}

// classifySQLError handles database/sql sentinel errors
func (ec *ErrorClassifier) classifySQLError(err error) *AppError {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return NewAppError(ErrorTypeNotFound, "No rows found", err)
	case errors.Is(err, sql.ErrTxDone):
		return NewAppError(ErrorTypeSQL, "Transaction has already been committed or rolled back", err)
	case errors.Is(err, sql.ErrConnDone):
		return NewRecoverableError(ErrorTypeConnection, "Database connection is closed", err)
	}
	return nil
}

// classifyNetworkError classifies network-related errors
func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout, "Network operation timed out", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverableError(ErrorTypeConnection, "Failed to establish network connection", err)
		case "read", "write":
			return NewRecoverableError(ErrorTypeConnection, "Network I/O error", err)
		}
	}

	return nil
}

// classifyContextError classifies context-related errors
func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRecoverableError(ErrorTypeTimeout, "Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption, "Operation was canceled", err)
	}
	return nil
}

// classifyFileSystemError classifies file system errors
func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.ENOENT:
			return NewAppError(ErrorTypeNotFound,
				fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
		case syscall.EACCES:
			return NewAppError(ErrorTypePermission,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return NewAppError(ErrorTypeValidation, "No space left on device", err)
		}
	}
	return nil
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler provides retry functionality for operations
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	return &RetryHandler{
		config:     config,
		classifier: NewErrorClassifier(),
	}
}

// NewDefaultRetryHandler creates a retry handler with default configuration
func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// Retry executes a function with retry logic for recoverable errors
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		appErr := rh.classifier.ClassifyError(err)
		if !appErr.IsRecoverable() {
			return appErr
		}

		if attempt == rh.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled during retry", ctx.Err())
		case <-time.After(rh.calculateDelay(attempt)):
		}
	}

	return rh.classifier.ClassifyError(lastErr).
		WithContext("attempts", rh.config.MaxAttempts)
}

// calculateDelay returns BaseDelay * Multiplier^(attempt-1), capped at MaxDelay
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rh.config.Multiplier
	}

	delay := time.Duration(float64(rh.config.BaseDelay) * multiplier)
	if delay > rh.config.MaxDelay {
		delay = rh.config.MaxDelay
	}
	return delay
}

// GracefulShutdownHandler handles graceful shutdown on interruption signals
type GracefulShutdownHandler struct {
	shutdownFuncs []func() error
	signalChan    chan os.Signal
	done          chan bool
}

// NewGracefulShutdownHandler creates a new graceful shutdown handler
func NewGracefulShutdownHandler() *GracefulShutdownHandler {
	return &GracefulShutdownHandler{
		shutdownFuncs: make([]func() error, 0),
		signalChan:    make(chan os.Signal, 1),
		done:          make(chan bool, 1),
	}
}

// RegisterShutdownFunc registers a function to be called during shutdown.
// Functions run in reverse registration order.
func (gsh *GracefulShutdownHandler) RegisterShutdownFunc(fn func() error) {
	gsh.shutdownFuncs = append(gsh.shutdownFuncs, fn)
}

// Start starts listening for shutdown signals
func (gsh *GracefulShutdownHandler) Start() {
	signal.Notify(gsh.signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if _, ok := <-gsh.signalChan; ok {
			gsh.shutdown()
		}
	}()
}

// Trigger runs the shutdown sequence without waiting for a signal
func (gsh *GracefulShutdownHandler) Trigger() {
	select {
	case gsh.signalChan <- syscall.SIGTERM:
	default:
	}
}

// Stop stops listening for signals. Trigger must not be called afterwards.
func (gsh *GracefulShutdownHandler) Stop() {
	signal.Stop(gsh.signalChan)
	close(gsh.signalChan)
}

// WaitForShutdown waits for shutdown to complete
func (gsh *GracefulShutdownHandler) WaitForShutdown() {
	<-gsh.done
}

func (gsh *GracefulShutdownHandler) shutdown() {
	defer func() {
		gsh.done <- true
	}()

	for i := len(gsh.shutdownFuncs) - 1; i >= 0; i-- {
		if err := gsh.shutdownFuncs[i](); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
	}
}

// IsRecoverableError checks if an error is recoverable
func IsRecoverableError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.IsRecoverable()
	}
	return false
}

// GetErrorType returns the error type of an error, classifying it if needed
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ""
	}
	return NewErrorClassifier().ClassifyError(err).Type
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.GetUserMessage()
	}

	return "An unexpected error occurred. Please check the logs for more details."
}

// WrapError wraps an existing error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return NewAppError(appErr.Type, message, err)
	}

	classified := NewErrorClassifier().ClassifyError(err)
	classified.Message = message
	return classified
}
