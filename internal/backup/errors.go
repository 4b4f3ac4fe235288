package backup

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// BackupError represents errors that occur during export, restore and
// archive operations
type BackupError struct {
	Type    BackupErrorType        `json:"type"`
	Phase   RestorePhase           `json:"phase,omitempty"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *BackupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *BackupError) Unwrap() error {
	return e.Cause
}

// BackupErrorType represents different types of backup errors
type BackupErrorType string

const (
	BackupErrorTypeMalformedInput BackupErrorType = "MALFORMED_INPUT"
	BackupErrorTypeValidation     BackupErrorType = "VALIDATION_ERROR"
	BackupErrorTypePersistence    BackupErrorType = "PERSISTENCE_ERROR"
	BackupErrorTypeRollback       BackupErrorType = "ROLLBACK_FAILURE"
	BackupErrorTypeCommitUnknown  BackupErrorType = "COMMIT_OUTCOME_UNKNOWN"
	BackupErrorTypeCleanup        BackupErrorType = "CLEANUP_WARNING"
	BackupErrorTypeTimeout        BackupErrorType = "TIMEOUT_ERROR"
	BackupErrorTypeStorage        BackupErrorType = "STORAGE_ERROR"
	BackupErrorTypeCompression    BackupErrorType = "COMPRESSION_ERROR"
	BackupErrorTypeEncryption     BackupErrorType = "ENCRYPTION_ERROR"
	BackupErrorTypeCorruption     BackupErrorType = "CORRUPTION_ERROR"
	BackupErrorTypeConfiguration  BackupErrorType = "CONFIGURATION_ERROR"
	BackupErrorTypeNotFound       BackupErrorType = "NOT_FOUND_ERROR"
)

// Severity classifies how loudly an error must be reported
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// CommitUnknownWarning is shown when the connection was lost during commit
const CommitUnknownWarning = "the connection to the database was lost while committing the restore: it may or may not have been applied, check the database before retrying"

// IntegrityWarning is shown to users when a failed restore could not be rolled back
const IntegrityWarning = "the restore failed and its rollback failed too: data integrity cannot be guaranteed, check the database before using it"

// NewBackupError creates a new BackupError
func NewBackupError(errorType BackupErrorType, message string, cause error) *BackupError {
	return &BackupError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *BackupError) WithContext(key string, value interface{}) *BackupError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithPhase records the restore phase the error occurred in
func (e *BackupError) WithPhase(phase RestorePhase) *BackupError {
	e.Phase = phase
	return e
}

// Severity reports how the error must be surfaced. A rollback failure is
// critical: the store may be in a state nobody can reason about.
func (e *BackupError) Severity() Severity {
	switch e.Type {
	case BackupErrorTypeRollback, BackupErrorTypeCommitUnknown:
		return SeverityCritical
	case BackupErrorTypeCleanup:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// DataUnchanged reports whether the store is known to be untouched by the
// failed operation. Everything except a failed rollback or a commit whose
// outcome is unknown either happens before the first write or is undone by
// the rollback.
func (e *BackupError) DataUnchanged() bool {
	return e.Type != BackupErrorTypeRollback && e.Type != BackupErrorTypeCommitUnknown
}

// UserMessage is the text shown to API clients and CLI users
func (e *BackupError) UserMessage() string {
	switch e.Type {
	case BackupErrorTypeRollback:
		return IntegrityWarning
	case BackupErrorTypeCommitUnknown:
		return CommitUnknownWarning
	case BackupErrorTypeMalformedInput:
		return "backup file is not valid JSON"
	case BackupErrorTypeValidation:
		if fields := MissingFields(e); len(fields) > 0 {
			return "backup is missing required fields: " + strings.Join(fields, ", ")
		}
		return "backup has an invalid structure"
	case BackupErrorTypePersistence, BackupErrorTypeTimeout:
		if e.Phase != "" {
			return e.Message + "; no data was changed"
		}
	}
	return e.Message
}

func NewMalformedInputError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeMalformedInput, message, cause)
}

func NewPersistenceError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypePersistence, message, cause)
}

func NewRollbackFailure(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeRollback, message, cause)
}

func NewCommitUnknownError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCommitUnknown, message, cause)
}

func NewCleanupWarning(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCleanup, message, cause)
}

func NewTimeoutError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeTimeout, message, cause)
}

func NewStorageError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeStorage, message, cause)
}

func NewCompressionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCompression, message, cause)
}

func NewEncryptionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeEncryption, message, cause)
}

func NewCorruptionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCorruption, message, cause)
}

func NewConfigurationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeConfiguration, message, cause)
}

func NewNotFoundError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeNotFound, message, cause)
}

// NewValidationError wraps collected field problems
func NewValidationError(problems ValidationErrors) *BackupError {
	return NewBackupError(BackupErrorTypeValidation, "backup document failed validation", problems).
		WithContext("missing_fields", problems.Fields())
}

// ValidationError describes one offending top-level field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "no validation errors"
	case 1:
		return e[0].Error()
	}
	parts := make([]string, len(e))
	for i := range e {
		parts[i] = e[i].Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(e), strings.Join(parts, "; "))
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Fields returns the distinct offending field names, sorted
func (e ValidationErrors) Fields() []string {
	seen := make(map[string]bool, len(e))
	fields := make([]string, 0, len(e))
	for _, v := range e {
		if !seen[v.Field] {
			seen[v.Field] = true
			fields = append(fields, v.Field)
		}
	}
	sort.Strings(fields)
	return fields
}

// MissingFields returns the offending fields carried by a validation error,
// or nil for any other error
func MissingFields(err error) []string {
	var problems ValidationErrors
	if errors.As(err, &problems) {
		return problems.Fields()
	}
	return nil
}

func isType(err error, t BackupErrorType) bool {
	var backupErr *BackupError
	return errors.As(err, &backupErr) && backupErr.Type == t
}

// IsMalformedInput reports whether err is a MALFORMED_INPUT error
func IsMalformedInput(err error) bool { return isType(err, BackupErrorTypeMalformedInput) }

// IsValidation reports whether err is a VALIDATION_ERROR
func IsValidation(err error) bool { return isType(err, BackupErrorTypeValidation) }

// IsPersistence reports whether err is a PERSISTENCE_ERROR
func IsPersistence(err error) bool { return isType(err, BackupErrorTypePersistence) }

// IsRollbackFailure reports whether err is a ROLLBACK_FAILURE
func IsRollbackFailure(err error) bool { return isType(err, BackupErrorTypeRollback) }

// IsCommitUnknown reports whether err is a COMMIT_OUTCOME_UNKNOWN error
func IsCommitUnknown(err error) bool { return isType(err, BackupErrorTypeCommitUnknown) }

// IsNotFound reports whether err is a NOT_FOUND_ERROR
func IsNotFound(err error) bool { return isType(err, BackupErrorTypeNotFound) }

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		switch backupErr.Type {
		case BackupErrorTypeStorage, BackupErrorTypeTimeout:
			return true
		}
	}
	return false
}

// IsPermanent determines if an error is permanent and should not be retried
func IsPermanent(err error) bool {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		switch backupErr.Type {
		case BackupErrorTypeMalformedInput, BackupErrorTypeValidation, BackupErrorTypeCorruption,
			BackupErrorTypeConfiguration, BackupErrorTypeRollback, BackupErrorTypeCommitUnknown:
			return true
		}
	}
	return false
}
