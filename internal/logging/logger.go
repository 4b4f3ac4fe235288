package logging

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows detailed operational information
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows everything, including SQL statements
	LogLevelDebug LogLevel = "debug"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// Logger provides structured logging capabilities
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool
	LogFile    string
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	if config.Output != nil {
		logger.SetOutput(config.Output)
	} else {
		logger.SetOutput(os.Stdout)
	}

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	logger.SetLevel(toLogrusLevel(config.Level))

	if config.ShowCaller {
		logger.SetReportCaller(true)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})
	}

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}

		if config.Output == nil {
			logger.SetOutput(io.MultiWriter(os.Stdout, file))
		} else {
			logger.SetOutput(io.MultiWriter(config.Output, file))
		}
	}

	level := config.Level
	if level == "" {
		level = LogLevelNormal
	}

	return &Logger{
		logger: logger,
		level:  level,
	}, nil
}

// NewDefaultLogger creates a logger with default configuration
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{
		Level:  LogLevelNormal,
		Output: os.Stdout,
		Format: "text",
	})
	return logger
}

// NewNopLogger returns a logger that discards everything. Handy in tests.
func NewNopLogger() *Logger {
	logger, _ := NewLogger(Config{Level: LogLevelQuiet, Output: io.Discard})
	return logger
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelQuiet:
		return logrus.ErrorLevel
	case LogLevelVerbose:
		return logrus.DebugLevel
	case LogLevelDebug:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// WithContext returns a logger entry carrying the request ID found in ctx, if any
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.logger.WithContext(ctx)

	if requestID := GetRequestIDFromContext(ctx); requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}

	return entry
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// Writer exposes the underlying output, e.g. for HTTP access logs
func (l *Logger) Writer() io.Writer {
	return l.logger.Out
}

// LogDatabaseConnection logs database connection attempts
func (l *Logger) LogDatabaseConnection(driver, target string, success bool, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "database_connection",
		"driver":    driver,
		"target":    SanitizeDSN(target),
		"duration":  duration.String(),
		"success":   success,
	}

	if success {
		l.logger.WithFields(fields).Info("Database connection established")
		return
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.logger.WithFields(fields).Error("Database connection failed")
}

// LogSQLExecution logs SQL statement execution
func (l *Logger) LogSQLExecution(ctx context.Context, sql string, duration time.Duration, rowsAffected int64, err error) {
	fields := logrus.Fields{
		"operation":     "sql_execution",
		"duration":      duration.String(),
		"rows_affected": rowsAffected,
	}

	if len(sql) > 200 {
		fields["sql"] = sql[:200] + "..."
		fields["sql_length"] = len(sql)
	} else {
		fields["sql"] = sql
	}

	entry := l.WithContext(ctx).WithFields(fields)
	if err != nil {
		entry.WithField("error", err.Error()).Error("SQL execution failed")
		return
	}
	if l.level == LogLevelVerbose || l.level == LogLevelDebug {
		entry.Debug("SQL executed successfully")
	}
}

// LogExport logs the outcome of a backup export
func (l *Logger) LogExport(ctx context.Context, counts map[string]int, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "backup_export",
		"duration":  duration.String(),
	}
	for table, n := range counts {
		fields[table] = n
	}

	entry := l.WithContext(ctx).WithFields(fields)
	if err != nil {
		entry.WithField("error", err.Error()).Error("Backup export failed")
		return
	}
	entry.Info("Backup export completed")
}

// LogRestore logs the outcome of a restore. phase is the last state reached.
func (l *Logger) LogRestore(ctx context.Context, phase string, counts map[string]int, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "backup_restore",
		"phase":     phase,
		"duration":  duration.String(),
	}
	for table, n := range counts {
		fields[table] = n
	}

	entry := l.WithContext(ctx).WithFields(fields)
	if err != nil {
		entry.WithField("error", err.Error()).Error("Backup restore failed")
		return
	}
	entry.Info("Backup restore completed")
}

// LogHTTPRequest logs a served HTTP request
func (l *Logger) LogHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"operation": "http_request",
		"method":    method,
		"path":      path,
		"status":    status,
		"duration":  duration.String(),
	})

	switch {
	case status >= 500:
		entry.Error("Request failed")
	case status >= 400:
		entry.Warn("Request rejected")
	default:
		entry.Debug("Request served")
	}
}

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(toLogrusLevel(level))
}

// IsLevelEnabled checks if a log level is enabled
func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	switch level {
	case LogLevelQuiet, LogLevelNormal, LogLevelVerbose, LogLevelDebug:
		return l.logger.IsLevelEnabled(toLogrusLevel(level))
	default:
		return false
	}
}

// LogOperationStart logs the start of an operation and returns a function to log completion
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	startTime := time.Now()

	logFields := logrus.Fields{
		"operation": operation,
		"status":    "started",
	}
	for k, v := range fields {
		logFields[k] = v
	}

	l.logger.WithFields(logFields).Debug("Operation started")

	return func(err error) {
		logFields["status"] = "completed"
		logFields["duration"] = time.Since(startTime).String()

		if err != nil {
			logFields["error"] = err.Error()
			logFields["success"] = false
			l.logger.WithFields(logFields).Error("Operation failed")
		} else {
			logFields["success"] = true
			l.logger.WithFields(logFields).Info("Operation completed")
		}
	}
}

// CreateContextWithRequestID creates a context with a request ID for tracing
func CreateContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestIDFromContext extracts request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

var keywordPassword = regexp.MustCompile(`(?i)(password=)('[^']*'|"[^"]*"|[^\s&]*)`)

// SanitizeDSN masks passwords in URL-style and keyword-style connection strings
func SanitizeDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			return u.Redacted()
		}
	}

	// user:pass@tcp(host)/db, as produced by the MySQL driver
	if at := strings.LastIndexByte(dsn, '@'); at > 0 {
		if colon := strings.IndexByte(dsn[:at], ':'); colon >= 0 && !strings.Contains(dsn[:at], "/") {
			dsn = dsn[:colon+1] + "***" + dsn[at:]
		}
	}

	return keywordPassword.ReplaceAllString(dsn, "${1}***")
}
