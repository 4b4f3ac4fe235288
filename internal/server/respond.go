package server

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"print-marketplace/internal/backup"
	"print-marketplace/internal/errors"
	"print-marketplace/internal/logging"

	"github.com/sirupsen/logrus"
)

// errorResponse is the body of every failed API call
type errorResponse struct {
	Error         string   `json:"error"`
	Type          string   `json:"type,omitempty"`
	Phase         string   `json:"phase,omitempty"`
	Severity      string   `json:"severity,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`
	DataUnchanged *bool    `json:"data_unchanged,omitempty"`
	RequestID     string   `json:"request_id,omitempty"`
}

func (s *Server) respondJSON(w http.ResponseWriter, r *http.Request, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Warn("Failed to encode JSON response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.respondJSON(w, r, status, errorResponse{
		Error:     message,
		RequestID: logging.GetRequestIDFromContext(r.Context()),
	})
}

// respondBackupError maps a backup failure to a status code and a body
// carrying what the client needs to act on it
func (s *Server) respondBackupError(w http.ResponseWriter, r *http.Request, err error) {
	var backupErr *backup.BackupError
	if !stderrors.As(err, &backupErr) {
		s.respondAppError(w, r, err, "backup operation failed")
		return
	}

	unchanged := backupErr.DataUnchanged()
	body := errorResponse{
		Error:         backupErr.UserMessage(),
		Type:          string(backupErr.Type),
		Phase:         string(backupErr.Phase),
		Severity:      string(backupErr.Severity()),
		MissingFields: backup.MissingFields(backupErr),
		DataUnchanged: &unchanged,
		RequestID:     logging.GetRequestIDFromContext(r.Context()),
	}

	status := backupStatus(backupErr)
	entry := s.logger.WithContext(r.Context()).WithFields(logrus.Fields{
		"error_type": body.Type,
		"status":     status,
	})
	if backupErr.Severity() == backup.SeverityCritical {
		entry.WithError(err).Error("Backup operation left data in an unknown state")
	} else if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("Backup operation failed")
	}
	s.respondJSON(w, r, status, body)
}

func backupStatus(err *backup.BackupError) int {
	switch err.Type {
	case backup.BackupErrorTypeMalformedInput, backup.BackupErrorTypeValidation:
		return http.StatusBadRequest
	case backup.BackupErrorTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondAppError maps store errors. Internal details stay in the log.
func (s *Server) respondAppError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := http.StatusInternalServerError
	switch errors.GetErrorType(err) {
	case errors.ErrorTypeValidation:
		status = http.StatusBadRequest
		message = errors.FormatUserError(err)
	case errors.ErrorTypeNotFound:
		status = http.StatusNotFound
	case errors.ErrorTypeConflict:
		status = http.StatusConflict
	case errors.ErrorTypeTimeout:
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithContext(r.Context()).WithError(err).Error(message)
	}
	s.respondError(w, r, status, message)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.respondError(w, r, http.StatusNotFound, "route not found")
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.respondError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
