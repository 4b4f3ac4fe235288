package server

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"print-marketplace/internal/backup"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// multipartOverhead is the room left for boundaries and part headers on top
// of the file size limit
const multipartOverhead = 1 << 20

const uploadField = "backup_file"

// restoreResponse reports a committed restore
type restoreResponse struct {
	Success  bool                    `json:"success"`
	Message  string                  `json:"message"`
	Imported backup.Summary          `json:"imported"`
	Archive  *backup.ArchiveMetadata `json:"archive,omitempty"`
}

type createArchiveRequest struct {
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Exporter.Export(r.Context())
	if err != nil {
		s.respondBackupError(w, r, err)
		return
	}
	data, err := doc.Marshal()
	if err != nil {
		s.respondBackupError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if r.URL.Query().Get("download") != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="marketplace-backup.json"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if isTooLarge(err) {
			s.respondError(w, r, http.StatusRequestEntityTooLarge, "backup file is too large")
			return
		}
		s.respondError(w, r, http.StatusBadRequest, "expected a multipart upload with a backup_file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, "backup file was not uploaded")
		return
	}
	defer file.Close()

	if header.Size > s.config.MaxUploadSize {
		s.respondError(w, r, http.StatusRequestEntityTooLarge, "backup file is too large")
		return
	}
	if !isJSONUpload(header) {
		s.respondError(w, r, http.StatusBadRequest, "only JSON backup files are accepted")
		return
	}

	path, err := s.saveUpload(s.config.UploadDir, file, header.Filename)
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Error("Failed to store uploaded backup")
		s.respondError(w, r, http.StatusInternalServerError, "failed to store uploaded backup")
		return
	}

	summary, err := s.deps.Restorer.RestoreFile(r.Context(), path)
	if err != nil {
		s.respondBackupError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, restoreResponse{
		Success:  true,
		Message:  "database restored",
		Imported: summary,
	})
}

// saveUpload writes the upload to a uniquely named file in dir
func (s *Server) saveUpload(dir string, src io.Reader, originalName string) (string, error) {
	name := uuid.NewString() + "-" + safeFilename(originalName)
	path := filepath.Join(dir, name)

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	return path, nil
}

func (s *Server) handleListArchives(w http.ResponseWriter, r *http.Request) {
	if !s.archivesEnabled(w, r) {
		return
	}
	filter := backup.StorageFilter{Prefix: r.URL.Query().Get("prefix")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.respondError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.MaxItems = limit
	}

	archives, err := s.deps.Archives.List(r.Context(), filter)
	if err != nil {
		s.respondBackupError(w, r, err)
		return
	}
	if archives == nil {
		archives = []*backup.ArchiveMetadata{}
	}
	s.respondJSON(w, r, http.StatusOK, archives)
}

func (s *Server) handleCreateArchive(w http.ResponseWriter, r *http.Request) {
	if !s.archivesEnabled(w, r) {
		return
	}

	var req createArchiveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil && !stderrors.Is(err, io.EOF) {
			s.respondError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	doc, err := s.deps.Exporter.Export(r.Context())
	if err != nil {
		s.respondBackupError(w, r, err)
		return
	}
	metadata, err := s.deps.Archives.Save(r.Context(), doc, backup.SaveOptions{
		CreatedBy:   req.CreatedBy,
		Description: req.Description,
	})
	if err != nil {
		s.respondBackupError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusCreated, metadata)
}

func (s *Server) handleDeleteArchive(w http.ResponseWriter, r *http.Request) {
	if !s.archivesEnabled(w, r) {
		return
	}
	if err := s.deps.Archives.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.respondBackupError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestoreArchive(w http.ResponseWriter, r *http.Request) {
	if !s.archivesEnabled(w, r) {
		return
	}

	doc, metadata, err := s.deps.Archives.Load(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondBackupError(w, r, err)
		return
	}
	summary, err := s.deps.Restorer.Restore(r.Context(), doc)
	if err != nil {
		s.respondBackupError(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, restoreResponse{
		Success:  true,
		Message:  "database restored from archive " + metadata.ID,
		Imported: summary,
		Archive:  metadata,
	})
}

func (s *Server) archivesEnabled(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Archives == nil {
		s.respondError(w, r, http.StatusServiceUnavailable, "archive storage is not configured")
		return false
	}
	return true
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if stderrors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

// isJSONUpload accepts application/json parts, and untyped parts named *.json
func isJSONUpload(header *multipart.FileHeader) bool {
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		return strings.EqualFold(filepath.Ext(header.Filename), ".json")
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

// isImageUpload accepts image/* parts only
func isImageUpload(header *multipart.FileHeader) bool {
	mediaType, _, err := mime.ParseMediaType(header.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mediaType, "image/")
}

// safeFilename keeps the base name of an upload and drops anything that
// could escape the upload directory
func safeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == 0:
			return -1
		case r == ' ':
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "backup.json"
	}
	return name
}
