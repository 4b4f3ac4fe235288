package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"print-marketplace/internal/backup"
	"print-marketplace/internal/database"
	"print-marketplace/internal/logging"
	"print-marketplace/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBackup = `{
  "users": [
    {"id": 1, "username": "admin", "password": "$2a$10$hash", "role": "admin",
     "registration_date": "2024-01-01T10:00:00Z", "updated_date": "2024-01-01T10:00:00Z"},
    {"id": 2, "username": "buyer", "password": "$2a$10$hash2",
     "registration_date": "2024-01-02T10:00:00Z", "updated_date": "2024-01-02T10:00:00Z"}
  ],
  "products": [
    {"id": 4, "name": "Owl", "price_options": "[{\"price\":300}]", "additional_images": "[]",
     "created_date": "2024-02-01T10:00:00Z", "updated_date": "2024-02-01T10:00:00Z"}
  ],
  "orders": [
    {"id": 9, "user_id": 2, "products": "[4]", "total_price": 300, "assigned_executors": "[]",
     "created_date": "2024-03-01T10:00:00Z", "updated_date": "2024-03-01T10:00:00Z"}
  ],
  "settings": [
    {"id": 1, "payment_info": "Card", "price_coefficient": 4, "discount_rules": "[]",
     "show_discount_on_products": false}
  ]
}`

type testEnv struct {
	server  *Server
	store   *store.Store
	db      *sqlx.DB
	handler http.Handler
	config  Config
}

// newTestEnv builds a server over a migrated sqlite database. configure may
// adjust the config and dependencies before the server is created.
func newTestEnv(t *testing.T, configure ...func(*Config, *Dependencies)) *testEnv {
	t.Helper()

	dir := t.TempDir()
	cfg := database.DatabaseConfig{Driver: "sqlite3", Path: filepath.Join(dir, "marketplace.db")}
	cfg.SetDefaults()
	db, err := sqlx.Open(cfg.Driver, cfg.DSN())
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.NewService(logging.NewNopLogger()).Migrate(context.Background(), db))

	logger := logging.NewNopLogger()
	st := store.New(db, logger)

	config := Config{UploadDir: filepath.Join(dir, "uploads")}
	deps := Dependencies{
		Store:    st,
		Exporter: backup.NewExporter(st, logger, false),
		Restorer: backup.NewRestorer(st, logger, 0),
		Logger:   logger,
		Version:  "test",
	}
	for _, fn := range configure {
		fn(&config, &deps)
	}

	srv, err := New(config, deps)
	require.NoError(t, err)
	config.SetDefaults()
	return &testEnv{server: srv, store: st, db: db, handler: srv.Handler(), config: config}
}

func withArchives(t *testing.T) func(*Config, *Dependencies) {
	return func(_ *Config, deps *Dependencies) {
		provider, err := backup.NewLocalStorageProvider(backup.LocalConfig{BasePath: t.TempDir()})
		require.NoError(t, err)
		deps.Archives = backup.NewArchiver(provider, backup.Config{
			Compression: backup.CompressionConfig{Algorithm: backup.CompressionTypeGzip},
		}, logging.NewNopLogger())
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return e.do(t, method, path, bytes.NewReader(data), "application/json")
}

func (e *testEnv) upload(t *testing.T, filename, contentType string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, formType := multipartBody(t, uploadField, filename, contentType, content)
	return e.do(t, http.MethodPost, "/api/backup/restore", body, formType)
}

func multipartBody(t *testing.T, field, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestNewRequiresCoreServices(t *testing.T) {
	_, err := New(Config{UploadDir: t.TempDir()}, Dependencies{})
	assert.Error(t, err)

	_, err = New(Config{UploadDir: t.TempDir(), MaxUploadSize: -1}, Dependencies{})
	assert.ErrorContains(t, err, "max upload size")
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	assert.Equal(t, ":3000", cfg.Listen)
	assert.Equal(t, "uploads", cfg.UploadDir)
	assert.Equal(t, int64(50<<20), cfg.MaxUploadSize)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 10*time.Second, cfg.ReadHeaderTimeout)
	assert.GreaterOrEqual(t, cfg.ReadTimeout, 2*time.Minute, "a full-size restore upload must fit in the read deadline")
	assert.NoError(t, cfg.Validate())

	cfg.ReadHeaderTimeout = -time.Second
	assert.Error(t, cfg.Validate())
	cfg.ReadHeaderTimeout = time.Second

	cfg.ShutdownTimeout = -time.Second
	assert.Error(t, cfg.Validate())
}

func TestRequestIDAndSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/logs", nil)
	req.Header.Set(requestIDHeader, "trace-42")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trace-42", rec.Header().Get(requestIDHeader))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	assert.Equal(t, "trace-42", body["request_id"])
	assert.Equal(t, "test", body["version"])
	assert.Contains(t, body, "uptime")

	generated := env.do(t, http.MethodGet, "/api/logs", nil, "")
	assert.Len(t, generated.Header().Get(requestIDHeader), 36)
}

func TestUnknownRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "route not found")

	rec = env.do(t, http.MethodGet, "/api/login", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = env.do(t, http.MethodGet, "/elsewhere", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/backup/restore", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

// panicStore fails every call by panicking
type panicStore struct{ Marketplace }

func TestPanicsAreRecovered(t *testing.T) {
	env := newTestEnv(t, func(_ *Config, deps *Dependencies) {
		deps.Store = panicStore{}
	})

	rec := env.do(t, http.MethodGet, "/api/users", nil, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/logs", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStaticFallback(t *testing.T) {
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(static, "app.js"), []byte("console.log(1)"), 0o644))

	env := newTestEnv(t, func(cfg *Config, _ *Dependencies) {
		cfg.StaticDir = static
	})

	rec := env.do(t, http.MethodGet, "/app.js", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/catalog/42", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "app")

	// paths cannot climb out of the static dir
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.URL.Path = "/../../etc/passwd"
	rec = httptest.NewRecorder()
	spaHandler{dir: static, notFound: http.NotFoundHandler()}.ServeHTTP(rec, req)
	assert.Equal(t, "<html>app</html>", rec.Body.String())

	// API routes never fall through to the app shell
	rec = env.do(t, http.MethodGet, "/api/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/orders/export", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	env := newTestEnv(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/api/logs"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestFlag(t *testing.T) {
	for _, v := range []string{"1", "true", "yes", "TRUE"} {
		assert.True(t, flag(v), v)
	}
	for _, v := range []string{"", "0", "false", "off"} {
		assert.False(t, flag(v), v)
	}
}
