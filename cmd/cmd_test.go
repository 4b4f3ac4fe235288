package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"print-marketplace/internal/backup"
	"print-marketplace/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv points the CLI at a fresh sqlite database and archive directory
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("HOME", dir)
	t.Setenv("MARKETPLACE_DATABASE_DRIVER", "sqlite3")
	t.Setenv("MARKETPLACE_DATABASE_PATH", filepath.Join(dir, "marketplace.db"))
	t.Setenv("MARKETPLACE_BACKUP_STORAGE_LOCAL_BASE_PATH", filepath.Join(dir, "archives"))
	t.Setenv("MARKETPLACE_LOGGING_LEVEL", "quiet")
	return dir
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func exportDocument(t *testing.T) *backup.Document {
	t.Helper()
	out, _, err := runCLI(t, "", "backup", "export")
	require.NoError(t, err)
	doc, err := backup.ParseDocument([]byte(out))
	require.NoError(t, err)
	return doc
}

func writeDocument(t *testing.T, dir string, doc *backup.Document) string {
	t.Helper()
	data, err := doc.Marshal()
	require.NoError(t, err)
	path := filepath.Join(dir, "backup.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, _, err := runCLI(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "print-marketplace version dev")
}

func TestConfigCommands(t *testing.T) {
	testEnv(t)

	out, _, err := runCLI(t, "", "config")
	require.NoError(t, err)
	assert.Equal(t, config.GenerateConfigTemplate(), out)

	out, _, err = runCLI(t, "", "config", "env")
	require.NoError(t, err)
	assert.Contains(t, out, "MARKETPLACE_SERVER_LISTEN\n")

	t.Setenv("MARKETPLACE_DATABASE_PASSWORD", "s3cret")
	out, _, err = runCLI(t, "", "config", "show", "--db-host", "db.internal")
	require.NoError(t, err)
	assert.Contains(t, out, "driver: sqlite3")
	assert.Contains(t, out, "host: db.internal")
	assert.NotContains(t, out, "s3cret")

	out, _, err = runCLI(t, "", "--format", "compact", "config", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "status=ok")
}

func TestVerboseAndQuietConflict(t *testing.T) {
	_, _, err := runCLI(t, "", "-v", "-q", "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestMigrateCommand(t *testing.T) {
	dir := testEnv(t)
	out, _, err := runCLI(t, "", "--no-color", "--no-icons", "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Database schema is up to date")
	assert.FileExists(t, filepath.Join(dir, "marketplace.db"))
}

func TestExportAndRestore(t *testing.T) {
	dir := testEnv(t)

	doc := exportDocument(t)
	require.Len(t, doc.Users, 1, "the default administrator is seeded")
	require.Len(t, doc.Settings, 1)

	buyer := doc.Users[0]
	buyer.ID = 2
	buyer.Username = "buyer1"
	doc.Users = append(doc.Users, buyer)
	path := writeDocument(t, dir, doc)

	t.Run("declined", func(t *testing.T) {
		out, _, err := runCLI(t, "n\n", "--no-color", "backup", "restore", path)
		require.NoError(t, err)
		assert.Contains(t, out, "rows after restore")
		assert.Contains(t, out, "Restore cancelled")
		assert.Len(t, exportDocument(t).Users, 1)
	})

	t.Run("approved", func(t *testing.T) {
		out, _, err := runCLI(t, "", "--no-color", "backup", "restore", path, "--yes")
		require.NoError(t, err)
		assert.Contains(t, out, "Restored 3 records")
		assert.Len(t, exportDocument(t).Users, 2)
	})

	t.Run("to file", func(t *testing.T) {
		target := filepath.Join(dir, "copy.json")
		out, _, err := runCLI(t, "", "--no-color", "backup", "export", "-o", target)
		require.NoError(t, err)
		assert.Contains(t, out, "Backup written to "+target)
		data, err := os.ReadFile(target)
		require.NoError(t, err)
		copied, err := backup.ParseDocument(data)
		require.NoError(t, err)
		assert.Equal(t, 2, copied.Summary().Users)
	})
}

func TestRestoreRejectsInvalidDocuments(t *testing.T) {
	dir := testEnv(t)

	malformed := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(malformed, []byte(`{"users": [`), 0o600))
	_, stderr, err := runCLI(t, "", "backup", "restore", malformed, "--yes")
	require.ErrorIs(t, err, errReported)
	assert.Contains(t, stderr, "backup file is not valid JSON")

	incomplete := filepath.Join(dir, "incomplete.json")
	require.NoError(t, os.WriteFile(incomplete, []byte(`{"users": []}`), 0o600))
	_, stderr, err = runCLI(t, "", "backup", "restore", incomplete, "--yes")
	require.ErrorIs(t, err, errReported)
	assert.Contains(t, stderr, "backup is missing required fields: orders, products")

	assert.Len(t, exportDocument(t).Users, 1, "failed restores leave the data in place")
}

func TestRestoreNeedsExactlyOneSource(t *testing.T) {
	testEnv(t)
	_, _, err := runCLI(t, "", "backup", "restore")
	require.Error(t, err)
	_, _, err = runCLI(t, "", "backup", "restore", "a.json", "--archive", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "either a backup file or --archive")
}

func TestArchiveCommands(t *testing.T) {
	testEnv(t)

	_, _, err := runCLI(t, "", "--no-color", "backup", "export", "--archive", "--description", "nightly")
	require.NoError(t, err)

	out, _, err := runCLI(t, "", "--format", "json", "backup", "archives", "list")
	require.NoError(t, err)
	var listed []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "nightly", listed[0]["description"])
	assert.Equal(t, "2", listed[0]["records"])
	id := listed[0]["id"]

	out, _, err = runCLI(t, "", "--no-color", "backup", "restore", "--archive", id, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored 2 records")

	out, _, err = runCLI(t, "", "--no-color", "backup", "archives", "prune", "--max-archives", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to prune")

	_, _, err = runCLI(t, "", "--no-color", "backup", "archives", "delete", id)
	require.NoError(t, err)

	out, _, err = runCLI(t, "", "--no-color", "backup", "archives", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No archives found")

	_, stderr, err := runCLI(t, "", "backup", "restore", "--archive", id, "--yes")
	require.ErrorIs(t, err, errReported)
	assert.NotEmpty(t, stderr)
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24)
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
