package main

import (
	"bytes"
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--db", db}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_LibraryAndVersion(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	out, err := runCLI(t, db, "library", "add", "widgets", "--url", "https://github.com/acme/widgets", "--tag", "go", "--tag", "ui")
	require.NoError(t, err)
	assert.Contains(t, out, "Library widgets registered")

	_, err = runCLI(t, db, "library", "add", "widgets", "--url", "https://github.com/acme/widgets")
	assert.Error(t, err, "duplicate names are rejected")

	_, err = runCLI(t, db, "library", "add", "broken", "--url", "https://gitlab.com/acme/widgets")
	assert.Error(t, err)

	_, err = runCLI(t, db, "library", "add", "notes", "--source-type", "manual")
	require.NoError(t, err)

	out, err = runCLI(t, db, "library", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "widgets")
	assert.Contains(t, out, "go,ui")
	assert.Contains(t, out, "MANUAL")
	assert.NotContains(t, out, "broken")

	_, err = runCLI(t, db, "version", "add", "widgets", "v1.0.0", "--docs-path", "docs")
	require.NoError(t, err)
	_, err = runCLI(t, db, "version", "add", "widgets", "v2.0.0", "--latest", "--release-date", "2026-01-02")
	require.NoError(t, err)
	_, err = runCLI(t, db, "version", "add", "widgets", "v3.0.0", "--release-date", "yesterday")
	assert.Error(t, err)
	_, err = runCLI(t, db, "version", "add", "nope", "v1.0.0")
	assert.Error(t, err)

	out, err = runCLI(t, db, "version", "list", "widgets")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`v2\.0\.0\s+v2\.0\.0\s+true`), out)
	assert.Regexp(t, regexp.MustCompile(`v1\.0\.0\s+v1\.0\.0\s+false`), out)
}

func TestCLI_Keys(t *testing.T) {
	t.Setenv("AUTH_BCRYPT_COST", "4")
	db := filepath.Join(t.TempDir(), "keys.db")

	out, err := runCLI(t, db, "key", "create", "ci", "--rate-limit", "50", "--created-by", "ops")
	require.NoError(t, err)
	raw := regexp.MustCompile(`dmcp_[0-9A-Za-z]{32}`).FindString(out)
	require.NotEmpty(t, raw, out)
	assert.Contains(t, out, "50 requests/hour")

	out, err = runCLI(t, db, "key", "list")
	require.NoError(t, err)
	assert.Contains(t, out, raw[:12])
	assert.NotContains(t, out, raw, "the secret is never listed")
	assert.Contains(t, out, "ACTIVE")

	_, err = runCLI(t, db, "key", "revoke", "ci")
	require.NoError(t, err)
	out, err = runCLI(t, db, "key", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "REVOKED")

	_, err = runCLI(t, db, "key", "revoke", "missing")
	assert.Error(t, err)
}

func TestCLI_HistoryEmpty(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	out, err := runCLI(t, db, "history", "no-such-version")
	require.NoError(t, err)
	assert.Contains(t, out, "No syncs recorded")
}

func TestCLI_SyncNeedsTarget(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	db := filepath.Join(t.TempDir(), "sync.db")
	_, err := runCLI(t, db, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--version-id or --library")
}
