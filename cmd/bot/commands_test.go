package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CONFIG_ENV_PATH", filepath.Join(dir, "missing.env"))
	t.Setenv("ADMIN_ID", "1")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DATABASE_DSN", filepath.Join(dir, "users.db"))
	t.Setenv("LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("RABBITMQ_URL", "")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	oldVersion, oldCommit := Version, GitCommit
	defer func() { Version, GitCommit = oldVersion, oldCommit }()

	Version = "1.2.3"
	GitCommit = "abcdef"
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "assistantbot 1.2.3")
	assert.Contains(t, out, "Commit: abcdef")

	GitCommit = "unknown"
	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.NotContains(t, out, "Commit:")
}

func TestMigrateCmd(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema is up to date (sqlite)")
}

func TestActivateCmd(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "activate", "42", "--days", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "user 42 subscribed until ")

	_, err = execute(t, "activate", "abc")
	assert.Error(t, err)

	_, err = execute(t, "activate")
	assert.Error(t, err)
}

func TestSweepCmd(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "sweep")
	require.NoError(t, err)
	assert.Equal(t, "expired: 0, reminded: 0\n", out)
}

func TestServeNeedsRuntimeCredentials(t *testing.T) {
	setupEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
}
