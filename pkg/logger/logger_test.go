package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithFilesSplitsErrors(t *testing.T) {
	dir := t.TempDir()
	log, closer, err := NewWithFiles(Options{Dir: dir, Level: "info"})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("started", "mode", "polling")
	log.Error("payment failed", "err", "boom")
	require.NoError(t, closer.Close())

	files := PathsIn(dir)
	mainLines, err := Tail(files.Main, 0)
	require.NoError(t, err)
	require.Len(t, mainLines, 2)
	assert.Contains(t, mainLines[0], `"msg":"started"`)
	assert.Contains(t, mainLines[1], `"msg":"payment failed"`)

	errs, err := Tail(files.Error, 0)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `"err":"boom"`)
}

func TestAdminLog(t *testing.T) {
	dir := t.TempDir()
	audit, closer, err := NewAdminLog(dir)
	require.NoError(t, err)
	audit.Info("Открыл админку /admin", "admin_id", 1)
	require.NoError(t, closer.Close())

	lines, err := Tail(PathsIn(dir).Admin, 10)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "admin_id=1")
}

func TestTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.log")

	lines, err := Tail(path, 5)
	require.NoError(t, err)
	assert.Empty(t, lines)

	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\nd\n"), 0o644))
	lines, err = Tail(path, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, lines)

	lines, err = Tail(path, 0)
	require.NoError(t, err)
	assert.Len(t, lines, 4)
}

func TestTruncate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.log")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	require.NoError(t, Truncate(path, filepath.Join(dir, "absent.log")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestOversizedLogIsReset(t *testing.T) {
	dir := t.TempDir()
	files := PathsIn(dir)
	require.NoError(t, os.WriteFile(files.Main, []byte(strings.Repeat("x", maxLogSize+1)), 0o644))

	_, closer, err := NewWithFiles(Options{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, closer.Close())

	info, err := os.Stat(files.Main)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestLookupAndParseLevel(t *testing.T) {
	files := PathsIn("/var/log/bot")
	path, ok := files.Lookup("errors")
	assert.True(t, ok)
	assert.Equal(t, files.Error, path)
	_, ok = files.Lookup("secrets")
	assert.False(t, ok)

	assert.Equal(t, "DEBUG", ParseLevel("debug").String())
	assert.Equal(t, "WARN", ParseLevel("warning").String())
	assert.Equal(t, "INFO", ParseLevel("whatever").String())
}
