package service

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/TGAssistantBot/internal/models"
	"github.com/digkill/TGAssistantBot/pkg/logger"
)

func newAdminService(t *testing.T, f *fixture) (*AdminService, logger.Files, *bytes.Buffer, *fakeNotifier) {
	t.Helper()
	files := logger.PathsIn(t.TempDir())
	require.NoError(t, os.WriteFile(files.Main, []byte("one\ntwo\nthree\n"), 0o644))
	require.NoError(t, os.WriteFile(files.Error, []byte("oops\n"), 0o644))

	var audit bytes.Buffer
	notifier := &fakeNotifier{}
	svc := NewAdminService(f.accounts, f.journals, files, slog.New(slog.NewTextHandler(&audit, nil)), nil, nil, nil)
	svc.SetNotifier(notifier)
	return svc, files, &audit, notifier
}

func TestAdminStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc, _, _, _ := newAdminService(t, f)

	_, _, err := f.accounts.Ensure(ctx, 10)
	require.NoError(t, err)
	f.clock.Advance(10 * 24 * time.Hour)
	_, err = f.accounts.Activate(ctx, 11, 0)
	require.NoError(t, err)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{Total: 3, Today: 1, Week: 1, Month: 3, Year: 3, Subscribed: 2}, stats)
}

func TestAdminGrantAndReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc, _, audit, notifier := newAdminService(t, f)

	_, err := svc.Report(ctx, 42)
	require.ErrorIs(t, err, ErrAccountNotFound)

	expires, err := svc.Grant(ctx, testAdminID, 42, 7)
	require.NoError(t, err)
	assert.Equal(t, f.date(7), expires)
	require.Len(t, notifier.To(42), 1)
	assert.Contains(t, notifier.To(42)[0].Text, "08.05.2024")
	assert.Contains(t, audit.String(), "Активировал подписку 42")

	require.NoError(t, f.meter.Run(ctx, 42, models.HistoryImage, "кот", func(context.Context) error { return nil }))

	report, err := svc.Report(ctx, 42)
	require.NoError(t, err)
	assert.True(t, report.Active)
	assert.Equal(t, 1, report.Account.UsageCount)
	require.Len(t, report.History, 1)
	assert.Equal(t, "кот", report.History[0].Prompt)
	assert.Empty(t, report.Payments)

	actions, _ := f.journals.Actions.All()
	require.Len(t, actions, 1)
	assert.Equal(t, "admin", actions[0].Action)
}

func TestAdminAccountsPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc, _, _, _ := newAdminService(t, f)
	for _, id := range []int64{10, 11, 12} {
		_, _, err := f.accounts.Ensure(ctx, id)
		require.NoError(t, err)
	}

	page, err := svc.Accounts(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(12), page[0].UserID)

	page, err = svc.Accounts(ctx, 0, -5)
	require.NoError(t, err)
	assert.Len(t, page, 4)
}

func TestAdminLogs(t *testing.T) {
	f := newFixture(t)
	svc, files, audit, _ := newAdminService(t, f)

	lines, err := svc.Logs("main", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "three"}, lines)

	_, err = svc.Logs("secrets", 0)
	require.ErrorIs(t, err, ErrUnknownLog)

	require.NoError(t, svc.ClearLogs(testAdminID))
	lines, err = svc.Logs("errors", 0)
	require.NoError(t, err)
	assert.Empty(t, lines)

	info, err := os.Stat(files.Main)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
	assert.Contains(t, audit.String(), "Очистка логов")
	assert.Equal(t, "admin.log", filepath.Base(files.Admin))
}
