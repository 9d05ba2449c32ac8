package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digkill/TGAssistantBot/internal/config"
	"github.com/digkill/TGAssistantBot/internal/database"
	"github.com/digkill/TGAssistantBot/internal/journal"
	"github.com/digkill/TGAssistantBot/internal/repository"
)

const testAdminID int64 = 1

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	cfg      config.Config
	clock    *fakeClock
	accounts *AccountService
	history  *repository.HistoryRepository
	payments *repository.PaymentRepository
	meter    *Meter
	journals *journal.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := database.OpenSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.SQLite))

	cfg := config.Config{
		AdminID:               testAdminID,
		FreeUsesLimit:         10,
		SubscriptionDays:      30,
		Location:              time.UTC,
		CryptoPayAPIKey:       "token",
		CryptoPayAsset:        "USDT",
		CryptoPayAmount:       "1.00",
		PaymentActivationMode: config.ActivationAuto,
	}
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}

	accountRepo := repository.NewAccountRepository(db, database.SQLite, time.UTC)
	history := repository.NewHistoryRepository(db)
	accounts := NewAccountService(cfg, accountRepo, history)
	accounts.SetClock(clock.Now)
	require.NoError(t, accounts.Bootstrap(context.Background()))

	return &fixture{
		cfg:      cfg,
		clock:    clock,
		accounts: accounts,
		history:  history,
		payments: repository.NewPaymentRepository(db, database.SQLite),
		meter:    NewMeter(accounts, cfg.FreeUsesLimit, nil, nil),
		journals: journal.NewStore(filepath.Join(dir, "data"), nil),
	}
}

func (f *fixture) date(days int) time.Time {
	return f.accounts.Today().AddDate(0, 0, days)
}

type sentMessage struct {
	ChatID    int64
	Text      string
	InvoiceID string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{ChatID: chatID, Text: text})
	return n.err
}

func (n *fakeNotifier) RequestConfirmation(_ context.Context, chatID int64, text, invoiceID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{ChatID: chatID, Text: text, InvoiceID: invoiceID})
	return n.err
}

func (n *fakeNotifier) To(chatID int64) []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentMessage
	for _, m := range n.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (n *fakeNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

var errBoom = fmt.Errorf("boom")
