package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/digkill/TGAssistantBot/internal/metrics"
	"github.com/digkill/TGAssistantBot/internal/models"
)

var ErrLimitExceeded = errors.New("free usage limit exceeded")

// IsSubscribed reports whether the account holds a valid subscription on today.
// The expiry date itself is still covered.
func IsSubscribed(acc *models.Account, today time.Time) bool {
	if acc == nil {
		return false
	}
	if acc.IsAdmin {
		return true
	}
	if !acc.Subscribed || acc.SubscriptionExpires == nil {
		return false
	}
	return !models.Day(*acc.SubscriptionExpires).Before(models.Day(today))
}

func IsLimited(acc *models.Account, today time.Time, limit int) bool {
	if acc == nil || acc.IsAdmin {
		return false
	}
	return !IsSubscribed(acc, today) && acc.UsageCount >= limit
}

// RemainingFree is the number of free actions left; -1 means unlimited.
func RemainingFree(acc *models.Account, today time.Time, limit int) int {
	if acc == nil {
		return limit
	}
	if IsSubscribed(acc, today) {
		return -1
	}
	if left := limit - acc.UsageCount; left > 0 {
		return left
	}
	return 0
}

// Meter runs metered actions: the limit is checked before the action and
// usage is recorded only after it succeeds.
type Meter struct {
	accounts *AccountService
	limit    int
	locks    *keyedMutex
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewMeter(accounts *AccountService, limit int, m *metrics.Metrics, log *slog.Logger) *Meter {
	if log == nil {
		log = slog.Default()
	}
	return &Meter{
		accounts: accounts,
		limit:    limit,
		locks:    newKeyedMutex(),
		metrics:  m,
		log:      log,
	}
}

func (m *Meter) Limit() int {
	return m.limit
}

// Check returns the account, or ErrLimitExceeded when the user may not run
// another metered action.
func (m *Meter) Check(ctx context.Context, userID int64) (*models.Account, error) {
	acc, _, err := m.accounts.Ensure(ctx, userID)
	if err != nil {
		return nil, err
	}
	if IsLimited(acc, m.accounts.Today(), m.limit) {
		return acc, ErrLimitExceeded
	}
	return acc, nil
}

// Run executes action for userID under the per-user lock. A failed action
// leaves the usage counter untouched. Administrators are never denied and
// never counted.
func (m *Meter) Run(ctx context.Context, userID int64, kind models.HistoryType, prompt string, action func(context.Context) error) error {
	unlock := m.locks.Lock(userID)
	defer unlock()

	acc, err := m.Check(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrLimitExceeded) {
			m.metrics.MeteredAction(string(kind), "denied")
		}
		return err
	}

	if err := action(ctx); err != nil {
		m.metrics.MeteredAction(string(kind), "failed")
		return err
	}
	m.metrics.MeteredAction(string(kind), "ok")

	if acc.IsAdmin {
		return nil
	}
	if err := m.accounts.consume(ctx, userID, kind, prompt); err != nil {
		m.log.Error("record usage", "user_id", userID, "kind", kind, "err", err)
	}
	return nil
}

// keyedMutex serializes work per user id without a global lock.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*keyedEntry)}
}

func (k *keyedMutex) Lock(key int64) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
