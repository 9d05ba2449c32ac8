package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/TGAssistantBot/internal/events"
	"github.com/digkill/TGAssistantBot/internal/journal"
	"github.com/digkill/TGAssistantBot/internal/metrics"
	"github.com/digkill/TGAssistantBot/internal/models"
	"github.com/digkill/TGAssistantBot/pkg/logger"
)

var (
	ErrUnknownLog      = errors.New("unknown log")
	ErrAccountNotFound = errors.New("account not found")
)

const (
	LogTailLines      = 50
	ProfileHistoryLen = 10
)

// UserReport is what the admin search shows about one user.
type UserReport struct {
	Account  models.Account         `json:"account"`
	Active   bool                   `json:"active"`
	History  []models.HistoryEntry  `json:"history"`
	Payments []models.PaymentRecord `json:"payments"`
}

type AdminService struct {
	accounts *AccountService
	journals *journal.Store
	logs     logger.Files
	audit    *slog.Logger
	events   events.Publisher
	metrics  *metrics.Metrics
	notifier Notifier
	log      *slog.Logger
}

func NewAdminService(accounts *AccountService, journals *journal.Store, logs logger.Files, audit *slog.Logger, publisher events.Publisher, m *metrics.Metrics, log *slog.Logger) *AdminService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	if audit == nil {
		audit = log
	}
	return &AdminService{
		accounts: accounts,
		journals: journals,
		logs:     logs,
		audit:    audit,
		events:   publisher,
		metrics:  m,
		log:      log,
	}
}

func (s *AdminService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Audit appends one entry to the administrator trail.
func (s *AdminService) Audit(adminID int64, action string) {
	s.audit.Info(action, "admin_id", adminID)
	if s.journals != nil {
		if err := s.journals.Actions.Append(models.ActionLog{UserID: adminID, Action: "admin", Details: action, Timestamp: s.accounts.Now()}); err != nil {
			s.log.Warn("journal admin action", "err", err)
		}
	}
}

// Stats counts accounts by join date and current subscriptions.
func (s *AdminService) Stats(ctx context.Context) (models.Stats, error) {
	repo := s.accounts.accounts
	today := s.accounts.Today()

	var stats models.Stats
	windows := []struct {
		dst   *int
		since time.Time
	}{
		{&stats.Total, time.Date(1970, 1, 1, 0, 0, 0, 0, today.Location())},
		{&stats.Today, today},
		{&stats.Week, today.AddDate(0, 0, -7)},
		{&stats.Month, today.AddDate(0, 0, -30)},
		{&stats.Year, today.AddDate(0, 0, -365)},
	}
	for _, w := range windows {
		n, err := repo.CountJoinedSince(ctx, w.since)
		if err != nil {
			return models.Stats{}, err
		}
		*w.dst = n
	}
	subscribed, err := repo.CountSubscribed(ctx)
	if err != nil {
		return models.Stats{}, err
	}
	stats.Subscribed = subscribed
	return stats, nil
}

func (s *AdminService) Report(ctx context.Context, userID int64) (*UserReport, error) {
	acc, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrAccountNotFound
	}
	history, err := s.accounts.Recent(ctx, userID, ProfileHistoryLen)
	if err != nil {
		return nil, err
	}
	report := &UserReport{
		Account: *acc,
		Active:  IsSubscribed(acc, s.accounts.Today()),
		History: history,
	}
	if s.journals != nil {
		payments, err := s.journals.PaymentsFor(userID)
		if err != nil {
			s.log.Warn("read payment journal", "err", err)
		}
		report.Payments = payments
	}
	return report, nil
}

func (s *AdminService) Accounts(ctx context.Context, limit, offset int) ([]models.Account, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.accounts.List(ctx, limit, offset)
}

// Grant activates a subscription by hand. Days <= 0 means the default length.
func (s *AdminService) Grant(ctx context.Context, adminID, userID int64, days int) (time.Time, error) {
	expires, err := s.accounts.Activate(ctx, userID, days)
	if err != nil {
		return time.Time{}, fmt.Errorf("grant subscription: %w", err)
	}
	s.metrics.Activation(activationAdmin)
	s.Audit(adminID, fmt.Sprintf("Активировал подписку %d до %s", userID, models.FormatDate(expires)))

	if s.notifier != nil && userID != adminID {
		text := fmt.Sprintf("🎁 Администратор активировал вам подписку до %s.", expires.Format("02.01.2006"))
		if err := s.notifier.Notify(ctx, userID, text); err != nil {
			s.log.Warn("notify granted user", "user_id", userID, "err", err)
		}
	}
	if err := s.events.PublishSubscription(ctx, events.SubscriptionEvent{
		Type:       events.SubscriptionActivated,
		UserID:     userID,
		Expires:    models.FormatDate(expires),
		Source:     activationAdmin,
		OccurredAt: s.accounts.Now(),
	}); err != nil {
		s.log.Warn("publish grant event", "user_id", userID, "err", err)
	}
	return expires, nil
}

// Logs returns the tail of the named log ("main", "errors" or "admin").
func (s *AdminService) Logs(name string, lines int) ([]string, error) {
	path, ok := s.logs.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLog, name)
	}
	if lines <= 0 {
		lines = LogTailLines
	}
	return logger.Tail(path, lines)
}

// ClearLogs empties the operational and error logs. The admin trail is kept.
func (s *AdminService) ClearLogs(adminID int64) error {
	if err := logger.Truncate(s.logs.Main, s.logs.Error); err != nil {
		return err
	}
	s.Audit(adminID, "Очистка логов")
	return nil
}
