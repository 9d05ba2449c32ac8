package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/TGAssistantBot/internal/events"
	"github.com/digkill/TGAssistantBot/internal/metrics"
	"github.com/digkill/TGAssistantBot/internal/models"
)

const reminderText = "🔔 Внимание!\nВаша подписка истекает завтра. Продлите её через /buy, чтобы сохранить доступ."

type SweepReport struct {
	Expired  []int64
	Reminded int
}

// Sweeper clears lapsed subscriptions and warns users the day before expiry.
type Sweeper struct {
	accounts *AccountService
	notifier Notifier
	events   events.Publisher
	metrics  *metrics.Metrics
	interval time.Duration
	log      *slog.Logger
}

func NewSweeper(accounts *AccountService, publisher events.Publisher, m *metrics.Metrics, interval time.Duration, log *slog.Logger) *Sweeper {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{accounts: accounts, events: publisher, metrics: m, interval: interval, log: log}
}

func (s *Sweeper) SetNotifier(n Notifier) {
	s.notifier = n
}

// Run sweeps immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Error("subscription sweep", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	var (
		report SweepReport
		errs   []error
	)
	today := s.accounts.Today()
	repo := s.accounts.accounts

	expired, err := repo.ExpireDue(ctx, today)
	report.Expired = expired
	if err != nil {
		errs = append(errs, fmt.Errorf("expire due: %w", err))
	}
	s.metrics.Expired(int64(len(expired)))
	for _, id := range expired {
		s.log.Info("subscription expired", "user_id", id)
		if err := s.events.PublishSubscription(ctx, events.SubscriptionEvent{
			Type:       events.SubscriptionExpired,
			UserID:     id,
			Source:     "sweep",
			OccurredAt: s.accounts.Now(),
		}); err != nil {
			s.log.Warn("publish expiry event", "user_id", id, "err", err)
		}
	}

	tomorrow := today.AddDate(0, 0, 1)
	due, err := repo.DueForReminder(ctx, tomorrow)
	if err != nil {
		errs = append(errs, fmt.Errorf("due for reminder: %w", err))
	}
	for _, id := range due {
		marked, err := repo.MarkReminded(ctx, id, tomorrow)
		if err != nil {
			errs = append(errs, fmt.Errorf("mark reminded %d: %w", id, err))
			continue
		}
		if !marked {
			continue
		}
		if s.notifier != nil {
			if err := s.notifier.Notify(ctx, id, reminderText); err != nil {
				s.log.Warn("send expiry reminder", "user_id", id, "err", err)
				continue
			}
		}
		report.Reminded++
		s.metrics.Reminded()
	}

	if len(expired) > 0 || report.Reminded > 0 {
		s.log.Info("subscription sweep", "expired", len(expired), "reminded", report.Reminded, "date", models.FormatDate(today))
	}
	return report, errors.Join(errs...)
}
