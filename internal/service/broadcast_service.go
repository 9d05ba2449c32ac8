package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/digkill/TGAssistantBot/internal/metrics"
)

var ErrEmptyBroadcast = errors.New("broadcast has no content")

// BroadcastContent is one message to fan out. Exactly one of Text,
// PhotoFileID or DocumentFileID is expected to be set.
type BroadcastContent struct {
	Text           string
	PhotoFileID    string
	DocumentFileID string
	Caption        string
}

func (c BroadcastContent) Empty() bool {
	return c.Text == "" && c.PhotoFileID == "" && c.DocumentFileID == ""
}

// Deliverer sends broadcast content to a single chat.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, content BroadcastContent) error
}

type BroadcastTally struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

type BroadcastService struct {
	accounts *AccountService
	delay    time.Duration
	metrics  *metrics.Metrics
	log      *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewBroadcastService(accounts *AccountService, delay time.Duration, m *metrics.Metrics, log *slog.Logger) *BroadcastService {
	if log == nil {
		log = slog.Default()
	}
	return &BroadcastService{
		accounts: accounts,
		delay:    delay,
		metrics:  m,
		log:      log,
		sleep:    sleepContext,
	}
}

// Broadcast sends content to every account, or only to valid subscribers.
// Failures are counted and skipped; sends are spaced by the configured delay.
func (s *BroadcastService) Broadcast(ctx context.Context, d Deliverer, content BroadcastContent, subscribedOnly bool) (BroadcastTally, error) {
	if content.Empty() {
		return BroadcastTally{}, ErrEmptyBroadcast
	}
	ids, err := s.accounts.RecipientIDs(ctx, subscribedOnly)
	if err != nil {
		return BroadcastTally{}, err
	}

	tally := BroadcastTally{Total: len(ids)}
	for i, id := range ids {
		if i > 0 && s.delay > 0 {
			if err := s.sleep(ctx, s.delay); err != nil {
				return tally, err
			}
		}
		if err := d.Deliver(ctx, id, content); err != nil {
			s.log.Warn("broadcast delivery failed", "chat_id", id, "err", err)
			tally.Failed++
			s.metrics.BroadcastSend(false)
			continue
		}
		tally.Sent++
		s.metrics.BroadcastSend(true)
	}
	s.log.Info("broadcast finished", "total", tally.Total, "sent", tally.Sent, "failed", tally.Failed, "subscribed_only", subscribedOnly)
	return tally, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
