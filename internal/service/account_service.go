package service

import (
	"context"
	"fmt"
	"time"

	"github.com/digkill/TGAssistantBot/internal/config"
	"github.com/digkill/TGAssistantBot/internal/models"
	"github.com/digkill/TGAssistantBot/internal/repository"
)

// AccountService owns account lifecycle and the calendar the bot runs on.
type AccountService struct {
	accounts         *repository.AccountRepository
	history          *repository.HistoryRepository
	adminID          int64
	subscriptionDays int
	loc              *time.Location
	now              func() time.Time
}

func NewAccountService(cfg config.Config, accounts *repository.AccountRepository, history *repository.HistoryRepository) *AccountService {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	days := cfg.SubscriptionDays
	if days <= 0 {
		days = 30
	}
	return &AccountService{
		accounts:         accounts,
		history:          history,
		adminID:          cfg.AdminID,
		subscriptionDays: days,
		loc:              loc,
		now:              time.Now,
	}
}

// SetClock replaces the wall clock, for tests and replays.
func (s *AccountService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *AccountService) Now() time.Time {
	return s.now().In(s.loc)
}

// Today is the current calendar date at midnight in the configured zone.
func (s *AccountService) Today() time.Time {
	return models.Day(s.Now())
}

func (s *AccountService) AdminID() int64 {
	return s.adminID
}

func (s *AccountService) IsAdmin(userID int64) bool {
	return userID != 0 && userID == s.adminID
}

func (s *AccountService) SubscriptionDays() int {
	return s.subscriptionDays
}

// Bootstrap inserts the administrator row with its permanent entitlement.
func (s *AccountService) Bootstrap(ctx context.Context) error {
	if err := s.accounts.EnsureAdmin(ctx, s.adminID, s.Today()); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	return nil
}

// Ensure returns the account, creating it on first contact.
func (s *AccountService) Ensure(ctx context.Context, userID int64) (*models.Account, bool, error) {
	created, err := s.accounts.Ensure(ctx, userID, s.IsAdmin(userID), s.Today())
	if err != nil {
		return nil, false, fmt.Errorf("ensure account: %w", err)
	}
	account, err := s.accounts.FindByID(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return nil, false, fmt.Errorf("load account %d: %w", userID, repository.ErrNotFound)
	}
	return account, created, nil
}

func (s *AccountService) Get(ctx context.Context, userID int64) (*models.Account, error) {
	account, err := s.accounts.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// Activate starts a subscription of days (the configured default when days <= 0)
// counted from today. A running subscription is reset, not extended.
func (s *AccountService) Activate(ctx context.Context, userID int64, days int) (time.Time, error) {
	if days <= 0 {
		days = s.subscriptionDays
	}
	if _, _, err := s.Ensure(ctx, userID); err != nil {
		return time.Time{}, err
	}
	expires := s.Today().AddDate(0, 0, days)
	if err := s.accounts.Activate(ctx, userID, expires); err != nil {
		return time.Time{}, err
	}
	return expires, nil
}

func (s *AccountService) Expire(ctx context.Context, userID int64) error {
	return s.accounts.Expire(ctx, userID)
}

func (s *AccountService) Recent(ctx context.Context, userID int64, limit int) ([]models.HistoryEntry, error) {
	entries, err := s.history.Recent(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	return entries, nil
}

func (s *AccountService) List(ctx context.Context, limit, offset int) ([]models.Account, error) {
	return s.accounts.List(ctx, limit, offset)
}

// RecipientIDs lists broadcast targets.
func (s *AccountService) RecipientIDs(ctx context.Context, subscribedOnly bool) ([]int64, error) {
	ids, err := s.accounts.ListIDs(ctx, subscribedOnly, s.Today())
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return ids, nil
}

func (s *AccountService) consume(ctx context.Context, userID int64, kind models.HistoryType, prompt string) error {
	return s.accounts.ConsumeUsage(ctx, userID, kind, prompt, s.now())
}
