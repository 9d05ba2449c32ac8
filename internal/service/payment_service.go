package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/digkill/TGAssistantBot/internal/config"
	"github.com/digkill/TGAssistantBot/internal/cryptopay"
	"github.com/digkill/TGAssistantBot/internal/events"
	"github.com/digkill/TGAssistantBot/internal/journal"
	"github.com/digkill/TGAssistantBot/internal/metrics"
	"github.com/digkill/TGAssistantBot/internal/models"
	"github.com/digkill/TGAssistantBot/internal/repository"
)

var (
	ErrInvoiceUnavailable = errors.New("payment link unavailable")
	ErrInvoiceNotFound    = errors.New("invoice not found")
	ErrInvoiceNotPaid     = errors.New("invoice is not paid")
)

// WebhookResult says what a payment notification led to.
type WebhookResult string

const (
	WebhookActivated WebhookResult = "activated"
	WebhookDuplicate WebhookResult = "duplicate"
	WebhookPending   WebhookResult = "pending_confirmation"
	WebhookIgnored   WebhookResult = "ignored"
	WebhookMalformed WebhookResult = "malformed"
	WebhookRejected  WebhookResult = "bad_signature"
	WebhookFailed    WebhookResult = "failed"
)

const (
	activationPayment   = "payment"
	activationAdmin     = "admin"
	hiddenThanksMessage = "Спасибо за покупку!"
)

// Notifier delivers chat messages on behalf of services.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
	// RequestConfirmation sends text with an inline button that confirms invoiceID.
	RequestConfirmation(ctx context.Context, chatID int64, text, invoiceID string) error
}

type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, in cryptopay.InvoiceRequest) (*cryptopay.Invoice, error)
}

type PaymentService struct {
	cfg      config.Config
	payments *repository.PaymentRepository
	accounts *AccountService
	journal  *journal.Store
	gateway  InvoiceCreator
	notifier Notifier
	events   events.Publisher
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewPaymentService(cfg config.Config, payments *repository.PaymentRepository, accounts *AccountService, journals *journal.Store, gateway InvoiceCreator, publisher events.Publisher, m *metrics.Metrics, log *slog.Logger) *PaymentService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &PaymentService{
		cfg:      cfg,
		payments: payments,
		accounts: accounts,
		journal:  journals,
		gateway:  gateway,
		events:   publisher,
		metrics:  m,
		log:      log,
	}
}

// SetNotifier wires the chat transport once it exists.
func (s *PaymentService) SetNotifier(n Notifier) {
	s.notifier = n
}

// CreateInvoice asks the processor for a payment link tied to userID.
func (s *PaymentService) CreateInvoice(ctx context.Context, userID int64) (string, error) {
	if _, _, err := s.accounts.Ensure(ctx, userID); err != nil {
		return "", err
	}

	inv, err := s.gateway.CreateInvoice(ctx, cryptopay.InvoiceRequest{
		Asset:         s.cfg.CryptoPayAsset,
		Amount:        s.cfg.CryptoPayAmount,
		Description:   fmt.Sprintf("Подписка на %d дней", s.accounts.SubscriptionDays()),
		HiddenMessage: hiddenThanksMessage,
		Payload:       strconv.FormatInt(userID, 10),
	})
	if err != nil {
		s.log.Error("create invoice", "user_id", userID, "err", err)
		return "", fmt.Errorf("%w: %v", ErrInvoiceUnavailable, err)
	}

	now := s.accounts.Now()
	record := &models.Invoice{
		InvoiceID: inv.ID,
		UserID:    userID,
		Amount:    firstNonEmpty(inv.Amount, s.cfg.CryptoPayAmount),
		Asset:     firstNonEmpty(inv.Asset, s.cfg.CryptoPayAsset),
		Status:    models.InvoiceCreated,
		PayURL:    inv.PayURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.payments.Create(ctx, record); err != nil {
		s.log.Error("record invoice", "invoice_id", inv.ID, "err", err)
	}
	return inv.PayURL, nil
}

// HandleWebhook reconciles one payment notification. The returned error is for
// logging only; the HTTP layer acknowledges every delivery.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) (WebhookResult, error) {
	result, err := s.handleWebhook(ctx, body, signature)
	s.metrics.PaymentWebhook(string(result))
	return result, err
}

func (s *PaymentService) handleWebhook(ctx context.Context, body []byte, signature string) (WebhookResult, error) {
	if s.cfg.CryptoPayVerifySignature {
		if err := cryptopay.VerifySignature(s.cfg.CryptoPayAPIKey, body, signature); err != nil {
			return WebhookRejected, err
		}
	}

	ev, err := cryptopay.ParseWebhook(body)
	if err != nil {
		if ev.Status != "" && !ev.Paid() {
			return WebhookIgnored, nil
		}
		// A paid event without a user reference is still usable when the
		// invoice was recorded at creation time.
		if !errors.Is(err, cryptopay.ErrMissingUserID) || ev.InvoiceID == "" {
			return WebhookMalformed, err
		}
	}
	if !ev.Paid() {
		return WebhookIgnored, nil
	}
	if ev.InvoiceID == "" {
		return WebhookMalformed, fmt.Errorf("%w: missing invoice id", cryptopay.ErrMalformed)
	}

	existing, err := s.payments.FindByID(ctx, ev.InvoiceID)
	if err != nil {
		return WebhookFailed, err
	}
	userID := ev.UserID
	if existing != nil {
		if ev.UserID != 0 && existing.UserID != ev.UserID {
			s.log.Warn("webhook user differs from invoice owner", "invoice_id", ev.InvoiceID, "webhook_user", ev.UserID, "owner", existing.UserID)
		}
		userID = existing.UserID
		if existing.Status != models.InvoiceCreated && s.cfg.PaymentActivationMode == config.ActivationManual {
			return WebhookDuplicate, nil
		}
	}
	if userID == 0 {
		return WebhookMalformed, cryptopay.ErrMissingUserID
	}

	paid := models.Invoice{
		InvoiceID: ev.InvoiceID,
		UserID:    userID,
		Amount:    firstNonEmpty(ev.Amount, s.cfg.CryptoPayAmount),
		Asset:     firstNonEmpty(ev.Asset, s.cfg.CryptoPayAsset),
	}
	if err := s.payments.MarkPaid(ctx, paid, s.accounts.Now()); err != nil {
		return WebhookFailed, err
	}

	if s.cfg.PaymentActivationMode == config.ActivationManual {
		text := fmt.Sprintf("💳 Оплата от пользователя %d\nИнвойс: %s\nСумма: %s %s\nПодтвердите активацию подписки.", userID, paid.InvoiceID, paid.Amount, paid.Asset)
		if s.notifier != nil {
			if err := s.notifier.RequestConfirmation(ctx, s.accounts.AdminID(), text, paid.InvoiceID); err != nil {
				s.log.Warn("request payment confirmation", "invoice_id", paid.InvoiceID, "err", err)
			}
		}
		return WebhookPending, nil
	}

	activated, _, err := s.activate(ctx, ev.InvoiceID, activationPayment)
	if err != nil {
		return WebhookFailed, err
	}
	if !activated {
		return WebhookDuplicate, nil
	}
	return WebhookActivated, nil
}

// ConfirmInvoice activates a paid invoice on the administrator's request. It
// reports false when the invoice had already been activated.
func (s *PaymentService) ConfirmInvoice(ctx context.Context, invoiceID string) (bool, time.Time, error) {
	inv, err := s.payments.FindByID(ctx, invoiceID)
	if err != nil {
		return false, time.Time{}, err
	}
	if inv == nil {
		return false, time.Time{}, ErrInvoiceNotFound
	}
	switch inv.Status {
	case models.InvoiceCreated:
		return false, time.Time{}, ErrInvoiceNotPaid
	case models.InvoiceActivated:
		return false, time.Time{}, nil
	}
	return s.activate(ctx, invoiceID, activationAdmin)
}

// PendingInvoices lists invoices that were paid but not activated yet.
func (s *PaymentService) PendingInvoices(ctx context.Context) ([]models.Invoice, error) {
	return s.payments.ListByStatus(ctx, models.InvoicePaid, 100)
}

// activate performs the paid -> activated transition and everything that
// follows it. Only the caller that wins the transition proceeds.
func (s *PaymentService) activate(ctx context.Context, invoiceID, source string) (bool, time.Time, error) {
	now := s.accounts.Now()
	won, err := s.payments.MarkActivated(ctx, invoiceID, now)
	if err != nil || !won {
		return false, time.Time{}, err
	}

	inv, err := s.payments.FindByID(ctx, invoiceID)
	if err != nil || inv == nil {
		if err == nil {
			err = ErrInvoiceNotFound
		}
		s.revert(ctx, invoiceID)
		return false, time.Time{}, err
	}

	expires, err := s.accounts.Activate(ctx, inv.UserID, 0)
	if err != nil {
		s.revert(ctx, invoiceID)
		return false, time.Time{}, fmt.Errorf("activate subscription: %w", err)
	}
	s.metrics.Activation(source)
	s.log.Info("subscription activated", "user_id", inv.UserID, "invoice_id", invoiceID, "expires", models.FormatDate(expires), "source", source)

	if s.journal != nil {
		if err := s.journal.Payments.Append(models.PaymentRecord{
			UserID:    inv.UserID,
			InvoiceID: invoiceID,
			Amount:    inv.Amount,
			Timestamp: now,
		}); err != nil {
			s.log.Error("journal payment", "invoice_id", invoiceID, "err", err)
		}
	}

	s.notify(ctx, inv.UserID, fmt.Sprintf("✅ Оплата получена! Подписка активна до %s.", expires.Format("02.01.2006")))
	if inv.UserID != s.accounts.AdminID() {
		s.notify(ctx, s.accounts.AdminID(), fmt.Sprintf("💰 Новая оплата\nПользователь: %d\nИнвойс: %s\nСумма: %s %s\nПодписка до %s", inv.UserID, invoiceID, inv.Amount, inv.Asset, models.FormatDate(expires)))
	}

	if err := s.events.PublishSubscription(ctx, events.SubscriptionEvent{
		Type:       events.SubscriptionActivated,
		UserID:     inv.UserID,
		InvoiceID:  invoiceID,
		Expires:    models.FormatDate(expires),
		Source:     source,
		OccurredAt: now,
	}); err != nil {
		s.log.Warn("publish activation event", "invoice_id", invoiceID, "err", err)
	}
	return true, expires, nil
}

func (s *PaymentService) revert(ctx context.Context, invoiceID string) {
	if err := s.payments.RevertActivated(ctx, invoiceID, s.accounts.Now()); err != nil {
		s.log.Error("revert invoice", "invoice_id", invoiceID, "err", err)
	}
}

func (s *PaymentService) notify(ctx context.Context, chatID int64, text string) {
	if s.notifier == nil || chatID == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, chatID, text); err != nil {
		s.log.Warn("notify", "chat_id", chatID, "err", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
