// Package admin serves the public webhooks and the basic-auth admin API.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/digkill/TGAssistantBot/internal/config"
	"github.com/digkill/TGAssistantBot/internal/cryptopay"
	"github.com/digkill/TGAssistantBot/internal/metrics"
	"github.com/digkill/TGAssistantBot/internal/models"
	"github.com/digkill/TGAssistantBot/internal/service"
)

const maxWebhookBody = 1 << 20

// Bot is the chat side the server hands Telegram updates and broadcasts to.
type Bot interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
	Deliver(ctx context.Context, chatID int64, content service.BroadcastContent) error
}

type Services struct {
	Payments   *service.PaymentService
	Admin      *service.AdminService
	Broadcasts *service.BroadcastService
	Metrics    *metrics.Metrics
	Bot        Bot
}

type Server struct {
	addr       string
	username   string
	password   string
	adminID    int64
	log        *slog.Logger
	payments   *service.PaymentService
	admin      *service.AdminService
	broadcasts *service.BroadcastService
	bot        Bot
	router     *chi.Mux
}

func NewServer(cfg config.Config, log *slog.Logger, svc Services) *Server {
	if log == nil {
		log = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:       cfg.HTTPListenAddr,
		username:   cfg.AdminUsername,
		password:   cfg.AdminPassword,
		adminID:    cfg.AdminID,
		log:        log,
		payments:   svc.Payments,
		admin:      svc.Admin,
		broadcasts: svc.Broadcasts,
		bot:        svc.Bot,
		router:     r,
	}

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", svc.Metrics.Handler())
	r.Post("/webhook/cryptobot", s.handlePaymentWebhook)
	r.Post("/cryptobot", s.handlePaymentWebhook)
	r.Post("/webhook/telegram", s.handleTelegramWebhook)
	r.Post("/webhook", s.handleTelegramWebhook)

	r.Route("/admin", func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Get("/stats", s.handleStats)
		protected.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Get("/{id}", s.handleAccountReport)
			r.Post("/{id}/activate", s.handleActivate)
		})
		protected.Get("/invoices/pending", s.handlePendingInvoices)
		protected.Post("/invoices/{id}/confirm", s.handleConfirmInvoice)
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Get("/logs/{name}", s.handleLogs)
		protected.Delete("/logs", s.handleClearLogs)
	})
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePaymentWebhook acknowledges every delivery so the processor does not
// retry; the outcome is only logged.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	delivery := uuid.NewString()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.log.Warn("read payment webhook", "delivery", delivery, "err", err)
		s.writeOK(w)
		return
	}

	result, err := s.payments.HandleWebhook(r.Context(), body, r.Header.Get(cryptopay.SignatureHeader))
	switch {
	case err != nil && result == service.WebhookFailed:
		s.log.Error("payment webhook", "delivery", delivery, "result", result, "err", err)
	case err != nil:
		s.log.Warn("payment webhook", "delivery", delivery, "result", result, "err", err)
	default:
		s.log.Info("payment webhook", "delivery", delivery, "result", result)
	}
	s.writeOK(w)
}

func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if s.bot == nil {
		http.NotFound(w, r)
		return
	}
	var update tgbotapi.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&update); err != nil {
		s.log.Warn("decode telegram update", "err", err)
		s.writeOK(w)
		return
	}
	s.bot.HandleUpdate(context.WithoutCancel(r.Context()), update)
	s.writeOK(w)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.admin.Stats(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type accountView struct {
	UserID     int64  `json:"user_id"`
	UsageCount int    `json:"usage_count"`
	Subscribed bool   `json:"subscribed"`
	Expires    string `json:"subscription_expires,omitempty"`
	JoinedAt   string `json:"joined_at"`
	IsAdmin    bool   `json:"is_admin"`
}

func newAccountView(a models.Account) accountView {
	v := accountView{
		UserID:     a.UserID,
		UsageCount: a.UsageCount,
		Subscribed: a.Subscribed,
		JoinedAt:   models.FormatDate(a.JoinedAt),
		IsAdmin:    a.IsAdmin,
	}
	if a.SubscriptionExpires != nil {
		v.Expires = models.FormatDate(*a.SubscriptionExpires)
	}
	return v
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	accounts, err := s.admin.Accounts(r.Context(), limit, offset)
	if err != nil {
		s.internalError(w, err)
		return
	}
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, newAccountView(a))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAccountReport(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	report, err := s.admin.Report(r.Context(), id)
	if errors.Is(err, service.ErrAccountNotFound) {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"account":  newAccountView(report.Account),
		"active":   report.Active,
		"history":  report.History,
		"payments": report.Payments,
	})
}

type activateRequest struct {
	Days int `json:"days"`
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req activateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	if req.Days < 0 {
		http.Error(w, "days must be positive", http.StatusBadRequest)
		return
	}
	expires, err := s.admin.Grant(r.Context(), s.adminID, id, req.Days)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":              id,
		"subscription_expires": models.FormatDate(expires),
	})
}

func (s *Server) handlePendingInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.payments.PendingInvoices(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	if invoices == nil {
		invoices = []models.Invoice{}
	}
	s.writeJSON(w, http.StatusOK, invoices)
}

func (s *Server) handleConfirmInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID := strings.TrimSpace(chi.URLParam(r, "id"))
	activated, expires, err := s.payments.ConfirmInvoice(r.Context(), invoiceID)
	switch {
	case errors.Is(err, service.ErrInvoiceNotFound):
		http.Error(w, "invoice not found", http.StatusNotFound)
		return
	case errors.Is(err, service.ErrInvoiceNotPaid):
		http.Error(w, "invoice is not paid", http.StatusConflict)
		return
	case err != nil:
		s.internalError(w, err)
		return
	}
	s.admin.Audit(s.adminID, "Подтвердил оплату "+invoiceID+" через API")
	resp := map[string]any{"invoice_id": invoiceID, "activated": activated}
	if activated {
		resp["subscription_expires"] = models.FormatDate(expires)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type broadcastRequest struct {
	Message        string `json:"message"`
	SubscribedOnly bool   `json:"subscribed_only"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if s.bot == nil {
		http.Error(w, "bot unavailable", http.StatusServiceUnavailable)
		return
	}
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	tally, err := s.broadcasts.Broadcast(r.Context(), s.bot, service.BroadcastContent{Text: req.Message}, req.SubscribedOnly)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.admin.Audit(s.adminID, fmt.Sprintf("Выполнил рассылку через API. Успешно: %d, Ошибок: %d", tally.Sent, tally.Failed))
	s.writeJSON(w, http.StatusOK, map[string]int{
		"total":  tally.Total,
		"sent":   tally.Sent,
		"failed": tally.Failed,
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	lines, err := s.admin.Logs(chi.URLParam(r, "name"), queryInt(r, "lines", service.LogTailLines))
	if errors.Is(err, service.ErrUnknownLog) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (s *Server) handleClearLogs(w http.ResponseWriter, _ *http.Request) {
	if err := s.admin.ClearLogs(s.adminID); err != nil {
		s.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="assistantbot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeOK(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return v
}
