package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGAssistantBot/internal/config"
	"github.com/digkill/TGAssistantBot/internal/dialogue"
	"github.com/digkill/TGAssistantBot/internal/metrics"
	"github.com/digkill/TGAssistantBot/internal/service"
)

// Sender is the part of the Bot API the bot talks through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// UpdateSource feeds updates in long-polling mode.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Services bundles what the handlers call into.
type Services struct {
	Accounts   *service.AccountService
	Generation *service.GenerationService
	Payments   *service.PaymentService
	Broadcasts *service.BroadcastService
	Admin      *service.AdminService
	Dialogue   *dialogue.Machine
	Metrics    *metrics.Metrics
}

type messageHandler func(ctx context.Context, msg *tgbotapi.Message)

type callbackHandler func(ctx context.Context, cb *tgbotapi.CallbackQuery)

const imageTimerTick = 15 * time.Second

type Bot struct {
	cfg        config.Config
	api        Sender
	log        *slog.Logger
	accounts   *service.AccountService
	generation *service.GenerationService
	payments   *service.PaymentService
	broadcasts *service.BroadcastService
	admin      *service.AdminService
	dialogue   *dialogue.Machine
	metrics    *metrics.Metrics

	commands      map[string]messageHandler
	adminCommands map[string]messageHandler
	buttons       map[string]messageHandler
	callbacks     map[string]callbackHandler
	adminCalls    map[string]callbackHandler

	wg sync.WaitGroup
}

func NewBot(cfg config.Config, api Sender, log *slog.Logger, svc Services) *Bot {
	if log == nil {
		log = slog.Default()
	}
	b := &Bot{
		cfg:        cfg,
		api:        api,
		log:        log,
		accounts:   svc.Accounts,
		generation: svc.Generation,
		payments:   svc.Payments,
		broadcasts: svc.Broadcasts,
		admin:      svc.Admin,
		dialogue:   svc.Dialogue,
		metrics:    svc.Metrics,
	}

	b.commands = map[string]messageHandler{
		"start":     b.handleStart,
		"help":      b.handleHelp,
		"profile":   b.handleProfile,
		"buy":       b.handleBuy,
		"cancel":    b.handleCancel,
		"stop":      b.handleCancel,
		"quote":     b.handleQuote,
		"image":     b.handleImage,
		"assistant": b.handleAssistant,
		"examples":  b.handleExamples,
	}
	b.adminCommands = map[string]messageHandler{
		"admin":    b.handleAdminPanel,
		"logs":     b.logCommand("main", "Просмотрел /logs"),
		"errors":   b.logCommand("errors", "Просмотрел /errors"),
		"users":    b.handleUsers,
		"activate": b.handleActivate,
	}
	b.buttons = map[string]messageHandler{
		btnQuote:     b.handleQuote,
		btnImage:     b.handleImage,
		btnAssistant: b.handleAssistant,
		btnExamples:  b.handleExamples,
		btnProfile:   b.handleProfile,
		btnBuy:       b.handleBuy,
		btnHelp:      b.handleHelp,
		btnAdmin:     b.adminOnly(b.handleAdminPanel),
		"админ":      b.adminOnly(b.handleAdminPanel),
		"Админ":      b.adminOnly(b.handleAdminPanel),
		"admin":      b.adminOnly(b.handleAdminPanel),
		"Admin":      b.adminOnly(b.handleAdminPanel),
	}
	b.callbacks = map[string]callbackHandler{
		cbStopGeneration:  b.handleStopGeneration,
		cbStopAssistant:   b.handleStopAssistant,
		cbBackToMenu:      b.handleBackToMenu,
		cbGenerateAnother: b.handleGenerateAnother,
		cbNewQuery:        b.handleNewQuery,
		cbRandomExample:   b.handleRandomExample,
	}
	b.adminCalls = map[string]callbackHandler{
		cbViewLogs:        b.logCallback("main", "Просмотр логов"),
		cbViewErrors:      b.logCallback("errors", "Просмотр ошибок"),
		cbViewAdminLog:    b.logCallback("admin", "Просмотрел admin.log"),
		cbClearLogs:       b.handleClearLogs,
		cbBroadcast:       b.startBroadcast(false),
		cbBroadcastSubs:   b.startBroadcast(true),
		cbSearchUser:      b.handleSearchUser,
		cbPendingInvoices: b.handlePendingInvoices,
	}
	return b
}

// RegisterCommands publishes the command menu shown by Telegram clients.
func (b *Bot) RegisterCommands() error {
	cfg := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "🚀 Запуск бота"},
		tgbotapi.BotCommand{Command: "buy", Description: "💰 Купить подписку"},
		tgbotapi.BotCommand{Command: "profile", Description: "👤 Ваш профиль"},
		tgbotapi.BotCommand{Command: "help", Description: "📚 Как пользоваться?"},
		tgbotapi.BotCommand{Command: "cancel", Description: "❌ Отменить текущий режим"},
		tgbotapi.BotCommand{Command: "admin", Description: "⚙️ Админка"},
	)
	if _, err := b.api.Request(cfg); err != nil {
		return fmt.Errorf("set commands: %w", err)
	}
	return nil
}

// Poll receives updates by long polling until ctx is done, then waits for
// in-flight handlers.
func (b *Bot) Poll(ctx context.Context, src UpdateSource) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := src.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "mode", config.BotModePolling)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				b.Wait()
				return nil
			}
			b.HandleUpdate(ctx, update)
		case <-ctx.Done():
			src.StopReceivingUpdates()
			b.Wait()
			return nil
		}
	}
}

// HandleUpdate processes one update on its own goroutine so a slow AI call
// never holds up other users.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("update handler panic", "update_id", update.UpdateID, "panic", r)
			}
		}()
		b.handleUpdate(ctx, update)
	}()
}

// Wait blocks until every dispatched update has been handled.
func (b *Bot) Wait() {
	b.wg.Wait()
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.metrics.Update("message")
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.metrics.Update("callback")
		b.handleCallback(ctx, update.CallbackQuery)
	default:
		b.metrics.Update("other")
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	if _, _, err := b.accounts.Ensure(ctx, msg.From.ID); err != nil {
		b.log.Error("ensure account", "user_id", msg.From.ID, "err", err)
		b.sendText(msg.Chat.ID, "⚠️ Сервис временно недоступен. Попробуйте позже.")
		return
	}

	if msg.IsCommand() {
		name := strings.ToLower(msg.Command())
		if h, ok := b.commands[name]; ok {
			h(ctx, msg)
			return
		}
		if h, ok := b.adminCommands[name]; ok {
			b.adminOnly(h)(ctx, msg)
			return
		}
		b.sendText(msg.Chat.ID, "Неизвестная команда. Используйте /help.")
		return
	}

	if h, ok := b.buttons[strings.TrimSpace(msg.Text)]; ok {
		h(ctx, msg)
		return
	}

	st, err := b.dialogue.Current(ctx, msg.From.ID)
	if err != nil {
		b.log.Error("read dialogue state", "user_id", msg.From.ID, "err", err)
	}
	switch st.Mode {
	case dialogue.AwaitingImagePrompt:
		b.handleImagePrompt(ctx, msg)
	case dialogue.AwaitingDialogueTurn:
		b.handleDialogueTurn(ctx, msg)
	case dialogue.AwaitingBroadcastContent:
		b.handleBroadcastContent(ctx, msg)
	case dialogue.AwaitingAdminSearchID:
		b.handleSearchReply(ctx, msg)
	default:
		b.sendMenu(msg.Chat.ID, "Выберите действие из меню 👇")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		b.answer(cb, "")
		return
	}
	if _, _, err := b.accounts.Ensure(ctx, cb.From.ID); err != nil {
		b.log.Error("ensure account", "user_id", cb.From.ID, "err", err)
		b.answer(cb, "Сервис временно недоступен")
		return
	}

	data := cb.Data
	switch {
	case b.callbacks[data] != nil:
		b.callbacks[data](ctx, cb)
	case b.adminCalls[data] != nil:
		b.adminCallback(b.adminCalls[data])(ctx, cb)
	case strings.HasPrefix(data, cbGrantPrefix):
		b.adminCallback(b.handleGrantCallback)(ctx, cb)
	case strings.HasPrefix(data, cbConfirmPrefix):
		b.adminCallback(b.handleConfirmInvoice)(ctx, cb)
	default:
		if _, ok := service.LookupExample(data); ok {
			b.runExample(ctx, cb, data)
			return
		}
		b.answer(cb, "❌ Пример не найден")
	}
}

func (b *Bot) adminOnly(h messageHandler) messageHandler {
	return func(ctx context.Context, msg *tgbotapi.Message) {
		if !b.accounts.IsAdmin(msg.From.ID) {
			b.sendText(msg.Chat.ID, "❌ Доступ запрещён")
			return
		}
		h(ctx, msg)
	}
}

func (b *Bot) adminCallback(h callbackHandler) callbackHandler {
	return func(ctx context.Context, cb *tgbotapi.CallbackQuery) {
		if !b.accounts.IsAdmin(cb.From.ID) {
			b.answer(cb, "❌ Доступ запрещён")
			return
		}
		h(ctx, cb)
		b.answer(cb, "")
	}
}

// Notify implements service.Notifier.
func (b *Bot) Notify(_ context.Context, chatID int64, text string) error {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// RequestConfirmation implements service.Notifier.
func (b *Bot) RequestConfirmation(_ context.Context, chatID int64, text, invoiceID string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = confirmKeyboard(invoiceID)
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send confirmation request: %w", err)
	}
	return nil
}

// Deliver implements service.Deliverer for broadcasts.
func (b *Bot) Deliver(_ context.Context, chatID int64, content service.BroadcastContent) error {
	var c tgbotapi.Chattable
	switch {
	case content.PhotoFileID != "":
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(content.PhotoFileID))
		photo.Caption = content.Caption
		c = photo
	case content.DocumentFileID != "":
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileID(content.DocumentFileID))
		doc.Caption = content.Caption
		c = doc
	case content.Text != "":
		c = tgbotapi.NewMessage(chatID, content.Text)
	default:
		return service.ErrEmptyBroadcast
	}
	if _, err := b.api.Send(c); err != nil {
		return fmt.Errorf("deliver broadcast: %w", err)
	}
	return nil
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "chat_id", chatID, "err", err)
	}
}

func (b *Bot) sendHTML(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send html", "chat_id", chatID, "err", err)
	}
}

func (b *Bot) sendMenu(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = mainMenu()
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send menu", "chat_id", chatID, "err", err)
	}
}

func (b *Bot) sendWithMarkup(chatID int64, text string, markup any) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	sent, err := b.api.Send(msg)
	if err != nil {
		b.log.Error("send keyboard", "chat_id", chatID, "err", err)
	}
	return sent, err
}

func (b *Bot) answer(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		b.log.Warn("callback ack", "err", err)
	}
}
