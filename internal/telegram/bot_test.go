package telegram

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/TGAssistantBot/internal/ai"
	"github.com/digkill/TGAssistantBot/internal/config"
	"github.com/digkill/TGAssistantBot/internal/cryptopay"
	"github.com/digkill/TGAssistantBot/internal/database"
	"github.com/digkill/TGAssistantBot/internal/dialogue"
	"github.com/digkill/TGAssistantBot/internal/journal"
	"github.com/digkill/TGAssistantBot/internal/repository"
	"github.com/digkill/TGAssistantBot/internal/service"
	"github.com/digkill/TGAssistantBot/pkg/logger"
)

const (
	adminID int64 = 1
	userID  int64 = 42
)

type fakeSender struct {
	mu     sync.Mutex
	nextID int
	sent   []tgbotapi.Chattable
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.sent = append(s.sent, c)
	return tgbotapi.Message{MessageID: s.nextID}, nil
}

func (s *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (s *fakeSender) reset() {
	s.mu.Lock()
	s.sent = nil
	s.mu.Unlock()
}

// messages returns the texts of plain messages sent to chatID.
func (s *fakeSender) messages(chatID int64) []tgbotapi.MessageConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range s.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok && m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeSender) texts(chatID int64) []string {
	var out []string
	for _, m := range s.messages(chatID) {
		out = append(out, m.Text)
	}
	return out
}

func (s *fakeSender) last(chatID int64) tgbotapi.MessageConfig {
	msgs := s.messages(chatID)
	if len(msgs) == 0 {
		return tgbotapi.MessageConfig{}
	}
	return msgs[len(msgs)-1]
}

func (s *fakeSender) photos(chatID int64) []tgbotapi.PhotoConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []tgbotapi.PhotoConfig
	for _, c := range s.sent {
		if p, ok := c.(tgbotapi.PhotoConfig); ok && p.ChatID == chatID {
			out = append(out, p)
		}
	}
	return out
}

func (s *fakeSender) callbackAnswers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.sent {
		if cb, ok := c.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb.Text)
		}
	}
	return out
}

type fakeAssistant struct {
	mu     sync.Mutex
	answer string
	asked  []string
}

func (a *fakeAssistant) Ask(_ context.Context, prompt string, _ int) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.asked = append(a.asked, prompt)
	return a.answer, nil
}

func (a *fakeAssistant) GenerateImage(_ context.Context, _ string) (*ai.Image, error) {
	return &ai.Image{URL: "https://images.example.com/1.png", Mime: "image/png"}, nil
}

func (a *fakeAssistant) Download(_ context.Context, img *ai.Image) error {
	img.Bytes = []byte("png")
	return nil
}

type fakeGateway struct{}

func (fakeGateway) CreateInvoice(_ context.Context, in cryptopay.InvoiceRequest) (*cryptopay.Invoice, error) {
	return &cryptopay.Invoice{ID: "inv-" + in.Payload, Status: "active", Amount: in.Amount, Asset: in.Asset, PayURL: "https://t.me/CryptoBot?start=inv-" + in.Payload}, nil
}

type harness struct {
	bot       *Bot
	api       *fakeSender
	accounts  *service.AccountService
	payments  *service.PaymentService
	dialogue  *dialogue.Machine
	assistant *fakeAssistant
}

func newHarness(t *testing.T, activation string) *harness {
	t.Helper()
	dir := t.TempDir()
	db, err := database.OpenSQLite(filepath.Join(dir, "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.SQLite))

	cfg := config.Config{
		AdminID:               adminID,
		FreeUsesLimit:         2,
		SubscriptionDays:      30,
		Location:              time.UTC,
		CryptoPayAsset:        "USDT",
		CryptoPayAmount:       "1.00",
		PaymentActivationMode: activation,
		ImagePromptTimeout:    time.Hour,
	}

	accounts := service.NewAccountService(cfg, repository.NewAccountRepository(db, database.SQLite, time.UTC), repository.NewHistoryRepository(db))
	accounts.SetClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) })
	require.NoError(t, accounts.Bootstrap(context.Background()))

	journals := journal.NewStore(filepath.Join(dir, "data"), nil)
	assistant := &fakeAssistant{answer: "Верь в себя"}
	machine := dialogue.NewMachine(dialogue.NewMemoryStore(), nil)
	t.Cleanup(machine.Close)

	payments := service.NewPaymentService(cfg, repository.NewPaymentRepository(db, database.SQLite), accounts, journals, fakeGateway{}, nil, nil, nil)
	admin := service.NewAdminService(accounts, journals, logger.PathsIn(dir), nil, nil, nil, nil)

	api := &fakeSender{}
	bot := NewBot(cfg, api, nil, Services{
		Accounts:   accounts,
		Generation: service.NewGenerationService(service.NewMeter(accounts, cfg.FreeUsesLimit, nil, nil), assistant, nil, journals, nil),
		Payments:   payments,
		Broadcasts: service.NewBroadcastService(accounts, 0, nil, nil),
		Admin:      admin,
		Dialogue:   machine,
	})
	payments.SetNotifier(bot)
	admin.SetNotifier(bot)

	return &harness{bot: bot, api: api, accounts: accounts, payments: payments, dialogue: machine, assistant: assistant}
}

func (h *harness) dispatch(u tgbotapi.Update) {
	h.bot.HandleUpdate(context.Background(), u)
	h.bot.Wait()
}

func (h *harness) text(from int64, text string) {
	h.dispatch(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: from},
		Chat:      &tgbotapi.Chat{ID: from},
		Text:      text,
	}})
}

func (h *harness) command(from int64, text string) {
	name, _, _ := strings.Cut(text, " ")
	h.dispatch(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: from},
		Chat:      &tgbotapi.Chat{ID: from},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}})
}

func (h *harness) callback(from int64, data string) {
	h.dispatch(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: from},
		Message: &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: from}},
		Data:    data,
	}})
}

func (h *harness) mode(t *testing.T, user int64) dialogue.Mode {
	t.Helper()
	st, err := h.dialogue.Current(context.Background(), user)
	require.NoError(t, err)
	return st.Mode
}

func TestStartSendsMainMenu(t *testing.T) {
	h := newHarness(t, config.ActivationAuto)
	h.command(userID, "/start")

	last := h.api.last(userID)
	assert.Equal(t, welcomeText, last.Text)
	assert.IsType(t, tgbotapi.ReplyKeyboardMarkup{}, last.ReplyMarkup)

	acc, err := h.accounts.Get(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, 0, acc.UsageCount)
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t, config.ActivationAuto)
	h.command(userID, "/nope")
	assert.Equal(t, "Неизвестная команда. Используйте /help.", h.api.last(userID).Text)
}

func TestQuoteUsesAllowanceUntilLimit(t *testing.T) {
	h := newHarness(t, config.ActivationAuto)

	h.text(userID, btnQuote)
	h.command(userID, "/quote")
	assert.Contains(t, h.api.texts(userID), "📝 Верь в себя")

	h.api.reset()
	h.text(userID, btnQuote)
	last := h.api.last(userID)
	assert.Equal(t, limitText, last.Text)
	assert.IsType(t, tgbotapi.ReplyKeyboardMarkup{}, last.ReplyMarkup)
	assert.NotContains(t, h.api.texts(userID), "📝 Верь в себя")

	acc, err := h.accounts.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 2, acc.UsageCount)
}

func TestAdminIsNeverLimited(t *testing.T) {
	h := newHarness(t, config.ActivationAuto)
	for i := 0; i < 5; i++ {
		h.text(adminID, btnQuote)
	}
	assert.NotContains(t, h.api.texts(adminID), limitText)

	acc, err := h.accounts.Get(context.Background(), adminID)
	require.NoError(t, err)
	assert.Equal(t, 0, acc.UsageCount)
}

func TestImagePromptFlow(t *testing.T) {
	h := newHarness(t, config.ActivationAuto)

	h.text(userID, btnImage)
	assert.Equal(t, imagePromptText, h.api.last(userID).Text)
	assert.Equal(t, dialogue.AwaitingImagePrompt, h.mode(t, userID))

	h.text(userID, "ab")
	assert.Equal(t, "❌ Промпт должен быть не короче 3 символов.", h.api.last(userID).Text)
	assert.Equal(t, dialogue.AwaitingImagePrompt, h.mode(t, userID))
	assert.Empty(t, h.api.photos(userID))

	h.text(userID, "дракон в пустыне")
	photos := h.api.photos(userID)
	require.Len(t, photos, 1)
	assert.Equal(t, imageResultControls(), photos[0].ReplyMarkup)
	assert.Equal(t, dialogue.Idle, h.mode(t, userID))

	history, err := h.accounts.Recent(context.Background(), userID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "дракон в пустыне", history[0].Prompt)
}

func TestImageCommandWithArguments(t *testing.T) {
	h := newHarness(t, config.ActivationAuto)
	h.command(userID, "/image кот в шляпе")
	assert.Len(t, h.api.photos(userID), 1)
	assert.Equal(t, dialogue.Idle, h.mode(t, userID))
}

func TestCancelLeavesImagePrompt(t *testing.T) {
	h := newHarness(t, config.ActivationAuto)
	h.text(userID, btnImage)

	h.command(userID, "/cancel")
	assert.Equal(t, "❌ Генерация отменена.", h.api.last(userID).Text)
	assert.Equal(t, dialogue.Idle, h.mode(t, userID))

	h.text(userID, "дракон")
	assert.Empty(t, h.api.photos(userID))
	assert.Equal(t, "Выберите действие из меню 👇", h.api.last(userID).Text)
}

func TestStopGenerationCallback(t *testing.T) {
	h := newHarness(t, config.ActivationAuto)
	h.text(userID, btnImage)

	h.callback(userID, cbStopGeneration)
	assert.Equal(t, "⏹ Генерация остановлена.", h.api.last(userID).Text)

	h.callback(userID, cbStopGeneration)
	assert.Equal(t, "ℹ️ Генерация уже завершена или неактивна.", h.api.last(userID).Text)
}

func TestAssistantDialogueStaysOpen(t *testing.T) {
	h := newHarness(t, config.ActivationAuto)
	h.assistant.answer = "Ответ"

	h.text(userID, btnAssistant)
	assert.Equal(t, dialogue.AwaitingDialogueTurn, h.mode(t, userID))

	h.text(userID, "Как дела?")
	assert.Equal(t, "Ответ", h.api.last(userID).Text)
	assert.Equal(t, dialogue.AwaitingDialogueTurn, h.mode(t, userID))

	h.text(userID, "?")
	assert.Equal(t, "❌ Введите более развернутый запрос.", h.api.last(userID).Text)
}

func TestExampleCallback(t *testing.T) {
	h := newHarness(t, config.ActivationAuto)
	ex := service.Examples()[0]

	h.callback(userID, ex.ID)
	assert.Equal(t, "Верь в себя", h.api.last(userID).Text)
	assert.Contains(t, h.assistant.asked, ex.Prompt)

	h.callback(userID, "no_such_example")
	assert.Contains(t, h.api.callbackAnswers(), "❌ Пример не найден")
}

func TestBuySendsPaymentLink(t *testing.T) {
	h := newHarness(t, config.ActivationAuto)
	h.command(userID, "/buy")

	last := h.api.last(userID)
	kb, ok := last.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.NotNil(t, kb.InlineKeyboard[0][0].URL)
	assert.Equal(t, "https://t.me/CryptoBot?start=inv-42", *kb.InlineKeyboard[0][0].URL)
}

func TestAdminCommandsAreGuarded(t *testing.T) {
	h := newHarness(t, config.ActivationAuto)

	h.command(userID, "/admin")
	assert.Equal(t, "❌ Доступ запрещён", h.api.last(userID).Text)
	h.text(userID, btnAdmin)
	assert.Equal(t, "❌ Доступ запрещён", h.api.last(userID).Text)

	h.callback(userID, cbBroadcast)
	assert.Contains(t, h.api.callbackAnswers(), "❌ Доступ запрещён")
	assert.Equal(t, dialogue.Idle, h.mode(t, userID))

	h.command(adminID, "/admin")
	last := h.api.last(adminID)
	assert.Equal(t, tgbotapi.ModeHTML, last.ParseMode)
	assert.Contains(t, last.Text, "<b>Всего:</b> 2")
	assert.Equal(t, adminKeyboard(), last.ReplyMarkup)
}

func TestBroadcastFromAdmin(t *testing.T) {
	h := newHarness(t, config.ActivationAuto)
	h.command(userID, "/start")
	h.command(43, "/start")
	h.api.reset()

	h.callback(adminID, cbBroadcast)
	assert.Equal(t, dialogue.AwaitingBroadcastContent, h.mode(t, adminID))

	h.text(adminID, "Новости недели")
	assert.Contains(t, h.api.texts(userID), "Новости недели")
	assert.Contains(t, h.api.texts(43), "Новости недели")
	assert.Contains(t, h.api.last(adminID).Text, "📬 Успешно: 3")
	assert.Equal(t, dialogue.Idle, h.mode(t, adminID))
}

func TestBroadcastToSubscribersOnly(t *testing.T) {
	h := newHarness(t, config.ActivationAuto)
	h.command(userID, "/start")
	h.command(43, "/start")
	h.command(adminID, "/activate 43")
	h.api.reset()

	h.callback(adminID, cbBroadcastSubs)
	h.text(adminID, "Только для своих")
	assert.NotContains(t, h.api.texts(userID), "Только для своих")
	assert.Contains(t, h.api.texts(43), "Только для своих")
}

func TestActivateCommand(t *testing.T) {
	h := newHarness(t, config.ActivationAuto)

	h.command(adminID, "/activate 42 7")
	assert.Equal(t, "✅ Подписка пользователя 42 активна до 08.05.2024.", h.api.last(adminID).Text)
	assert.Equal(t, "🎁 Администратор активировал вам подписку до 08.05.2024.", h.api.last(userID).Text)

	h.command(adminID, "/activate abc")
	assert.Equal(t, "❌ Некорректный ID.", h.api.last(adminID).Text)
	h.command(adminID, "/activate")
	assert.Equal(t, "Формат: /activate <user_id> [дней]", h.api.last(adminID).Text)
}

func TestSearchUserShowsReport(t *testing.T) {
	h := newHarness(t, config.ActivationAuto)
	h.command(userID, "/start")

	h.callback(adminID, cbSearchUser)
	assert.Equal(t, dialogue.AwaitingAdminSearchID, h.mode(t, adminID))

	h.text(adminID, "42")
	last := h.api.last(adminID)
	assert.Contains(t, last.Text, "👤 Пользователь 42")
	assert.Equal(t, grantKeyboard("42"), last.ReplyMarkup)

	h.callback(adminID, cbGrantPrefix+"42")
	assert.Equal(t, "✅ Подписка пользователя 42 активна до 31.05.2024.", h.api.last(adminID).Text)

	h.callback(adminID, cbSearchUser)
	h.text(adminID, "777")
	assert.Equal(t, "🤷 Пользователь не найден.", h.api.last(adminID).Text)
}

func TestRequestConfirmationCarriesButton(t *testing.T) {
	h := newHarness(t, config.ActivationManual)
	require.NoError(t, h.bot.RequestConfirmation(context.Background(), adminID, "Оплата", "inv-9"))

	kb, ok := h.api.last(adminID).ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.NotNil(t, kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "confirm:inv-9", *kb.InlineKeyboard[0][0].CallbackData)
}

func TestManualConfirmationCallback(t *testing.T) {
	h := newHarness(t, config.ActivationManual)
	ctx := context.Background()

	result, err := h.payments.HandleWebhook(ctx, []byte(`{"status":"paid","payload":"42","invoice_id":"abc","amount":"1.00"}`), "")
	require.NoError(t, err)
	assert.Equal(t, service.WebhookPending, result)
	kb, ok := h.api.last(adminID).ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Equal(t, cbConfirmPrefix+"abc", *kb.InlineKeyboard[0][0].CallbackData)

	h.callback(userID, cbConfirmPrefix+"abc")
	assert.Contains(t, h.api.callbackAnswers(), "❌ Доступ запрещён")

	h.callback(adminID, cbConfirmPrefix+"abc")
	assert.Equal(t, "✅ Инвойс abc подтверждён, подписка до 31.05.2024.", h.api.last(adminID).Text)
	assert.Equal(t, "✅ Оплата получена! Подписка активна до 31.05.2024.", h.api.last(userID).Text)

	h.callback(adminID, cbConfirmPrefix+"abc")
	assert.Equal(t, "ℹ️ Инвойс уже активирован.", h.api.last(adminID).Text)

	h.callback(adminID, cbConfirmPrefix+"missing")
	assert.Equal(t, "❌ Инвойс не найден.", h.api.last(adminID).Text)
}

func TestDeliverPicksContentKind(t *testing.T) {
	h := newHarness(t, config.ActivationAuto)
	ctx := context.Background()

	require.NoError(t, h.bot.Deliver(ctx, userID, service.BroadcastContent{PhotoFileID: "photo-1", Caption: "подпись"}))
	photos := h.api.photos(userID)
	require.Len(t, photos, 1)
	assert.Equal(t, "подпись", photos[0].Caption)

	require.NoError(t, h.bot.Deliver(ctx, userID, service.BroadcastContent{Text: "текст"}))
	assert.Equal(t, "текст", h.api.last(userID).Text)

	assert.ErrorIs(t, h.bot.Deliver(ctx, userID, service.BroadcastContent{}), service.ErrEmptyBroadcast)
}

func TestProfileShowsRemainingAndHistory(t *testing.T) {
	h := newHarness(t, config.ActivationAuto)
	h.text(userID, btnQuote)
	h.api.reset()

	h.text(userID, btnProfile)
	texts := h.api.texts(userID)
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "📊 Генераций: 1")
	assert.Contains(t, texts[0], "🎁 Бесплатных запросов осталось: 1")
	assert.Contains(t, texts[1], "[text] вдохновляющая цитата (2024-05-01)")
}
