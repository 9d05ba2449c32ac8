package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGAssistantBot/internal/dialogue"
	"github.com/digkill/TGAssistantBot/internal/service"
)

const adminUsersPage = 20

func (b *Bot) handleAdminPanel(ctx context.Context, msg *tgbotapi.Message) {
	b.admin.Audit(msg.From.ID, "Открыл админку /admin")
	b.log.Info("admin panel requested", "user_id", msg.From.ID)

	stats, err := b.admin.Stats(ctx)
	if err != nil {
		b.log.Error("admin stats", "err", err)
		b.sendText(msg.Chat.ID, "❌ Не удалось получить статистику.")
		return
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, formatStats(stats))
	out.ParseMode = tgbotapi.ModeHTML
	out.ReplyMarkup = adminKeyboard()
	if _, err := b.api.Send(out); err != nil {
		b.log.Error("send admin panel", "err", err)
	}
}

func (b *Bot) logCommand(name, audit string) messageHandler {
	return func(_ context.Context, msg *tgbotapi.Message) {
		b.admin.Audit(msg.From.ID, audit)
		b.sendLog(msg.Chat.ID, name)
	}
}

func (b *Bot) logCallback(name, audit string) callbackHandler {
	return func(_ context.Context, cb *tgbotapi.CallbackQuery) {
		b.admin.Audit(cb.From.ID, audit)
		b.sendLog(cb.Message.Chat.ID, name)
	}
}

func (b *Bot) sendLog(chatID int64, name string) {
	lines, err := b.admin.Logs(name, service.LogTailLines)
	if err != nil {
		b.log.Error("read log", "name", name, "err", err)
		b.sendText(chatID, "❌ Не удалось прочитать лог.")
		return
	}
	if len(lines) == 0 {
		b.sendText(chatID, "📜 Лог-файл пуст.")
		return
	}
	b.sendHTML(chatID, formatLog(lines))
}

func (b *Bot) handleClearLogs(_ context.Context, cb *tgbotapi.CallbackQuery) {
	if err := b.admin.ClearLogs(cb.From.ID); err != nil {
		b.log.Error("clear logs", "err", err)
		b.sendText(cb.Message.Chat.ID, "❌ Не удалось очистить логи.")
		return
	}
	b.sendText(cb.Message.Chat.ID, "🧹 Логи очищены")
}

func (b *Bot) handleUsers(ctx context.Context, msg *tgbotapi.Message) {
	accounts, err := b.admin.Accounts(ctx, adminUsersPage, 0)
	if err != nil {
		b.log.Error("list accounts", "err", err)
		b.sendText(msg.Chat.ID, "❌ Не удалось получить список пользователей.")
		return
	}
	b.admin.Audit(msg.From.ID, "Просмотрел /users")
	b.sendText(msg.Chat.ID, formatAccounts(accounts, b.accounts.Today()))
}

// handleActivate grants a subscription: /activate <user_id> [days].
func (b *Bot) handleActivate(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) == 0 || len(args) > 2 {
		b.sendText(msg.Chat.ID, "Формат: /activate <user_id> [дней]")
		return
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || userID <= 0 {
		b.sendText(msg.Chat.ID, "❌ Некорректный ID.")
		return
	}
	days := 0
	if len(args) == 2 {
		days, err = strconv.Atoi(args[1])
		if err != nil || days <= 0 {
			b.sendText(msg.Chat.ID, "❌ Некорректное количество дней.")
			return
		}
	}
	b.grant(ctx, msg.Chat.ID, msg.From.ID, userID, days)
}

func (b *Bot) handleGrantCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	userID, err := strconv.ParseInt(strings.TrimPrefix(cb.Data, cbGrantPrefix), 10, 64)
	if err != nil || userID <= 0 {
		b.sendText(cb.Message.Chat.ID, "❌ Некорректный ID.")
		return
	}
	b.grant(ctx, cb.Message.Chat.ID, cb.From.ID, userID, 0)
}

func (b *Bot) grant(ctx context.Context, chatID, adminID, userID int64, days int) {
	expires, err := b.admin.Grant(ctx, adminID, userID, days)
	if err != nil {
		b.log.Error("grant subscription", "user_id", userID, "err", err)
		b.sendText(chatID, "❌ Не удалось активировать подписку.")
		return
	}
	b.sendText(chatID, fmt.Sprintf("✅ Подписка пользователя %d активна до %s.", userID, expires.Format(displayDate)))
}

func (b *Bot) handleConfirmInvoice(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	invoiceID := strings.TrimPrefix(cb.Data, cbConfirmPrefix)
	chatID := cb.Message.Chat.ID

	activated, expires, err := b.payments.ConfirmInvoice(ctx, invoiceID)
	switch {
	case errors.Is(err, service.ErrInvoiceNotFound):
		b.sendText(chatID, "❌ Инвойс не найден.")
	case errors.Is(err, service.ErrInvoiceNotPaid):
		b.sendText(chatID, "⏳ Инвойс ещё не оплачен.")
	case err != nil:
		b.log.Error("confirm invoice", "invoice_id", invoiceID, "err", err)
		b.sendText(chatID, "❌ Не удалось активировать подписку.")
	case !activated:
		b.sendText(chatID, "ℹ️ Инвойс уже активирован.")
	default:
		b.admin.Audit(cb.From.ID, "Подтвердил оплату "+invoiceID)
		b.sendText(chatID, fmt.Sprintf("✅ Инвойс %s подтверждён, подписка до %s.", invoiceID, expires.Format(displayDate)))
	}
}

func (b *Bot) handlePendingInvoices(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	invoices, err := b.payments.PendingInvoices(ctx)
	if err != nil {
		b.log.Error("pending invoices", "err", err)
		b.sendText(cb.Message.Chat.ID, "❌ Не удалось получить список оплат.")
		return
	}
	b.sendText(cb.Message.Chat.ID, formatInvoices(invoices))
	for _, inv := range invoices {
		text := fmt.Sprintf("💳 %s · пользователь %d", inv.InvoiceID, inv.UserID)
		_, _ = b.sendWithMarkup(cb.Message.Chat.ID, text, confirmKeyboard(inv.InvoiceID))
	}
}

func (b *Bot) startBroadcast(subscribedOnly bool) callbackHandler {
	return func(ctx context.Context, cb *tgbotapi.CallbackQuery) {
		if _, err := b.dialogue.Enter(ctx, cb.From.ID, dialogue.AwaitingBroadcastContent, dialogue.WithSubscribedOnly(subscribedOnly)); err != nil {
			b.log.Error("enter broadcast", "err", err)
			return
		}
		audience := "всем пользователям"
		if subscribedOnly {
			audience = "подписчикам"
		}
		b.sendText(cb.Message.Chat.ID, fmt.Sprintf("📢 Рассылка %s. Введите сообщение или прикрепите файл/изображение (или /cancel):", audience))
	}
}

func (b *Bot) handleBroadcastContent(ctx context.Context, msg *tgbotapi.Message) {
	if !b.accounts.IsAdmin(msg.From.ID) {
		return
	}
	st, ok, err := b.dialogue.Consume(ctx, msg.From.ID, dialogue.AwaitingBroadcastContent)
	if err != nil || !ok {
		if err != nil {
			b.log.Error("consume broadcast state", "err", err)
		}
		return
	}

	content := broadcastContent(msg)
	if content.Empty() {
		b.sendMenu(msg.Chat.ID, "⚠️ Пустое сообщение, рассылка отменена.")
		return
	}
	b.sendText(msg.Chat.ID, "📤 Рассылка началась...")
	tally, err := b.broadcasts.Broadcast(ctx, b, content, st.SubscribedOnly)
	if err != nil {
		b.log.Error("broadcast", "err", err)
	}
	b.admin.Audit(msg.From.ID, fmt.Sprintf("Выполнил рассылку. Успешно: %d, Ошибок: %d", tally.Sent, tally.Failed))
	b.sendMenu(msg.Chat.ID, fmt.Sprintf("✅ Рассылка завершена.\n\n📬 Успешно: %d\n❌ Ошибок: %d", tally.Sent, tally.Failed))
}

func broadcastContent(msg *tgbotapi.Message) service.BroadcastContent {
	switch {
	case len(msg.Photo) > 0:
		return service.BroadcastContent{PhotoFileID: msg.Photo[len(msg.Photo)-1].FileID, Caption: msg.Caption}
	case msg.Document != nil:
		return service.BroadcastContent{DocumentFileID: msg.Document.FileID, Caption: msg.Caption}
	default:
		return service.BroadcastContent{Text: msg.Text}
	}
}

func (b *Bot) handleSearchUser(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.dialogue.Enter(ctx, cb.From.ID, dialogue.AwaitingAdminSearchID); err != nil {
		b.log.Error("enter user search", "err", err)
		return
	}
	b.sendText(cb.Message.Chat.ID, "🔎 Введите ID пользователя:")
}

func (b *Bot) handleSearchReply(ctx context.Context, msg *tgbotapi.Message) {
	if !b.accounts.IsAdmin(msg.From.ID) {
		return
	}
	if _, ok, err := b.dialogue.Consume(ctx, msg.From.ID, dialogue.AwaitingAdminSearchID); err != nil || !ok {
		if err != nil {
			b.log.Error("consume search state", "err", err)
		}
		return
	}
	raw := strings.TrimSpace(msg.Text)
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		b.sendText(msg.Chat.ID, "❌ Некорректный ID.")
		return
	}

	report, err := b.admin.Report(ctx, userID)
	switch {
	case errors.Is(err, service.ErrAccountNotFound):
		b.sendText(msg.Chat.ID, "🤷 Пользователь не найден.")
		return
	case err != nil:
		b.log.Error("user report", "user_id", userID, "err", err)
		b.sendText(msg.Chat.ID, "❌ Не удалось загрузить пользователя.")
		return
	}
	b.admin.Audit(msg.From.ID, "Искал пользователя "+raw)
	_, _ = b.sendWithMarkup(msg.Chat.ID, formatReport(report), grantKeyboard(raw))
}
