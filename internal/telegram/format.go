package telegram

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/digkill/TGAssistantBot/internal/models"
	"github.com/digkill/TGAssistantBot/internal/service"
)

const (
	maxMessageLen    = 4000
	historyPromptLen = 40
	displayDate      = "02.01.2006"
)

func formatProfile(acc *models.Account, today time.Time, limit int) string {
	var status string
	switch {
	case acc.IsAdmin:
		status = "🟢 Администратор, доступ всегда активен"
	case service.IsSubscribed(acc, today):
		status = "🟢 Активна до " + acc.SubscriptionExpires.Format(displayDate)
	default:
		status = "🔴 Нет подписки"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🧓️ Ваш ID: %d\n", acc.UserID)
	fmt.Fprintf(&b, "📊 Генераций: %d\n", acc.UsageCount)
	fmt.Fprintf(&b, "💼 Подписка: %s", status)
	if left := service.RemainingFree(acc, today, limit); left >= 0 {
		fmt.Fprintf(&b, "\n🎁 Бесплатных запросов осталось: %d", left)
	}
	return b.String()
}

// formatHistory renders the newest-first history as one line per entry.
func formatHistory(entries []models.HistoryEntry) string {
	if len(entries) == 0 {
		return "📜 История пуста"
	}
	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, "🕒 Последние действия:")
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("[%s] %s (%s)", e.Type, truncateRunes(strings.TrimSpace(e.Prompt), historyPromptLen), models.FormatDate(e.CreatedAt)))
	}
	return capMessage(strings.Join(lines, "\n"))
}

func formatStats(s models.Stats) string {
	return fmt.Sprintf("📊 <b>Админка:</b>\n<b>Подписок активно:</b> %d\n\n<b>Всего:</b> %d\n<b>Сегодня:</b> %d\n<b>Неделя:</b> %d\n<b>Месяц:</b> %d\n<b>Год:</b> %d",
		s.Subscribed, s.Total, s.Today, s.Week, s.Month, s.Year)
}

// formatLog wraps log lines in a code block, dropping the oldest lines until
// the message fits.
func formatLog(lines []string) string {
	for len(lines) > 0 {
		out := "<code>" + html.EscapeString(strings.Join(lines, "\n")) + "</code>"
		if utf8.RuneCountInString(out) <= maxMessageLen {
			return out
		}
		lines = lines[1:]
	}
	return "📜 Лог-файл пуст."
}

func formatAccounts(accounts []models.Account, today time.Time) string {
	if len(accounts) == 0 {
		return "👥 Пользователей пока нет."
	}
	lines := []string{"👥 Последние пользователи:"}
	for _, a := range accounts {
		mark := "🔴"
		if service.IsSubscribed(&a, today) {
			mark = "🟢"
		}
		lines = append(lines, fmt.Sprintf("%s %d · генераций: %d · с %s", mark, a.UserID, a.UsageCount, a.JoinedAt.Format(displayDate)))
	}
	return capMessage(strings.Join(lines, "\n"))
}

func formatReport(r *service.UserReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👤 Пользователь %d\n", r.Account.UserID)
	fmt.Fprintf(&b, "📅 С нами с %s\n", r.Account.JoinedAt.Format(displayDate))
	fmt.Fprintf(&b, "📊 Генераций: %d\n", r.Account.UsageCount)
	switch {
	case r.Account.IsAdmin:
		b.WriteString("💼 Администратор")
	case r.Active:
		fmt.Fprintf(&b, "💼 Подписка до %s", r.Account.SubscriptionExpires.Format(displayDate))
	default:
		b.WriteString("💼 Нет подписки")
	}
	if len(r.Payments) > 0 {
		b.WriteString("\n\n💰 Оплаты:")
		for _, p := range r.Payments {
			fmt.Fprintf(&b, "\n%s · %s · %s", p.Timestamp.Format(displayDate), p.InvoiceID, p.Amount)
		}
	}
	b.WriteString("\n\n")
	b.WriteString(formatHistory(r.History))
	return capMessage(b.String())
}

func formatInvoices(invoices []models.Invoice) string {
	if len(invoices) == 0 {
		return "💳 Нет оплат, ожидающих подтверждения."
	}
	lines := []string{"💳 Ожидают подтверждения:"}
	for _, inv := range invoices {
		lines = append(lines, fmt.Sprintf("%s · пользователь %d · %s %s", inv.InvoiceID, inv.UserID, inv.Amount, inv.Asset))
	}
	return capMessage(strings.Join(lines, "\n"))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func capMessage(s string) string {
	if utf8.RuneCountInString(s) <= maxMessageLen {
		return s
	}
	return string([]rune(s)[:maxMessageLen-10]) + "\n... (обрезано)"
}
