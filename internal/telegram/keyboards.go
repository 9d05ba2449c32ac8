package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGAssistantBot/internal/service"
)

// Reply keyboard texts. They are matched literally against incoming messages.
const (
	btnQuote     = "✍️ Цитаты дня"
	btnImage     = "🎨Создать изображение"
	btnAssistant = "🌌 Gemini AI"
	btnExamples  = "🌠 Gemini Примеры"
	btnProfile   = "👤 Профиль"
	btnBuy       = "💰 Купить подписку"
	btnHelp      = "📚 Как пользоваться?"
	btnAdmin     = "⚙️ Админка"
)

// Callback data.
const (
	cbStopGeneration  = "stop_generation"
	cbStopAssistant   = "stop_assistant"
	cbBackToMenu      = "back_to_menu"
	cbGenerateAnother = "generate_another"
	cbNewQuery        = "new_query"
	cbRandomExample   = "random_example"
	cbViewLogs        = "view_logs"
	cbViewErrors      = "view_errors"
	cbViewAdminLog    = "view_admin_log"
	cbClearLogs       = "clear_logs"
	cbBroadcast       = "start_broadcast"
	cbBroadcastSubs   = "start_broadcast_subscribed"
	cbSearchUser      = "search_user"
	cbPendingInvoices = "pending_invoices"
	cbGrantPrefix     = "grant:"
	cbConfirmPrefix   = "confirm:"
)

// menuButtons are ignored while a prompt is awaited so that a stray keyboard
// press is never taken as the prompt itself.
var menuButtons = map[string]bool{
	btnQuote:     true,
	btnImage:     true,
	btnAssistant: true,
	btnExamples:  true,
}

func mainMenu() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnQuote), tgbotapi.NewKeyboardButton(btnImage)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnAssistant), tgbotapi.NewKeyboardButton(btnExamples)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnProfile), tgbotapi.NewKeyboardButton(btnBuy)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnHelp), tgbotapi.NewKeyboardButton(btnAdmin)),
	)
	kb.ResizeKeyboard = true
	return kb
}

func generationControls() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("⏹ Остановить", cbStopGeneration)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔙 Назад", cbBackToMenu)),
	)
}

func assistantControls() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("⏹ Остановить", cbStopAssistant)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔙 Назад", cbBackToMenu)),
	)
}

func imageResultControls() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🎨 Ещё одно изображение", cbGenerateAnother)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔙 Назад", cbBackToMenu)),
	)
}

// examplesKeyboard lays the examples out two per row, followed by the
// random/custom/stop controls.
func examplesKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	examples := service.Examples()
	for i := 0; i < len(examples); i += 2 {
		row := tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(examples[i].Title, examples[i].ID))
		if i+1 < len(examples) {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(examples[i+1].Title, examples[i+1].ID))
		}
		rows = append(rows, row)
	}
	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🌹 Случайный", cbRandomExample)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("➕ Свой запрос", cbNewQuery)),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⏹ Остановить", cbStopAssistant),
			tgbotapi.NewInlineKeyboardButtonData("🔙 Назад", cbBackToMenu),
		),
	)
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func payKeyboard(label, url string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(label, url)),
	)
}

func adminKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📜 Логи", cbViewLogs),
			tgbotapi.NewInlineKeyboardButtonData("❗️ Ошибки", cbViewErrors),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📄 Admin лог", cbViewAdminLog),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Очистить логи", cbClearLogs),
		),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📢 Рассылка всем", cbBroadcast)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💎 Рассылка подписчикам", cbBroadcastSubs)),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔎 Найти пользователя", cbSearchUser),
			tgbotapi.NewInlineKeyboardButtonData("💳 Ожидают оплаты", cbPendingInvoices),
		),
	)
}

func grantKeyboard(userID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🎁 Выдать подписку", cbGrantPrefix+userID)),
	)
}

func confirmKeyboard(invoiceID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✅ Активировать", cbConfirmPrefix+invoiceID)),
	)
}
