package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGAssistantBot/internal/ai"
	"github.com/digkill/TGAssistantBot/internal/dialogue"
	"github.com/digkill/TGAssistantBot/internal/service"
)

const (
	welcomeText = "👋 Добро пожаловать! Выберите действие из меню:"
	helpText    = "📚 <b>Инструкция:</b>\n\n" +
		"1️⃣ Выберите режим: цитата дня, изображение или умный помощник.\n" +
		"2️⃣ Введите запрос, например: <i>«Нарисуй дракона в пустыне»</i> 🐉\n" +
		"3️⃣ Получите результат и сохраните его 📥\n\n" +
		"💡 Для диалога с помощником используйте 🌌 Gemini AI.\n" +
		"ℹ️ Бесплатно доступно %d запросов, подписка снимает ограничение.\n" +
		"❌ /cancel отменяет текущий режим."

	limitText        = "🔐 Лимит исчерпан. Купите подписку для продолжения."
	imagePromptText  = "🖼 Введите промпт для изображения (или /cancel для отмены):"
	imageExpiredText = "⌛️ Время истекло. Генерация отменена."
)

func (b *Bot) handleStart(_ context.Context, msg *tgbotapi.Message) {
	b.sendMenu(msg.Chat.ID, welcomeText)
}

func (b *Bot) handleHelp(_ context.Context, msg *tgbotapi.Message) {
	b.sendHTML(msg.Chat.ID, fmt.Sprintf(helpText, b.cfg.FreeUsesLimit))
}

func (b *Bot) handleProfile(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	acc, err := b.accounts.Get(ctx, userID)
	if err != nil || acc == nil {
		if err != nil {
			b.log.Error("load profile", "user_id", userID, "err", err)
		}
		b.sendText(msg.Chat.ID, "⚠️ Не удалось загрузить данные профиля.")
		return
	}
	b.sendText(msg.Chat.ID, formatProfile(acc, b.accounts.Today(), b.cfg.FreeUsesLimit))

	history, err := b.accounts.Recent(ctx, userID, service.ProfileHistoryLen)
	if err != nil {
		b.log.Error("load history", "user_id", userID, "err", err)
		return
	}
	b.sendText(msg.Chat.ID, formatHistory(history))
}

func (b *Bot) handleBuy(ctx context.Context, msg *tgbotapi.Message) {
	url, err := b.payments.CreateInvoice(ctx, msg.From.ID)
	if err != nil {
		b.sendText(msg.Chat.ID, "❌ Не удалось создать ссылку на оплату. Попробуйте позже.")
		return
	}
	label := fmt.Sprintf("Оплатить %s %s", b.cfg.CryptoPayAmount, b.cfg.CryptoPayAsset)
	text := fmt.Sprintf("💳 Для активации подписки на %d дней перейдите по ссылке и оплатите %s %s:",
		b.accounts.SubscriptionDays(), b.cfg.CryptoPayAmount, b.cfg.CryptoPayAsset)
	_, _ = b.sendWithMarkup(msg.Chat.ID, text, payKeyboard(label, url))
}

func (b *Bot) handleCancel(ctx context.Context, msg *tgbotapi.Message) {
	prev, err := b.dialogue.Cancel(ctx, msg.From.ID)
	if err != nil {
		b.log.Error("cancel dialogue", "user_id", msg.From.ID, "err", err)
	}
	switch prev {
	case dialogue.AwaitingBroadcastContent:
		b.sendMenu(msg.Chat.ID, "❌ Рассылка отменена.")
	case dialogue.Idle:
		b.sendMenu(msg.Chat.ID, "🛑 Режим остановлен. Вы в главном меню:")
	default:
		b.sendMenu(msg.Chat.ID, "❌ Генерация отменена.")
	}
}

func (b *Bot) handleQuote(ctx context.Context, msg *tgbotapi.Message) {
	b.resetDialogue(ctx, msg.From.ID)
	chatID := msg.Chat.ID
	_, _ = b.sendWithMarkup(chatID, "🔄 Генерация текста началась. Пожалуйста, подождите...", generationControls())

	err := b.generation.Quote(ctx, msg.From.ID, func(text string) error {
		_, err := b.api.Send(tgbotapi.NewMessage(chatID, "📝 "+text))
		return err
	})
	b.reportGenerationError(chatID, msg.From.ID, err, "❌ Ошибка генерации текста. Попробуйте позже.")
}

// handleImage opens the image prompt window. "/image <prompt>" generates right away.
func (b *Bot) handleImage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		if prompt := msg.CommandArguments(); prompt != "" {
			b.resetDialogue(ctx, msg.From.ID)
			b.generateImage(ctx, msg.Chat.ID, msg.From.ID, prompt)
			return
		}
	}
	b.openImagePrompt(ctx, msg.Chat.ID, msg.From.ID, imagePromptText)
}

func (b *Bot) openImagePrompt(ctx context.Context, chatID, userID int64, text string) {
	if err := b.generation.CheckAllowance(ctx, userID); err != nil {
		b.resetDialogue(ctx, userID)
		b.reportGenerationError(chatID, userID, err, "❌ Не удалось начать генерацию. Попробуйте позже.")
		return
	}

	prompt, err := b.sendWithMarkup(chatID, text, generationControls())
	if err != nil {
		return
	}
	messageID := prompt.MessageID
	_, err = b.dialogue.Enter(ctx, userID, dialogue.AwaitingImagePrompt, dialogue.WithTimeout(dialogue.Timeout{
		Window: b.cfg.ImagePromptTimeout,
		Tick:   imageTimerTick,
		OnTick: func(left time.Duration) {
			text := fmt.Sprintf("🖼 Введите промпт для изображения:\n\n⏳ Осталось %d секунд", int(left.Seconds()))
			edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, generationControls())
			if _, err := b.api.Send(edit); err != nil {
				b.log.Warn("update prompt timer", "chat_id", chatID, "err", err)
			}
		},
		OnExpire: func() {
			if _, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, imageExpiredText)); err != nil {
				b.log.Warn("expire prompt timer", "chat_id", chatID, "err", err)
			}
			b.sendMenu(chatID, "🔙 Вы в главном меню.")
		},
	}))
	if err != nil {
		b.log.Error("enter image prompt", "user_id", userID, "err", err)
	}
}

func (b *Bot) handleImagePrompt(ctx context.Context, msg *tgbotapi.Message) {
	text := msg.Text
	if text == "" || menuButtons[text] {
		return
	}
	if err := service.ValidateImagePrompt(text); err != nil {
		b.sendText(msg.Chat.ID, "❌ Промпт должен быть не короче 3 символов.")
		return
	}
	if _, ok, err := b.dialogue.Consume(ctx, msg.From.ID, dialogue.AwaitingImagePrompt); err != nil || !ok {
		if err != nil {
			b.log.Error("consume image prompt", "user_id", msg.From.ID, "err", err)
		}
		return
	}
	b.generateImage(ctx, msg.Chat.ID, msg.From.ID, text)
}

func (b *Bot) generateImage(ctx context.Context, chatID, userID int64, prompt string) {
	b.sendText(chatID, "🎨 Генерирую изображение...")
	err := b.generation.Image(ctx, userID, prompt, func(img *ai.Image) error {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "image.png", Bytes: img.Bytes})
		photo.ReplyMarkup = imageResultControls()
		_, err := b.api.Send(photo)
		return err
	})
	if errors.Is(err, service.ErrPromptTooShort) {
		b.sendText(chatID, "❌ Промпт должен быть не короче 3 символов.")
		return
	}
	b.reportGenerationError(chatID, userID, err, "❌ Не удалось получить изображение. Попробуйте позже.")
}

func (b *Bot) handleAssistant(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		if prompt := msg.CommandArguments(); prompt != "" {
			b.enterDialogue(ctx, msg.From.ID)
			b.dialogueTurn(ctx, msg.Chat.ID, msg.From.ID, prompt)
			return
		}
	}
	b.enterDialogue(ctx, msg.From.ID)
	_, _ = b.sendWithMarkup(msg.Chat.ID, "🌌 Добро пожаловать в режим Gemini! Напиши свой вопрос:", assistantControls())
}

func (b *Bot) handleExamples(ctx context.Context, msg *tgbotapi.Message) {
	b.enterDialogue(ctx, msg.From.ID)
	_, _ = b.sendWithMarkup(msg.Chat.ID, "🌠 Выберите пример или создайте свой промпт:", examplesKeyboard())
}

// handleDialogueTurn answers one message of the assistant mode. The mode stays
// active until the user leaves it.
func (b *Bot) handleDialogueTurn(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Text == "" || menuButtons[msg.Text] {
		return
	}
	b.dialogueTurn(ctx, msg.Chat.ID, msg.From.ID, msg.Text)
}

func (b *Bot) dialogueTurn(ctx context.Context, chatID, userID int64, prompt string) {
	if err := service.ValidateDialoguePrompt(prompt); err != nil {
		b.sendText(chatID, "❌ Введите более развернутый запрос.")
		return
	}
	b.sendText(chatID, "💭 Думаю...")
	err := b.generation.Dialogue(ctx, userID, prompt, func(text string) error {
		_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
		return err
	})
	b.reportGenerationError(chatID, userID, err, "❌ Ошибка при генерации ответа. Попробуйте позже.")
}

func (b *Bot) handleStopGeneration(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	b.stopMode(ctx, cb, dialogue.AwaitingImagePrompt, "⏹ Генерация остановлена.")
}

func (b *Bot) handleStopAssistant(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	b.stopMode(ctx, cb, dialogue.AwaitingDialogueTurn, "⏹ Диалог остановлен.")
}

func (b *Bot) stopMode(ctx context.Context, cb *tgbotapi.CallbackQuery, mode dialogue.Mode, stopped string) {
	defer b.answer(cb, "")
	prev, err := b.dialogue.Cancel(ctx, cb.From.ID)
	if err != nil {
		b.log.Error("cancel dialogue", "user_id", cb.From.ID, "err", err)
	}
	if prev == mode {
		b.sendMenu(cb.Message.Chat.ID, stopped)
		return
	}
	b.sendMenu(cb.Message.Chat.ID, "ℹ️ Генерация уже завершена или неактивна.")
}

func (b *Bot) handleBackToMenu(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	defer b.answer(cb, "")
	b.resetDialogue(ctx, cb.From.ID)
	b.sendMenu(cb.Message.Chat.ID, "🔙 Возврат в меню")
}

func (b *Bot) handleGenerateAnother(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	defer b.answer(cb, "")
	b.openImagePrompt(ctx, cb.Message.Chat.ID, cb.From.ID, "🖼 Введите новый промпт для изображения (или /cancel для отмены):")
}

func (b *Bot) handleNewQuery(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	defer b.answer(cb, "")
	if err := b.generation.CheckAllowance(ctx, cb.From.ID); err != nil {
		b.reportGenerationError(cb.Message.Chat.ID, cb.From.ID, err, "❌ Сервис временно недоступен.")
		return
	}
	b.enterDialogue(ctx, cb.From.ID)
	b.sendText(cb.Message.Chat.ID, "✏️ Введите свой вопрос или тему:")
}

func (b *Bot) handleRandomExample(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	b.runExample(ctx, cb, service.RandomExample().ID)
}

func (b *Bot) runExample(ctx context.Context, cb *tgbotapi.CallbackQuery, exampleID string) {
	b.answer(cb, "")
	chatID := cb.Message.Chat.ID
	if err := b.generation.CheckAllowance(ctx, cb.From.ID); err != nil {
		b.reportGenerationError(chatID, cb.From.ID, err, "❌ Сервис временно недоступен.")
		return
	}
	b.sendText(chatID, "💭 Думаю...")
	err := b.generation.Example(ctx, cb.From.ID, exampleID, func(_ service.Example, text string) error {
		_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
		return err
	})
	b.reportGenerationError(chatID, cb.From.ID, err, "❌ Ошибка при генерации ответа. Попробуйте позже.")
}

// reportGenerationError tells the user why a metered action did not happen.
// A nil err is a no-op.
func (b *Bot) reportGenerationError(chatID, userID int64, err error, fallback string) {
	switch {
	case err == nil:
	case errors.Is(err, service.ErrLimitExceeded):
		b.sendMenu(chatID, limitText)
	default:
		b.log.Error("generation failed", "user_id", userID, "err", err)
		b.sendText(chatID, fallback)
	}
}

func (b *Bot) enterDialogue(ctx context.Context, userID int64) {
	if _, err := b.dialogue.Enter(ctx, userID, dialogue.AwaitingDialogueTurn); err != nil {
		b.log.Error("enter dialogue", "user_id", userID, "err", err)
	}
}

func (b *Bot) resetDialogue(ctx context.Context, userID int64) {
	if _, err := b.dialogue.Cancel(ctx, userID); err != nil {
		b.log.Error("reset dialogue", "user_id", userID, "err", err)
	}
}
