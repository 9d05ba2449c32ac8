package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/digkill/TGAssistantBot/internal/ai"
	"github.com/digkill/TGAssistantBot/internal/journal"
	"github.com/digkill/TGAssistantBot/internal/models"
)

var (
	ErrPromptTooShort = errors.New("prompt too short")
	ErrUnknownExample = errors.New("unknown example")
)

const (
	quotePrompt        = "Напиши вдохновляющую цитату"
	quoteHistoryPrompt = "вдохновляющая цитата"
	quoteMaxTokens     = 100

	minImagePromptLen    = 3
	minDialoguePromptLen = 2
)

// Assistant is the AI backend used by the generation service.
type Assistant interface {
	Ask(ctx context.Context, prompt string, maxTokens int) (string, error)
	GenerateImage(ctx context.Context, prompt string) (*ai.Image, error)
	Download(ctx context.Context, img *ai.Image) error
}

// ImageArchive keeps a durable copy of generated images.
type ImageArchive interface {
	Store(ctx context.Context, userID int64, data []byte, contentType string) (string, error)
}

// GenerationService runs every AI request through the meter. Each deliver
// callback is part of the metered action: when it fails, no usage is recorded.
type GenerationService struct {
	meter    *Meter
	ai       Assistant
	archive  ImageArchive
	journals *journal.Store
	log      *slog.Logger
}

func NewGenerationService(meter *Meter, assistant Assistant, archive ImageArchive, journals *journal.Store, log *slog.Logger) *GenerationService {
	if log == nil {
		log = slog.Default()
	}
	return &GenerationService{
		meter:    meter,
		ai:       assistant,
		archive:  archive,
		journals: journals,
		log:      log,
	}
}

// Quote generates an inspirational quote.
func (s *GenerationService) Quote(ctx context.Context, userID int64, deliver func(text string) error) error {
	return s.meter.Run(ctx, userID, models.HistoryText, quoteHistoryPrompt, func(ctx context.Context) error {
		text, err := s.ai.Ask(ctx, quotePrompt, quoteMaxTokens)
		if err != nil {
			return fmt.Errorf("generate quote: %w", err)
		}
		if err := call(deliver, text); err != nil {
			return err
		}
		s.appendQuote(userID, text)
		return nil
	})
}

// Image generates a picture for prompt and hands the downloaded bytes to deliver.
func (s *GenerationService) Image(ctx context.Context, userID int64, prompt string, deliver func(img *ai.Image) error) error {
	prompt = strings.TrimSpace(prompt)
	if err := ValidateImagePrompt(prompt); err != nil {
		return err
	}
	return s.meter.Run(ctx, userID, models.HistoryImage, prompt, func(ctx context.Context) error {
		img, err := s.ai.GenerateImage(ctx, prompt)
		if err != nil {
			return fmt.Errorf("generate image: %w", err)
		}
		if err := s.ai.Download(ctx, img); err != nil {
			return err
		}
		if err := call(deliver, img); err != nil {
			return err
		}
		s.appendImage(ctx, userID, prompt, img)
		return nil
	})
}

// Dialogue answers one free-form turn of the assistant conversation.
func (s *GenerationService) Dialogue(ctx context.Context, userID int64, prompt string, deliver func(text string) error) error {
	prompt = strings.TrimSpace(prompt)
	if err := ValidateDialoguePrompt(prompt); err != nil {
		return err
	}
	return s.meter.Run(ctx, userID, models.HistoryGemini, prompt, func(ctx context.Context) error {
		text, err := s.ai.Ask(ctx, prompt, 0)
		if err != nil {
			return fmt.Errorf("dialogue turn: %w", err)
		}
		return call(deliver, text)
	})
}

// Example answers a prompt from the examples menu.
func (s *GenerationService) Example(ctx context.Context, userID int64, exampleID string, deliver func(ex Example, text string) error) error {
	ex, ok := LookupExample(exampleID)
	if !ok {
		return ErrUnknownExample
	}
	return s.meter.Run(ctx, userID, models.HistoryExample, ex.Prompt, func(ctx context.Context) error {
		text, err := s.ai.Ask(ctx, ex.Prompt, 0)
		if err != nil {
			return fmt.Errorf("example %s: %w", ex.ID, err)
		}
		if deliver != nil {
			if err := deliver(ex, text); err != nil {
				return err
			}
		}
		s.logAction(userID, "example", ex.ID+" – "+ex.Prompt)
		return nil
	})
}

// ValidateImagePrompt rejects image prompts shorter than three characters.
func ValidateImagePrompt(prompt string) error {
	return validatePrompt(prompt, minImagePromptLen)
}

func ValidateDialoguePrompt(prompt string) error {
	return validatePrompt(prompt, minDialoguePromptLen)
}

func validatePrompt(prompt string, minLen int) error {
	if utf8.RuneCountInString(strings.TrimSpace(prompt)) < minLen {
		return ErrPromptTooShort
	}
	return nil
}

// CheckAllowance reports ErrLimitExceeded before a user starts a metered flow.
func (s *GenerationService) CheckAllowance(ctx context.Context, userID int64) error {
	_, err := s.meter.Check(ctx, userID)
	return err
}

func (s *GenerationService) appendQuote(userID int64, text string) {
	if s.journals == nil {
		return
	}
	if err := s.journals.Quotes.Append(models.QuoteRecord{UserID: userID, Quote: text, Timestamp: s.meter.accounts.Now()}); err != nil {
		s.log.Warn("journal quote", "user_id", userID, "err", err)
	}
}

func (s *GenerationService) appendImage(ctx context.Context, userID int64, prompt string, img *ai.Image) {
	url := img.URL
	if s.archive != nil {
		archived, err := s.archive.Store(ctx, userID, img.Bytes, img.Mime)
		if err != nil {
			s.log.Warn("archive image", "user_id", userID, "err", err)
		} else {
			url = archived
		}
	}
	if s.journals == nil {
		return
	}
	if err := s.journals.Images.Append(models.ImageRecord{UserID: userID, Prompt: prompt, ImageURL: url, Timestamp: s.meter.accounts.Now()}); err != nil {
		s.log.Warn("journal image", "user_id", userID, "err", err)
	}
}

func (s *GenerationService) logAction(userID int64, action, details string) {
	if s.journals == nil {
		return
	}
	if err := s.journals.Actions.Append(models.ActionLog{UserID: userID, Action: action, Details: details, Timestamp: s.meter.accounts.Now()}); err != nil {
		s.log.Warn("journal action", "user_id", userID, "err", err)
	}
}

func call[T any](deliver func(T) error, v T) error {
	if deliver == nil {
		return nil
	}
	return deliver(v)
}
