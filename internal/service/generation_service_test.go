package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/TGAssistantBot/internal/ai"
	"github.com/digkill/TGAssistantBot/internal/models"
)

type fakeAssistant struct {
	answer  string
	err     error
	prompts []string
}

func (a *fakeAssistant) Ask(_ context.Context, prompt string, _ int) (string, error) {
	a.prompts = append(a.prompts, prompt)
	return a.answer, a.err
}

func (a *fakeAssistant) GenerateImage(_ context.Context, prompt string) (*ai.Image, error) {
	a.prompts = append(a.prompts, prompt)
	if a.err != nil {
		return nil, a.err
	}
	return &ai.Image{URL: "https://img.example/1.png"}, nil
}

func (a *fakeAssistant) Download(_ context.Context, img *ai.Image) error {
	img.Bytes = []byte("png")
	img.Mime = "image/png"
	return nil
}

type fakeArchive struct {
	stored int
}

func (a *fakeArchive) Store(_ context.Context, userID int64, data []byte, contentType string) (string, error) {
	a.stored++
	return "https://cdn.example/archived.png", nil
}

func newGenerationService(f *fixture, assistant *fakeAssistant, archive ImageArchive) *GenerationService {
	return NewGenerationService(f.meter, assistant, archive, f.journals, nil)
}

func TestQuoteDeliversAndJournals(t *testing.T) {
	f := newFixture(t)
	assistant := &fakeAssistant{answer: "Делай, что должен."}
	svc := newGenerationService(f, assistant, nil)
	ctx := context.Background()

	var got string
	err := svc.Quote(ctx, 42, func(text string) error { got = text; return nil })
	require.NoError(t, err)
	assert.Equal(t, "Делай, что должен.", got)
	assert.Equal(t, []string{quotePrompt}, assistant.prompts)

	quotes, err := f.journals.Quotes.All()
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, int64(42), quotes[0].UserID)

	history, err := f.accounts.Recent(ctx, 42, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.HistoryText, history[0].Type)
	assert.Equal(t, quoteHistoryPrompt, history[0].Prompt)
}

func TestFailedDeliveryIsNotCounted(t *testing.T) {
	f := newFixture(t)
	svc := newGenerationService(f, &fakeAssistant{answer: "ok"}, nil)
	ctx := context.Background()

	err := svc.Quote(ctx, 42, func(string) error { return errBoom })
	require.ErrorIs(t, err, errBoom)

	acc, _ := f.accounts.Get(ctx, 42)
	assert.Zero(t, acc.UsageCount)
	quotes, _ := f.journals.Quotes.All()
	assert.Empty(t, quotes)
}

func TestAssistantErrorIsNotCounted(t *testing.T) {
	f := newFixture(t)
	svc := newGenerationService(f, &fakeAssistant{err: ai.ErrEmptyResponse}, nil)
	ctx := context.Background()

	err := svc.Dialogue(ctx, 42, "привет", nil)
	require.ErrorIs(t, err, ai.ErrEmptyResponse)
	acc, _ := f.accounts.Get(ctx, 42)
	assert.Zero(t, acc.UsageCount)
}

func TestImagePromptValidation(t *testing.T) {
	f := newFixture(t)
	assistant := &fakeAssistant{}
	svc := newGenerationService(f, assistant, nil)

	err := svc.Image(context.Background(), 42, "  кт ", nil)
	require.ErrorIs(t, err, ErrPromptTooShort)
	assert.Empty(t, assistant.prompts)

	err = svc.Dialogue(context.Background(), 42, "a", nil)
	require.ErrorIs(t, err, ErrPromptTooShort)
}

func TestImageIsArchivedAndJournaled(t *testing.T) {
	f := newFixture(t)
	archive := &fakeArchive{}
	svc := newGenerationService(f, &fakeAssistant{}, archive)
	ctx := context.Background()

	var delivered *ai.Image
	err := svc.Image(ctx, 42, "кот в космосе", func(img *ai.Image) error { delivered = img; return nil })
	require.NoError(t, err)
	require.NotNil(t, delivered)
	assert.Equal(t, []byte("png"), delivered.Bytes)
	assert.Equal(t, 1, archive.stored)

	images, err := f.journals.Images.All()
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "кот в космосе", images[0].Prompt)
	assert.Equal(t, "https://cdn.example/archived.png", images[0].ImageURL)

	history, _ := f.accounts.Recent(ctx, 42, 10)
	require.Len(t, history, 1)
	assert.Equal(t, models.HistoryImage, history[0].Type)
}

func TestExample(t *testing.T) {
	f := newFixture(t)
	assistant := &fakeAssistant{answer: "Ответ"}
	svc := newGenerationService(f, assistant, nil)
	ctx := context.Background()

	err := svc.Example(ctx, 42, "nope", nil)
	require.ErrorIs(t, err, ErrUnknownExample)

	ex := Examples()[0]
	var title, answer string
	err = svc.Example(ctx, 42, ex.ID, func(got Example, text string) error {
		title, answer = got.Title, text
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ex.Title, title)
	assert.Equal(t, "Ответ", answer)
	assert.Equal(t, []string{ex.Prompt}, assistant.prompts)

	actions, _ := f.journals.Actions.All()
	require.Len(t, actions, 1)
	assert.Equal(t, "example", actions[0].Action)
}

func TestCheckAllowance(t *testing.T) {
	f := newFixture(t)
	svc := newGenerationService(f, &fakeAssistant{answer: "ok"}, nil)
	ctx := context.Background()

	for i := 0; i < f.cfg.FreeUsesLimit; i++ {
		require.NoError(t, svc.CheckAllowance(ctx, 42))
		require.NoError(t, svc.Quote(ctx, 42, nil))
	}
	require.ErrorIs(t, svc.CheckAllowance(ctx, 42), ErrLimitExceeded)
	require.NoError(t, svc.CheckAllowance(ctx, testAdminID))
}

func TestExamplesCatalog(t *testing.T) {
	examples := Examples()
	require.NotEmpty(t, examples)
	seen := map[string]bool{}
	for _, ex := range examples {
		assert.False(t, seen[ex.ID], ex.ID)
		seen[ex.ID] = true
		got, ok := LookupExample(ex.ID)
		require.True(t, ok)
		assert.Equal(t, ex, got)
	}
	_, ok := seen[RandomExample().ID]
	assert.True(t, ok)
}
