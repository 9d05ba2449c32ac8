package journal

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/TGAssistantBot/internal/models"
)

func TestAppendAndReadBack(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Payments.Append(models.PaymentRecord{UserID: 42, InvoiceID: "abc", Amount: "1.00", Timestamp: ts}))
	require.NoError(t, store.Payments.Append(models.PaymentRecord{UserID: 7, InvoiceID: "def", Amount: "1.00", Timestamp: ts}))

	all, err := store.Payments.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "abc", all[0].InvoiceID)

	mine, err := store.PaymentsFor(42)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.True(t, ts.Equal(mine[0].Timestamp))
}

func TestMissingFileIsEmpty(t *testing.T) {
	j := New[models.QuoteRecord](filepath.Join(t.TempDir(), QuotesFile), nil)
	records, err := j.All()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCorruptFileStartsOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), LogsFile)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	j := New[models.ActionLog](path, nil)
	require.NoError(t, j.Append(models.ActionLog{UserID: 1, Action: "start"}))

	records, err := j.All()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "start", records[0].Action)
}

func TestConcurrentAppends(t *testing.T) {
	j := New[models.ImageRecord](filepath.Join(t.TempDir(), "nested", ImagesFile), nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			assert.NoError(t, j.Append(models.ImageRecord{UserID: id, Prompt: "cat"}))
		}(int64(i))
	}
	wg.Wait()

	records, err := j.All()
	require.NoError(t, err)
	assert.Len(t, records, 20)
}
