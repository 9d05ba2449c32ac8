// Package journal keeps append-only JSON arrays on disk for payments, action
// logs and generated content.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/digkill/TGAssistantBot/internal/models"
)

const (
	PaymentsFile = "payments.json"
	LogsFile     = "logs.json"
	QuotesFile   = "quotes.json"
	ImagesFile   = "images.json"
)

// Journal is a JSON array file that only ever grows.
type Journal[T any] struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

func New[T any](path string, logger *slog.Logger) *Journal[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal[T]{path: path, logger: logger}
}

func (j *Journal[T]) Path() string {
	return j.path
}

// Append adds one record. A file that cannot be decoded is replaced by a
// fresh array holding only the new record.
func (j *Journal[T]) Append(record T) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.load()
	if err != nil {
		return err
	}
	records = append(records, record)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode journal %s: %w", j.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write journal %s: %w", j.path, err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return fmt.Errorf("replace journal %s: %w", j.path, err)
	}
	return nil
}

// All returns every record in insertion order.
func (j *Journal[T]) All() ([]T, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.load()
}

func (j *Journal[T]) load() ([]T, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal %s: %w", j.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		j.logger.Warn("journal corrupt, starting over", "path", j.path, "error", err)
		return nil, nil
	}
	return records, nil
}

// Store groups the journals kept under one data directory.
type Store struct {
	Payments *Journal[models.PaymentRecord]
	Actions  *Journal[models.ActionLog]
	Quotes   *Journal[models.QuoteRecord]
	Images   *Journal[models.ImageRecord]
}

func NewStore(dir string, logger *slog.Logger) *Store {
	return &Store{
		Payments: New[models.PaymentRecord](filepath.Join(dir, PaymentsFile), logger),
		Actions:  New[models.ActionLog](filepath.Join(dir, LogsFile), logger),
		Quotes:   New[models.QuoteRecord](filepath.Join(dir, QuotesFile), logger),
		Images:   New[models.ImageRecord](filepath.Join(dir, ImagesFile), logger),
	}
}

// PaymentsFor returns the payment records of one user.
func (s *Store) PaymentsFor(userID int64) ([]models.PaymentRecord, error) {
	all, err := s.Payments.All()
	if err != nil {
		return nil, err
	}
	var out []models.PaymentRecord
	for _, p := range all {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}
