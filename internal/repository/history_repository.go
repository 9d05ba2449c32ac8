package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/digkill/TGAssistantBot/internal/models"
)

// HistoryRepository is the append-only usage ledger.
type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Record(ctx context.Context, userID int64, kind models.HistoryType, prompt string, at time.Time) error {
	const query = `INSERT INTO history (user_id, type, prompt, created_at) VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, userID, string(kind), prompt, at); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for the user, newest first.
func (r *HistoryRepository) Recent(ctx context.Context, userID int64, limit int) ([]models.HistoryEntry, error) {
	const query = `
SELECT id, user_id, type, prompt, created_at FROM history
WHERE user_id = ?
ORDER BY id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var (
			e    models.HistoryEntry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &e.Prompt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Type = models.HistoryType(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *HistoryRepository) CountForUser(ctx context.Context, userID int64) (int, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history WHERE user_id = ?`, userID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return count, nil
}
