package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/TGAssistantBot/internal/database"
	"github.com/digkill/TGAssistantBot/internal/models"
)

type AccountRepository struct {
	db      *sql.DB
	dialect database.Dialect
	loc     *time.Location
}

func NewAccountRepository(db *sql.DB, dialect database.Dialect, loc *time.Location) *AccountRepository {
	if loc == nil {
		loc = time.Local
	}
	return &AccountRepository{db: db, dialect: dialect, loc: loc}
}

const accountColumns = `user_id, usage_count, subscribed, subscription_expires, joined_at, is_admin, reminded_for`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *AccountRepository) scan(row rowScanner) (*models.Account, error) {
	var (
		a          models.Account
		subscribed int
		isAdmin    int
		expires    sql.NullString
		joined     string
		reminded   sql.NullString
	)
	if err := row.Scan(&a.UserID, &a.UsageCount, &subscribed, &expires, &joined, &isAdmin, &reminded); err != nil {
		return nil, err
	}
	a.Subscribed = subscribed != 0
	a.IsAdmin = isAdmin != 0
	joinedAt, err := models.ParseDate(joined, r.loc)
	if err != nil {
		return nil, fmt.Errorf("parse joined_at %q: %w", joined, err)
	}
	a.JoinedAt = joinedAt
	if expires.Valid && expires.String != "" {
		t, err := models.ParseDate(expires.String, r.loc)
		if err != nil {
			return nil, fmt.Errorf("parse subscription_expires %q: %w", expires.String, err)
		}
		a.SubscriptionExpires = &t
	}
	if reminded.Valid && reminded.String != "" {
		t, err := models.ParseDate(reminded.String, r.loc)
		if err != nil {
			return nil, fmt.Errorf("parse reminded_for %q: %w", reminded.String, err)
		}
		a.RemindedFor = &t
	}
	return &a, nil
}

// FindByID returns nil without error when the account does not exist.
func (r *AccountRepository) FindByID(ctx context.Context, userID int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = ?`
	account, err := r.scan(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return account, nil
}

// Ensure inserts the account when absent and reports whether a row was created.
func (r *AccountRepository) Ensure(ctx context.Context, userID int64, isAdmin bool, today time.Time) (bool, error) {
	query := r.dialect.InsertIgnore() + ` INTO accounts (user_id, usage_count, subscribed, subscription_expires, joined_at, is_admin)
VALUES (?, 0, ?, NULL, ?, ?)`
	flag := boolInt(isAdmin)
	res, err := r.db.ExecContext(ctx, query, userID, flag, models.FormatDate(today), flag)
	if err != nil {
		return false, fmt.Errorf("insert account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("account rows affected: %w", err)
	}
	return affected > 0, nil
}

// EnsureAdmin creates the administrator row and moves the admin flag to adminID.
func (r *AccountRepository) EnsureAdmin(ctx context.Context, adminID int64, today time.Time) error {
	if _, err := r.Ensure(ctx, adminID, true, today); err != nil {
		return err
	}
	const query = `
UPDATE accounts
SET is_admin = CASE WHEN user_id = ? THEN 1 ELSE 0 END,
    subscribed = CASE WHEN user_id = ? THEN 1 ELSE subscribed END
WHERE is_admin = 1 OR user_id = ?`
	if _, err := r.db.ExecContext(ctx, query, adminID, adminID, adminID); err != nil {
		return fmt.Errorf("flag admin account: %w", err)
	}
	return nil
}

// IncrementUsage bumps the counter of a regular account; admin rows are untouched.
func (r *AccountRepository) IncrementUsage(ctx context.Context, userID int64) error {
	const query = `UPDATE accounts SET usage_count = usage_count + 1 WHERE user_id = ? AND is_admin = 0`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// ConsumeUsage increments the counter and appends the history entry in one transaction.
func (r *AccountRepository) ConsumeUsage(ctx context.Context, userID int64, kind models.HistoryType, prompt string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE accounts SET usage_count = usage_count + 1 WHERE user_id = ? AND is_admin = 0`, userID)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("usage rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("consume usage for %d: %w", userID, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO history (user_id, type, prompt, created_at) VALUES (?, ?, ?, ?)`, userID, string(kind), prompt, at); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit usage tx: %w", err)
	}
	return nil
}

// Activate marks the account subscribed until expires.
func (r *AccountRepository) Activate(ctx context.Context, userID int64, expires time.Time) error {
	const query = `UPDATE accounts SET subscribed = 1, subscription_expires = ? WHERE user_id = ?`
	res, err := r.db.ExecContext(ctx, query, models.FormatDate(expires), userID)
	if err != nil {
		return fmt.Errorf("activate subscription: %w", err)
	}
	return requireAffected(res, "activate subscription")
}

func (r *AccountRepository) Expire(ctx context.Context, userID int64) error {
	const query = `UPDATE accounts SET subscribed = 0, subscription_expires = NULL WHERE user_id = ? AND is_admin = 0`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("expire subscription: %w", err)
	}
	return nil
}

// ExpireDue clears every regular subscription whose expiry date is before
// today and returns the affected user ids. Each row is cleared by its own
// conditional update, so a concurrent renewal is never overwritten.
func (r *AccountRepository) ExpireDue(ctx context.Context, today time.Time) ([]int64, error) {
	const selectDue = `
SELECT user_id FROM accounts
WHERE subscribed = 1 AND is_admin = 0 AND subscription_expires IS NOT NULL AND subscription_expires < ?
ORDER BY user_id`
	day := models.FormatDate(today)
	candidates, err := r.queryIDs(ctx, selectDue, day)
	if err != nil {
		return nil, err
	}

	const expire = `
UPDATE accounts SET subscribed = 0, subscription_expires = NULL
WHERE user_id = ? AND subscribed = 1 AND is_admin = 0 AND subscription_expires < ?`
	var expired []int64
	for _, id := range candidates {
		res, err := r.db.ExecContext(ctx, expire, id, day)
		if err != nil {
			return expired, fmt.Errorf("expire subscription %d: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return expired, fmt.Errorf("expire rows affected: %w", err)
		}
		if affected > 0 {
			expired = append(expired, id)
		}
	}
	return expired, nil
}

// DueForReminder lists subscribed users whose subscription ends on date and
// who were not yet reminded about that date.
func (r *AccountRepository) DueForReminder(ctx context.Context, date time.Time) ([]int64, error) {
	const query = `
SELECT user_id FROM accounts
WHERE subscribed = 1 AND is_admin = 0 AND subscription_expires = ?
  AND (reminded_for IS NULL OR reminded_for <> subscription_expires)
ORDER BY user_id`
	return r.queryIDs(ctx, query, models.FormatDate(date))
}

// MarkReminded records the reminder for date; false means another worker already did.
func (r *AccountRepository) MarkReminded(ctx context.Context, userID int64, date time.Time) (bool, error) {
	const query = `
UPDATE accounts SET reminded_for = ?
WHERE user_id = ? AND (reminded_for IS NULL OR reminded_for <> ?)`
	day := models.FormatDate(date)
	res, err := r.db.ExecContext(ctx, query, day, userID, day)
	if err != nil {
		return false, fmt.Errorf("mark reminded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reminded rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListIDs returns all account ids, or only those with a currently valid subscription.
func (r *AccountRepository) ListIDs(ctx context.Context, subscribedOnly bool, today time.Time) ([]int64, error) {
	if !subscribedOnly {
		return r.queryIDs(ctx, `SELECT user_id FROM accounts ORDER BY user_id`)
	}
	const query = `
SELECT user_id FROM accounts
WHERE is_admin = 1 OR (subscribed = 1 AND subscription_expires >= ?)
ORDER BY user_id`
	return r.queryIDs(ctx, query, models.FormatDate(today))
}

// List pages through accounts, newest first.
func (r *AccountRepository) List(ctx context.Context, limit, offset int) ([]models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY joined_at DESC, user_id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account list: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (r *AccountRepository) CountJoinedSince(ctx context.Context, day time.Time) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM accounts WHERE joined_at >= ?`, models.FormatDate(day))
}

func (r *AccountRepository) CountSubscribed(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM accounts WHERE subscribed = 1`)
}

func (r *AccountRepository) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

func (r *AccountRepository) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func requireAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
