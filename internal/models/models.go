package models

import "time"

// DateLayout is the storage format of calendar dates.
const DateLayout = "2006-01-02"

type HistoryType string

const (
	HistoryText      HistoryType = "text"
	HistoryImage     HistoryType = "image"
	HistoryGemini    HistoryType = "gemini"
	HistoryExample   HistoryType = "example"
	HistoryAssistant HistoryType = "assistant"
)

type InvoiceStatus string

const (
	InvoiceCreated   InvoiceStatus = "created"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceActivated InvoiceStatus = "activated"
)

// Account holds the entitlement facts of one Telegram user.
type Account struct {
	UserID              int64
	UsageCount          int
	Subscribed          bool
	SubscriptionExpires *time.Time
	JoinedAt            time.Time
	IsAdmin             bool
	RemindedFor         *time.Time
}

type HistoryEntry struct {
	ID        int64
	UserID    int64
	Type      HistoryType
	Prompt    string
	CreatedAt time.Time
}

// Invoice tracks one payment request through created -> paid -> activated.
type Invoice struct {
	InvoiceID string
	UserID    int64
	Amount    string
	Asset     string
	Status    InvoiceStatus
	PayURL    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PaymentRecord struct {
	UserID    int64     `json:"user_id"`
	InvoiceID string    `json:"invoice_id"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

type ActionLog struct {
	UserID    int64     `json:"user_id"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

type QuoteRecord struct {
	UserID    int64     `json:"user_id"`
	Quote     string    `json:"quote"`
	Timestamp time.Time `json:"timestamp"`
}

type ImageRecord struct {
	UserID    int64     `json:"user_id"`
	Prompt    string    `json:"prompt"`
	ImageURL  string    `json:"image_url"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats summarises account growth for the admin panel.
type Stats struct {
	Total      int `json:"total"`
	Today      int `json:"today"`
	Week       int `json:"week"`
	Month      int `json:"month"`
	Year       int `json:"year"`
	Subscribed int `json:"subscribed"`
}

// Day truncates t to midnight in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// FormatDate renders a calendar date for storage.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a stored calendar date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, s, loc)
}
