package cryptopay

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SignatureHeader carries the HMAC of the webhook body.
const SignatureHeader = "crypto-pay-api-signature"

const StatusPaid = "paid"

var (
	ErrBadSignature  = errors.New("bad webhook signature")
	ErrMalformed     = errors.New("malformed webhook")
	ErrMissingUserID = errors.New("webhook without user id")
)

// Event is a decoded payment notification.
type Event struct {
	InvoiceID string
	Status    string
	Amount    string
	Asset     string
	UserID    int64
}

func (e Event) Paid() bool {
	return e.Status == StatusPaid
}

type webhookBody struct {
	UpdateType    string          `json:"update_type"`
	Status        flexString      `json:"status"`
	InvoiceID     flexString      `json:"invoice_id"`
	Amount        flexString      `json:"amount"`
	Asset         string          `json:"asset"`
	Payload       json.RawMessage `json:"payload"`
	OrderID       flexString      `json:"order_id"`
	CustomPayload flexString      `json:"custom_payload"`
}

// ParseWebhook decodes both the flat notification shape and the Crypto Pay
// update envelope. The user id is taken from payload, order_id or
// custom_payload, in that order.
func ParseWebhook(body []byte) (Event, error) {
	var raw webhookBody
	if err := json.Unmarshal(body, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var (
		ev      Event
		userRef string
	)
	trimmed := bytes.TrimSpace(raw.Payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var inv invoiceObject
		if err := json.Unmarshal(trimmed, &inv); err != nil {
			return Event{}, fmt.Errorf("%w: invoice payload: %v", ErrMalformed, err)
		}
		ev = Event{
			InvoiceID: string(inv.InvoiceID),
			Status:    string(inv.Status),
			Amount:    string(inv.Amount),
			Asset:     inv.Asset,
		}
		if ev.Status == "" && raw.UpdateType == "invoice_paid" {
			ev.Status = StatusPaid
		}
		userRef = string(inv.Payload)
	} else {
		var payload flexString
		if len(trimmed) > 0 {
			if err := json.Unmarshal(trimmed, &payload); err != nil {
				return Event{}, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
			}
		}
		ev = Event{
			InvoiceID: string(raw.InvoiceID),
			Status:    string(raw.Status),
			Amount:    string(raw.Amount),
			Asset:     raw.Asset,
		}
		userRef = firstNonEmpty(string(payload), string(raw.OrderID), string(raw.CustomPayload))
	}

	ev.Status = strings.ToLower(strings.TrimSpace(ev.Status))
	if ev.Status == "" {
		return Event{}, fmt.Errorf("%w: missing status", ErrMalformed)
	}
	if userRef = strings.TrimSpace(userRef); userRef == "" {
		return ev, ErrMissingUserID
	}
	id, err := strconv.ParseInt(userRef, 10, 64)
	if err != nil || id <= 0 {
		return ev, fmt.Errorf("%w: %q", ErrMissingUserID, userRef)
	}
	ev.UserID = id
	return ev, nil
}

// VerifySignature checks the hex HMAC-SHA256 of body keyed by SHA256(token).
func VerifySignature(token string, body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	if !hmac.Equal(got, Sign(token, body)) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the raw signature for body.
func Sign(token string, body []byte) []byte {
	secret := sha256.Sum256([]byte(token))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write(body)
	return mac.Sum(nil)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
