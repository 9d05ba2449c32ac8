// Package cryptopay talks to the Crypto Pay API of @CryptoBot and decodes its
// webhook notifications.
package cryptopay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/digkill/TGAssistantBot/internal/config"
)

const tokenHeader = "Crypto-Pay-API-Token"

type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

type InvoiceRequest struct {
	Asset         string
	Amount        string
	Description   string
	HiddenMessage string
	Payload       string
}

type Invoice struct {
	ID     string
	Status string
	Amount string
	Asset  string
	PayURL string
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		token:      cfg.CryptoPayAPIKey,
		baseURL:    strings.TrimRight(cfg.CryptoPayBaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// CreateInvoice registers a new invoice and returns the link the user pays through.
func (c *Client) CreateInvoice(ctx context.Context, in InvoiceRequest) (*Invoice, error) {
	if in.Payload == "" {
		return nil, errors.New("invoice payload is required")
	}
	params := map[string]any{
		"asset":   in.Asset,
		"amount":  in.Amount,
		"payload": in.Payload,
	}
	if in.Description != "" {
		params["description"] = in.Description
	}
	if in.HiddenMessage != "" {
		params["hidden_message"] = in.HiddenMessage
	}

	var result invoiceObject
	if err := c.call(ctx, "createInvoice", params, &result); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	inv := &Invoice{
		ID:     string(result.InvoiceID),
		Status: string(result.Status),
		Amount: string(result.Amount),
		Asset:  result.Asset,
		PayURL: result.BotInvoiceURL,
	}
	if inv.PayURL == "" {
		inv.PayURL = result.PayURL
	}
	if inv.ID == "" || inv.PayURL == "" {
		return nil, errors.New("create invoice: incomplete response")
	}
	return inv, nil
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	fullURL := c.baseURL + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(tokenHeader, c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", method, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	var envelope struct {
		OK     bool            `json:"ok"`
		Result json.RawMessage `json:"result"`
		Error  struct {
			Code int    `json:"code"`
			Name string `json:"name"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return fmt.Errorf("decode response: status=%d: %w", resp.StatusCode, err)
	}
	if !envelope.OK {
		if c.log != nil {
			c.log.Error("crypto pay call failed", "method", method, "status", resp.StatusCode, "code", envelope.Error.Code, "name", envelope.Error.Name)
		}
		return fmt.Errorf("crypto pay error: status=%d code=%d name=%s", resp.StatusCode, envelope.Error.Code, envelope.Error.Name)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

type invoiceObject struct {
	InvoiceID     flexString `json:"invoice_id"`
	Status        flexString `json:"status"`
	Amount        flexString `json:"amount"`
	Asset         string     `json:"asset"`
	BotInvoiceURL string     `json:"bot_invoice_url"`
	PayURL        string     `json:"pay_url"`
	Payload       flexString `json:"payload"`
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}
