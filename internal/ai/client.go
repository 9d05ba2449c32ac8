package ai

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

// ErrEmptyResponse is returned when the API answers without usable content.
var ErrEmptyResponse = errors.New("empty ai response")

type Client struct {
	apiKey     string
	baseURL    string
	textModel  string
	imageModel string
	httpClient *http.Client
	log        *slog.Logger
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionOptions struct {
	Messages  []Message
	MaxTokens int
}

type Image struct {
	URL   string
	Bytes []byte
	Mime  string
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		apiKey:     cfg.OpenAIAPIKey,
		baseURL:    strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		textModel:  cfg.OpenAITextModel,
		imageModel: cfg.OpenAIImageModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Ask sends a single user prompt and returns the trimmed answer.
func (c *Client) Ask(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return c.Complete(ctx, CompletionOptions{
		Messages:  []Message{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
}

func (c *Client) Complete(ctx context.Context, opts CompletionOptions) (string, error) {
	payload := map[string]any{
		"model":    c.textModel,
		"messages": opts.Messages,
	}
	if opts.MaxTokens > 0 {
		payload["max_tokens"] = opts.MaxTokens
	}

	var resp struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
	}
	if err := c.postJSON(ctx, "/chat/completions", payload, &resp); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// GenerateImage asks for one 1024x1024 image and returns its temporary URL.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (*Image, error) {
	payload := map[string]any{
		"model":  c.imageModel,
		"prompt": prompt,
		"n":      1,
		"size":   "1024x1024",
	}

	var resp struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := c.postJSON(ctx, "/images/generations", payload, &resp); err != nil {
		return nil, fmt.Errorf("image generation: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, ErrEmptyResponse
	}
	if c.log != nil {
		c.log.Info("image generated", "model", c.imageModel)
	}
	return &Image{URL: resp.Data[0].URL}, nil
}

// Download fetches the image bytes behind img.URL.
func (c *Client) Download(ctx context.Context, img *Image) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, img.URL, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download image: status=%d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read image body: %w", err)
	}
	img.Bytes = data
	img.Mime = resp.Header.Get("Content-Type")
	if img.Mime == "" {
		img.Mime = http.DetectContentType(data)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	fullURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("ai request failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
		}
		return fmt.Errorf("ai error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(rawBody))
	}
	return nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
