// Package llm asks an OpenRouter vision model to answer the question in a
// screenshot.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

type Config struct {
	APIKey    string
	Model     string
	Providers []string

	// Endpoint overrides the OpenRouter chat completions URL.
	Endpoint string
	// HTTPClient defaults to a client with a 45s timeout.
	HTTPClient *http.Client
}

// OpenRouter API structures
type Message struct {
	Role    string    `json:"role"`
	Content []Content `json:"content"`
}

type Content struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ProviderPreferences struct {
	Order          []string `json:"order,omitempty"`
	AllowFallbacks *bool    `json:"allow_fallbacks,omitempty"`
}

type ChatRequest struct {
	Model       string               `json:"model"`
	Messages    []Message            `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens"`
	Provider    *ProviderPreferences `json:"provider,omitempty"`
}

type ChatResponse struct {
	Choices []Choice  `json:"choices"`
	Error   *APIError `json:"error,omitempty"`
}

type Choice struct {
	Message ResponseMessage `json:"message"`
}

type ResponseMessage struct {
	Content string `json:"content"`
}

type APIError struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Code    interface{} `json:"code"` // Can be string or number
}

const (
	openRouterURL = "https://openrouter.ai/api/v1/chat/completions"
	maxRetries    = 3
	initialDelay  = 1 * time.Second
)

// AnswerPrompt asks for a short Markdown answer shaped by the question type.
const AnswerPrompt = "You are a senior front-end interviewer. Answer the question in the image " +
	"using the strategy for its type:\n\n" +
	"**Multiple choice**: give the option and the key concept only. Format: Answer: X. Concept: ...\n\n" +
	"**Short answer**:\n" +
	"1. **Answer**: the core answer\n" +
	"2. **Explanation**: the principle and key points, briefly\n\n" +
	"**Coding**:\n" +
	"1. **Approach**: one sentence\n" +
	"2. **Code**: concise code, at most 40 characters per line\n" +
	"3. **Notes**: the key logic\n\n" +
	"Keep it short enough to fit on one phone screen. Use Markdown."

var (
	ErrNotConfigured = errors.New("LLM client not configured")
	ErrEmptyAnswer   = errors.New("model returned an empty answer")
)

type Client struct {
	cfg  Config
	http *http.Client
	// sleep is swapped in tests to skip retry backoff.
	sleep func(context.Context, time.Duration) error
}

func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 45 * time.Second}
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = openRouterURL
	}
	return &Client{cfg: cfg, http: hc, sleep: sleepCtx}
}

func (c *Client) validate() error {
	if c == nil {
		return ErrNotConfigured
	}
	if c.cfg.APIKey == "" {
		return fmt.Errorf("%w: API key is required", ErrNotConfigured)
	}
	if c.cfg.Model == "" {
		return fmt.Errorf("%w: model is required", ErrNotConfigured)
	}
	return nil
}

// providerPreferences returns provider preferences based on config
func (c *Client) providerPreferences() *ProviderPreferences {
	if len(c.cfg.Providers) == 0 {
		return nil
	}
	allowFallbacks := false
	return &ProviderPreferences{
		Order:          c.cfg.Providers,
		AllowFallbacks: &allowFallbacks,
	}
}

// Answer sends a PNG screenshot and returns the model's Markdown answer.
func (c *Client) Answer(ctx context.Context, png []byte) (string, error) {
	if err := c.validate(); err != nil {
		return "", err
	}
	if len(png) == 0 {
		return "", errors.New("empty image")
	}

	imageURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	request := ChatRequest{
		Model: c.cfg.Model,
		Messages: []Message{{
			Role: "user",
			Content: []Content{
				{Type: "text", Text: AnswerPrompt},
				{Type: "image_url", ImageURL: &ImageURL{URL: imageURL}},
			},
		}},
		Temperature: 0.2,
		MaxTokens:   1500,
		Provider:    c.providerPreferences(),
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(initialDelay) * (1.5 * float64(attempt)))
			if err := c.sleep(ctx, delay); err != nil {
				return "", err
			}
		}

		response, err := c.do(ctx, request)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			log.Printf("llm: attempt %d failed: %v", attempt+1, err)
			continue
		}
		if len(response.Choices) == 0 {
			lastErr = fmt.Errorf("no choices in API response")
			continue
		}

		answer := strings.TrimSpace(response.Choices[0].Message.Content)
		if answer == "" {
			return "", ErrEmptyAnswer
		}
		return answer, nil
	}

	return "", fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

// Ping sends a minimal text request to check the key, model and network.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.validate(); err != nil {
		return err
	}
	resp, err := c.do(ctx, ChatRequest{
		Model:     c.cfg.Model,
		Messages:  []Message{{Role: "user", Content: []Content{{Type: "text", Text: "ping"}}}},
		MaxTokens: 1,
		Provider:  c.providerPreferences(),
	})
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("ping: no choices in API response")
	}
	return nil
}

func (c *Client) do(ctx context.Context, request ChatRequest) (*ChatResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("X-Title", "Screen Quiz Tool")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	var response ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("API error: %s (type: %s, code: %v)", response.Error.Message, response.Error.Type, response.Error.Code)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	return &response, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
