package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gnemet/PromptDeck/internal/config"
)

// WebhookClient posts prompts to an automation webhook.
type WebhookClient struct {
	URL         string
	OutputField string
	HTTPClient  *http.Client
}

type webhookRequest struct {
	Prompt string `json:"prompt"`
}

func NewWebhookClient(cfg config.WebhookConfig) *WebhookClient {
	field := cfg.OutputField
	if field == "" {
		field = "output"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &WebhookClient{
		URL:         cfg.URL,
		OutputField: field,
		HTTPClient:  &http.Client{Timeout: timeout},
	}
}

func (c *WebhookClient) Name() string { return "webhook" }

// Generate sends {"prompt": prompt} and returns the configured output field of
// the JSON answer.
func (c *WebhookClient) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	data, err := json.Marshal(webhookRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	slog.Debug("WebhookClient.Generate: response received", "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		return "", &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read webhook response: %w", err)
	}

	var result map[string]json.RawMessage
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode webhook response: %w", err)
	}
	raw, ok := result[c.OutputField]
	if !ok {
		return "", fmt.Errorf("webhook response has no %q field", c.OutputField)
	}
	var output string
	if err := json.Unmarshal(raw, &output); err != nil {
		return "", fmt.Errorf("webhook field %q is not a string: %w", c.OutputField, err)
	}
	return output, nil
}
