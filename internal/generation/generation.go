// Package generation turns a free-text prompt into slide-building program text.
package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/gnemet/PromptDeck/internal/config"
)

var ErrEmptyPrompt = errors.New("prompt is empty")

// Generator sends a prompt to a generation backend and returns its raw output.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	// Name identifies the backend in run records and logs.
	Name() string
}

// StatusError is returned when the backend answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("generation backend returned status: %s", e.Status)
}

// New returns the generator selected by cfg.AI.ActiveProvider.
func New(ctx context.Context, cfg *config.Config) (Generator, error) {
	settings := cfg.AI.Active()
	switch settings.Driver {
	case "webhook":
		return NewWebhookClient(cfg.Webhook), nil
	case "gemini":
		return NewGeminiClient(ctx, settings)
	default:
		return nil, fmt.Errorf("unsupported ai driver %q (provider %q)", settings.Driver, cfg.AI.ActiveProvider)
	}
}
