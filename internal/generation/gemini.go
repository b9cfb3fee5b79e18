package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/gnemet/PromptDeck/internal/config"
)

const systemInstruction = `You write Python programs that build PowerPoint presentations with python-pptx.
Answer with one complete, self-contained program in a single fenced python code block.
The program must save exactly one .pptx file into the current working directory and must not read input.`

// GeminiClient asks Google Gemini for the slide-building program.
type GeminiClient struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
}

func NewGeminiClient(ctx context.Context, settings config.ProviderSettings) (*GeminiClient, error) {
	if settings.Key == "" {
		return nil, errors.New("gemini: api key is empty, set GEMINI_KEY")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(settings.Key))
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	model := client.GenerativeModel(settings.Model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}}
	if settings.Temperature > 0 {
		model.SetTemperature(float32(settings.Temperature))
	}
	if settings.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(settings.MaxTokens))
	}

	return &GeminiClient{client: client, model: model, name: settings.Model}, nil
}

func (c *GeminiClient) Name() string { return "gemini:" + c.name }

func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	slog.Debug("GeminiClient.Generate: response received", "model", c.name, "chars", b.Len())
	return b.String(), nil
}

// Close releases the underlying connection.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}
