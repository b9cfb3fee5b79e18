// Command providercheck sends a short prompt to the configured generation
// provider and reports whether usable code comes back.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/gnemet/PromptDeck/internal/config"
	"github.com/gnemet/PromptDeck/internal/generation"
	"github.com/gnemet/PromptDeck/internal/script"
)

const checkPrompt = "Write a Python program that prints the words 'deck ready'."

func main() {
	configPath := pflag.String("config", "config.yaml", "path to the YAML configuration file")
	pflag.String("provider", "", "provider to check (default: ai.active_provider)")
	pflag.String("webhook", "", "webhook URL override")
	timeout := pflag.Duration("timeout", 30*time.Second, "request timeout")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configPath, pflag.CommandLine)
	if err != nil {
		slog.Error("providercheck: loading config", "error", err)
		os.Exit(1)
	}

	settings := cfg.AI.Active()
	fmt.Printf("Active provider: %s (driver: %s)\n", cfg.AI.ActiveProvider, settings.Driver)
	switch settings.Driver {
	case "webhook":
		fmt.Printf("Webhook URL: %s\n", cfg.Webhook.URL)
	case "gemini":
		fmt.Printf("Model: %s\n", settings.Model)
		fmt.Printf("API key: %s\n", maskKey(settings.Key))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	gen, err := generation.New(ctx, cfg)
	if err != nil {
		slog.Error("providercheck: creating client", "error", err)
		os.Exit(1)
	}
	if closer, ok := gen.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	start := time.Now()
	output, err := gen.Generate(ctx, checkPrompt)
	if err != nil {
		slog.Error("providercheck: generation failed", "provider", gen.Name(), "error", err)
		os.Exit(1)
	}

	code := script.ExtractCode(output, cfg.Webhook.Language)
	fmt.Printf("Response received in %s (%d bytes, %d bytes of code)\n",
		time.Since(start).Round(time.Millisecond), len(output), len(code))
	fmt.Print(code)
	if code == "" {
		os.Exit(1)
	}
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "(empty)"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "****"
	}
}
