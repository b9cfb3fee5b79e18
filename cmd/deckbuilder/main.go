// Command deckbuilder writes one of the embedded decks to a .pptx file.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/gnemet/PromptDeck/internal/config"
	"github.com/gnemet/PromptDeck/internal/deck"
)

func main() {
	configPath := pflag.String("config", "config.yaml", "path to the YAML configuration file")
	pflag.String("catalog", deck.DefaultCatalog, "name of the embedded deck to build")
	pflag.String("output", "", "output path (default: the deck's file name)")
	list := pflag.Bool("list", false, "list the embedded decks and exit")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configPath, pflag.CommandLine)
	if err != nil {
		slog.Error("deckbuilder: loading config", "error", err)
		os.Exit(1)
	}

	provider := deck.NewCatalogProvider()
	if *list {
		names, err := provider.Names()
		if err != nil {
			slog.Error("deckbuilder: listing catalog", "error", err)
			os.Exit(1)
		}
		for _, n := range names {
			os.Stdout.WriteString(n + "\n")
		}
		return
	}

	d, err := provider.Load(cfg.Deck.Catalog)
	if err != nil {
		slog.Error("deckbuilder: loading deck", "catalog", cfg.Deck.Catalog, "error", err)
		os.Exit(1)
	}

	output := cfg.Deck.Output
	if output == "" {
		output = d.FileName
	}
	if err := deck.Save(d, output); err != nil {
		slog.Error("deckbuilder: saving deck", "path", output, "error", err)
		os.Exit(1)
	}
	slog.Info("deckbuilder: presentation saved", "deck", d.Name, "slides", d.SlideCount(), "path", output)
}
