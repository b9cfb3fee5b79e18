package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/gnemet/PromptDeck/internal/config"
	"github.com/gnemet/PromptDeck/internal/database"
	"github.com/gnemet/PromptDeck/internal/generation"
	"github.com/gnemet/PromptDeck/internal/i18n"
	"github.com/gnemet/PromptDeck/internal/observer"
	"github.com/gnemet/PromptDeck/internal/script"
)

func main() {
	configPath := pflag.String("config", "config.yaml", "path to the YAML configuration file")
	pflag.Int("port", 8080, "HTTP listen port")
	pflag.String("stage", "stage", "directory holding one sub-directory per run")
	pflag.String("provider", "webhook", "generation provider (webhook, gemini)")
	pflag.String("webhook", "", "generation webhook URL")
	debug := pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(*configPath, pflag.CommandLine); err != nil {
		slog.Error("main: server stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, flags *pflag.FlagSet) error {
	cfg, err := config.LoadConfig(configPath, flags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.Application.Storage.Stage, cfg.Application.Storage.Thumbnails, cfg.Application.Storage.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	i18n.Init()

	gen, err := generation.New(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := gen.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	logChan := make(chan string, 100)
	obs := observer.NewObserver(cfg, db, logChan)
	go func() {
		if err := obs.Start(ctx); err != nil {
			slog.Error("main: observer stopped", "error", err)
		}
	}()

	hub := NewLogHub()
	go hub.Run(ctx, logChan)

	app, err := NewApp(cfg, db, gen, script.NewExecutor(cfg.Executor), obs, hub)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Application.Addr(),
		Handler:           app.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("main: PromptDeck starting", "addr", srv.Addr, "provider", gen.Name(), "executor", cfg.Executor.Enabled)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("main: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
