package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/ELICE-01/line/adapters/db"
	"github.com/ELICE-01/line/adapters/line"
	"github.com/ELICE-01/line/adapters/openai"
	"github.com/ELICE-01/line/adapters/rest/handlers"
	"github.com/ELICE-01/line/adapters/trello"
	"github.com/ELICE-01/line/config"
	"github.com/ELICE-01/line/core"
)

func main() {
	// config
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "relay server configuration file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	// logger
	log := mustMakeLogger(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	log.Info("starting chat-board relay server")

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// storage adapter
	storage, err := db.New(log, cfg.DB.Driver, cfg.DB.Address)
	if err != nil {
		return fmt.Errorf("failed to connect to db: %v", err)
	}
	defer func(storage *db.DB) {
		err := storage.Close()
		if err != nil {
			log.Error("failed to close db connection", "error", err)
		}
	}(storage)

	if err := storage.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate db: %v", err)
	}

	accountPattern, err := regexp.Compile(cfg.Relay.AccountPattern)
	if err != nil {
		return fmt.Errorf("bad account pattern %q: %w", cfg.Relay.AccountPattern, err)
	}

	// outbound adapters
	chat := line.NewClient(log, cfg.Line.APIBase, cfg.Line.ChannelToken)
	board := trello.NewClient(log, trello.Config{
		BaseURL: cfg.Trello.BaseURL,
		APIKey:  cfg.Trello.APIKey,
		Token:   cfg.Trello.Token,
		BoardID: cfg.Trello.BoardID,
		ListID:  cfg.Trello.ListID,
	})
	ai := openai.NewClient(log, cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model)

	deps := core.Deps{
		Links:  storage,
		Ledger: storage,
		Board:  board,
		Chat:   chat,
		AI:     ai,
	}

	// relay core
	grammar := core.Grammar{
		BindKeywords:   cfg.Relay.BindKeywords,
		StatusKeywords: cfg.Relay.StatusKeywords,
	}
	relay := core.NewRelay(log, grammar, accountPattern, deps)

	// reminder scanner
	scanner := core.NewScanner(log, core.ScannerConfig{
		Interval:  cfg.Scanner.Interval,
		Horizon:   cfg.Scanner.Horizon,
		Grace:     cfg.Scanner.Grace,
		Retention: cfg.Scanner.Retention,
	}, deps)
	scanner.Start(ctx)
	defer scanner.Stop()

	// http surface: chat webhook + ops endpoints
	webhook := line.NewWebhook(log, cfg.Line.ChannelSecret, relay, chat, cfg.Relay.HandleTimeout)

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+cfg.Line.WebhookPath, webhook.Handle)
	handlers.Register(mux, log, handlers.Deps{
		Store:  storage,
		Board:  board,
		Links:  storage,
		Ledger: storage,
	}, cfg.HTTP.Timeout)

	server := http.Server{
		Addr:              cfg.HTTP.Address,
		ReadHeaderTimeout: cfg.HTTP.Timeout,
		Handler:           mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("relay http server", "address", server.Addr, "webhook", cfg.Line.WebhookPath)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	return nil
}

func mustMakeLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
