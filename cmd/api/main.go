package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/ventlabs/vent-backend/internal/config"
	"github.com/ventlabs/vent-backend/internal/handler"
	"github.com/ventlabs/vent-backend/internal/service/conversation"
	"github.com/ventlabs/vent-backend/internal/service/oracle"
	"github.com/ventlabs/vent-backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		logger.Warn().Err(err).Msg("no .env file loaded, continuing with system environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	messageStore := store.NewMemoryStore(logger)

	var oracleClient oracle.Client
	if cfg.Oracle.Enabled() {
		oracleClient = oracle.NewClient(oracle.Config{
			APIKey:      cfg.Oracle.APIKey,
			BaseURL:     cfg.Oracle.BaseURL,
			Model:       cfg.Oracle.Model,
			Temperature: cfg.Oracle.Temperature,
			TopP:        cfg.Oracle.TopP,
			Timeout:     cfg.Oracle.Timeout,
		}, logger)
		logger.Info().Str("model", cfg.Oracle.Model).Msg("oracle client initialized")
	} else {
		logger.Warn().Msg("oracle credentials missing, reply endpoints disabled")
	}

	manager := conversation.NewManager(messageStore, oracleClient, conversation.Options{
		SystemPrompt: cfg.Oracle.SystemPrompt,
		Window:       cfg.Chat.HistoryLimit,
		Logger:       logger,
	})
	defer manager.Close()

	router := handler.NewRouter(messageStore, oracleClient, manager, handler.Options{
		SystemPrompt: cfg.Oracle.SystemPrompt,
		HistoryLimit: cfg.Chat.HistoryLimit,
		Logger:       logger,
	})

	startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", serverCfg.Addr).Msg("vent backend listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
