package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moneyrag.io/backend/internal/api"
	"moneyrag.io/backend/internal/auth"
	"moneyrag.io/backend/internal/config"
	"moneyrag.io/backend/internal/core"
	"moneyrag.io/backend/internal/engine"
	"moneyrag.io/backend/internal/engine/gemini"
	"moneyrag.io/backend/internal/ingest"
	"moneyrag.io/backend/internal/ledger"
	"moneyrag.io/backend/internal/logger"
	"moneyrag.io/backend/internal/metrics"
	"moneyrag.io/backend/internal/store"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "moneyrag"})
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	m := metrics.Default()

	registry := engine.NewRegistry()
	registry.Register(store.ProviderGoogle, gemini.NewBuilder(db))
	cache := engine.NewCache(registry,
		engine.WithTeardownTimeout(cfg.EngineTeardownTimeout),
		engine.WithMetrics(m),
	)

	tracker := ingest.NewTracker(ingest.WithMetrics(m))
	dedup := ledger.NewDeduplicator(db, m)

	configService := core.NewConfigService(db, cache)
	fileService := core.NewFileService(db, configService, dedup, tracker)
	transactionService := core.NewTransactionService(db, dedup, cache)
	chatService := core.NewChatService(db, configService)

	var verifier auth.Verifier
	if cfg.IdentityJWTSecret != "" {
		verifier = auth.NewJWTVerifier(cfg.IdentityJWTSecret, "authenticated")
		log.Info().Msg("verifying tokens locally")
	} else {
		verifier = auth.NewRemoteVerifier(cfg.IdentityURL, cfg.IdentityKey, &http.Client{Timeout: 10 * time.Second})
	}

	apiHandler := api.NewAPIHandler(api.Services{
		Configs:        configService,
		Files:          fileService,
		Transactions:   transactionService,
		Chat:           chatService,
		Tracker:        tracker,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(apiHandler, verifier, m),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // extraction and chat wait on the model
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Str("addr", srv.Addr).Msg("server stopped")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := fileService.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("background ingestion did not finish")
	}
	if err := cache.CleanupAll(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("some engines failed to tear down")
	}

	log.Info().Msg("server exiting")
}
