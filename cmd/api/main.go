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

	"marketplace-ledger/config"
	"marketplace-ledger/internal/adapter/storage/sqlite"
	"marketplace-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	gin.SetMode(cfg.Server.Mode)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Str("storage", cfg.Storage.Driver).
		Int("port", cfg.Server.Port).
		Msg("Starting Marketplace Wallet Ledger")

	ctx := context.Background()

	var be *backend
	switch cfg.Storage.Driver {
	case "memory":
		be = memoryBackend()
		log.Warn().Msg("Using in-memory storage; state is lost on exit")
	default:
		be, err = postgresBackend(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialise storage")
		}
	}
	defer be.close()

	spool, err := sqlite.NewAuditSpool(cfg.Audit.SpoolPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Audit.SpoolPath).Msg("Failed to open audit spool")
	}
	defer spool.Close()

	if cfg.JWT.Secret == "" {
		log.Warn().Msg("jwt.secret is empty; every authenticated request will be rejected")
	}
	if cfg.Voucher.CodeSecret == "" {
		log.Warn().Msg("voucher.code_secret is empty; voucher digests are unkeyed")
	}

	a := newApp(cfg, be, spool, log)
	jobsCtx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()
	a.scheduler.Start(jobsCtx)

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	a.scheduler.Stop()
	if err := a.audit.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Audit queue not fully flushed")
	}

	log.Info().Msg("Server exited")
}
