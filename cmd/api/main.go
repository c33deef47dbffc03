package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mkoval/freightops/internal/api"
	"github.com/mkoval/freightops/internal/config"
	"github.com/mkoval/freightops/internal/service"
	"github.com/mkoval/freightops/internal/store"
)

func main() {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(ctx, cfg.DBSource)
	if err != nil {
		logger.Fatal("unable to connect to database", zap.Error(err))
	}
	defer db.Close()

	locks, err := store.NewLocks(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatal("unable to connect to redis", zap.Error(err))
	}
	defer locks.Close()

	// Engines
	ledger := service.NewLedgerService(db, logger)
	reservations := service.NewReservationService(db, locks, db, db, db, logger)
	payments := service.NewPaymentService(db, db, ledger, locks, db, logger)

	// Background reclaim of reservations whose lock expired without a
	// confirm or release.
	sweeper := service.NewSweeper(db, reservations, cfg.SweepInterval, logger)
	go sweeper.Run(ctx)

	handler := api.NewHandler(ledger, reservations, payments, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

func buildLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
