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

	"go.uber.org/zap"

	"transitopt/internal/api"
	"transitopt/internal/buildinfo"
	"transitopt/internal/config"
	"transitopt/internal/density"
	"transitopt/internal/logger"
	"transitopt/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "transitopt: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.RegisterDefault()

	srvDeps, err := api.NewServerFromConfig(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	defer func() { _ = srvDeps.Close() }()

	// Periodic density refresh feeding the engine, the history and the stream
	refresher := density.NewRefresher(srvDeps.Density, srvDeps.Engine, srvDeps.Store, cfg.Density.RefreshInterval, log.Named("density"))
	refresher.Notify = srvDeps.PublishDensity
	if _, err := refresher.RefreshOnce(ctx); err != nil {
		log.Warn("initial density refresh incomplete", zap.Error(err))
	}
	refresher.Start()
	// runs before srvDeps.Close so no pass touches a closed store
	defer refresher.Shutdown()

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: srvDeps.Handler(api.HTTPOptions{
			RateRPS:      cfg.HTTP.RateRPS,
			RateBurst:    cfg.HTTP.RateBurst,
			AllowOrigins: cfg.HTTP.AllowOrigins,
		}),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API listening", zap.String("addr", srv.Addr), zap.Any("build", buildinfo.Info()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
