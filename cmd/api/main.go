package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aimerfeng/DomainDesk/internal/app"
	"github.com/aimerfeng/DomainDesk/internal/config"
	"github.com/aimerfeng/DomainDesk/internal/logging"
	"github.com/aimerfeng/DomainDesk/internal/monitoring"
	"github.com/aimerfeng/DomainDesk/internal/server"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(&cfg.Logging, cfg.App.Env)

	log.Info().
		Str("env", cfg.App.Env).
		Str("name", cfg.App.Name).
		Str("store", cfg.Store.Driver).
		Msg("Starting DomainDesk API server")

	monitoring.Init()
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(cfg.Monitoring.PrometheusPort)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	if cfg.Moderation.QueueRefreshSchedule != "" {
		if err := a.Refresher.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start moderation refresher")
		}
	}

	srv := server.NewAPIServer(cfg, a.Services())
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("url", cfg.App.URL).
			Msg("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// SIGHUP reloads the flag definition file; a bad file keeps the last good set
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range quit {
		if sig == syscall.SIGHUP {
			reloadFlags(a)
			continue
		}
		log.Info().
			Str("signal", sig.String()).
			Msg("Shutdown signal received, gracefully shutting down...")
		break
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited gracefully")
}

func reloadFlags(a *app.App) {
	if a.FlagFile == nil {
		log.Info().Msg("No feature flag file configured; ignoring SIGHUP")
		return
	}
	if err := a.FlagFile.Reload(); err != nil {
		log.Error().Err(err).Msg("Feature flag reload failed")
		return
	}
	log.Info().Msg("Feature flags reloaded")
}

func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())

	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info().
		Int("port", port).
		Msg("Prometheus metrics server listening")

	if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Metrics server error")
	}
}
