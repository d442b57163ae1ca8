package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/attentivai/meeting-gateway/internal/bus"
	"github.com/attentivai/meeting-gateway/internal/capture"
	"github.com/attentivai/meeting-gateway/internal/coach"
	"github.com/attentivai/meeting-gateway/internal/config"
	"github.com/attentivai/meeting-gateway/internal/host"
	"github.com/attentivai/meeting-gateway/internal/observability"
	"github.com/attentivai/meeting-gateway/internal/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("coach_url", cfg.CoachURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Meeting Gateway Service starting")

	// Core components: one ordered event bus, one session manager.
	eventBus := bus.New(256, logger)
	generator := coach.NewClient(cfg, logger)
	manager := session.NewManager(cfg, eventBus, generator, logger)

	// Create HTTP server
	mux := http.NewServeMux()

	// Host shell WebSocket: events out, control messages in
	mux.HandleFunc("/ws", host.HandleWS(manager, eventBus, logger))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness checks validate the capture environment and the coach
	// endpoint config without opening billable streams.
	captureCheck := func(ctx context.Context) (bool, error) {
		targets, err := capture.ListLoopbackTargets(ctx)
		if err != nil {
			return false, err
		}
		if cfg.SystemTarget == "" && len(targets) == 0 && cfg.MicDevice == "" {
			return false, fmt.Errorf("no capture source configured")
		}
		return true, nil
	}

	transcriptionCheck := func(ctx context.Context) (bool, error) {
		if cfg.DeepgramAPIKey == "" {
			return false, fmt.Errorf("transcription API key missing")
		}
		return true, nil
	}

	coachCheck := func(ctx context.Context) (bool, error) {
		if cfg.CoachURL == "" {
			return false, fmt.Errorf("coach endpoint not configured")
		}
		return true, nil
	}

	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"capture":       captureCheck,
		"transcription": transcriptionCheck,
		"coach":         coachCheck,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. The WebSocket endpoint is
	// exempt from the write timeout once upgraded.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Stop any running session before closing the transport so
	// devices are released and the in-flight tip is discarded.
	if err := manager.Stop(); err != nil && err != session.ErrStopNotActive {
		logger.Error().Err(err).Msg("Failed to stop active session")
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	eventBus.Close()
	logger.Info().Msg("Server exited gracefully")
}
