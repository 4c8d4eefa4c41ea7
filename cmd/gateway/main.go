package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voiceify/voiceify/internal/api"
	"github.com/voiceify/voiceify/internal/config"
	"github.com/voiceify/voiceify/internal/convert"
	"github.com/voiceify/voiceify/internal/events"
	"github.com/voiceify/voiceify/internal/jobs"
	"github.com/voiceify/voiceify/internal/mcp"
	"github.com/voiceify/voiceify/internal/metrics"
	"github.com/voiceify/voiceify/internal/pdf"
	"github.com/voiceify/voiceify/internal/synth"
)

var version = "dev"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Set up structured logging with level control
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting Voiceify Gateway", "version", version, "port", cfg.Port, "logLevel", cfg.LogLevel)
	slog.Info("Synthesis backend", "url", cfg.TTSURL, "model", cfg.TTSModel, "timeout", cfg.TTSTimeout)
	slog.Info("Conversion limits",
		"maxConcurrentJobs", cfg.MaxConcurrentJobs,
		"chunkMaxChars", cfg.ChunkMaxChars,
		"maxChunks", cfg.MaxChunks,
		"maxUploadBytes", cfg.MaxUploadBytes)
	if len(cfg.Voices.Voices) > 0 {
		slog.Info("Loaded voice catalogue", "path", cfg.ConfigPath, "voices", len(cfg.Voices.Voices), "default", cfg.Voices.Resolve(""))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize job store (PostgreSQL or in-memory)
	var jobStore jobs.JobStore
	if cfg.DatabaseURL != "" {
		slog.Info("Using PostgreSQL job store")
		pgStore, err := jobs.NewPgStore(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("Failed to create PostgreSQL store", "error", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		jobStore = pgStore
	} else {
		slog.Info("Using in-memory job store (not recommended for production)")
		jobStore = jobs.NewStore()
	}

	publisher, err := events.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to create event publisher", "backend", cfg.EventsBackend, "error", err)
		os.Exit(1)
	}
	defer publisher.Close()
	slog.Info("Job events", "backend", cfg.EventsBackend)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.NewMetrics(cfg.MetricsNamespace)
		slog.Info("Metrics enabled", "namespace", cfg.MetricsNamespace)
	} else {
		slog.Info("Metrics disabled")
	}

	executor := convert.NewExecutor(ctx, jobStore,
		pdf.NewExtractor(logger),
		synth.NewHTTPSynthesizer(cfg.TTSURL, cfg.TTSAPIKey, cfg.TTSModel, cfg.TTSTimeout),
		publisher, m,
		convert.Options{
			ChunkMaxChars:     cfg.ChunkMaxChars,
			MaxChunks:         cfg.MaxChunks,
			MaxConcurrentJobs: cfg.MaxConcurrentJobs,
			JobTimeout:        cfg.JobTimeout,
			Voices:            cfg.Voices,
		})

	mcpServer := mcp.NewServer(jobStore, executor, version)

	handler := api.NewHandler(jobStore, executor,
		api.WithMaxUploadBytes(cfg.MaxUploadBytes),
		api.WithMetrics(m),
		api.WithTools(mcpServer),
	)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           handler.Routes(m),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("Server listening", "addr", server.Addr)
		slog.Info("Upload: POST /upload (PDF), POST /upload-text")
		slog.Info("Job status: GET /jobs/{id}, stream: GET /jobs/{id}/stream (SSE)")
		slog.Info("Audio: GET /jobs/{id}/audio, live: GET /jobs/{id}/audio/stream")
		slog.Info("MCP endpoint: POST /mcp, REST tool endpoint: POST /tools/call")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	sig := <-sigChan
	slog.Info("Received signal, initiating shutdown", "signal", sig)

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	// Running jobs are marked failed once their context is gone.
	cancel()
	executor.Wait()

	slog.Info("Gateway shutdown complete")
}
