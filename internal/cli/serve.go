package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lexiqai/scribe/internal/api"
	"github.com/lexiqai/scribe/internal/config"
	"github.com/lexiqai/scribe/internal/observability"
	"github.com/lexiqai/scribe/internal/resilience"
	"github.com/lexiqai/scribe/internal/stt"
	"github.com/lexiqai/scribe/internal/voice"
)

func NewServeCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recording service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(os.Stdout)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("backend", cfg.TranscriptionBackend).
		Str("remote_engine", cfg.RemoteEngine).
		Str("transcript_dir", cfg.TranscriptDir).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Scribe service starting")

	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.pool.Close()

	// The local sidecar starts alongside the service; wait for it before taking rooms
	if p.backend.Variant() == stt.VariantLocal {
		if err := p.backend.WaitReady(ctx, &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  30 * time.Second,
		}); err != nil {
			return fmt.Errorf("local transcription engine unavailable: %w", err)
		}
	}

	mux := http.NewServeMux()

	// Voice bridge audio ingest
	mux.Handle("/voice", voice.NewHandler(p.recorder, p.format))

	// Room commands
	api.NewHandler(p.recorder, p.recorder.Registry(), cfg.TranscriptDir).Register(mux)

	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"transcription_backend": p.backend.Check,
		"transcript_dir":        dirWritable(cfg.TranscriptDir),
	}))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	var grpcHealth *observability.GRPCHealthServer
	if cfg.GRPCHealthPort != "" {
		grpcHealth, err = observability.NewGRPCHealthServer(":" + cfg.GRPCHealthPort)
		if err != nil {
			return err
		}
		go func() {
			if err := grpcHealth.Serve(); err != nil {
				logger.Error().Err(err).Msg("gRPC health server stopped")
			}
		}()
	}

	// Stopping a recording answers only after the transcript is written
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.TeardownTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/voice", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down server...")
	if grpcHealth != nil {
		grpcHealth.SetReady(false)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+5*time.Second)
	defer cancel()

	if err := p.recorder.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Recordings still in flight at shutdown")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if grpcHealth != nil {
		grpcHealth.Stop()
	}

	logger.Info().Msg("Server exited gracefully")
	return nil
}

// dirWritable reports whether transcripts can be created in dir
func dirWritable(dir string) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, err
		}
		f, err := os.CreateTemp(dir, ".ready-*")
		if err != nil {
			return false, err
		}
		name := f.Name()
		f.Close()
		os.Remove(filepath.Clean(name))
		return true, nil
	}
}
