// Command llmtap-replay loads a recorded HAR archive and streams it
// through the event pipeline, so every subscriber runs against recorded
// traffic exactly as it would against live capture.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/llmtap/internal/config"
	"github.com/tjfontaine/llmtap/internal/export"
	"github.com/tjfontaine/llmtap/internal/har"
	"github.com/tjfontaine/llmtap/internal/telemetry"
	"github.com/tjfontaine/llmtap/pkg/tap"
)

func main() {
	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Replay.Path == "" {
		log.Fatalf("LLMTAP_REPLAY_PATH is required")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	shutdown, err := telemetry.Init("llmtap-replay", logger)
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer shutdown(context.Background())

	opts := []tap.Option{tap.WithLogger(logger)}
	if cfg.Recorder.Path != "" {
		opts = append(opts, tap.WithRecorder(cfg.Recorder.Path, har.WithCapacity(cfg.Recorder.Capacity)))
	}
	if cfg.Index.Path != "" {
		opts = append(opts, tap.WithSQLiteIndex(cfg.Index.Path))
	}
	if cfg.Export.URL != "" {
		opts = append(opts, tap.WithWebhookExport(export.WebhookConfig{
			URL:     cfg.Export.URL,
			Retries: cfg.Export.Retries,
			Timeout: time.Duration(cfg.Export.TimeoutSeconds) * time.Second,
		}))
	}
	if cfg.Debug.Enabled {
		opts = append(opts, tap.WithDebugServer(cfg.Debug.Port))
	}

	p, err := tap.New(opts...)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}
	if err := p.Start(); err != nil {
		log.Fatalf("Failed to start pipeline: %v", err)
	}

	replayer := har.NewReplayer(logger)
	entries, err := replayer.Replay(cfg.Replay.Path, p)
	if err != nil {
		p.Stop(context.Background())
		log.Fatalf("Replay failed: %v", err)
	}

	if err := p.Stop(context.Background()); err != nil {
		logger.Error("pipeline shutdown", slog.String("error", err.Error()))
	}

	usage, events := p.Usage()
	logger.Info("replay complete",
		slog.String("archive", cfg.Replay.Path),
		slog.Int("entries", entries),
		slog.Int("events", events),
	)
	for provider, stats := range usage {
		logger.Info("provider usage",
			slog.String("provider", string(provider)),
			slog.Int("exchanges", stats.Exchanges),
			slog.Int("input_tokens", stats.InputTokens),
			slog.Int("output_tokens", stats.OutputTokens),
			slog.Int("estimated_output_tokens", stats.EstimatedOutput),
		)
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
