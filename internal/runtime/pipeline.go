// Package runtime composes the event router, recorder, index, analytics
// and debug surface into one embeddable pipeline.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tjfontaine/llmtap/internal/analytics"
	"github.com/tjfontaine/llmtap/internal/export"
	"github.com/tjfontaine/llmtap/internal/har"
	"github.com/tjfontaine/llmtap/internal/pipeline"
	"github.com/tjfontaine/llmtap/internal/router"
	"github.com/tjfontaine/llmtap/internal/server"
	"github.com/tjfontaine/llmtap/internal/storage/sqlite"
)

const defaultQueueSize = 1024

// Pipeline owns the fan-out router and its standard subscribers. The
// transport boundary feeds it typed events via Publish; everything
// downstream is wired here.
type Pipeline struct {
	logger    *slog.Logger
	queueSize int

	router      *router.Router
	tracker     *analytics.UsageTracker
	recorder    *har.Recorder
	index       *sqlite.IndexStore
	queuedIndex *router.Queued
	webhook     *export.Webhook
	queuedHook  *router.Queued
	feed        *server.Feed
	debug       *server.Server
	debugPort   int
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		p.logger = logger
		return nil
	}
}

// WithQueueSize sets the inbound queue capacity.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("queue size must be at least 1")
		}
		p.queueSize = n
		return nil
	}
}

// WithRecorder enables HAR recording at path.
func WithRecorder(path string, opts ...har.RecorderOption) Option {
	return func(p *Pipeline) error {
		if path == "" {
			return fmt.Errorf("recorder path required")
		}
		p.recorder = har.NewRecorder(path, p.logger, opts...)
		return nil
	}
}

// WithSQLiteIndex enables the queryable exchange index at path.
func WithSQLiteIndex(path string) Option {
	return func(p *Pipeline) error {
		store, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("create exchange index: %w", err)
		}
		p.index = store
		return nil
	}
}

// WithWebhookExport forwards each completed exchange to an external
// endpoint.
func WithWebhookExport(cfg export.WebhookConfig) Option {
	return func(p *Pipeline) error {
		if cfg.URL == "" {
			return fmt.Errorf("webhook export url required")
		}
		p.webhook = export.NewWebhook(cfg, p.logger)
		return nil
	}
}

// WithDebugServer enables the debug status endpoint and live event feed on
// port.
func WithDebugServer(port int) Option {
	return func(p *Pipeline) error {
		p.debugPort = port
		return nil
	}
}

// New builds a pipeline. The usage tracker is always wired; recorder,
// index and debug surface are opt-in. Options are applied in order, so
// WithLogger should come first.
func New(opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		logger:    slog.Default(),
		queueSize: defaultQueueSize,
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	p.router = router.New(p.logger, p.queueSize)
	p.tracker = analytics.NewUsageTracker()
	if err := p.router.Register(p.tracker); err != nil {
		return nil, err
	}

	if p.recorder != nil {
		if err := p.router.Register(p.recorder); err != nil {
			return nil, err
		}
	}
	if p.index != nil {
		p.queuedIndex = router.NewQueued(p.index, p.logger, 256)
		if err := p.router.Register(p.queuedIndex); err != nil {
			return nil, err
		}
	}
	if p.webhook != nil {
		p.queuedHook = router.NewQueued(p.webhook, p.logger, 256)
		if err := p.router.Register(p.queuedHook); err != nil {
			return nil, err
		}
	}
	if p.debugPort > 0 {
		p.feed = server.NewFeed(p.logger)
		if err := p.router.Register(p.feed); err != nil {
			return nil, err
		}
		p.debug = server.New(p.debugPort, p.logger, p.Status, p.feed)
	}

	return p, nil
}

// Start spawns the router fan-out loop and, when enabled, the debug
// server.
func (p *Pipeline) Start() error {
	if err := p.router.Start(); err != nil {
		return err
	}
	if p.debug != nil {
		p.debug.Start()
	}
	return nil
}

// Publish enqueues one event for fan-out.
func (p *Pipeline) Publish(ev pipeline.Event) error {
	return p.router.Publish(ev)
}

// Stop drains the router, finalizes every subscriber and shuts the debug
// server down.
func (p *Pipeline) Stop(ctx context.Context) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(p.router.Stop(10 * time.Second))
	if p.queuedIndex != nil {
		p.queuedIndex.Close()
	}
	if p.queuedHook != nil {
		p.queuedHook.Close()
	}
	if p.index != nil {
		record(p.index.Close())
	}
	if p.recorder != nil {
		record(p.recorder.Close())
	}
	if p.feed != nil {
		p.feed.Close()
	}
	if p.debug != nil {
		record(p.debug.Shutdown(ctx))
	}
	return firstErr
}

// Status reports the counters served by the debug endpoint.
func (p *Pipeline) Status() any {
	status := map[string]any{}

	usage, events := p.tracker.Snapshot()
	status["events"] = events
	status["usage"] = usage

	if p.recorder != nil {
		pending, committed, seen := p.recorder.Stats()
		status["recorder"] = map[string]int{
			"pending":   pending,
			"committed": committed,
			"events":    seen,
		}
	}
	return status
}

// Usage exposes the analytics snapshot for embedding hosts.
func (p *Pipeline) Usage() (map[pipeline.Provider]analytics.ProviderStats, int) {
	return p.tracker.Snapshot()
}
