// Package analytics accumulates traffic counters from the event stream for
// the debug surface.
package analytics

import (
	"sync"

	"github.com/tjfontaine/llmtap/internal/pipeline"
	"github.com/tjfontaine/llmtap/internal/router"
	"github.com/tjfontaine/llmtap/internal/tokens"
)

// ProviderStats aggregates completed exchanges for one provider.
type ProviderStats struct {
	Exchanges       int `json:"exchanges"`
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	EstimatedOutput int `json:"estimated_output_tokens"`
	Errors          int `json:"errors"`
}

// UsageTracker is a direct subscriber that tallies exchanges and token
// usage per provider. When a stream never reported output tokens it falls
// back to a tokenizer estimate over the reconstructed text.
type UsageTracker struct {
	mu        sync.Mutex
	estimator *tokens.Estimator
	providers map[pipeline.Provider]*ProviderStats
	events    int
}

var _ router.Subscriber = (*UsageTracker)(nil)

// NewUsageTracker creates a tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{
		estimator: tokens.NewEstimator(),
		providers: make(map[pipeline.Provider]*ProviderStats),
	}
}

func (t *UsageTracker) Name() string { return "usage-tracker" }

// HandleEvent tallies ResponseComplete and Error events.
func (t *UsageTracker) HandleEvent(ev pipeline.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events++

	switch e := ev.(type) {
	case pipeline.ResponseComplete:
		stats := t.stats(ev.Meta().Provider)
		stats.Exchanges++
		if e.Message == nil {
			return nil
		}
		stats.InputTokens += e.Message.Usage.InputTokens
		if e.Message.Usage.OutputTokens > 0 {
			stats.OutputTokens += e.Message.Usage.OutputTokens
		} else {
			stats.EstimatedOutput += t.estimator.Count(e.Message.Model, e.Message.TextContent())
		}

	case pipeline.Error:
		t.stats(ev.Meta().Provider).Errors++
	}
	return nil
}

func (t *UsageTracker) stats(p pipeline.Provider) *ProviderStats {
	s, ok := t.providers[p]
	if !ok {
		s = &ProviderStats{}
		t.providers[p] = s
	}
	return s
}

// Snapshot returns a copy of the accumulated counters.
func (t *UsageTracker) Snapshot() (map[pipeline.Provider]ProviderStats, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[pipeline.Provider]ProviderStats, len(t.providers))
	for p, s := range t.providers {
		out[p] = *s
	}
	return out, t.events
}
