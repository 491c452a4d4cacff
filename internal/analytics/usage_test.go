package analytics

import (
	"testing"

	"github.com/tjfontaine/llmtap/internal/pipeline"
)

func complete(provider pipeline.Provider, usage pipeline.Usage, text string) pipeline.ResponseComplete {
	return pipeline.ResponseComplete{
		EventMeta: pipeline.Meta{RequestID: "req-1", Provider: provider},
		Message: &pipeline.Message{
			ID:      "msg_1",
			Model:   "claude-test",
			Content: []pipeline.ContentBlock{{Type: "text", Text: text}},
			Usage:   usage,
		},
	}
}

func TestUsageTrackerTalliesPerProvider(t *testing.T) {
	tr := NewUsageTracker()

	events := []pipeline.Event{
		complete(pipeline.ProviderAnthropic, pipeline.Usage{InputTokens: 10, OutputTokens: 5}, "hi"),
		complete(pipeline.ProviderAnthropic, pipeline.Usage{InputTokens: 7, OutputTokens: 3}, "hi"),
		complete(pipeline.ProviderOpenAI, pipeline.Usage{InputTokens: 20, OutputTokens: 8}, "hi"),
		pipeline.Error{
			EventMeta: pipeline.Meta{RequestID: "req-2", Provider: pipeline.ProviderOpenAI},
			Message:   "overloaded",
			Status:    529,
		},
	}
	for _, ev := range events {
		if err := tr.HandleEvent(ev); err != nil {
			t.Fatal(err)
		}
	}

	snapshot, total := tr.Snapshot()
	if total != 4 {
		t.Errorf("event total: %d", total)
	}

	anthropic := snapshot[pipeline.ProviderAnthropic]
	if anthropic.Exchanges != 2 || anthropic.InputTokens != 17 || anthropic.OutputTokens != 8 {
		t.Errorf("anthropic stats: %+v", anthropic)
	}
	openai := snapshot[pipeline.ProviderOpenAI]
	if openai.Exchanges != 1 || openai.Errors != 1 {
		t.Errorf("openai stats: %+v", openai)
	}
}

func TestUsageTrackerEstimatesMissingOutputTokens(t *testing.T) {
	tr := NewUsageTracker()

	text := "a response whose stream never carried usage data"
	if err := tr.HandleEvent(complete(pipeline.ProviderAnthropic, pipeline.Usage{InputTokens: 4}, text)); err != nil {
		t.Fatal(err)
	}

	snapshot, _ := tr.Snapshot()
	stats := snapshot[pipeline.ProviderAnthropic]
	if stats.OutputTokens != 0 {
		t.Errorf("reported output must stay zero, got %d", stats.OutputTokens)
	}
	if stats.EstimatedOutput == 0 {
		t.Error("expected a nonzero output estimate")
	}
}

func TestUsageTrackerIgnoresNilMessage(t *testing.T) {
	tr := NewUsageTracker()

	ev := pipeline.ResponseComplete{
		EventMeta: pipeline.Meta{RequestID: "req-1", Provider: pipeline.ProviderAnthropic},
	}
	if err := tr.HandleEvent(ev); err != nil {
		t.Fatal(err)
	}

	snapshot, _ := tr.Snapshot()
	stats := snapshot[pipeline.ProviderAnthropic]
	if stats.Exchanges != 1 || stats.InputTokens != 0 {
		t.Errorf("stats: %+v", stats)
	}
}

func TestUsageTrackerSnapshotIsACopy(t *testing.T) {
	tr := NewUsageTracker()
	if err := tr.HandleEvent(complete(pipeline.ProviderAnthropic, pipeline.Usage{InputTokens: 1, OutputTokens: 1}, "x")); err != nil {
		t.Fatal(err)
	}

	first, _ := tr.Snapshot()
	s := first[pipeline.ProviderAnthropic]
	s.Exchanges = 99

	second, _ := tr.Snapshot()
	if second[pipeline.ProviderAnthropic].Exchanges != 1 {
		t.Fatal("snapshot must not alias internal state")
	}
}
