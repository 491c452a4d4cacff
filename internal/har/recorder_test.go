package har

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/tjfontaine/llmtap/internal/pipeline"
)

func archivePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "session.har")
}

func meta(requestID string, seq uint64) pipeline.Meta {
	return pipeline.Meta{RequestID: requestID, Seq: seq, Provider: pipeline.ProviderAnthropic}
}

func feedExchange(t *testing.T, r *Recorder, requestID string) {
	t.Helper()
	startExchange(t, r, requestID)
	completeExchange(t, r, requestID)
}

func startExchange(t *testing.T, r *Recorder, requestID string) {
	t.Helper()
	events := []pipeline.Event{
		pipeline.RequestHeaders{
			EventMeta: meta(requestID, 0),
			Method:    "POST",
			URL:       "https://api.anthropic.com/v1/messages",
			Headers:   http.Header{"Content-Type": {"application/json"}},
		},
		pipeline.RequestBody{
			EventMeta: meta(requestID, 1),
			Body:      json.RawMessage(`{"model":"claude-test","messages":[]}`),
		},
		pipeline.ResponseHeaders{
			EventMeta: meta(requestID, 2),
			Status:    200,
			Headers:   http.Header{"Content-Type": {"application/json"}},
		},
	}
	for _, ev := range events {
		if err := r.HandleEvent(ev); err != nil {
			t.Fatalf("handle %s: %v", ev.Kind(), err)
		}
	}
}

func completeExchange(t *testing.T, r *Recorder, requestID string) {
	t.Helper()
	err := r.HandleEvent(pipeline.ResponseComplete{
		EventMeta: meta(requestID, 3),
		Message: &pipeline.Message{
			ID:         "msg_" + requestID,
			Type:       "message",
			Role:       "assistant",
			Model:      "claude-test",
			StopReason: "end_turn",
			Content:    []pipeline.ContentBlock{{Type: "text", Text: "hi"}},
			Usage:      pipeline.Usage{InputTokens: 3, OutputTokens: 2},
		},
	})
	if err != nil {
		t.Fatalf("complete %s: %v", requestID, err)
	}
}

func loadArchive(t *testing.T, path string) *Archive {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	var archive Archive
	if err := json.Unmarshal(raw, &archive); err != nil {
		t.Fatalf("archive is not valid JSON: %v\n%s", err, raw)
	}
	return &archive
}

func TestRecorderCreatesFileOnFirstCommit(t *testing.T) {
	path := archivePath(t)
	r := NewRecorder(path, slog.Default())

	startExchange(t, r, "req-1")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("file must not exist before the first commit")
	}

	completeExchange(t, r, "req-1")
	archive := loadArchive(t, path)
	if len(archive.Log.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(archive.Log.Entries))
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRecorderValidAfterEveryCommit(t *testing.T) {
	path := archivePath(t)
	r := NewRecorder(path, slog.Default())
	defer r.Close()

	for i, id := range []string{"req-1", "req-2", "req-3"} {
		feedExchange(t, r, id)

		archive := loadArchive(t, path)
		if len(archive.Log.Entries) != i+1 {
			t.Fatalf("after commit %d: expected %d entries, got %d", i+1, i+1, len(archive.Log.Entries))
		}
		if archive.Log.Version != Version {
			t.Errorf("unexpected version %q", archive.Log.Version)
		}
	}
}

func TestRecorderInterleavedExchanges(t *testing.T) {
	path := archivePath(t)
	r := NewRecorder(path, slog.Default())
	defer r.Close()

	startExchange(t, r, "req-a")
	startExchange(t, r, "req-b")

	// req-b completes first; only its entry is committed and req-a's
	// pending state stays open.
	completeExchange(t, r, "req-b")

	archive := loadArchive(t, path)
	if len(archive.Log.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(archive.Log.Entries))
	}
	if got := archive.Log.Entries[0].Response.Content.Text; got == "" {
		t.Fatal("entry missing response text")
	}
	pending, committed, _ := r.Stats()
	if pending != 1 || committed != 1 {
		t.Fatalf("expected 1 pending and 1 committed, got %d/%d", pending, committed)
	}

	completeExchange(t, r, "req-a")
	archive = loadArchive(t, path)
	if len(archive.Log.Entries) != 2 {
		t.Fatalf("expected 2 entries after req-a, got %d", len(archive.Log.Entries))
	}
}

func TestRecorderCapacityEviction(t *testing.T) {
	path := archivePath(t)
	r := NewRecorder(path, slog.Default(), WithCapacity(2))
	defer r.Close()

	startExchange(t, r, "req-1")
	startExchange(t, r, "req-2")
	startExchange(t, r, "req-3") // evicts req-1

	pending, _, _ := r.Stats()
	if pending != 2 {
		t.Fatalf("expected 2 pending after eviction, got %d", pending)
	}

	completeExchange(t, r, "req-2")
	completeExchange(t, r, "req-3")

	// The evicted exchange was never partially written.
	archive := loadArchive(t, path)
	if len(archive.Log.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(archive.Log.Entries))
	}
	for _, entry := range archive.Log.Entries {
		if entry.Response.Content.Text == "" {
			t.Error("committed entry missing body")
		}
	}
}

func TestRecorderCompletionForUnknownIDDoesNotEvict(t *testing.T) {
	path := archivePath(t)
	r := NewRecorder(path, slog.Default(), WithCapacity(1))
	defer r.Close()

	startExchange(t, r, "req-open")

	// A completion for an id the recorder has never seen commits from a
	// transient record and must leave the open exchange untouched.
	completeExchange(t, r, "req-ghost")

	pending, committed, _ := r.Stats()
	if pending != 1 {
		t.Fatalf("open exchange was evicted: %d pending", pending)
	}
	if committed != 1 {
		t.Fatalf("expected 1 committed entry, got %d", committed)
	}

	completeExchange(t, r, "req-open")
	archive := loadArchive(t, path)
	if len(archive.Log.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(archive.Log.Entries))
	}
}

func TestRecorderNoFileForIdleSession(t *testing.T) {
	path := archivePath(t)
	r := NewRecorder(path, slog.Default())
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("idle session must not create an archive file")
	}
}

func TestRecorderNoFileForIncompleteTraffic(t *testing.T) {
	path := archivePath(t)
	r := NewRecorder(path, slog.Default())
	startExchange(t, r, "req-1")
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("no commit means no file")
	}
}

func TestRecorderDeletesEmptyArchive(t *testing.T) {
	path := archivePath(t)
	r := NewRecorder(path, slog.Default())

	// Force the invariant violation: a file opened without a commit.
	r.mu.Lock()
	if err := r.openArchive(); err != nil {
		r.mu.Unlock()
		t.Fatal(err)
	}
	r.eventsSeen = 1
	r.mu.Unlock()

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("empty archive must be deleted on close")
	}
}

func TestRecorderSkipsUnserializableEntry(t *testing.T) {
	path := archivePath(t)
	r := NewRecorder(path, slog.Default())
	defer r.Close()

	startExchange(t, r, "req-1")
	if err := r.HandleEvent(pipeline.ResponseComplete{EventMeta: meta("req-1", 3), Message: nil}); err != nil {
		t.Fatalf("nil message must be skipped, not fail: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("skipped entry must not create a file")
	}

	// Later traffic still records normally.
	feedExchange(t, r, "req-2")
	archive := loadArchive(t, path)
	if len(archive.Log.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(archive.Log.Entries))
	}
}

func TestRecorderExtensionMetadata(t *testing.T) {
	path := archivePath(t)
	r := NewRecorder(path, slog.Default(), WithEnrichment(&Enrichment{
		RunID:   "run-1",
		Purpose: "eval",
	}))
	defer r.Close()

	feedExchange(t, r, "req-1")

	archive := loadArchive(t, path)
	entry := archive.Log.Entries[0]
	if entry.Extension == nil {
		t.Fatal("entry missing _llmtap extension")
	}
	if entry.Extension.Provider != string(pipeline.ProviderAnthropic) {
		t.Errorf("unexpected provider %q", entry.Extension.Provider)
	}
	if entry.Extension.Enrichment == nil || entry.Extension.Enrichment.RunID != "run-1" {
		t.Errorf("unexpected enrichment: %+v", entry.Extension.Enrichment)
	}
	if entry.Comment == "" {
		t.Error("entry missing summary comment")
	}
}
