package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tjfontaine/llmtap/internal/pipeline"
)

func TestStatusEndpoint(t *testing.T) {
	status := func() any {
		return map[string]any{"events": 42, "entries": 3}
	}
	s := New(0, slog.Default(), status, nil)

	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: %q", ct)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["events"] != float64(42) || body["entries"] != float64(3) {
		t.Errorf("body: %v", body)
	}
}

func TestStatusEndpointNilFunc(t *testing.T) {
	s := New(0, slog.Default(), nil, nil)

	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code: %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "{}" {
		t.Errorf("body: %q", got)
	}
}

func TestStreamDisabledWithoutFeed(t *testing.T) {
	s := New(0, slog.Default(), nil, nil)

	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/stream", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a feed, got %d", rec.Code)
	}
}

func waitForViewers(t *testing.T, feed *Feed, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		feed.mu.Lock()
		attached := len(feed.viewers)
		feed.mu.Unlock()
		if attached >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("viewer never attached")
}

func TestFeedBroadcastsToViewer(t *testing.T) {
	feed := NewFeed(slog.Default())
	defer feed.Close()
	s := New(0, slog.Default(), nil, feed)

	ts := httptest.NewServer(s.Router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/debug/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	waitForViewers(t, feed, 1)

	ev := pipeline.ResponseDone{EventMeta: pipeline.Meta{
		RequestID: "req-1",
		Seq:       7,
		Provider:  pipeline.ProviderAnthropic,
	}}
	if err := feed.HandleEvent(ev); err != nil {
		t.Fatal(err)
	}

	var got feedEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.Kind != string(pipeline.KindResponseDone) || got.RequestID != "req-1" || got.Seq != 7 {
		t.Errorf("feed event: %+v", got)
	}
	if got.Provider != string(pipeline.ProviderAnthropic) {
		t.Errorf("provider: %q", got.Provider)
	}
}

func TestFeedDropsSlowViewer(t *testing.T) {
	feed := NewFeed(slog.Default())
	defer feed.Close()

	// A viewer with no reader and a full buffer must be dropped without
	// blocking the broadcast path.
	v := &viewer{out: make(chan feedEvent)}
	feed.mu.Lock()
	feed.viewers[v] = struct{}{}
	feed.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = feed.HandleEvent(pipeline.ResponseDone{EventMeta: pipeline.Meta{RequestID: "req-1"}})
	}()
	<-done

	feed.mu.Lock()
	_, attached := feed.viewers[v]
	feed.mu.Unlock()
	if attached {
		t.Fatal("slow viewer must be detached")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(RequestIDKey).(string)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Fatal("request id not injected")
	}
}
