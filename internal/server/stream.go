package server

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tjfontaine/llmtap/internal/pipeline"
	"github.com/tjfontaine/llmtap/internal/router"
)

// feedEvent is the compact wire form sent to attached viewers.
type feedEvent struct {
	Kind      string `json:"kind"`
	RequestID string `json:"request_id"`
	Seq       uint64 `json:"seq"`
	Provider  string `json:"provider,omitempty"`
}

// Feed is a pipeline subscriber that broadcasts a summary of every event to
// attached websocket viewers. A viewer that cannot keep up is dropped; the
// feed never blocks the pipeline.
type Feed struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	viewers map[*viewer]struct{}
}

type viewer struct {
	conn *websocket.Conn
	out  chan feedEvent
}

var _ router.Subscriber = (*Feed)(nil)

// NewFeed creates a feed.
func NewFeed(logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		logger:  logger,
		viewers: make(map[*viewer]struct{}),
	}
}

func (f *Feed) Name() string { return "debug-feed" }

// HandleEvent broadcasts to every attached viewer, dropping any whose send
// buffer is full.
func (f *Feed) HandleEvent(ev pipeline.Event) error {
	meta := ev.Meta()
	summary := feedEvent{
		Kind:      string(ev.Kind()),
		RequestID: meta.RequestID,
		Seq:       meta.Seq,
		Provider:  string(meta.Provider),
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for v := range f.viewers {
		select {
		case v.out <- summary:
		default:
			delete(f.viewers, v)
			close(v.out)
			f.logger.Warn("dropped slow feed viewer")
		}
	}
	return nil
}

func (f *Feed) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	v := &viewer{conn: conn, out: make(chan feedEvent, 256)}
	f.mu.Lock()
	f.viewers[v] = struct{}{}
	f.mu.Unlock()

	go f.writeLoop(v)
}

func (f *Feed) writeLoop(v *viewer) {
	defer v.conn.Close()
	for ev := range v.out {
		if err := v.conn.WriteJSON(ev); err != nil {
			f.detach(v)
			return
		}
	}
}

func (f *Feed) detach(v *viewer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.viewers[v]; ok {
		delete(f.viewers, v)
		close(v.out)
	}
}

// Close detaches every viewer.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for v := range f.viewers {
		delete(f.viewers, v)
		close(v.out)
		v.conn.Close()
	}
}
