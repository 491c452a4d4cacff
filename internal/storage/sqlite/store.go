// Package sqlite maintains a queryable index of completed exchanges beside
// the HAR archive.
package sqlite

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/llmtap/internal/pipeline"
	"github.com/tjfontaine/llmtap/internal/router"
)

// IndexedExchange is one row of the exchange index.
type IndexedExchange struct {
	ID           string
	RequestID    string
	Provider     string
	Model        string
	URL          string
	Status       int
	StopReason   string
	InputTokens  int
	OutputTokens int
	CreatedAt    time.Time
}

// contextCapacity bounds the per-request contexts held for exchanges that
// have not yet reached a terminal event. The oldest context is evicted
// when the bound is exceeded, so requests that never terminate cannot
// grow the map without limit.
const contextCapacity = 256

// IndexStore is a subscriber that inserts one row per completed exchange.
// It keeps a small per-request context so the row carries the URL and
// status that arrived on earlier events. Wrap it in router.NewQueued so a
// slow disk never stalls fan-out.
type IndexStore struct {
	db *sql.DB

	mu      sync.Mutex
	pending map[string]*exchangeCtx
	order   []string // request ids in insertion order, oldest first
}

type exchangeCtx struct {
	url    string
	status int
}

var _ router.Subscriber = (*IndexStore)(nil)

// New opens (or creates) the index database.
func New(dbPath string) (*IndexStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &IndexStore{db: db, pending: make(map[string]*exchangeCtx)}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *IndexStore) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS exchanges (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT,
		url TEXT,
		status INTEGER,
		stop_reason TEXT,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`)
	return err
}

func (s *IndexStore) Name() string { return "sqlite-index" }

// HandleEvent captures request context and inserts a row on completion.
func (s *IndexStore) HandleEvent(ev pipeline.Event) error {
	meta := ev.Meta()
	if meta.RequestID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case pipeline.RequestHeaders:
		s.ctx(meta.RequestID).url = e.URL

	case pipeline.ResponseHeaders:
		s.ctx(meta.RequestID).status = e.Status

	case pipeline.ResponseComplete:
		ctx := s.ctx(meta.RequestID)
		s.forget(meta.RequestID)
		if e.Message == nil {
			return nil
		}
		_, err := s.db.Exec(
			`INSERT INTO exchanges (id, request_id, provider, model, url, status, stop_reason, input_tokens, output_tokens, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), meta.RequestID, string(meta.Provider),
			e.Message.Model, ctx.url, ctx.status, e.Message.StopReason,
			e.Message.Usage.InputTokens, e.Message.Usage.OutputTokens,
			time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("index exchange %s: %w", meta.RequestID, err)
		}

	case pipeline.ResponseDone, pipeline.Error:
		// Terminal without a complete message; forget the context.
		s.forget(meta.RequestID)
	}
	return nil
}

// ctx returns the context for a request id, creating it on the first event
// and evicting the oldest context when the bound is exceeded.
func (s *IndexStore) ctx(requestID string) *exchangeCtx {
	if c, ok := s.pending[requestID]; ok {
		return c
	}

	for len(s.pending) >= contextCapacity && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.pending, oldest)
	}

	c := &exchangeCtx{}
	s.pending[requestID] = c
	s.order = append(s.order, requestID)
	return c
}

func (s *IndexStore) forget(requestID string) {
	delete(s.pending, requestID)
	for i, v := range s.order {
		if v == requestID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// Recent returns the most recently indexed exchanges, newest first.
func (s *IndexStore) Recent(limit int) ([]IndexedExchange, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, request_id, provider, model, url, status, stop_reason, input_tokens, output_tokens, created_at
		 FROM exchanges ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var out []IndexedExchange
	for rows.Next() {
		var ex IndexedExchange
		if err := rows.Scan(&ex.ID, &ex.RequestID, &ex.Provider, &ex.Model, &ex.URL,
			&ex.Status, &ex.StopReason, &ex.InputTokens, &ex.OutputTokens, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *IndexStore) Close() error {
	return s.db.Close()
}
