package har

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/llmtap/internal/pipeline"
	"github.com/tjfontaine/llmtap/internal/router"
	"github.com/tjfontaine/llmtap/internal/wire/openai"
)

// DefaultCapacity bounds concurrently open pending exchanges unless
// overridden.
const DefaultCapacity = 256

const archiveFooter = "]}}"

// PendingExchange accumulates one not-yet-complete exchange. It is owned
// exclusively by the recorder and destroyed on commit.
type PendingExchange struct {
	Method     string
	URL        string
	ReqHeaders http.Header
	ReqBody    json.RawMessage

	Status      int
	RespHeaders http.Header
	Message     *pipeline.Message

	Provider pipeline.Provider
	Start    time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithCapacity overrides the pending-exchange bound. Values below 1 are
// clamped to 1.
func WithCapacity(n int) RecorderOption {
	return func(r *Recorder) {
		if n < 1 {
			n = 1
		}
		r.capacity = n
	}
}

// WithEnrichment attaches enrichment-run provenance to every committed
// entry.
func WithEnrichment(e *Enrichment) RecorderOption {
	return func(r *Recorder) { r.enrichment = e }
}

// Recorder is a pipeline subscriber that persists completed exchanges,
// multiplexed by request id, into a crash-consistent HAR file. The file is
// not created until the first commit and is valid, parseable JSON after
// every commit.
type Recorder struct {
	logger     *slog.Logger
	tracer     trace.Tracer
	path       string
	capacity   int
	enrichment *Enrichment

	mu         sync.Mutex
	pending    map[string]*PendingExchange
	order      []string // request ids in insertion order, oldest first
	file       *os.File
	footerOff  int64
	committed  int
	eventsSeen int
}

var _ router.Subscriber = (*Recorder)(nil)

// NewRecorder creates a recorder that will write the archive at path on
// first commit.
func NewRecorder(path string, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		logger:   logger,
		tracer:   otel.Tracer("llmtap/har"),
		path:     path,
		capacity: DefaultCapacity,
		pending:  make(map[string]*PendingExchange),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) Name() string { return "har-recorder" }

// HandleEvent advances the per-request-id state machine. ResponseComplete
// triggers a commit; events for other request ids are unaffected.
func (r *Recorder) HandleEvent(ev pipeline.Event) error {
	meta := ev.Meta()
	if meta.RequestID == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventsSeen++

	switch e := ev.(type) {
	case pipeline.RequestHeaders:
		ex := r.exchange(meta)
		ex.Method = e.Method
		ex.URL = e.URL
		ex.ReqHeaders = e.Headers

	case pipeline.RequestBody:
		ex := r.exchange(meta)
		ex.ReqBody = e.Body

	case pipeline.ResponseHeaders:
		ex := r.exchange(meta)
		ex.Status = e.Status
		ex.RespHeaders = e.Headers

	case pipeline.ResponseComplete:
		// A completion for an unknown id (evicted, or never seen) is
		// committed from a transient record that never occupies a
		// pending slot, so it cannot evict a still-open exchange.
		ex, ok := r.pending[meta.RequestID]
		if !ok {
			ex = &PendingExchange{Provider: meta.Provider, Start: time.Now()}
		} else if ex.Provider == pipeline.ProviderUnknown {
			ex.Provider = meta.Provider
		}
		ex.Message = e.Message
		err := r.commit(meta.RequestID, ex)
		delete(r.pending, meta.RequestID)
		r.dropFromOrder(meta.RequestID)
		return err
	}

	return nil
}

// exchange returns the pending record for a request id, creating it on the
// first event and evicting the oldest incomplete exchange when the bound is
// exceeded. An event arriving for an already-evicted id starts a fresh
// exchange.
func (r *Recorder) exchange(meta pipeline.Meta) *PendingExchange {
	if ex, ok := r.pending[meta.RequestID]; ok {
		if ex.Provider == pipeline.ProviderUnknown {
			ex.Provider = meta.Provider
		}
		return ex
	}

	for len(r.pending) >= r.capacity && len(r.order) > 0 {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.pending, oldest)
		r.logger.Warn("evicted pending exchange at capacity",
			slog.String("request_id", oldest),
			slog.Int("capacity", r.capacity),
		)
	}

	ex := &PendingExchange{
		Provider: meta.Provider,
		Start:    time.Now(),
	}
	r.pending[meta.RequestID] = ex
	r.order = append(r.order, meta.RequestID)
	return ex
}

func (r *Recorder) dropFromOrder(id string) {
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// commit serializes one entry and appends it to the archive, keeping the
// file valid JSON at every step. A failed serialization is logged and
// skipped; the archive stays structurally intact.
func (r *Recorder) commit(requestID string, ex *PendingExchange) error {
	_, span := r.tracer.Start(context.Background(), "har.commit",
		trace.WithAttributes(
			attribute.String("request_id", requestID),
			attribute.String("provider", string(ex.Provider)),
		))
	defer span.End()

	entry, err := r.buildEntry(ex)
	if err != nil {
		r.logger.Error("skipping unserializable entry",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	encoded, err := json.Marshal(entry)
	if err != nil {
		r.logger.Error("skipping unserializable entry",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if r.file == nil {
		if err := r.openArchive(); err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
	} else {
		if _, err := r.file.Seek(r.footerOff, io.SeekStart); err != nil {
			return fmt.Errorf("seek archive footer: %w", err)
		}
		if _, err := r.file.WriteString(","); err != nil {
			return fmt.Errorf("write entry separator: %w", err)
		}
	}

	if _, err := r.file.Write(encoded); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}

	off, err := r.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("locate archive footer: %w", err)
	}
	r.footerOff = off

	if _, err := r.file.WriteString(archiveFooter); err != nil {
		return fmt.Errorf("write archive footer: %w", err)
	}
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}

	r.committed++
	r.logger.Info("committed exchange",
		slog.String("request_id", requestID),
		slog.String("provider", string(ex.Provider)),
		slog.Int("entries", r.committed),
	)
	return nil
}

// openArchive creates the file lazily and writes the preamble up to just
// before the footer, so zero-traffic sessions produce zero files.
func (r *Recorder) openArchive() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	preamble, err := json.Marshal(struct {
		Version string  `json:"version"`
		Creator Creator `json:"creator"`
	}{Version: Version, Creator: Creator{Name: CreatorName, Version: "1.0"}})
	if err != nil {
		f.Close()
		return err
	}

	// {"log":{"version":...,"creator":...,"entries":[
	head := `{"log":` + string(preamble[:len(preamble)-1]) + `,"entries":[`
	if _, err := f.WriteString(head); err != nil {
		f.Close()
		return err
	}

	r.file = f
	return nil
}

func (r *Recorder) buildEntry(ex *PendingExchange) (*Entry, error) {
	respText, err := r.serializeMessage(ex)
	if err != nil {
		return nil, err
	}

	reqText := string(ex.ReqBody)
	entry := &Entry{
		StartedDateTime: harTime(ex.Start),
		Time:            float64(time.Since(ex.Start)) / float64(time.Millisecond),
		Request: Request{
			Method:      ex.Method,
			URL:         ex.URL,
			HTTPVersion: "HTTP/1.1",
			Headers:     headersToHAR(ex.ReqHeaders),
			QueryString: []NameValue{},
			HeadersSize: -1,
			BodySize:    len(reqText),
		},
		Response: Response{
			Status:      ex.Status,
			StatusText:  http.StatusText(ex.Status),
			HTTPVersion: "HTTP/1.1",
			Headers:     headersToHAR(ex.RespHeaders),
			Content: Content{
				Size:     len(respText),
				MimeType: "application/json",
				Text:     respText,
			},
			HeadersSize: -1,
			BodySize:    len(respText),
		},
		Timings: Timings{
			Wait: float64(time.Since(ex.Start)) / float64(time.Millisecond),
		},
		Extension: &Extension{
			Provider:   string(ex.Provider),
			Enrichment: r.enrichment,
		},
		Comment: summarize(ex),
	}
	if reqText != "" {
		entry.Request.PostData = &PostData{MimeType: "application/json", Text: reqText}
	}
	return entry, nil
}

// serializeMessage renders the complete message in the provider's own
// response shape, matching what a non-streaming capture would hold.
func (r *Recorder) serializeMessage(ex *PendingExchange) (string, error) {
	if ex.Message == nil {
		return "", fmt.Errorf("exchange completed without a reconstructed message")
	}

	var body any = ex.Message
	if ex.Provider == pipeline.ProviderOpenAI {
		body = openai.FromMessage(ex.Message)
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("serialize message: %w", err)
	}
	return string(encoded), nil
}

func summarize(ex *PendingExchange) string {
	if ex.Message == nil {
		return ""
	}
	return fmt.Sprintf("%s %s: stop_reason=%s, %d in / %d out tokens",
		ex.Provider, ex.Message.Model, ex.Message.StopReason,
		ex.Message.Usage.InputTokens, ex.Message.Usage.OutputTokens)
}

// Stats reports recorder counters for the debug surface.
func (r *Recorder) Stats() (pending, committed, eventsSeen int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending), r.committed, r.eventsSeen
}

// Close finalizes the recorder. Zero entries with zero events is a normal
// idle session; zero entries despite traffic is logged as a diagnostic; a
// file that was opened yet holds no committed entry indicates a pipeline
// bug and is deleted.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.committed > 0:
		r.logger.Info("archive closed",
			slog.String("path", r.path),
			slog.Int("entries", r.committed),
			slog.Int("abandoned", len(r.pending)),
		)
	case r.eventsSeen == 0:
		// Nothing happened; no file was created.
	default:
		r.logger.Warn("recorder saw events but committed no entries",
			slog.Int("events", r.eventsSeen),
			slog.Int("pending", len(r.pending)),
		)
	}

	if r.file == nil {
		return nil
	}

	err := r.file.Close()
	if r.committed == 0 {
		// The file should never exist without at least one entry.
		r.logger.Error("archive opened but empty; deleting", slog.String("path", r.path))
		if rmErr := os.Remove(r.path); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	r.file = nil
	return err
}
