package har

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/llmtap/internal/pipeline"
	"github.com/tjfontaine/llmtap/internal/wire/openai"
)

var (
	// ErrInvalidArchive indicates the file is not a structurally valid
	// HTTP archive.
	ErrInvalidArchive = errors.New("invalid HAR archive")

	// ErrEmptyArchive indicates no entry in the archive survived
	// validation.
	ErrEmptyArchive = errors.New("archive contains no valid entries")
)

// archiveSchema is the structural contract a loadable archive must meet.
// Per-entry problems are handled leniently during replay; this only gates
// the top-level shape.
const archiveSchema = `{
  "type": "object",
  "required": ["log"],
  "properties": {
    "log": {
      "type": "object",
      "required": ["version", "entries"],
      "properties": {
        "version": {"type": "string"},
        "entries": {"type": "array"}
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("har.schema.json", archiveSchema)

// Publisher accepts replayed events; the event router satisfies it.
type Publisher interface {
	Publish(ev pipeline.Event) error
}

// Replayer reads an archive and re-emits the typed event sequence a live
// capture of the same traffic would have produced.
type Replayer struct {
	logger *slog.Logger
	tracer trace.Tracer
}

// NewReplayer creates a replayer.
func NewReplayer(logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{logger: logger, tracer: otel.Tracer("llmtap/har")}
}

// Load reads and validates an archive file.
func (r *Replayer) Load(path string) (*Archive, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	var archive Archive
	if err := json.Unmarshal(raw, &archive); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	return &archive, nil
}

// Replay loads the archive at path and emits each valid entry as
// RequestHeaders, RequestBody, ResponseHeaders, ResponseComplete sharing a
// freshly synthesized correlation id, with strictly increasing sequence
// numbers and monotonically increasing receive timestamps. Malformed
// entries are skipped and logged; an archive with zero surviving entries
// fails the whole load.
func (r *Replayer) Replay(path string, pub Publisher) (int, error) {
	_, span := r.tracer.Start(context.Background(), "har.replay",
		trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	archive, err := r.Load(path)
	if err != nil {
		return 0, err
	}

	replayed := 0
	recvNS := time.Now().UnixNano()

	for i := range archive.Log.Entries {
		entry := &archive.Log.Entries[i]

		msg, provider, err := parseEntryMessage(entry, detectProvider(entry))
		if err != nil {
			r.logger.Warn("skipping malformed archive entry",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}

		// The original correlation id is not preserved in the archive;
		// every replayed exchange gets a fresh one.
		requestID := "replay-" + uuid.New().String()
		meta := func(seq uint64) pipeline.Meta {
			recvNS++
			return pipeline.Meta{
				RequestID: requestID,
				Seq:       seq,
				RecvNS:    recvNS,
				Provider:  provider,
			}
		}

		events := []pipeline.Event{
			pipeline.RequestHeaders{
				EventMeta: meta(0),
				Method:    entry.Request.Method,
				URL:       entry.Request.URL,
				Headers:   headersFromHAR(entry.Request.Headers),
			},
			pipeline.RequestBody{
				EventMeta: meta(1),
				Body:      requestBody(entry),
			},
			pipeline.ResponseHeaders{
				EventMeta: meta(2),
				Status:    entry.Response.Status,
				Headers:   headersFromHAR(entry.Response.Headers),
			},
			pipeline.ResponseComplete{
				EventMeta: meta(3),
				Message:   msg,
			},
		}
		for _, ev := range events {
			if err := pub.Publish(ev); err != nil {
				return replayed, fmt.Errorf("publish replayed event: %w", err)
			}
		}
		replayed++
	}

	span.SetAttributes(attribute.Int("entries", replayed))

	if replayed == 0 {
		return 0, ErrEmptyArchive
	}
	r.logger.Info("replayed archive",
		slog.String("path", path),
		slog.Int("entries", replayed),
		slog.Int("skipped", len(archive.Log.Entries)-replayed),
	)
	return replayed, nil
}

// detectProvider prefers the explicit extension metadata and falls back to
// a URL-substring heuristic for archives produced by other tools.
func detectProvider(entry *Entry) pipeline.Provider {
	if entry.Extension != nil {
		switch pipeline.Provider(entry.Extension.Provider) {
		case pipeline.ProviderAnthropic:
			return pipeline.ProviderAnthropic
		case pipeline.ProviderOpenAI:
			return pipeline.ProviderOpenAI
		}
	}

	url := strings.ToLower(entry.Request.URL)
	switch {
	case strings.Contains(url, "anthropic"):
		return pipeline.ProviderAnthropic
	case strings.Contains(url, "openai"):
		return pipeline.ProviderOpenAI
	}
	return pipeline.ProviderUnknown
}

func requestBody(entry *Entry) json.RawMessage {
	if entry.Request.PostData == nil || entry.Request.PostData.Text == "" {
		return nil
	}
	return json.RawMessage(entry.Request.PostData.Text)
}

// parseEntryMessage validates the entry's JSON payloads and decodes the
// serialized complete message into the canonical shape. It returns the
// resolved provider, which may differ from the hint when only body-shape
// sniffing can identify the protocol.
func parseEntryMessage(entry *Entry, provider pipeline.Provider) (*pipeline.Message, pipeline.Provider, error) {
	if entry.Request.Method == "" || entry.Request.URL == "" {
		return nil, provider, fmt.Errorf("entry missing request method or url")
	}
	if entry.Request.PostData != nil && entry.Request.PostData.Text != "" &&
		!gjson.Valid(entry.Request.PostData.Text) {
		return nil, provider, fmt.Errorf("request body is not valid JSON")
	}

	text := entry.Response.Content.Text
	if text == "" {
		return nil, provider, fmt.Errorf("entry has no response body")
	}
	if !gjson.Valid(text) {
		return nil, provider, fmt.Errorf("response body is not valid JSON")
	}

	// Archives from other tools may lack provider metadata entirely;
	// sniff the body shape as a last resort.
	if provider == pipeline.ProviderUnknown {
		if gjson.Get(text, "choices").Exists() {
			provider = pipeline.ProviderOpenAI
		} else {
			provider = pipeline.ProviderAnthropic
		}
	}

	switch provider {
	case pipeline.ProviderOpenAI:
		var resp openai.ChatCompletionResponse
		if err := json.Unmarshal([]byte(text), &resp); err != nil {
			return nil, provider, fmt.Errorf("decode chat completion body: %w", err)
		}
		return openai.ToMessage(&resp), provider, nil
	default:
		var msg pipeline.Message
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			return nil, provider, fmt.Errorf("decode message body: %w", err)
		}
		return &msg, provider, nil
	}
}
