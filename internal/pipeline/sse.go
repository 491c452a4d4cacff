package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"

	wire "github.com/tjfontaine/llmtap/internal/wire/anthropic"
)

// ErrUnknownEventType is returned by ParseSSE for any event-type name or
// declared sub-type outside the fixed wire vocabulary. This is a protocol
// violation and is never silently reinterpreted.
var ErrUnknownEventType = errors.New("unknown SSE event type")

// SSEEvent is the wire-level streaming event union. The implementer set is
// fixed; every variant knows its own event name and can render the raw
// payload ParseSSE would accept to rebuild it.
type SSEEvent interface {
	EventName() string
	RawPayload() json.RawMessage
	isSSEEvent()
}

// MessageStart seeds a new streamed message: id, role, model and the
// request-side usage numbers.
type MessageStart struct {
	ID    string
	Role  string
	Model string
	Usage Usage
}

// TextBlockStart opens a text content block at Index.
type TextBlockStart struct {
	Index int
}

// ToolUseBlockStart opens a tool_use content block at Index.
type ToolUseBlockStart struct {
	Index int
	ID    string
	Name  string
}

// TextDelta appends text to the block at Index.
type TextDelta struct {
	Index int
	Text  string
}

// InputJSONDelta appends a partial JSON fragment of a tool_use block's
// input at Index.
type InputJSONDelta struct {
	Index       int
	PartialJSON string
}

// ContentBlockStop closes the block at Index.
type ContentBlockStop struct {
	Index int
}

// MessageDelta carries the stop reason and the output-token usage, which
// arrive at the end of the stream rather than with message_start.
type MessageDelta struct {
	StopReason   string
	StopSequence string
	OutputTokens int
}

// MessageStop terminates the stream. It carries no payload.
type MessageStop struct{}

func (MessageStart) EventName() string      { return "message_start" }
func (TextBlockStart) EventName() string    { return "content_block_start" }
func (ToolUseBlockStart) EventName() string { return "content_block_start" }
func (TextDelta) EventName() string         { return "content_block_delta" }
func (InputJSONDelta) EventName() string    { return "content_block_delta" }
func (ContentBlockStop) EventName() string  { return "content_block_stop" }
func (MessageDelta) EventName() string      { return "message_delta" }
func (MessageStop) EventName() string       { return "message_stop" }

func (MessageStart) isSSEEvent()      {}
func (TextBlockStart) isSSEEvent()    {}
func (ToolUseBlockStart) isSSEEvent() {}
func (TextDelta) isSSEEvent()         {}
func (InputJSONDelta) isSSEEvent()    {}
func (ContentBlockStop) isSSEEvent()  {}
func (MessageDelta) isSSEEvent()      {}
func (MessageStop) isSSEEvent()       {}

// RawPayload renders the wire payload for a message_start event.
func (e MessageStart) RawPayload() json.RawMessage {
	return mustMarshal(wire.MessageStartPayload{
		Type: "message_start",
		Message: wire.MessageHeader{
			ID:    e.ID,
			Type:  "message",
			Role:  e.Role,
			Model: e.Model,
			Usage: wire.MessagesUsage{
				InputTokens:              e.Usage.InputTokens,
				OutputTokens:             e.Usage.OutputTokens,
				CacheReadInputTokens:     e.Usage.CacheReadTokens,
				CacheCreationInputTokens: e.Usage.CacheCreationTokens,
			},
		},
	})
}

func (e TextBlockStart) RawPayload() json.RawMessage {
	return mustMarshal(wire.ContentBlockStartPayload{
		Type:         "content_block_start",
		Index:        e.Index,
		ContentBlock: wire.ContentBlock{Type: "text"},
	})
}

func (e ToolUseBlockStart) RawPayload() json.RawMessage {
	return mustMarshal(wire.ContentBlockStartPayload{
		Type:         "content_block_start",
		Index:        e.Index,
		ContentBlock: wire.ContentBlock{Type: "tool_use", ID: e.ID, Name: e.Name},
	})
}

func (e TextDelta) RawPayload() json.RawMessage {
	return mustMarshal(wire.ContentBlockDeltaPayload{
		Type:  "content_block_delta",
		Index: e.Index,
		Delta: wire.BlockDelta{Type: "text_delta", Text: e.Text},
	})
}

func (e InputJSONDelta) RawPayload() json.RawMessage {
	return mustMarshal(wire.ContentBlockDeltaPayload{
		Type:  "content_block_delta",
		Index: e.Index,
		Delta: wire.BlockDelta{Type: "input_json_delta", PartialJSON: e.PartialJSON},
	})
}

func (e ContentBlockStop) RawPayload() json.RawMessage {
	return mustMarshal(wire.ContentBlockStopPayload{Type: "content_block_stop", Index: e.Index})
}

func (e MessageDelta) RawPayload() json.RawMessage {
	p := wire.MessageDeltaPayload{
		Type:  "message_delta",
		Delta: wire.MessageDeltaBody{StopReason: e.StopReason},
	}
	if e.StopSequence != "" {
		seq := e.StopSequence
		p.Delta.StopSequence = &seq
	}
	if e.OutputTokens != 0 {
		p.Usage = &wire.DeltaUsage{OutputTokens: e.OutputTokens}
	}
	return mustMarshal(p)
}

func (e MessageStop) RawPayload() json.RawMessage {
	return mustMarshal(wire.MessageStopPayload{Type: "message_stop"})
}

// ParseSSE is the single translation from an (event-type name, raw payload)
// pair to a typed SSEEvent. Missing optional fields default to their zero
// values; an event-type name or declared sub-type outside the wire
// vocabulary fails with ErrUnknownEventType.
func ParseSSE(name string, payload json.RawMessage) (SSEEvent, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	switch name {
	case "message_start":
		var p wire.MessageStartPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode message_start: %w", err)
		}
		return MessageStart{
			ID:    p.Message.ID,
			Role:  p.Message.Role,
			Model: p.Message.Model,
			Usage: Usage{
				InputTokens:         p.Message.Usage.InputTokens,
				OutputTokens:        p.Message.Usage.OutputTokens,
				CacheReadTokens:     p.Message.Usage.CacheReadInputTokens,
				CacheCreationTokens: p.Message.Usage.CacheCreationInputTokens,
			},
		}, nil

	case "content_block_start":
		var p wire.ContentBlockStartPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode content_block_start: %w", err)
		}
		switch p.ContentBlock.Type {
		case "text":
			return TextBlockStart{Index: p.Index}, nil
		case "tool_use":
			return ToolUseBlockStart{Index: p.Index, ID: p.ContentBlock.ID, Name: p.ContentBlock.Name}, nil
		default:
			return nil, fmt.Errorf("%w: content_block_start block type %q", ErrUnknownEventType, p.ContentBlock.Type)
		}

	case "content_block_delta":
		var p wire.ContentBlockDeltaPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode content_block_delta: %w", err)
		}
		switch p.Delta.Type {
		case "text_delta":
			return TextDelta{Index: p.Index, Text: p.Delta.Text}, nil
		case "input_json_delta":
			return InputJSONDelta{Index: p.Index, PartialJSON: p.Delta.PartialJSON}, nil
		default:
			return nil, fmt.Errorf("%w: content_block_delta delta type %q", ErrUnknownEventType, p.Delta.Type)
		}

	case "content_block_stop":
		var p wire.ContentBlockStopPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode content_block_stop: %w", err)
		}
		return ContentBlockStop{Index: p.Index}, nil

	case "message_delta":
		var p wire.MessageDeltaPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode message_delta: %w", err)
		}
		ev := MessageDelta{StopReason: p.Delta.StopReason}
		if p.Delta.StopSequence != nil {
			ev.StopSequence = *p.Delta.StopSequence
		}
		if p.Usage != nil {
			ev.OutputTokens = p.Usage.OutputTokens
		}
		return ev, nil

	case "message_stop":
		return MessageStop{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, name)
	}
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// The wire payload types contain nothing unmarshalable.
		panic(err)
	}
	return b
}
