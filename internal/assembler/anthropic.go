package assembler

import (
	"encoding/json"
	"strings"

	"github.com/tjfontaine/llmtap/internal/pipeline"
)

// MessageAssembler folds an ordered Anthropic-shape SSE event sequence for
// one exchange into a canonical message. It never panics and never drops
// the exchange: malformed input degrades to incomplete fields.
type MessageAssembler struct {
	msg pipeline.Message

	// index into msg.Content of the block currently receiving text
	// deltas, or -1 when none is open. Tool blocks never receive text.
	currentText int

	// pending tool input JSON fragments for the last appended block.
	pendingInput strings.Builder

	done bool
}

var _ Sink[pipeline.SSEEvent] = (*MessageAssembler)(nil)

// NewMessageAssembler returns an assembler for a single exchange.
func NewMessageAssembler() *MessageAssembler {
	return &MessageAssembler{
		msg:         pipeline.Message{Type: "message"},
		currentText: -1,
	}
}

// HandleBytes satisfies the sink contract; assembly reacts only to parsed
// events.
func (a *MessageAssembler) HandleBytes(p []byte) {}

// HandleEvent folds one typed event into the accumulator.
func (a *MessageAssembler) HandleEvent(ev pipeline.SSEEvent) {
	if a.done {
		return
	}

	switch e := ev.(type) {
	case pipeline.MessageStart:
		a.msg.ID = e.ID
		a.msg.Role = e.Role
		a.msg.Model = e.Model
		a.msg.Usage = e.Usage

	case pipeline.TextBlockStart:
		a.msg.Content = append(a.msg.Content, pipeline.ContentBlock{Type: "text"})
		a.currentText = len(a.msg.Content) - 1
		a.pendingInput.Reset()

	case pipeline.ToolUseBlockStart:
		a.msg.Content = append(a.msg.Content, pipeline.ContentBlock{
			Type: "tool_use",
			ID:   e.ID,
			Name: e.Name,
		})
		a.currentText = -1
		a.pendingInput.Reset()

	case pipeline.TextDelta:
		// Tolerates malformed ordering: a delta with no open text block
		// is dropped rather than failing the exchange.
		if a.currentText >= 0 {
			a.msg.Content[a.currentText].Text += e.Text
		}

	case pipeline.InputJSONDelta:
		if n := len(a.msg.Content); n > 0 && a.msg.Content[n-1].Type == "tool_use" {
			a.pendingInput.WriteString(e.PartialJSON)
		}

	case pipeline.ContentBlockStop:
		if n := len(a.msg.Content); n > 0 && a.msg.Content[n-1].Type == "tool_use" {
			input := map[string]any{}
			if frag := a.pendingInput.String(); frag != "" {
				// A broken fragment yields an empty input map, never an
				// aborted assembly.
				_ = json.Unmarshal([]byte(frag), &input)
			}
			a.msg.Content[n-1].Input = input
		}
		a.pendingInput.Reset()
		a.currentText = -1

	case pipeline.MessageDelta:
		if e.StopReason != "" {
			a.msg.StopReason = e.StopReason
		}
		if e.StopSequence != "" {
			a.msg.StopSequence = e.StopSequence
		}
		if e.OutputTokens != 0 {
			a.msg.Usage.OutputTokens = e.OutputTokens
		}

	case pipeline.MessageStop:
		// Completion is caller-driven via Finish.
	}
}

// Finish finalizes assembly. Subsequent events are ignored.
func (a *MessageAssembler) Finish() {
	a.done = true
}

// Message returns the reconstructed message, or nil before Finish.
func (a *MessageAssembler) Message() *pipeline.Message {
	if !a.done {
		return nil
	}
	msg := a.msg
	return &msg
}
