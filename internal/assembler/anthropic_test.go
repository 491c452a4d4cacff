package assembler

import (
	"reflect"
	"testing"

	"github.com/tjfontaine/llmtap/internal/pipeline"
)

func assemble(t *testing.T, events ...pipeline.SSEEvent) *pipeline.Message {
	t.Helper()
	a := NewMessageAssembler()
	for _, ev := range events {
		a.HandleEvent(ev)
	}
	a.Finish()
	msg := a.Message()
	if msg == nil {
		t.Fatal("expected a message after Finish")
	}
	return msg
}

func TestMessageAssemblerTextOnly(t *testing.T) {
	msg := assemble(t,
		pipeline.MessageStart{ID: "msg_1", Role: "assistant", Model: "claude-test", Usage: pipeline.Usage{InputTokens: 9}},
		pipeline.TextBlockStart{Index: 0},
		pipeline.TextDelta{Index: 0, Text: "Hello"},
		pipeline.TextDelta{Index: 0, Text: ", world!"},
		pipeline.ContentBlockStop{Index: 0},
		pipeline.MessageDelta{StopReason: "end_turn", OutputTokens: 5},
		pipeline.MessageStop{},
	)

	if msg.ID != "msg_1" {
		t.Errorf("expected id msg_1, got %s", msg.ID)
	}
	want := []pipeline.ContentBlock{{Type: "text", Text: "Hello, world!"}}
	if !reflect.DeepEqual(msg.Content, want) {
		t.Errorf("content mismatch: got %+v, want %+v", msg.Content, want)
	}
	if msg.StopReason != "end_turn" {
		t.Errorf("expected stop_reason end_turn, got %s", msg.StopReason)
	}
	if msg.Usage.InputTokens != 9 || msg.Usage.OutputTokens != 5 {
		t.Errorf("unexpected usage: %+v", msg.Usage)
	}
}

func TestMessageAssemblerToolUse(t *testing.T) {
	msg := assemble(t,
		pipeline.MessageStart{ID: "msg_2", Role: "assistant", Model: "claude-test"},
		pipeline.ToolUseBlockStart{Index: 0, ID: "toolu_1", Name: "get_weather"},
		pipeline.InputJSONDelta{Index: 0, PartialJSON: `{"city": "Par`},
		pipeline.InputJSONDelta{Index: 0, PartialJSON: `is"}`},
		pipeline.ContentBlockStop{Index: 0},
		pipeline.MessageDelta{StopReason: "tool_use", OutputTokens: 12},
	)

	if len(msg.Content) != 1 {
		t.Fatalf("expected 1 block, got %d", len(msg.Content))
	}
	block := msg.Content[0]
	if block.Type != "tool_use" || block.ID != "toolu_1" || block.Name != "get_weather" {
		t.Errorf("unexpected block: %+v", block)
	}
	if !reflect.DeepEqual(block.Input, map[string]any{"city": "Paris"}) {
		t.Errorf("unexpected input: %+v", block.Input)
	}
}

func TestMessageAssemblerBrokenToolJSON(t *testing.T) {
	msg := assemble(t,
		pipeline.MessageStart{ID: "msg_3", Role: "assistant"},
		pipeline.ToolUseBlockStart{Index: 0, ID: "toolu_2", Name: "search"},
		pipeline.InputJSONDelta{Index: 0, PartialJSON: `{"query": "unterminat`},
		pipeline.ContentBlockStop{Index: 0},
	)

	// A truncated fragment degrades to an empty input map, never a panic.
	if !reflect.DeepEqual(msg.Content[0].Input, map[string]any{}) {
		t.Errorf("expected empty input map, got %+v", msg.Content[0].Input)
	}
}

func TestMessageAssemblerMalformedOrdering(t *testing.T) {
	// A text delta with no open text block is dropped; a text delta after
	// a tool block opens is dropped too.
	msg := assemble(t,
		pipeline.MessageStart{ID: "msg_4", Role: "assistant"},
		pipeline.TextDelta{Index: 0, Text: "orphan"},
		pipeline.ToolUseBlockStart{Index: 0, ID: "toolu_3", Name: "lookup"},
		pipeline.TextDelta{Index: 0, Text: "also orphan"},
		pipeline.ContentBlockStop{Index: 0},
	)

	if len(msg.Content) != 1 || msg.Content[0].Type != "tool_use" {
		t.Fatalf("unexpected content: %+v", msg.Content)
	}
}

func TestMessageAssemblerMixedBlocks(t *testing.T) {
	msg := assemble(t,
		pipeline.MessageStart{ID: "msg_5", Role: "assistant", Model: "claude-test"},
		pipeline.TextBlockStart{Index: 0},
		pipeline.TextDelta{Index: 0, Text: "Checking the weather."},
		pipeline.ContentBlockStop{Index: 0},
		pipeline.ToolUseBlockStart{Index: 1, ID: "toolu_4", Name: "get_weather"},
		pipeline.InputJSONDelta{Index: 1, PartialJSON: `{"city": "Oslo"}`},
		pipeline.ContentBlockStop{Index: 1},
		pipeline.MessageDelta{StopReason: "tool_use", OutputTokens: 20},
	)

	if len(msg.Content) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(msg.Content))
	}
	if msg.Content[0].Type != "text" || msg.Content[1].Type != "tool_use" {
		t.Errorf("unexpected block order: %+v", msg.Content)
	}
}

func TestMessageAssemblerResultOnlyAfterFinish(t *testing.T) {
	a := NewMessageAssembler()
	a.HandleEvent(pipeline.MessageStart{ID: "msg_6"})
	if a.Message() != nil {
		t.Fatal("message must be nil before Finish")
	}
	a.Finish()
	if a.Message() == nil {
		t.Fatal("message must be available after Finish")
	}
}

// Assembling from events that took a round trip through the raw wire shape
// must produce the same message as assembling the original typed events.
func TestMessageAssemblerLosslessBridging(t *testing.T) {
	events := []pipeline.SSEEvent{
		pipeline.MessageStart{ID: "msg_7", Role: "assistant", Model: "claude-test", Usage: pipeline.Usage{InputTokens: 30}},
		pipeline.TextBlockStart{Index: 0},
		pipeline.TextDelta{Index: 0, Text: "Using the "},
		pipeline.TextDelta{Index: 0, Text: "calculator."},
		pipeline.ContentBlockStop{Index: 0},
		pipeline.ToolUseBlockStart{Index: 1, ID: "toolu_5", Name: "calculator"},
		pipeline.InputJSONDelta{Index: 1, PartialJSON: `{"expr": "1+1"}`},
		pipeline.ContentBlockStop{Index: 1},
		pipeline.MessageDelta{StopReason: "tool_use", OutputTokens: 8},
		pipeline.MessageStop{},
	}

	direct := assemble(t, events...)

	bridged := make([]pipeline.SSEEvent, 0, len(events))
	for _, ev := range events {
		back, err := pipeline.ParseSSE(ev.EventName(), ev.RawPayload())
		if err != nil {
			t.Fatalf("bridge parse failed: %v", err)
		}
		bridged = append(bridged, back)
	}
	viaRaw := assemble(t, bridged...)

	if !reflect.DeepEqual(direct, viaRaw) {
		t.Errorf("bridged assembly diverged:\ndirect: %+v\nvia raw: %+v", direct, viaRaw)
	}
}
