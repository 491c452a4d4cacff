package assembler

import (
	"sort"
	"strings"

	"github.com/tjfontaine/llmtap/internal/pipeline"
	"github.com/tjfontaine/llmtap/internal/wire/openai"
)

// ChatAssembler folds OpenAI-shape chat completion chunks for one exchange
// into a complete non-streaming response. Tool call fragments are keyed by
// their declared index since they may arrive out of append order.
type ChatAssembler struct {
	id      string
	model   string
	created int64
	role    string

	content      strings.Builder
	toolCalls    map[int]*toolCallAccum
	finishReason string
	usage        *openai.Usage

	done   bool
	result *openai.ChatCompletionResponse
}

type toolCallAccum struct {
	id   string
	name string
	args strings.Builder
}

var _ Sink[*openai.ChatCompletionChunk] = (*ChatAssembler)(nil)

// NewChatAssembler returns an assembler for a single exchange.
func NewChatAssembler() *ChatAssembler {
	return &ChatAssembler{toolCalls: make(map[int]*toolCallAccum)}
}

// HandleBytes satisfies the sink contract; assembly reacts only to parsed
// chunks.
func (a *ChatAssembler) HandleBytes(p []byte) {}

// HandleEvent folds one streaming chunk into the accumulator.
func (a *ChatAssembler) HandleEvent(chunk *openai.ChatCompletionChunk) {
	if a.done || chunk == nil {
		return
	}

	if chunk.ID != "" {
		a.id = chunk.ID
	}
	if chunk.Model != "" {
		a.model = chunk.Model
	}
	if chunk.Created != 0 {
		a.created = chunk.Created
	}
	if chunk.Usage != nil {
		a.usage = chunk.Usage
	}

	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]

	if choice.Delta.Role != "" {
		a.role = choice.Delta.Role
	}
	a.content.WriteString(choice.Delta.Content)

	for _, tc := range choice.Delta.ToolCalls {
		accum, ok := a.toolCalls[tc.Index]
		if !ok {
			accum = &toolCallAccum{}
			a.toolCalls[tc.Index] = accum
		}
		// id and name are last-non-empty-wins; arguments concatenate.
		if tc.ID != "" {
			accum.id = tc.ID
		}
		if tc.Function != nil {
			if tc.Function.Name != "" {
				accum.name = tc.Function.Name
			}
			accum.args.WriteString(tc.Function.Arguments)
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		a.finishReason = *choice.FinishReason
	}
}

// Finish finalizes assembly into the non-streaming response shape.
func (a *ChatAssembler) Finish() {
	if a.done {
		return
	}
	a.done = true

	role := a.role
	if role == "" {
		role = "assistant"
	}
	msg := openai.ChatMessage{Role: role, Content: a.content.String()}

	indices := make([]int, 0, len(a.toolCalls))
	for i := range a.toolCalls {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		accum := a.toolCalls[i]
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:       accum.id,
			Type:     "function",
			Function: openai.FunctionCall{Name: accum.name, Arguments: accum.args.String()},
		})
	}

	resp := &openai.ChatCompletionResponse{
		ID:      a.id,
		Object:  "chat.completion",
		Created: a.created,
		Model:   a.model,
		Choices: []openai.Choice{{Index: 0, Message: msg, FinishReason: a.finishReason}},
	}
	if a.usage != nil {
		resp.Usage = *a.usage
	}
	a.result = resp
}

// Response returns the reconstructed chat completion response, or nil
// before Finish.
func (a *ChatAssembler) Response() *openai.ChatCompletionResponse {
	return a.result
}

// Message returns the canonical reconstructed message, or nil before
// Finish.
func (a *ChatAssembler) Message() *pipeline.Message {
	if a.result == nil {
		return nil
	}
	return openai.ToMessage(a.result)
}
