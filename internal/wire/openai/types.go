// Package openai declares the wire-level JSON shapes of the OpenAI chat
// completion protocol (streaming chunks and the non-streaming response),
// plus the translation to and from the pipeline's canonical message.
package openai

import (
	"encoding/json"

	"github.com/tjfontaine/llmtap/internal/pipeline"
)

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FunctionCall represents a completed function call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall represents a tool call made by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// ChatMessage is a message in a chat completion response.
type ChatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Choice is one completion choice in a non-streaming response.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ChatCompletionResponse mirrors the non-streaming chat completion shape.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created,omitempty"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// FunctionCallChunk is a partial function call in a streaming chunk.
type FunctionCallChunk struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolCallChunk is a partial tool call in a streaming chunk, keyed by
// numeric index since fragments may arrive out of append order.
type ToolCallChunk struct {
	Index    int                `json:"index"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function *FunctionCallChunk `json:"function,omitempty"`
}

// ChunkDelta is the delta content of a streaming chunk.
type ChunkDelta struct {
	Role      string          `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	ToolCalls []ToolCallChunk `json:"tool_calls,omitempty"`
}

// ChunkChoice is one choice in a streaming chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChatCompletionChunk is a streaming chunk. Usage is typically present only
// on the final chunk.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// StopReasonFromFinish maps a chat completion finish_reason to the
// canonical stop reason vocabulary.
func StopReasonFromFinish(finish string) string {
	switch finish {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	default:
		return finish
	}
}

// FinishFromStopReason is the inverse of StopReasonFromFinish.
func FinishFromStopReason(stop string) string {
	switch stop {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return stop
	}
}

// ToMessage converts a chat completion response into the canonical
// reconstructed message shape.
func ToMessage(resp *ChatCompletionResponse) *pipeline.Message {
	msg := &pipeline.Message{
		ID:    resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: resp.Model,
		Usage: pipeline.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}

	if len(resp.Choices) == 0 {
		return msg
	}

	choice := resp.Choices[0]
	if choice.Message.Role != "" {
		msg.Role = choice.Message.Role
	}
	msg.StopReason = StopReasonFromFinish(choice.FinishReason)

	if choice.Message.Content != "" {
		msg.Content = append(msg.Content, pipeline.ContentBlock{Type: "text", Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		input := map[string]any{}
		if tc.Function.Arguments != "" {
			// Broken argument JSON degrades to an empty input map.
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		}
		msg.Content = append(msg.Content, pipeline.ContentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}
	return msg
}

// FromMessage converts a canonical reconstructed message back into the
// non-streaming chat completion shape, for archive entries recorded from
// OpenAI-shaped exchanges.
func FromMessage(msg *pipeline.Message) *ChatCompletionResponse {
	chat := ChatMessage{Role: msg.Role}
	for _, b := range msg.Content {
		switch b.Type {
		case "text":
			chat.Content += b.Text
		case "tool_use":
			args := "{}"
			if b.Input != nil {
				if encoded, err := json.Marshal(b.Input); err == nil {
					args = string(encoded)
				}
			}
			chat.ToolCalls = append(chat.ToolCalls, ToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: FunctionCall{Name: b.Name, Arguments: args},
			})
		}
	}

	return &ChatCompletionResponse{
		ID:     msg.ID,
		Object: "chat.completion",
		Model:  msg.Model,
		Choices: []Choice{{
			Index:        0,
			Message:      chat,
			FinishReason: FinishFromStopReason(msg.StopReason),
		}},
		Usage: Usage{
			PromptTokens:     msg.Usage.InputTokens,
			CompletionTokens: msg.Usage.OutputTokens,
			TotalTokens:      msg.Usage.InputTokens + msg.Usage.OutputTokens,
		},
	}
}
