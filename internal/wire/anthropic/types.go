// Package anthropic declares the wire-level JSON shapes of the Anthropic
// Messages streaming protocol, as consumed and produced by the pipeline's
// parse boundary.
package anthropic

// MessagesUsage is the usage object carried on message_start.
type MessagesUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// MessageHeader is the message skeleton nested in a message_start event.
type MessageHeader struct {
	ID    string        `json:"id"`
	Type  string        `json:"type,omitempty"`
	Role  string        `json:"role"`
	Model string        `json:"model"`
	Usage MessagesUsage `json:"usage"`
}

// MessageStartPayload is the payload of a message_start event.
type MessageStartPayload struct {
	Type    string        `json:"type"`
	Message MessageHeader `json:"message"`
}

// ContentBlock is the block object nested in content_block_start. Its Type
// field selects the concrete typed variant at the parse boundary.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// ContentBlockStartPayload is the payload of a content_block_start event.
type ContentBlockStartPayload struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

// BlockDelta is the delta object nested in content_block_delta. Its Type
// field selects text_delta vs input_json_delta.
type BlockDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// ContentBlockDeltaPayload is the payload of a content_block_delta event.
type ContentBlockDeltaPayload struct {
	Type  string     `json:"type"`
	Index int        `json:"index"`
	Delta BlockDelta `json:"delta"`
}

// ContentBlockStopPayload is the payload of a content_block_stop event.
type ContentBlockStopPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDeltaBody is the delta object nested in message_delta.
type MessageDeltaBody struct {
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

// DeltaUsage is the usage object carried on message_delta; output tokens
// arrive here rather than on message_start.
type DeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// MessageDeltaPayload is the payload of a message_delta event.
type MessageDeltaPayload struct {
	Type  string           `json:"type"`
	Delta MessageDeltaBody `json:"delta"`
	Usage *DeltaUsage      `json:"usage,omitempty"`
}

// MessageStopPayload is the payload of a message_stop event.
type MessageStopPayload struct {
	Type string `json:"type"`
}
