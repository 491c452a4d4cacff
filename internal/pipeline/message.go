package pipeline

// Usage aggregates token accounting for one exchange. Input tokens arrive
// with message_start; output tokens arrive with message_delta.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheReadTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// ContentBlock is one ordered block of a reconstructed message: either text
// or a tool_use invocation.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use fields
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

// Message is the canonical non-streaming shape both assemblers reconstruct.
// It is built once per exchange and never mutated after assembly. The JSON
// encoding matches the Anthropic Messages response shape so archived entries
// read like real wire captures.
type Message struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence string         `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage"`
}

// TextContent returns the concatenated text of every text block.
func (m *Message) TextContent() string {
	var out string
	for _, b := range m.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}
