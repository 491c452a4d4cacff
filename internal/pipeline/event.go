// Package pipeline defines the typed event model for the observability
// pipeline: the envelope events that flow from the transport boundary to
// subscribers, the wire-level SSE event union, and the canonical
// reconstructed message shape.
package pipeline

import (
	"encoding/json"
	"net/http"
)

// Provider identifies the upstream API shape an exchange speaks.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderUnknown   Provider = ""
)

// Kind discriminates envelope event variants. Each concrete variant returns
// its own fixed Kind; callers never supply one.
type Kind string

const (
	KindRequestHeaders       Kind = "request_headers"
	KindRequestBody          Kind = "request_body"
	KindResponseHeaders      Kind = "response_headers"
	KindResponseSSE          Kind = "response_sse"
	KindResponseNonStreaming Kind = "response_non_streaming"
	KindResponseComplete     Kind = "response_complete"
	KindResponseDone         Kind = "response_done"
	KindError                Kind = "error"
	KindProxyError           Kind = "proxy_error"
	KindLog                  Kind = "log"
)

// Meta carries the correlation fields shared by every envelope event.
// Seq is strictly increasing per RequestID starting at 0; RecvNS is the
// monotonic receive timestamp and is non-decreasing per RequestID.
type Meta struct {
	RequestID string
	Seq       uint64
	RecvNS    int64
	Provider  Provider
}

// Event is the envelope every pipeline consumer receives. The implementer
// set is fixed to the variants declared in this package.
type Event interface {
	Kind() Kind
	Meta() Meta
	isEvent()
}

// RequestHeaders is emitted when a client request's headers have been read.
type RequestHeaders struct {
	EventMeta Meta
	Method    string
	URL       string
	Headers   http.Header
}

// RequestBody carries the JSON-decoded client request body.
type RequestBody struct {
	EventMeta Meta
	Body      json.RawMessage
}

// ResponseHeaders is emitted when the upstream response status line and
// headers have been read.
type ResponseHeaders struct {
	EventMeta Meta
	Status    int
	Headers   http.Header
}

// ResponseSSE wraps one parsed wire-level streaming event.
type ResponseSSE struct {
	EventMeta Meta
	Event     SSEEvent
}

// ResponseNonStreaming carries the body of a non-streaming upstream
// response verbatim.
type ResponseNonStreaming struct {
	EventMeta Meta
	Body      json.RawMessage
}

// ResponseComplete carries the fully reconstructed message for an exchange,
// whether it arrived streamed or not.
type ResponseComplete struct {
	EventMeta Meta
	Message   *Message
}

// ResponseDone marks the end of an exchange's response stream.
type ResponseDone struct {
	EventMeta Meta
}

// Error reports an upstream API error for an exchange.
type Error struct {
	EventMeta Meta
	Message   string
	Status    int
}

// ProxyError reports a failure inside the proxy itself, not the upstream.
type ProxyError struct {
	EventMeta Meta
	Message   string
}

// Log carries a free-form diagnostic line through the pipeline so viewers
// see it interleaved with traffic.
type Log struct {
	EventMeta Meta
	Level     string
	Message   string
}

func (e RequestHeaders) Kind() Kind       { return KindRequestHeaders }
func (e RequestBody) Kind() Kind          { return KindRequestBody }
func (e ResponseHeaders) Kind() Kind      { return KindResponseHeaders }
func (e ResponseSSE) Kind() Kind          { return KindResponseSSE }
func (e ResponseNonStreaming) Kind() Kind { return KindResponseNonStreaming }
func (e ResponseComplete) Kind() Kind     { return KindResponseComplete }
func (e ResponseDone) Kind() Kind         { return KindResponseDone }
func (e Error) Kind() Kind                { return KindError }
func (e ProxyError) Kind() Kind           { return KindProxyError }
func (e Log) Kind() Kind                  { return KindLog }

func (e RequestHeaders) Meta() Meta       { return e.EventMeta }
func (e RequestBody) Meta() Meta          { return e.EventMeta }
func (e ResponseHeaders) Meta() Meta      { return e.EventMeta }
func (e ResponseSSE) Meta() Meta          { return e.EventMeta }
func (e ResponseNonStreaming) Meta() Meta { return e.EventMeta }
func (e ResponseComplete) Meta() Meta     { return e.EventMeta }
func (e ResponseDone) Meta() Meta         { return e.EventMeta }
func (e Error) Meta() Meta                { return e.EventMeta }
func (e ProxyError) Meta() Meta           { return e.EventMeta }
func (e Log) Meta() Meta                  { return e.EventMeta }

func (RequestHeaders) isEvent()       {}
func (RequestBody) isEvent()          {}
func (ResponseHeaders) isEvent()      {}
func (ResponseSSE) isEvent()          {}
func (ResponseNonStreaming) isEvent() {}
func (ResponseComplete) isEvent()     {}
func (ResponseDone) isEvent()         {}
func (Error) isEvent()                {}
func (ProxyError) isEvent()           {}
func (Log) isEvent()                  {}
