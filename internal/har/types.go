// Package har records completed LLM exchanges to an HTTP Archive file and
// replays archives back into the typed event stream a live capture would
// have produced.
package har

import (
	"net/http"
	"time"
)

// Version is the HAR format version this package writes.
const Version = "1.2"

// CreatorName identifies archives produced by this pipeline.
const CreatorName = "llmtap"

// Archive is the top-level HAR document.
type Archive struct {
	Log Log `json:"log"`
}

// Log holds the archive metadata and the entries array.
type Log struct {
	Version string  `json:"version"`
	Creator Creator `json:"creator"`
	Entries []Entry `json:"entries"`
}

// Creator identifies the producing application.
type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// NameValue is a HAR header pair.
type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PostData carries the request body. Text is the JSON-encoded provider
// payload, double-encoded inside the archive per browser-capture semantics.
type PostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// Request is the HAR request record.
type Request struct {
	Method      string      `json:"method"`
	URL         string      `json:"url"`
	HTTPVersion string      `json:"httpVersion"`
	Headers     []NameValue `json:"headers"`
	QueryString []NameValue `json:"queryString"`
	HeadersSize int         `json:"headersSize"`
	BodySize    int         `json:"bodySize"`
	PostData    *PostData   `json:"postData,omitempty"`
}

// Content carries the response body, the serialized complete message.
type Content struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// Response is the HAR response record.
type Response struct {
	Status      int         `json:"status"`
	StatusText  string      `json:"statusText"`
	HTTPVersion string      `json:"httpVersion"`
	Headers     []NameValue `json:"headers"`
	Content     Content     `json:"content"`
	RedirectURL string      `json:"redirectURL"`
	HeadersSize int         `json:"headersSize"`
	BodySize    int         `json:"bodySize"`
}

// Timings is the coarse HAR timing block. Only the total wait is known to
// the pipeline; send and receive are reported as zero.
type Timings struct {
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
}

// Enrichment is optional provenance metadata attached to traffic generated
// by an enrichment run rather than an interactive session.
type Enrichment struct {
	RunID           string `json:"run_id,omitempty"`
	Purpose         string `json:"purpose,omitempty"`
	PromptVersion   string `json:"prompt_version,omitempty"`
	PolicyVersion   string `json:"policy_version,omitempty"`
	SourceSessionID string `json:"source_session_id,omitempty"`
}

// Extension is the additive, non-standard block each entry carries under
// "_llmtap". Standards-compliant HAR viewers ignore it.
type Extension struct {
	Provider   string      `json:"provider"`
	Enrichment *Enrichment `json:"enrichment,omitempty"`
}

// Entry is one archived exchange.
type Entry struct {
	StartedDateTime string     `json:"startedDateTime"`
	Time            float64    `json:"time"`
	Request         Request    `json:"request"`
	Response        Response   `json:"response"`
	Cache           struct{}   `json:"cache"`
	Timings         Timings    `json:"timings"`
	Extension       *Extension `json:"_llmtap,omitempty"`
	Comment         string     `json:"comment,omitempty"`
}

func headersToHAR(h http.Header) []NameValue {
	if len(h) == 0 {
		return []NameValue{}
	}
	out := make([]NameValue, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, NameValue{Name: name, Value: v})
		}
	}
	return out
}

func headersFromHAR(pairs []NameValue) http.Header {
	h := make(http.Header, len(pairs))
	for _, p := range pairs {
		h.Add(p.Name, p.Value)
	}
	return h
}

func harTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
