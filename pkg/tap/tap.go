// Package tap provides the public API for embedding the llmtap
// observability pipeline. This is the stable API for external consumers.
package tap

import (
	"github.com/tjfontaine/llmtap/internal/runtime"
)

// Pipeline is the main entry point for running the observability pipeline.
// See internal/runtime.Pipeline for full documentation.
type Pipeline = runtime.Pipeline

// Option is a functional option for configuring a Pipeline.
type Option = runtime.Option

// New creates a new Pipeline with the given options.
// Example:
//
//	p, err := tap.New(
//	    tap.WithRecorder("./session.har"),
//	    tap.WithSQLiteIndex("./exchanges.db"),
//	)
var New = runtime.New

var (
	WithLogger        = runtime.WithLogger
	WithQueueSize     = runtime.WithQueueSize
	WithRecorder      = runtime.WithRecorder
	WithSQLiteIndex   = runtime.WithSQLiteIndex
	WithWebhookExport = runtime.WithWebhookExport
	WithDebugServer   = runtime.WithDebugServer
)
