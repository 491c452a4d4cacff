// Package router fans pipeline events out from one inbound queue to an
// arbitrary number of independently-failing subscribers, preserving the
// global enqueue order for every subscriber.
package router

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tjfontaine/llmtap/internal/pipeline"
)

// Subscriber receives every pipeline event in enqueue order. A returned
// error is logged at the fan-out site and does not affect delivery to other
// subscribers.
type Subscriber interface {
	Name() string
	HandleEvent(ev pipeline.Event) error
}

// Router drains one inbound FIFO on a single goroutine and delivers each
// event to every registered subscriber in order. Subscribers must be
// registered before Start; the set is fixed once started.
type Router struct {
	logger *slog.Logger
	in     chan pipeline.Event
	subs   []Subscriber

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
}

// New creates a router with the given inbound queue capacity.
func New(logger *slog.Logger, queueSize int) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Router{
		logger: logger,
		in:     make(chan pipeline.Event, queueSize),
		done:   make(chan struct{}),
	}
}

// Register adds a subscriber. It must be called before Start.
func (r *Router) Register(s Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("router already started")
	}
	r.subs = append(r.subs, s)
	return nil
}

// Start spawns the fan-out goroutine.
func (r *Router) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("router already started")
	}
	r.started = true
	go r.loop()
	return nil
}

// Publish enqueues an event, blocking while the inbound queue is full.
// Publishing after Stop returns an error instead of panicking.
func (r *Router) Publish(ev pipeline.Event) error {
	// The lock is held across the send so Stop cannot close the channel
	// underneath it; the drain loop never takes the lock, so a full
	// queue still makes progress.
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return fmt.Errorf("router stopped")
	}
	r.in <- ev
	return nil
}

// Stop signals shutdown after all enqueued events drain, then joins the
// fan-out goroutine with a bounded timeout.
func (r *Router) Stop(timeout time.Duration) error {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.in)
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("router did not drain within %s", timeout)
	}
}

func (r *Router) loop() {
	defer close(r.done)
	for ev := range r.in {
		for _, s := range r.subs {
			r.deliver(s, ev)
		}
	}
}

// deliver is the single fan-out call site: subscriber panics and errors are
// contained here so one failing sink neither blocks the rest nor kills the
// loop.
func (r *Router) deliver(s Subscriber, ev pipeline.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("subscriber panicked",
				slog.String("subscriber", s.Name()),
				slog.String("kind", string(ev.Kind())),
				slog.Any("panic", rec),
			)
		}
	}()

	if err := s.HandleEvent(ev); err != nil {
		r.logger.Error("subscriber failed",
			slog.String("subscriber", s.Name()),
			slog.String("kind", string(ev.Kind())),
			slog.String("error", err.Error()),
		)
	}
}
