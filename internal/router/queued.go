package router

import (
	"log/slog"
	"sync"

	"github.com/tjfontaine/llmtap/internal/pipeline"
)

// Queued wraps a subscriber with its own queue and consumer goroutine,
// decoupling a slow or blocking consumer from router throughput. Delivery
// order within the wrapped subscriber is still the global enqueue order.
type Queued struct {
	inner  Subscriber
	logger *slog.Logger
	ch     chan pipeline.Event

	closeOnce sync.Once
	done      chan struct{}
}

var _ Subscriber = (*Queued)(nil)

// NewQueued starts the consumer goroutine immediately. buffer bounds the
// decoupling queue; a full queue applies backpressure to the router rather
// than dropping events.
func NewQueued(inner Subscriber, logger *slog.Logger, buffer int) *Queued {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer < 1 {
		buffer = 1
	}
	q := &Queued{
		inner:  inner,
		logger: logger,
		ch:     make(chan pipeline.Event, buffer),
		done:   make(chan struct{}),
	}
	go q.consume()
	return q
}

func (q *Queued) Name() string { return q.inner.Name() + " (queued)" }

// HandleEvent pushes onto the decoupling queue.
func (q *Queued) HandleEvent(ev pipeline.Event) error {
	q.ch <- ev
	return nil
}

// Close drains remaining events through the consumer and waits for it to
// finish.
func (q *Queued) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
	<-q.done
}

func (q *Queued) consume() {
	defer close(q.done)
	for ev := range q.ch {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					q.logger.Error("queued subscriber panicked",
						slog.String("subscriber", q.inner.Name()),
						slog.Any("panic", rec),
					)
				}
			}()
			if err := q.inner.HandleEvent(ev); err != nil {
				q.logger.Error("queued subscriber failed",
					slog.String("subscriber", q.inner.Name()),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
}
