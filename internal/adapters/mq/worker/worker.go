// Package worker drains the journal queue into a handler on one goroutine, so
// journal writes happen in insertion order.
package worker

import (
	"context"
	"time"

	"github.com/okian/casve/internal/adapters/mq/queue"
	"github.com/okian/casve/pkg/logger"
	"github.com/okian/casve/pkg/metrics"
)

// Event abstracts what workers read off the queue.
type Event = queue.Event

// Handler persists one entry.
type Handler interface {
	Handle(ctx context.Context, e Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, e Event) error { return f(ctx, e) } //nolint:gocritic // hugeParam

// Queue defines how workers receive entries.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker processes entries using the provided handler.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue is
	// closed and drained.
	Run(ctx context.Context)

	// Done is closed when Run returns.
	Done() <-chan struct{}
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue   Queue
	handler Handler
	name    string

	done chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, h Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:   q,
		handler: h,
		name:    "worker",
		done:    make(chan struct{}),
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	entries := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			w.process(ctx, e)
		}
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

func (w *InMemoryWorker) process(ctx context.Context, e Event) { //nolint:gocritic // hugeParam
	start := time.Now()
	kind := string(e.Kind)
	if err := w.handler.Handle(ctx, e); err != nil {
		metrics.RecordJournalFailure(kind)
		metrics.RecordErrorByComponent("journal", "write")
		metrics.RecordErrorLatency("journal", "write", float64(time.Since(start).Milliseconds()))
		w.logger.Error(ctx, "journal write failed",
			logger.String("kind", kind),
			logger.Error(err))
		return
	}
	metrics.RecordJournalWritten(kind)
}
