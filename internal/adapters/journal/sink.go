package journal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/casve/internal/adapters/mq/queue"
	"github.com/okian/casve/internal/adapters/mq/worker"
	"github.com/okian/casve/internal/domain/model"
	"github.com/okian/casve/pkg/errs"
	"github.com/okian/casve/pkg/logger"
)

// Sink queues records and writes them on a single background worker, so
// callers never wait on disk and files keep insertion order.
type Sink struct {
	q       *queue.InMemoryQueue
	w       *worker.InMemoryWorker
	log     logger.Logger
	now     func() time.Time
	dropped atomic.Int64
	cancel  context.CancelFunc
	once    sync.Once
}

// Option configures a Sink.
type Option func(*sinkConfig)

type sinkConfig struct {
	capacity int
	log      logger.Logger
	now      func() time.Time
}

// WithQueueSize bounds the number of pending records.
func WithQueueSize(n int) Option {
	return func(c *sinkConfig) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithLogger sets the application logger failures are reported to.
func WithLogger(l logger.Logger) Option {
	return func(c *sinkConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *sinkConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// NewSink creates the daily writer under dir and starts the worker.
func NewSink(dir string, opts ...Option) (*Sink, error) {
	cfg := sinkConfig{capacity: queue.DefaultCapacity, log: logger.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	dw, err := NewDailyWriter(dir, cfg.log)
	if err != nil {
		return nil, err
	}
	return newSink(dw, cfg), nil
}

func newSink(h worker.Handler, cfg sinkConfig) *Sink {
	q := queue.NewInMemoryQueue(queue.WithCapacity(cfg.capacity))
	w := worker.NewInMemoryWorker(q, h, worker.WithName("journal"), worker.WithLogger(cfg.log))
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	return &Sink{q: q, w: w, log: cfg.log, now: cfg.now, cancel: cancel}
}

func (s *Sink) enqueue(ctx context.Context, kind model.Kind, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = s.now()
	}
	if s.q.Enqueue(ctx, model.Entry{Kind: kind, Timestamp: ts, Payload: payload}) {
		return nil
	}
	s.dropped.Add(1)
	s.log.Warn(ctx, "journal record dropped",
		logger.String("kind", string(kind)),
		logger.Int("pending", s.q.Len(ctx)))
	return errs.Wrap("journal.enqueue", ErrLogWriteFailure, fmt.Errorf("%s queue refused record", kind))
}

// RecordActivity queues a user activity record. The error only reports that
// the record was refused; callers may ignore it.
func (s *Sink) RecordActivity(ctx context.Context, ev model.ActivityEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	return s.enqueue(ctx, model.KindActivity, ev.Timestamp, ev)
}

// RecordGeneration queues a generation record.
func (s *Sink) RecordGeneration(ctx context.Context, rec model.GenerationRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	_ = s.enqueue(ctx, model.KindGeneration, rec.Timestamp, rec)
}

// RecordReport queues a full worksheet report.
func (s *Sink) RecordReport(ctx context.Context, rec model.ReportRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	return s.enqueue(ctx, model.KindReport, rec.Timestamp, rec)
}

// Pending returns the number of queued records.
func (s *Sink) Pending() int { return s.q.Len(context.Background()) }

// Dropped returns how many records were refused since start.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Close stops accepting records and waits until the queue is drained or ctx
// expires.
func (s *Sink) Close(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		_ = s.q.Close()
		select {
		case <-s.w.Done():
		case <-ctx.Done():
			err = fmt.Errorf("journal drain: %w", ctx.Err())
		}
		s.cancel()
	})
	return err
}
