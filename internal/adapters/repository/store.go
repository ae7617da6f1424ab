// Package repository persists worksheet sessions keyed by session id.
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/casve/internal/domain/worksheet"
	"github.com/okian/casve/pkg/errs"
	"github.com/okian/casve/pkg/metrics"
)

// Store provides read/write access to sessions. Values are the JSON encoding
// of worksheet.Session, so Load(Save(s)) returns s for every valid session.
type Store interface {
	// Save writes s, replacing any previous value under s.SessionID.
	Save(ctx context.Context, s *worksheet.Session) error

	// Load returns the session. Returns ErrNotFound if the id is unknown.
	Load(ctx context.Context, id string) (*worksheet.Session, error)

	// Delete removes the session. Returns ErrNotFound if the id is unknown.
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored sessions.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config selects a backend.
type Config struct {
	Backend   string
	Path      string
	RedisAddr string
}

// Open returns the configured backend wrapped with metrics.
func Open(ctx context.Context, cfg Config, opts ...Option) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	var (
		s   Store
		err error
	)
	switch backend {
	case "", BackendMemory:
		backend = BackendMemory
		s = NewMemoryStore(opts...)
	case BackendSQLite:
		s, err = NewSQLiteStore(ctx, cfg.Path)
	case BackendRedis:
		s, err = NewRedisStore(ctx, cfg.RedisAddr, opts...)
	default:
		return nil, errs.Wrap("repository.Open", ErrUnknownBackend, fmt.Errorf("%q", cfg.Backend))
	}
	if err != nil {
		return nil, err
	}
	return Instrument(backend, s), nil
}

// Instrument records latency and outcome of every store call.
func Instrument(backend string, s Store) Store {
	return &instrumented{backend: backend, next: s}
}

type instrumented struct {
	backend string
	next    Store
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errs.KindOf(err) == ErrNotFound:
		result = "not_found"
	default:
		result = "error"
	}
	metrics.RecordStoreOperation(i.backend, op, result, float64(time.Since(start).Microseconds())/1000)
}

func (i *instrumented) Save(ctx context.Context, s *worksheet.Session) (err error) {
	defer func(start time.Time) { i.observe("save", start, err) }(time.Now())
	return i.next.Save(ctx, s)
}

func (i *instrumented) Load(ctx context.Context, id string) (s *worksheet.Session, err error) {
	defer func(start time.Time) { i.observe("load", start, err) }(time.Now())
	return i.next.Load(ctx, id)
}

func (i *instrumented) Delete(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { i.observe("delete", start, err) }(time.Now())
	return i.next.Delete(ctx, id)
}

func (i *instrumented) Count(ctx context.Context) (n int, err error) {
	defer func(start time.Time) { i.observe("count", start, err) }(time.Now())
	return i.next.Count(ctx)
}

func (i *instrumented) Close() error { return i.next.Close() }

func validateForSave(op string, s *worksheet.Session) error {
	if s == nil || s.SessionID == "" {
		return errs.Wrap(op, worksheet.ErrMalformedSession, fmt.Errorf("missing session id"))
	}
	return nil
}
