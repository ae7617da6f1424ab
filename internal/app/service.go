// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okian/casve/internal/adapters/journal"
	"github.com/okian/casve/internal/adapters/llm"
	"github.com/okian/casve/internal/adapters/repository"
	"github.com/okian/casve/internal/domain/dedupe"
	"github.com/okian/casve/internal/domain/generation"
	"github.com/okian/casve/internal/domain/model"
	"github.com/okian/casve/internal/domain/progress"
	"github.com/okian/casve/internal/domain/worksheet"
	"github.com/okian/casve/pkg/errs"
	"github.com/okian/casve/pkg/logger"
	"github.com/okian/casve/pkg/metrics"
)

// Activity types written by the service itself.
const (
	ActivityGenerateOptionsRequest = "generate_options_request"
	ActivitySessionCreated         = "session_created"
	ActivitySessionSaved           = "session_saved"
	ActivityStepAdvanced           = "step_advanced"
	ActivityOptionsMerged          = "options_merged"
)

// Journal receives activity, generation and report records.
type Journal interface {
	generation.Recorder
	RecordActivity(ctx context.Context, ev model.ActivityEvent) error
	RecordReport(ctx context.Context, rec model.ReportRecord) error
	Pending() int
	Dropped() int64
	Close(ctx context.Context) error
}

// Service implements the API dependencies for the worksheet backend.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	journal   Journal
	deduper   dedupe.Deduper
	completer generation.Completer
	generator *generation.Generator

	// Configuration
	storeCfg         repository.Config
	storeOpts        []repository.Option
	logDir           string
	journalQueueSize int
	dedupeTTL        time.Duration
	model            string
	genOpts          []generation.Option
	now              func() time.Time

	// State
	started bool

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		storeCfg:         repository.Config{Backend: repository.BackendMemory},
		logDir:           "logs",
		journalQueueSize: 1024,
		dedupeTTL:        30 * time.Minute,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store, the journal and the generator. Components injected
// through options are used as is.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting worksheet service...")

	if s.store == nil {
		st, err := repository.Open(ctx, s.storeCfg, s.storeOpts...)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store = st
		s.logger.Info(ctx, "session store opened", logger.String("backend", s.backendName()))
	}
	if s.journal == nil {
		sink, err := journal.NewSink(s.logDir,
			journal.WithQueueSize(s.journalQueueSize),
			journal.WithLogger(s.logger.Named("journal")),
			journal.WithClock(s.now))
		if err != nil {
			_ = s.store.Close()
			return fmt.Errorf("open journal: %w", err)
		}
		s.journal = sink
	}
	if s.deduper == nil {
		s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithTTL(s.dedupeTTL))
	}
	if s.completer == nil {
		s.logger.Warn(ctx, "no llm provider configured, option generation will fail")
		s.completer = llm.Unavailable{Err: llm.ErrMissingAPIKey}
	}

	genOpts := append([]generation.Option{
		generation.WithLogger(s.logger.Named("generation")),
		generation.WithModel(s.model),
		generation.WithClock(s.now),
	}, s.genOpts...)
	genOpts = append(genOpts, generation.WithRecorder(s.journal))
	s.generator = generation.New(s.completer, genOpts...)

	s.started = true
	s.logger.Info(ctx, "worksheet service started",
		logger.String("store", s.backendName()),
		logger.String("model", s.model),
		logger.String("logDir", s.logDir),
	)
	return nil
}

// Stop drains the journal and closes the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping worksheet service...")

	var errList []error
	if err := s.journal.Close(ctx); err != nil {
		errList = append(errList, err)
	}
	if err := s.store.Close(); err != nil {
		errList = append(errList, fmt.Errorf("close store: %w", err))
	}
	s.started = false
	s.logger.Info(ctx, "worksheet service stopped")
	return errors.Join(errList...)
}

func (s *Service) backendName() string {
	if s.storeCfg.Backend == "" {
		return repository.BackendMemory
	}
	return s.storeCfg.Backend
}

func (s *Service) ready(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return errs.New(op, ErrNotStarted)
	}
	return nil
}

// activity writes an activity record; refusals are already logged by the sink.
func (s *Service) activity(ctx context.Context, sessionID, typ string, data map[string]any) {
	_ = s.journal.RecordActivity(ctx, model.ActivityEvent{
		Timestamp:    s.now(),
		SessionID:    sessionID,
		ActivityType: typ,
		Data:         data,
	})
}

// run executes the effects returned by a worksheet update.
func (s *Service) run(ctx context.Context, sess *worksheet.Session, effects []worksheet.Effect) error {
	for _, e := range effects {
		switch e.Kind {
		case worksheet.EffectSave:
			if err := s.store.Save(ctx, sess); err != nil {
				return err
			}
		case worksheet.EffectLog:
			s.activity(ctx, sess.SessionID, e.Activity, e.Data)
		}
	}
	return nil
}

// CreateSession stores a new empty worksheet.
func (s *Service) CreateSession(ctx context.Context) (*worksheet.Session, error) {
	const op = "service.CreateSession"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	sess := worksheet.New("", s.now())
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	metrics.RecordSessionCreated("api")
	s.activity(ctx, sess.SessionID, ActivitySessionCreated, nil)
	return sess, nil
}

// LoadSession returns the stored worksheet.
func (s *Service) LoadSession(ctx context.Context, id string) (*worksheet.Session, error) {
	const op = "service.LoadSession"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	return s.store.Load(ctx, id)
}

// SaveSession replaces a whole worksheet. The session is normalised like a
// patched one, validated, and its currentStep is lowered to what is reachable.
func (s *Service) SaveSession(ctx context.Context, sess *worksheet.Session) (*worksheet.Session, error) {
	const op = "service.SaveSession"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errs.New(op, ErrInvalidRequest)
	}
	worksheet.Normalize(sess)
	if err := worksheet.Validate(sess); err != nil {
		return nil, err
	}
	progress.Clamp(sess)

	now := s.now()
	if prev, err := s.store.Load(ctx, sess.SessionID); err == nil {
		sess.CreatedAt = prev.CreatedAt
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
		metrics.RecordSessionCreated("import")
	}
	sess.UpdatedAt = now

	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	s.activity(ctx, sess.SessionID, ActivitySessionSaved, map[string]any{"currentStep": int(sess.CurrentStep)})
	return sess, nil
}

// DeleteSession removes a worksheet.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	const op = "service.DeleteSession"
	if err := s.ready(op); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

// PatchStep applies a partial update to one step and returns the updated
// step record.
func (s *Service) PatchStep(ctx context.Context, id string, step worksheet.Step, patch worksheet.Patch) (any, error) {
	const op = "service.PatchStep"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	rec, effects, err := worksheet.ApplyPatch(sess, step, patch, s.now())
	if err != nil {
		metrics.RecordStepPatch(step.String(), "rejected")
		return nil, err
	}
	progress.Clamp(sess)
	if err := s.run(ctx, sess, effects); err != nil {
		metrics.RecordStepPatch(step.String(), "error")
		return nil, err
	}
	metrics.RecordStepPatch(step.String(), "applied")
	return rec, nil
}

// Advance moves the worksheet to its next step when the current one is
// complete.
func (s *Service) Advance(ctx context.Context, id string) (*worksheet.Session, error) {
	const op = "service.Advance"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	from := sess.CurrentStep
	to, err := progress.Advance(sess, s.now())
	if err != nil {
		metrics.RecordStepAdvance(from.String(), "blocked")
		return nil, err
	}
	if to != from {
		if err := s.store.Save(ctx, sess); err != nil {
			return nil, err
		}
		s.activity(ctx, id, ActivityStepAdvanced, map[string]any{"from": int(from), "to": int(to)})
	}
	metrics.RecordStepAdvance(from.String(), "advanced")
	return sess, nil
}

// Progress reports step completeness for a stored worksheet.
func (s *Service) Progress(ctx context.Context, id string) (progress.Report, error) {
	const op = "service.Progress"
	if err := s.ready(op); err != nil {
		return progress.Report{}, err
	}
	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return progress.Report{}, err
	}
	return progress.Build(sess), nil
}

// GenerateOptions asks the upstream model for options based on steps 0-2.
// When the session is stored, its steps 0-2 are replaced by the request's and
// the options are merged into step 3.
func (s *Service) GenerateOptions(ctx context.Context, req generation.Request) (*generation.Result, error) {
	const op = "service.GenerateOptions"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, errs.Wrap(op, ErrInvalidRequest, errors.New("sessionId is required"))
	}
	s.logger.Info(ctx, "generate options request", logger.String("session_id", req.SessionID))
	s.activity(ctx, req.SessionID, ActivityGenerateOptionsRequest, map[string]any{
		"step0": req.Step0,
		"step1": req.Step1,
		"step2": req.Step2,
	})

	res, err := s.generator.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "options generated",
		logger.String("session_id", req.SessionID),
		logger.Int("options", len(res.Options)),
		logger.Int("tokens", res.Usage.TotalTokens))

	if err := s.mergeOptions(ctx, req, res); err != nil {
		s.logger.Warn(ctx, "generated options not stored",
			logger.String("session_id", req.SessionID),
			logger.Error(err))
	}
	return res, nil
}

func (s *Service) mergeOptions(ctx context.Context, req generation.Request, res *generation.Result) error {
	sess, err := s.store.Load(ctx, req.SessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	sess.Step0, sess.Step1, sess.Step2 = req.Step0, req.Step1, req.Step2
	worksheet.Normalize(sess)
	worksheet.MergeGenerated(sess, res.Options, res.Fingerprint, s.now())
	progress.Clamp(sess)
	if err := s.store.Save(ctx, sess); err != nil {
		return err
	}
	s.activity(ctx, sess.SessionID, ActivityOptionsMerged, map[string]any{"options": len(res.Options)})
	return nil
}

// SaveReport writes the complete worksheet to the report journal.
func (s *Service) SaveReport(ctx context.Context, rec model.ReportRecord) error {
	const op = "service.SaveReport"
	if err := s.ready(op); err != nil {
		return err
	}
	if strings.TrimSpace(rec.SessionID) == "" {
		return errs.Wrap(op, ErrInvalidRequest, errors.New("sessionId is required"))
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	s.logger.Info(ctx, "saving report data", logger.String("session_id", rec.SessionID))
	_ = s.journal.RecordReport(ctx, rec)
	return nil
}

// RecordActivity journals a client activity. A non-empty eventID makes the
// call idempotent: repeats report duplicate=true and are not written again.
// A refused record returns ErrBackpressure and forgets the event id so the
// client may retry.
func (s *Service) RecordActivity(ctx context.Context, ev model.ActivityEvent, eventID string) (bool, error) {
	const op = "service.RecordActivity"
	if err := s.ready(op); err != nil {
		return false, err
	}
	if strings.TrimSpace(ev.SessionID) == "" || strings.TrimSpace(ev.ActivityType) == "" {
		return false, errs.Wrap(op, ErrInvalidRequest, errors.New("sessionId and activityType are required"))
	}
	if eventID != "" && s.deduper.SeenAndRecord(ctx, eventID) {
		metrics.RecordActivityDuplicate()
		s.logger.Debug(ctx, "duplicate activity skipped",
			logger.String("session_id", ev.SessionID),
			logger.String("event_id", eventID))
		return true, nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	if err := s.journal.RecordActivity(ctx, ev); err != nil {
		if eventID != "" {
			s.deduper.Unrecord(ctx, eventID)
		}
		return false, errs.Wrap(op, ErrBackpressure, err)
	}
	return false, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":      s.started,
		"storeBackend": s.backendName(),
		"model":        s.model,
		"logDir":       s.logDir,
	}
	if !s.started {
		return stats
	}
	if n, err := s.store.Count(ctx); err == nil {
		stats["sessions"] = n
		metrics.UpdateActiveSessions(n)
	} else {
		s.logger.Warn(ctx, "count sessions failed", logger.Error(err))
	}
	stats["journalPending"] = s.journal.Pending()
	stats["journalDropped"] = s.journal.Dropped()
	stats["dedupeSize"] = s.deduper.Size()
	return stats
}
