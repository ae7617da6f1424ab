// Package generation turns worksheet steps 0-2 into decision options by
// calling an upstream language model.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/casve/internal/domain/model"
	"github.com/okian/casve/internal/domain/progress"
	"github.com/okian/casve/internal/domain/prompt"
	"github.com/okian/casve/internal/domain/worksheet"
	"github.com/okian/casve/pkg/errs"
	"github.com/okian/casve/pkg/logger"
	"github.com/okian/casve/pkg/metrics"
	"github.com/okian/casve/pkg/retry"
)

// CompletionRequest is one upstream call.
type CompletionRequest struct {
	System      string
	Prompt      string
	SchemaName  string
	Schema      json.RawMessage
	Temperature float32
	MaxTokens   int
}

// Completion is the upstream answer.
type Completion struct {
	Content string
	Model   string
	Usage   model.TokenUsage
}

// Completer performs a single chat completion. Errors that implement
// IsRetryable() bool returning true are retried.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// Recorder receives the generation record of every Generate call.
type Recorder interface {
	RecordGeneration(ctx context.Context, rec model.GenerationRecord)
}

// Request carries the steps a generation is based on.
type Request struct {
	SessionID string          `json:"sessionId"`
	Step0     worksheet.Step0 `json:"step0"`
	Step1     worksheet.Step1 `json:"step1"`
	Step2     worksheet.Step2 `json:"step2"`
}

// Result is a successful generation.
type Result struct {
	Options     []worksheet.Option
	Usage       model.TokenUsage
	Model       string
	Prompt      string
	Fingerprint string
	Attempts    int
}

// Generator produces options through a Completer.
type Generator struct {
	completer   Completer
	recorder    Recorder
	log         logger.Logger
	tracer      trace.Tracer
	retry       *retry.Config
	timeout     time.Duration
	temperature float32
	maxTokens   int
	model       string
	now         func() time.Time
}

// New returns a Generator calling c.
func New(c Completer, opts ...Option) *Generator {
	g := &Generator{
		completer:   c,
		log:         logger.Nop(),
		tracer:      otel.Tracer("github.com/okian/casve/internal/domain/generation"),
		retry:       retry.DefaultConfig(),
		timeout:     60 * time.Second,
		temperature: 0.7,
		maxTokens:   2000,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate validates steps 0-2, calls the upstream and parses its options.
// Exactly one record is handed to the Recorder per call.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	const op = "generation.Generate"
	start := g.now()
	req = normalize(req)

	ctx, span := g.tracer.Start(ctx, "generation.generate", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
	))
	defer span.End()

	rec := model.GenerationRecord{
		Timestamp: start,
		SessionID: req.SessionID,
		Model:     g.model,
		Request:   encodeRequest(req),
	}
	finish := func(res *Result, err error) (*Result, error) {
		rec.DurationMs = g.now().Sub(start).Milliseconds()
		outcome := "success"
		if err != nil {
			rec.Error = err.Error()
			rec.ErrorKind = KindName(err)
			outcome = rec.ErrorKind
			span.RecordError(err)
			span.SetStatus(codes.Error, rec.ErrorKind)
		}
		metrics.RecordGeneration(outcome, float64(rec.DurationMs))
		if g.recorder != nil {
			g.recorder.RecordGeneration(ctx, rec)
		}
		return res, err
	}

	if missing := incomplete(req); missing != nil {
		return finish(nil, errs.Wrap(op, ErrIncompletePrerequisite, missing))
	}

	p := prompt.Build(req.Step0, req.Step1, req.Step2)
	rec.Prompt = p
	creq := CompletionRequest{
		System:      prompt.System,
		Prompt:      p,
		SchemaName:  SchemaName,
		Schema:      OptionsSchema,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}

	var resp *Completion
	attempts, err := retry.DoIfRetryable(ctx, g.retry, func(attempt int) error {
		var callErr error
		resp, callErr = g.call(ctx, creq, attempt)
		return callErr
	}, func(attempt int, err error) {
		metrics.RecordUpstreamRetry()
		g.log.Warn(ctx, "upstream call failed, retrying",
			logger.String("session_id", req.SessionID),
			logger.Int("attempt", attempt),
			logger.Error(err))
	})
	rec.Attempts = attempts
	if err != nil {
		g.log.Error(ctx, "upstream call failed",
			logger.String("session_id", req.SessionID),
			logger.Int("attempts", attempts),
			logger.Error(err))
		return finish(nil, errs.Wrap(op, ErrUpstreamUnavailable, err))
	}

	rec.Response = resp.Content
	rec.TokensUsed = resp.Usage
	if resp.Model != "" {
		rec.Model = resp.Model
	}
	metrics.RecordTokensUsed(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	options, err := ParseOptions(resp.Content)
	if err != nil {
		g.log.Warn(ctx, "upstream returned unusable options",
			logger.String("session_id", req.SessionID),
			logger.Error(err))
		return finish(nil, errs.Wrap(op, ErrMalformedLLMResponse, err))
	}
	if data, mErr := json.Marshal(options); mErr == nil {
		rec.Options = data
	}
	metrics.RecordOptionsGenerated(len(options))

	return finish(&Result{
		Options:     options,
		Usage:       resp.Usage,
		Model:       rec.Model,
		Prompt:      p,
		Fingerprint: prompt.Fingerprint(p),
		Attempts:    attempts,
	}, nil)
}

func (g *Generator) call(ctx context.Context, req CompletionRequest, attempt int) (*Completion, error) {
	ctx, span := g.tracer.Start(ctx, "generation.upstream", trace.WithAttributes(attribute.Int("attempt", attempt)))
	defer span.End()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	resp, err := g.completer.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream error")
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("empty completion")
	}
	span.SetAttributes(
		attribute.Int("tokens.prompt", resp.Usage.PromptTokens),
		attribute.Int("tokens.completion", resp.Usage.CompletionTokens),
	)
	return resp, nil
}

// normalize trims list entries and drops blanks the same way patches do, so
// the prerequisite check and the prompt agree with stored sessions.
func normalize(req Request) Request {
	s := &worksheet.Session{Step0: req.Step0, Step1: req.Step1, Step2: req.Step2}
	worksheet.Normalize(s)
	req.Step0, req.Step1, req.Step2 = s.Step0, s.Step1, s.Step2
	return req
}

func incomplete(req Request) error {
	s := &worksheet.Session{Step0: req.Step0, Step1: req.Step1, Step2: req.Step2}
	missing := map[int][]string{}
	for _, step := range []worksheet.Step{worksheet.StepSelfProfile, worksheet.StepCommunication, worksheet.StepAnalysis} {
		if m := progress.MissingFields(s, step); len(m) > 0 {
			missing[int(step)] = m
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &IncompleteError{Missing: missing}
}

func encodeRequest(req Request) json.RawMessage {
	data, err := json.Marshal(struct {
		Step0 worksheet.Step0 `json:"step0"`
		Step1 worksheet.Step1 `json:"step1"`
		Step2 worksheet.Step2 `json:"step2"`
	}{req.Step0, req.Step1, req.Step2})
	if err != nil {
		return json.RawMessage(fmt.Sprintf("%q", err.Error()))
	}
	return data
}
