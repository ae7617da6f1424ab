package generation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/casve/internal/domain/model"
	"github.com/okian/casve/internal/domain/worksheet"
	"github.com/okian/casve/pkg/retry"
	. "github.com/smartystreets/goconvey/convey"
)

type stubCompleter struct {
	mu    sync.Mutex
	calls int
	reqs  []CompletionRequest
	fn    func(call int) (*Completion, error)
}

func (s *stubCompleter) Complete(_ context.Context, req CompletionRequest) (*Completion, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	return s.fn(call)
}

type memRecorder struct {
	mu   sync.Mutex
	recs []model.GenerationRecord
}

func (m *memRecorder) RecordGeneration(_ context.Context, rec model.GenerationRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
}

type transientErr struct{}

func (transientErr) Error() string     { return "503 service unavailable" }
func (transientErr) IsRetryable() bool { return true }

const threeOptions = "```json\n" + `{"options": [
  {"title": "UX Designer", "description": "Design products.", "profile": {"coreRole": "design", "requiredSkills": "figma", "environment": "studio", "growth": "lead"}, "matchReason": "fits design"},
  {"title": "Tech Writer", "description": "Write docs.", "profile": {"coreRole": "docs", "requiredSkills": "writing", "environment": "remote", "growth": "staff"}, "matchReason": "fits writing"},
  {"title": "Freelancer", "description": "Own studio.", "profile": {"coreRole": "owner", "requiredSkills": "sales", "environment": "home", "growth": "agency"}, "matchReason": "fits autonomy"}
]}` + "\n```"

func minimalRequest() Request {
	return Request{
		SessionID: "s-1",
		Step0:     worksheet.Step0{Values: []string{"autonomy"}, Interests: []string{"design"}, Strengths: []string{"writing"}},
		Step1:     worksheet.Step1{ProblemDefinition: "career choice"},
		Step2:     worksheet.Step2{EvaluationCriteria: []string{"salary"}},
	}
}

func fastRetry() *retry.Config {
	return &retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestGenerate(t *testing.T) {
	Convey("Given a generator with a recording sink", t, func() {
		rec := &memRecorder{}
		usage := model.TokenUsage{PromptTokens: 120, CompletionTokens: 300, TotalTokens: 420}

		Convey("When steps 0-2 are incomplete", func() {
			stub := &stubCompleter{fn: func(int) (*Completion, error) { return nil, errors.New("unexpected") }}
			g := New(stub, WithRecorder(rec), WithRetry(fastRetry()))
			req := minimalRequest()
			req.Step0.Strengths = nil
			req.Step2.EvaluationCriteria = nil

			_, err := g.Generate(context.Background(), req)

			Convey("Then the upstream is never called", func() {
				So(errors.Is(err, ErrIncompletePrerequisite), ShouldBeTrue)
				So(stub.calls, ShouldEqual, 0)
				var ie *IncompleteError
				So(errors.As(err, &ie), ShouldBeTrue)
				So(ie.Missing[0], ShouldResemble, []string{"strengths"})
				So(ie.Missing[2], ShouldResemble, []string{"evaluationCriteria"})
				So(len(rec.recs), ShouldEqual, 1)
				So(rec.recs[0].ErrorKind, ShouldEqual, "incomplete_prerequisite")
			})
		})

		Convey("When required lists hold only blank entries", func() {
			stub := &stubCompleter{fn: func(int) (*Completion, error) { return nil, errors.New("unexpected") }}
			g := New(stub, WithRecorder(rec), WithRetry(fastRetry()))
			req := minimalRequest()
			req.Step0.Values = []string{"   "}
			req.Step2.EvaluationCriteria = []string{""}

			_, err := g.Generate(context.Background(), req)

			Convey("Then they count as empty and the upstream is never called", func() {
				So(errors.Is(err, ErrIncompletePrerequisite), ShouldBeTrue)
				So(stub.calls, ShouldEqual, 0)
				var ie *IncompleteError
				So(errors.As(err, &ie), ShouldBeTrue)
				So(ie.Missing[0], ShouldResemble, []string{"values"})
				So(ie.Missing[2], ShouldResemble, []string{"evaluationCriteria"})
			})
		})

		Convey("When list entries carry padding and duplicates", func() {
			stub := &stubCompleter{fn: func(int) (*Completion, error) {
				return &Completion{Content: threeOptions, Usage: usage}, nil
			}}
			g := New(stub, WithRecorder(rec), WithRetry(fastRetry()))
			req := minimalRequest()
			req.Step0.Values = []string{" autonomy ", "", "autonomy"}

			_, err := g.Generate(context.Background(), req)

			Convey("Then the prompt carries the normalised values", func() {
				So(err, ShouldBeNil)
				So(stub.reqs[0].Prompt, ShouldContainSubstring, "**Values**: autonomy\n")
			})
		})

		Convey("When the upstream returns three well-formed options", func() {
			stub := &stubCompleter{fn: func(int) (*Completion, error) {
				return &Completion{Content: threeOptions, Model: "stub-model", Usage: usage}, nil
			}}
			g := New(stub, WithRecorder(rec), WithRetry(fastRetry()))

			res, err := g.Generate(context.Background(), minimalRequest())

			Convey("Then exactly those options and the stub usage come back", func() {
				So(err, ShouldBeNil)
				So(len(res.Options), ShouldEqual, 3)
				So(res.Options[0].Title, ShouldEqual, "UX Designer")
				So(res.Options[2].Profile.Growth, ShouldEqual, "agency")
				for _, o := range res.Options {
					So(o.Source, ShouldEqual, worksheet.SourceAI)
					So(o.ID, ShouldNotBeEmpty)
				}
				So(res.Usage, ShouldResemble, usage)
				So(res.Attempts, ShouldEqual, 1)
				So(res.Fingerprint, ShouldNotBeEmpty)
			})

			Convey("Then the upstream sees the prompt and the schema", func() {
				So(stub.reqs[0].Prompt, ShouldContainSubstring, "**Decision Problem**: career choice")
				So(stub.reqs[0].SchemaName, ShouldEqual, SchemaName)
				So(stub.reqs[0].Temperature, ShouldEqual, float32(0.7))
				So(stub.reqs[0].MaxTokens, ShouldEqual, 2000)
			})

			Convey("Then exactly one record is written", func() {
				So(len(rec.recs), ShouldEqual, 1)
				r := rec.recs[0]
				So(r.Model, ShouldEqual, "stub-model")
				So(r.TokensUsed, ShouldResemble, usage)
				So(r.Error, ShouldBeEmpty)
				var opts []worksheet.Option
				So(json.Unmarshal(r.Options, &opts), ShouldBeNil)
				So(len(opts), ShouldEqual, 3)
			})
		})

		Convey("When an option lacks profile.growth", func() {
			bad := `{"options": [{"title": "A", "description": "d", "profile": {"coreRole": "r", "requiredSkills": "s", "environment": "e"}, "matchReason": "m"}]}`
			stub := &stubCompleter{fn: func(int) (*Completion, error) {
				return &Completion{Content: bad, Usage: usage}, nil
			}}
			g := New(stub, WithRecorder(rec), WithRetry(fastRetry()))

			res, err := g.Generate(context.Background(), minimalRequest())

			Convey("Then the response is rejected as a whole", func() {
				So(errors.Is(err, ErrMalformedLLMResponse), ShouldBeTrue)
				So(res, ShouldBeNil)
				So(len(rec.recs), ShouldEqual, 1)
				So(rec.recs[0].Response, ShouldEqual, bad)
				So(rec.recs[0].ErrorKind, ShouldEqual, "malformed_llm_response")
			})
		})

		Convey("When the upstream fails transiently once", func() {
			stub := &stubCompleter{fn: func(call int) (*Completion, error) {
				if call == 1 {
					return nil, transientErr{}
				}
				return &Completion{Content: threeOptions, Usage: usage}, nil
			}}
			g := New(stub, WithRecorder(rec), WithRetry(fastRetry()))

			res, err := g.Generate(context.Background(), minimalRequest())

			Convey("Then it is retried and a single record notes two attempts", func() {
				So(err, ShouldBeNil)
				So(res.Attempts, ShouldEqual, 2)
				So(len(rec.recs), ShouldEqual, 1)
				So(rec.recs[0].Attempts, ShouldEqual, 2)
			})
		})

		Convey("When the upstream keeps failing", func() {
			stub := &stubCompleter{fn: func(int) (*Completion, error) { return nil, transientErr{} }}
			g := New(stub, WithRecorder(rec), WithRetry(fastRetry()))

			_, err := g.Generate(context.Background(), minimalRequest())

			Convey("Then the retry budget bounds the calls", func() {
				So(errors.Is(err, ErrUpstreamUnavailable), ShouldBeTrue)
				So(stub.calls, ShouldEqual, 3)
				So(len(rec.recs), ShouldEqual, 1)
				So(rec.recs[0].ErrorKind, ShouldEqual, "upstream_unavailable")
			})
		})

		Convey("When the upstream fails permanently", func() {
			stub := &stubCompleter{fn: func(int) (*Completion, error) { return nil, errors.New("401 unauthorized") }}
			g := New(stub, WithRecorder(rec), WithRetry(fastRetry()))

			_, err := g.Generate(context.Background(), minimalRequest())

			Convey("Then it is not retried", func() {
				So(errors.Is(err, ErrUpstreamUnavailable), ShouldBeTrue)
				So(stub.calls, ShouldEqual, 1)
			})
		})

		Convey("When the upstream outlives the timeout", func() {
			slow := completerFunc(func(ctx context.Context, _ CompletionRequest) (*Completion, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			})
			g := New(slow, WithRecorder(rec), WithTimeout(10*time.Millisecond), WithRetry(&retry.Config{}))

			_, err := g.Generate(context.Background(), minimalRequest())

			Convey("Then the call is abandoned", func() {
				So(errors.Is(err, ErrUpstreamUnavailable), ShouldBeTrue)
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			})
		})
	})
}

type completerFunc func(ctx context.Context, req CompletionRequest) (*Completion, error)

func (f completerFunc) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	return f(ctx, req)
}
