package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/casve/internal/adapters/repository"
	service "github.com/okian/casve/internal/app"
	"github.com/okian/casve/internal/domain/generation"
	"github.com/okian/casve/internal/domain/model"
	"github.com/okian/casve/internal/domain/progress"
	"github.com/okian/casve/internal/domain/worksheet"
	"github.com/okian/casve/pkg/logger"
	"github.com/okian/casve/pkg/retry"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// memJournal keeps records in memory and can be told to refuse activities.
type memJournal struct {
	mu          sync.Mutex
	activities  []model.ActivityEvent
	generations []model.GenerationRecord
	reports     []model.ReportRecord
	refuse      bool
	dropped     int64
}

func (j *memJournal) RecordActivity(_ context.Context, ev model.ActivityEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.refuse {
		j.dropped++
		return errors.New("queue full")
	}
	j.activities = append(j.activities, ev)
	return nil
}

func (j *memJournal) RecordGeneration(_ context.Context, rec model.GenerationRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.generations = append(j.generations, rec)
}

func (j *memJournal) RecordReport(_ context.Context, rec model.ReportRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.reports = append(j.reports, rec)
	return nil
}

func (j *memJournal) Pending() int                { return 0 }
func (j *memJournal) Dropped() int64              { return j.dropped }
func (j *memJournal) Close(context.Context) error { return nil }

func (j *memJournal) activityTypes() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, 0, len(j.activities))
	for _, a := range j.activities {
		out = append(out, a.ActivityType)
	}
	return out
}

type stubCompleter struct {
	mu      sync.Mutex
	calls   int
	content string
	err     error
}

func (s *stubCompleter) Complete(context.Context, generation.CompletionRequest) (*generation.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &generation.Completion{
		Content: s.content,
		Model:   "stub-model",
		Usage:   model.TokenUsage{PromptTokens: 100, CompletionTokens: 200, TotalTokens: 300},
	}, nil
}

func optionJSON(title string, growth bool) string {
	g := ""
	if growth {
		g = `, "growth": "lead"`
	}
	return `{"title": "` + title + `", "description": "d", "profile": {"coreRole": "r", "requiredSkills": "s", "environment": "e"` + g + `}, "matchReason": "m"}`
}

func threeOptions() string {
	return `{"options": [` + optionJSON("A", true) + `, ` + optionJSON("B", true) + `, ` + optionJSON("C", true) + `]}`
}

func minimalRequest(id string) generation.Request {
	return generation.Request{
		SessionID: id,
		Step0:     worksheet.Step0{Values: []string{"autonomy"}, Interests: []string{"design"}, Strengths: []string{"writing"}},
		Step1:     worksheet.Step1{ProblemDefinition: "career choice"},
		Step2:     worksheet.Step2{EvaluationCriteria: []string{"salary"}},
	}
}

func newService(j *memJournal, c generation.Completer) *service.Service {
	svc := service.New(
		service.WithJournal(j),
		service.WithStore(repository.NewMemoryStore()),
		service.WithCompleter(c, "stub-model"),
		service.WithClock(func() time.Time { return fixedNow }),
		service.WithGeneratorOptions(generation.WithRetry(&retry.Config{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1})),
	)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

func patch(fields map[string]string) worksheet.Patch {
	p := worksheet.Patch{}
	for k, v := range fields {
		p[k] = json.RawMessage(v)
	}
	return p
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		svc := service.New()

		Convey("Then calls fail with ErrNotStarted", func() {
			_, err := svc.CreateSession(context.Background())
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats(context.Background())["started"], ShouldBeFalse)
			So(svc.Stop(context.Background()), ShouldBeNil)
		})
	})

	Convey("Given a service with default components under a temp dir", t, func() {
		dir := t.TempDir()
		svc := service.New(service.WithLogDir(dir), service.WithClock(func() time.Time { return fixedNow }))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When a session is created and the service stops", func() {
			sess, err := svc.CreateSession(ctx)
			So(err, ShouldBeNil)
			stats := svc.GetStats(ctx)
			So(stats["sessions"], ShouldEqual, 1)
			So(stats["storeBackend"], ShouldEqual, "memory")
			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then the activity was drained to the daily file", func() {
				data, err := os.ReadFile(filepath.Join(dir, "user_activity_20250301.json"))
				So(err, ShouldBeNil)
				So(string(data), ShouldContainSubstring, sess.SessionID)
				So(string(data), ShouldContainSubstring, service.ActivitySessionCreated)
			})
		})

		Convey("When generating without a configured provider", func() {
			_, err := svc.GenerateOptions(ctx, minimalRequest("s-x"))
			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then the upstream is reported unavailable", func() {
				So(errors.Is(err, generation.ErrUpstreamUnavailable), ShouldBeTrue)
			})
		})
	})
}

func TestService_Worksheet(t *testing.T) {
	Convey("Given a started service", t, func() {
		j := &memJournal{}
		svc := newService(j, &stubCompleter{content: threeOptions()})
		ctx := context.Background()
		sess, err := svc.CreateSession(ctx)
		So(err, ShouldBeNil)
		id := sess.SessionID

		Convey("When step 0 is patched", func() {
			rec, err := svc.PatchStep(ctx, id, worksheet.StepSelfProfile, patch(map[string]string{
				"values":    `[" autonomy ", "autonomy", ""]`,
				"interests": `["design"]`,
			}))

			Convey("Then the normalised step is returned and stored", func() {
				So(err, ShouldBeNil)
				So(rec.(worksheet.Step0).Values, ShouldResemble, []string{"autonomy"})
				loaded, err := svc.LoadSession(ctx, id)
				So(err, ShouldBeNil)
				So(loaded.Step0.Interests, ShouldResemble, []string{"design"})
				So(j.activityTypes(), ShouldContain, worksheet.ActivityStepUpdated)
			})

			Convey("Then advancing is blocked on the missing strengths", func() {
				_, err := svc.Advance(ctx, id)
				So(errors.Is(err, progress.ErrCannotAdvance), ShouldBeTrue)
				var me *progress.MissingError
				So(errors.As(err, &me), ShouldBeTrue)
				So(me.Fields, ShouldResemble, []string{"strengths"})
			})
		})

		Convey("When a patch names an unknown field", func() {
			_, err := svc.PatchStep(ctx, id, worksheet.StepSelfProfile, patch(map[string]string{"hobbies": `["x"]`}))

			Convey("Then it is rejected and nothing changes", func() {
				So(errors.Is(err, worksheet.ErrMalformedPatch), ShouldBeTrue)
				loaded, _ := svc.LoadSession(ctx, id)
				So(loaded.Step0.Values, ShouldBeNil)
			})
		})

		Convey("When the minimum scenario is entered step by step", func() {
			_, err := svc.PatchStep(ctx, id, worksheet.StepSelfProfile, patch(map[string]string{
				"values": `["autonomy"]`, "interests": `["design"]`, "strengths": `["writing"]`,
			}))
			So(err, ShouldBeNil)
			_, err = svc.PatchStep(ctx, id, worksheet.StepCommunication, patch(map[string]string{"problemDefinition": `"career choice"`}))
			So(err, ShouldBeNil)
			_, err = svc.PatchStep(ctx, id, worksheet.StepAnalysis, patch(map[string]string{"evaluationCriteria": `["salary"]`}))
			So(err, ShouldBeNil)

			Convey("Then the worksheet advances to synthesis", func() {
				for i := 0; i < 3; i++ {
					_, err := svc.Advance(ctx, id)
					So(err, ShouldBeNil)
				}
				loaded, _ := svc.LoadSession(ctx, id)
				So(loaded.CurrentStep, ShouldEqual, worksheet.StepSynthesis)

				_, err := svc.Advance(ctx, id)
				So(errors.Is(err, progress.ErrCannotAdvance), ShouldBeTrue)
			})

			Convey("Then the progress report shows synthesis reachable", func() {
				r, err := svc.Progress(ctx, id)
				So(err, ShouldBeNil)
				So(r.Reachable, ShouldEqual, int(worksheet.StepSynthesis))
				So(r.Steps[3].Missing, ShouldResemble, []string{"options"})
			})

			Convey("And a required field is cleared after advancing", func() {
				for i := 0; i < 3; i++ {
					_, _ = svc.Advance(ctx, id)
				}
				_, err := svc.PatchStep(ctx, id, worksheet.StepCommunication, patch(map[string]string{"problemDefinition": `null`}))
				So(err, ShouldBeNil)

				Convey("Then currentStep is clamped back", func() {
					loaded, _ := svc.LoadSession(ctx, id)
					So(loaded.CurrentStep, ShouldEqual, worksheet.StepCommunication)
				})
			})
		})

		Convey("When a whole session claiming step 4 is saved", func() {
			full := worksheet.New(id, fixedNow)
			full.Step0 = worksheet.Step0{Values: []string{"autonomy"}, Interests: []string{"design"}, Strengths: []string{"writing"}}
			full.CurrentStep = worksheet.StepValuing
			saved, err := svc.SaveSession(ctx, full)

			Convey("Then it is stored with the reachable step", func() {
				So(err, ShouldBeNil)
				So(saved.CurrentStep, ShouldEqual, worksheet.StepCommunication)
				So(saved.CreatedAt.Equal(sess.CreatedAt), ShouldBeTrue)
			})
		})

		Convey("When a session with a dangling final choice is saved", func() {
			bad := worksheet.New(id, fixedNow)
			bad.Step4.FinalChoice = "missing"
			_, err := svc.SaveSession(ctx, bad)

			Convey("Then it is rejected", func() {
				So(errors.Is(err, worksheet.ErrMalformedSession), ShouldBeTrue)
			})
		})

		Convey("When the session is deleted", func() {
			So(svc.DeleteSession(ctx, id), ShouldBeNil)

			Convey("Then it is gone", func() {
				_, err := svc.LoadSession(ctx, id)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				So(errors.Is(svc.DeleteSession(ctx, id), repository.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestService_GenerateOptions(t *testing.T) {
	Convey("Given a service with a stub upstream", t, func() {
		j := &memJournal{}
		stub := &stubCompleter{content: threeOptions()}
		svc := newService(j, stub)
		ctx := context.Background()

		Convey("When steps 0-2 are incomplete", func() {
			req := minimalRequest("s-1")
			req.Step1.ProblemDefinition = ""
			_, err := svc.GenerateOptions(ctx, req)

			Convey("Then the upstream is not called and one record is written", func() {
				So(errors.Is(err, generation.ErrIncompletePrerequisite), ShouldBeTrue)
				So(stub.calls, ShouldEqual, 0)
				So(len(j.generations), ShouldEqual, 1)
				So(j.generations[0].ErrorKind, ShouldEqual, "incomplete_prerequisite")
				So(j.activityTypes(), ShouldContain, service.ActivityGenerateOptionsRequest)
			})
		})

		Convey("When the session id is missing", func() {
			_, err := svc.GenerateOptions(ctx, minimalRequest(""))
			So(errors.Is(err, service.ErrInvalidRequest), ShouldBeTrue)
		})

		Convey("When the upstream returns three options for an unknown session", func() {
			res, err := svc.GenerateOptions(ctx, minimalRequest("not-stored"))

			Convey("Then the options and usage are returned with one record", func() {
				So(err, ShouldBeNil)
				So(len(res.Options), ShouldEqual, 3)
				So(res.Usage.TotalTokens, ShouldEqual, 300)
				So(len(j.generations), ShouldEqual, 1)
				So(j.generations[0].Model, ShouldEqual, "stub-model")
				_, err := svc.LoadSession(ctx, "not-stored")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When the upstream returns options for a stored session", func() {
			sess, _ := svc.CreateSession(ctx)
			_, err := svc.PatchStep(ctx, sess.SessionID, worksheet.StepSynthesis, patch(map[string]string{
				"options": `[{"id": "mine", "title": "My own idea"}]`,
			}))
			So(err, ShouldBeNil)
			res, err := svc.GenerateOptions(ctx, minimalRequest(sess.SessionID))
			So(err, ShouldBeNil)

			Convey("Then steps 0-2 and the options are merged into the session", func() {
				loaded, err := svc.LoadSession(ctx, sess.SessionID)
				So(err, ShouldBeNil)
				So(loaded.Step1.ProblemDefinition, ShouldEqual, "career choice")
				So(len(loaded.Step3.Options), ShouldEqual, 4)
				So(loaded.Step3.Options[0].ID, ShouldEqual, "mine")
				So(loaded.Step3.Options[1].Source, ShouldEqual, worksheet.SourceAI)
				So(loaded.Step3.GeneratedFrom, ShouldEqual, res.Fingerprint)

				r, _ := svc.Progress(ctx, sess.SessionID)
				So(r.OptionsStale, ShouldBeFalse)
			})
		})

		Convey("When an option misses profile.growth", func() {
			stub.content = `{"options": [` + optionJSON("A", true) + `, ` + optionJSON("B", false) + `]}`
			res, err := svc.GenerateOptions(ctx, minimalRequest("s-2"))

			Convey("Then no options are surfaced", func() {
				So(res, ShouldBeNil)
				So(errors.Is(err, generation.ErrMalformedLLMResponse), ShouldBeTrue)
				So(len(j.generations), ShouldEqual, 1)
				So(strings.Contains(j.generations[0].Response, "growth"), ShouldBeTrue)
			})
		})
	})
}

func TestService_Journal(t *testing.T) {
	Convey("Given a started service", t, func() {
		j := &memJournal{}
		svc := newService(j, &stubCompleter{content: threeOptions()})
		ctx := context.Background()

		Convey("When an activity with an event id is posted twice", func() {
			ev := model.ActivityEvent{SessionID: "s-1", ActivityType: "view_report"}
			dup1, err1 := svc.RecordActivity(ctx, ev, "evt-1")
			dup2, err2 := svc.RecordActivity(ctx, ev, "evt-1")

			Convey("Then it is journaled once", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(dup1, ShouldBeFalse)
				So(dup2, ShouldBeTrue)
				So(len(j.activities), ShouldEqual, 1)
				So(j.activities[0].Timestamp.Equal(fixedNow), ShouldBeTrue)
			})
		})

		Convey("When the journal refuses the record", func() {
			j.refuse = true
			ev := model.ActivityEvent{SessionID: "s-1", ActivityType: "view_report"}
			_, err := svc.RecordActivity(ctx, ev, "evt-2")

			Convey("Then backpressure is reported and the id can be retried", func() {
				So(errors.Is(err, service.ErrBackpressure), ShouldBeTrue)
				j.refuse = false
				dup, err := svc.RecordActivity(ctx, ev, "evt-2")
				So(err, ShouldBeNil)
				So(dup, ShouldBeFalse)
			})
		})

		Convey("When the activity type is missing", func() {
			_, err := svc.RecordActivity(ctx, model.ActivityEvent{SessionID: "s-1"}, "")
			So(errors.Is(err, service.ErrInvalidRequest), ShouldBeTrue)
		})

		Convey("When a report is saved", func() {
			err := svc.SaveReport(ctx, model.ReportRecord{SessionID: "s-1", Step4: json.RawMessage(`{"finalChoice":"a"}`)})

			Convey("Then it is journaled with a timestamp", func() {
				So(err, ShouldBeNil)
				So(len(j.reports), ShouldEqual, 1)
				So(j.reports[0].Timestamp.Equal(fixedNow), ShouldBeTrue)
				So(errors.Is(svc.SaveReport(ctx, model.ReportRecord{}), service.ErrInvalidRequest), ShouldBeTrue)
			})
		})
	})
}
