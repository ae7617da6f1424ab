package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/casve/internal/domain/worksheet"
)

func fixture(id string) *worksheet.Session {
	at := time.Date(2025, 3, 1, 9, 30, 0, 123456789, time.UTC)
	s := worksheet.New(id, at)
	s.UpdatedAt = at.Add(time.Hour)
	s.CurrentStep = worksheet.StepValuing
	s.Step0 = worksheet.Step0{
		Values:              []string{"autonomy", "impact"},
		Interests:           []string{"design"},
		Strengths:           []string{"writing"},
		MustHaveConstraints: []string{"remote"},
		Concerns:            "money",
	}
	s.Step1 = worksheet.Step1{ProblemDefinition: "career choice", KeyQuestions: []string{}}
	s.Step2 = worksheet.Step2{
		EvaluationCriteria:  []string{"salary"},
		InformationTemplate: []worksheet.InfoEntry{{"source": "mentor", "note": "ask"}, {}},
	}
	s.Step3 = worksheet.Step3{
		Options: []worksheet.Option{
			{ID: "a", Title: "Designer", Description: "d", Profile: worksheet.Profile{CoreRole: "r", RequiredSkills: "s", Environment: "e", Growth: "g"}, MatchReason: "m", Source: worksheet.SourceAI},
			{ID: "b", Title: "Writer", Source: worksheet.SourceUser},
		},
		GeneratedFrom: "fp",
	}
	s.Step4 = worksheet.Step4{Ranking: []string{"b", "a"}, FinalChoice: "b", TradeoffStatement: "less pay"}
	return s
}

func storeContract(newStore func() Store) {
	ctx := context.Background()
	st := newStore()
	Reset(func() { _ = st.Close() })

	Convey("When a session is saved and loaded", func() {
		want := fixture("rt-1")
		So(st.Save(ctx, want), ShouldBeNil)
		got, err := st.Load(ctx, "rt-1")

		Convey("Then the round trip is lossless", func() {
			So(err, ShouldBeNil)
			So(cmp.Diff(want, got), ShouldBeEmpty)
		})
	})

	Convey("When a fresh session is saved", func() {
		want := worksheet.New("rt-2", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
		So(st.Save(ctx, want), ShouldBeNil)
		got, err := st.Load(ctx, "rt-2")
		So(err, ShouldBeNil)
		So(cmp.Diff(want, got), ShouldBeEmpty)
	})

	Convey("When a session is overwritten", func() {
		s := fixture("rt-3")
		So(st.Save(ctx, s), ShouldBeNil)
		s.Step4.TradeoffStatement = "changed"
		So(st.Save(ctx, s), ShouldBeNil)
		got, err := st.Load(ctx, "rt-3")
		So(err, ShouldBeNil)
		So(got.Step4.TradeoffStatement, ShouldEqual, "changed")
		n, err := st.Count(ctx)
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 1)
	})

	Convey("When loading or deleting an unknown id", func() {
		_, err := st.Load(ctx, "missing")
		So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		So(errors.Is(st.Delete(ctx, "missing"), ErrNotFound), ShouldBeTrue)
	})

	Convey("When a session is deleted", func() {
		So(st.Save(ctx, fixture("rt-4")), ShouldBeNil)
		So(st.Delete(ctx, "rt-4"), ShouldBeNil)
		_, err := st.Load(ctx, "rt-4")
		So(errors.Is(err, ErrNotFound), ShouldBeTrue)
	})

	Convey("When saving without an id", func() {
		err := st.Save(ctx, &worksheet.Session{})
		So(errors.Is(err, worksheet.ErrMalformedSession), ShouldBeTrue)
	})
}

func TestMemoryStore(t *testing.T) {
	Convey("Given a memory store", t, func() {
		storeContract(func() Store { return Instrument(BackendMemory, NewMemoryStore()) })
	})
}

func TestSQLiteStore(t *testing.T) {
	Convey("Given a sqlite store", t, func() {
		storeContract(func() Store {
			s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
			So(err, ShouldBeNil)
			return s
		})
	})
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	Convey("Given a redis store", t, func() {
		mr.FlushAll()
		storeContract(func() Store {
			s, err := NewRedisStore(context.Background(), mr.Addr(), WithTTL(time.Hour))
			So(err, ShouldBeNil)
			return s
		})
	})

	Convey("Given a saved redis session", t, func() {
		mr.FlushAll()
		s, err := NewRedisStore(context.Background(), mr.Addr(), WithTTL(time.Minute))
		So(err, ShouldBeNil)
		defer s.Close()
		So(s.Save(context.Background(), fixture("ttl-1")), ShouldBeNil)

		Convey("Then it lives under the prefixed key and expires with the TTL", func() {
			So(mr.Exists("casve:session:ttl-1"), ShouldBeTrue)
			mr.FastForward(2 * time.Minute)
			_, err := s.Load(context.Background(), "ttl-1")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestOpen(t *testing.T) {
	Convey("Given backend names", t, func() {
		ctx := context.Background()

		s, err := Open(ctx, Config{})
		So(err, ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		s, err = Open(ctx, Config{Backend: "SQLite", Path: filepath.Join(t.TempDir(), "open.db")})
		So(err, ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		_, err = Open(ctx, Config{Backend: "etcd"})
		So(errors.Is(err, ErrUnknownBackend), ShouldBeTrue)

		_, err = Open(ctx, Config{Backend: BackendSQLite})
		So(errors.Is(err, ErrStore), ShouldBeTrue)
	})
}
