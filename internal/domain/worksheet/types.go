// Package worksheet holds the CASVE worksheet model: the five step records,
// the field registry shared with the progress engine, and patch application.
package worksheet

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Step identifies one of the five worksheet sections.
type Step int

// Worksheet steps in CASVE order.
const (
	StepSelfProfile Step = iota
	StepCommunication
	StepAnalysis
	StepSynthesis
	StepValuing

	FirstStep = StepSelfProfile
	LastStep  = StepValuing
)

var stepNames = [...]string{"self_profile", "communication", "analysis", "synthesis", "valuing"}

// Valid reports whether s is one of the five steps.
func (s Step) Valid() bool { return s >= FirstStep && s <= LastStep }

func (s Step) String() string {
	if !s.Valid() {
		return "step(" + strconv.Itoa(int(s)) + ")"
	}
	return stepNames[s]
}

// Steps returns all steps in order.
func Steps() []Step {
	return []Step{StepSelfProfile, StepCommunication, StepAnalysis, StepSynthesis, StepValuing}
}

// ParseStep accepts a step number ("0".."4") or a step name ("analysis").
func ParseStep(v string) (Step, error) {
	v = strings.TrimSpace(strings.ToLower(v))
	if n, err := strconv.Atoi(v); err == nil {
		if s := Step(n); s.Valid() {
			return s, nil
		}
		return 0, fmt.Errorf("step %d out of range", n)
	}
	for i, name := range stepNames {
		if name == v {
			return Step(i), nil
		}
	}
	return 0, fmt.Errorf("unknown step %q", v)
}

// Source tells whether an option was written by the user or generated.
type Source string

// Option sources.
const (
	SourceUser Source = "user"
	SourceAI   Source = "ai"
)

// Session is the root worksheet entity, one per user session.
type Session struct {
	SessionID   string    `json:"sessionId"`
	Step0       Step0     `json:"step0"`
	Step1       Step1     `json:"step1"`
	Step2       Step2     `json:"step2"`
	Step3       Step3     `json:"step3"`
	Step4       Step4     `json:"step4"`
	CurrentStep Step      `json:"currentStep"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Step0 is the self profile.
type Step0 struct {
	Values                []string `json:"values"`
	Interests             []string `json:"interests"`
	Strengths             []string `json:"strengths"`
	MustHaveConstraints   []string `json:"mustHaveConstraints"`
	NiceToHaveConstraints []string `json:"niceToHaveConstraints"`
	Concerns              string   `json:"concerns"`
}

// Step1 is the communication step.
type Step1 struct {
	ProblemDefinition string   `json:"problemDefinition"`
	InternalCues      []string `json:"internalCues"`
	ExternalCues      []string `json:"externalCues"`
	KeyQuestions      []string `json:"keyQuestions"`
}

// InfoEntry is one row of the analysis information template.
type InfoEntry map[string]string

// Step2 is the analysis step.
type Step2 struct {
	EvaluationCriteria  []string    `json:"evaluationCriteria"`
	Constraints         []string    `json:"constraints"`
	InformationTemplate []InfoEntry `json:"informationTemplate"`
}

// Profile describes what choosing an option looks like day to day.
type Profile struct {
	CoreRole       string `json:"coreRole"`
	RequiredSkills string `json:"requiredSkills"`
	Environment    string `json:"environment"`
	Growth         string `json:"growth"`
}

// Option is a candidate decision alternative.
type Option struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Profile     Profile `json:"profile"`
	MatchReason string  `json:"matchReason"`
	Source      Source  `json:"source"`
}

// Step3 is the synthesis step. GeneratedFrom is the fingerprint of the
// prompt that produced the current AI options, empty when none were generated.
type Step3 struct {
	Options       []Option `json:"options"`
	GeneratedFrom string   `json:"generatedFrom,omitempty"`
}

// Step4 is the valuing step. Ranking and FinalChoice hold option ids.
type Step4 struct {
	Ranking           []string `json:"ranking"`
	FinalChoice       string   `json:"finalChoice"`
	TradeoffStatement string   `json:"tradeoffStatement"`
}
