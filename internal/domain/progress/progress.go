// Package progress decides when a worksheet may move to its next step.
//
// Completeness is read from the worksheet field registry, so the rules for
// "required" live in one place and the engine has no per-step code.
package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/casve/internal/domain/prompt"
	"github.com/okian/casve/internal/domain/worksheet"
	"github.com/okian/casve/pkg/errs"
)

// MissingError lists the required fields that block a step.
type MissingError struct {
	Step   worksheet.Step
	Fields []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("step %d missing %s", int(e.Step), strings.Join(e.Fields, ", "))
}

// MissingFields returns the required fields of step that are empty, in
// registry order.
func MissingFields(s *worksheet.Session, step worksheet.Step) []string {
	var missing []string
	for _, f := range worksheet.Fields(step) {
		if f.Required && !f.IsSet(s) {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// CanAdvance reports whether every required field of from is set.
func CanAdvance(s *worksheet.Session, from worksheet.Step) bool {
	return from.Valid() && len(MissingFields(s, from)) == 0
}

// Reachable returns the furthest step reachable walking forward from step 0.
func Reachable(s *worksheet.Session) worksheet.Step {
	step := worksheet.FirstStep
	for step < worksheet.LastStep && CanAdvance(s, step) {
		step++
	}
	return step
}

// Clamp lowers CurrentStep to the furthest reachable step. It reports whether
// the session changed.
func Clamp(s *worksheet.Session) bool {
	if r := Reachable(s); s.CurrentStep > r {
		s.CurrentStep = r
		return true
	}
	return false
}

// Advance moves CurrentStep one step forward when the current step is
// complete. At the last step a complete worksheet is left as is.
func Advance(s *worksheet.Session, now time.Time) (worksheet.Step, error) {
	from := s.CurrentStep
	if missing := MissingFields(s, from); len(missing) > 0 {
		return from, errs.Wrap("progress.Advance", ErrCannotAdvance, &MissingError{Step: from, Fields: missing})
	}
	if from >= worksheet.LastStep {
		return from, nil
	}
	s.CurrentStep = from + 1
	s.UpdatedAt = now
	return s.CurrentStep, nil
}

// StepStatus is the completeness of one step.
type StepStatus struct {
	Step     int      `json:"step"`
	Name     string   `json:"name"`
	Complete bool     `json:"complete"`
	Missing  []string `json:"missing"`
}

// Report summarises where a session stands.
type Report struct {
	SessionID    string       `json:"sessionId"`
	CurrentStep  int          `json:"currentStep"`
	Reachable    int          `json:"reachable"`
	Steps        []StepStatus `json:"steps"`
	OptionsStale bool         `json:"optionsStale"`
}

// Build computes the progress report of s.
func Build(s *worksheet.Session) Report {
	r := Report{
		SessionID:    s.SessionID,
		CurrentStep:  int(s.CurrentStep),
		Reachable:    int(Reachable(s)),
		Steps:        make([]StepStatus, 0, len(worksheet.Steps())),
		OptionsStale: OptionsStale(s),
	}
	for _, step := range worksheet.Steps() {
		missing := MissingFields(s, step)
		if missing == nil {
			missing = []string{}
		}
		r.Steps = append(r.Steps, StepStatus{
			Step:     int(step),
			Name:     step.String(),
			Complete: len(missing) == 0,
			Missing:  missing,
		})
	}
	return r
}

// OptionsStale reports whether steps 0-2 changed since options were last
// generated.
func OptionsStale(s *worksheet.Session) bool {
	if s.Step3.GeneratedFrom == "" {
		return false
	}
	return prompt.Fingerprint(prompt.ForSession(s)) != s.Step3.GeneratedFrom
}
