package worksheet

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/okian/casve/pkg/errs"
)

// New returns an empty session at step 0. An empty id gets a fresh uuid.
func New(id string, now time.Time) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		SessionID:   id,
		CurrentStep: StepSelfProfile,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Step0.Values = cloneStrings(s.Step0.Values)
	c.Step0.Interests = cloneStrings(s.Step0.Interests)
	c.Step0.Strengths = cloneStrings(s.Step0.Strengths)
	c.Step0.MustHaveConstraints = cloneStrings(s.Step0.MustHaveConstraints)
	c.Step0.NiceToHaveConstraints = cloneStrings(s.Step0.NiceToHaveConstraints)
	c.Step1.InternalCues = cloneStrings(s.Step1.InternalCues)
	c.Step1.ExternalCues = cloneStrings(s.Step1.ExternalCues)
	c.Step1.KeyQuestions = cloneStrings(s.Step1.KeyQuestions)
	c.Step2.EvaluationCriteria = cloneStrings(s.Step2.EvaluationCriteria)
	c.Step2.Constraints = cloneStrings(s.Step2.Constraints)
	if s.Step2.InformationTemplate != nil {
		c.Step2.InformationTemplate = make([]InfoEntry, len(s.Step2.InformationTemplate))
		for i, e := range s.Step2.InformationTemplate {
			if e == nil {
				continue
			}
			m := make(InfoEntry, len(e))
			for k, v := range e {
				m[k] = v
			}
			c.Step2.InformationTemplate[i] = m
		}
	}
	if s.Step3.Options != nil {
		c.Step3.Options = append([]Option(nil), s.Step3.Options...)
	}
	c.Step4.Ranking = cloneStrings(s.Step4.Ranking)
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

// StepRecord returns the record of the given step.
func StepRecord(s *Session, step Step) (any, error) {
	switch step {
	case StepSelfProfile:
		return s.Step0, nil
	case StepCommunication:
		return s.Step1, nil
	case StepAnalysis:
		return s.Step2, nil
	case StepSynthesis:
		return s.Step3, nil
	case StepValuing:
		return s.Step4, nil
	}
	return nil, errs.Wrap("worksheet.StepRecord", ErrMalformedPatch, fmt.Errorf("invalid step %d", int(step)))
}

// Normalize applies the patch-time normalisation to a whole session, which is
// how sessions written in one piece are brought in line with patched ones.
func Normalize(s *Session) {
	s.Step0.Values = NormalizeSet(s.Step0.Values)
	s.Step0.Interests = NormalizeSet(s.Step0.Interests)
	s.Step0.Strengths = NormalizeSet(s.Step0.Strengths)
	s.Step0.MustHaveConstraints = NormalizeSet(s.Step0.MustHaveConstraints)
	s.Step0.NiceToHaveConstraints = NormalizeSet(s.Step0.NiceToHaveConstraints)
	s.Step1.InternalCues = NormalizeList(s.Step1.InternalCues)
	s.Step1.ExternalCues = NormalizeList(s.Step1.ExternalCues)
	s.Step1.KeyQuestions = NormalizeList(s.Step1.KeyQuestions)
	s.Step2.EvaluationCriteria = NormalizeList(s.Step2.EvaluationCriteria)
	s.Step2.Constraints = NormalizeList(s.Step2.Constraints)
	for i := range s.Step3.Options {
		o := &s.Step3.Options[i]
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		if o.Source == "" {
			o.Source = SourceUser
		}
	}
	s.Step4.FinalChoice = strings.TrimSpace(s.Step4.FinalChoice)
}

// Validate checks the structural invariants of a whole session.
func Validate(s *Session) error {
	const op = "worksheet.Validate"
	if s == nil {
		return errs.New(op, ErrMalformedSession)
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return errs.Wrap(op, ErrMalformedSession, fmt.Errorf("missing sessionId"))
	}
	if !s.CurrentStep.Valid() {
		return errs.Wrap(op, ErrMalformedSession, fmt.Errorf("currentStep %d out of range", int(s.CurrentStep)))
	}
	for i, e := range s.Step2.InformationTemplate {
		if e == nil {
			return errs.Wrap(op, ErrMalformedSession, fmt.Errorf("informationTemplate entry %d is null", i))
		}
	}
	ids := make(map[string]struct{}, len(s.Step3.Options))
	for i, o := range s.Step3.Options {
		if o.ID == "" {
			return errs.Wrap(op, ErrMalformedSession, fmt.Errorf("option %d has no id", i))
		}
		if o.Source != SourceUser && o.Source != SourceAI {
			return errs.Wrap(op, ErrMalformedSession, fmt.Errorf("option %d: unknown source %q", i, o.Source))
		}
		if _, dup := ids[o.ID]; dup {
			return errs.Wrap(op, ErrMalformedSession, fmt.Errorf("duplicate option id %q", o.ID))
		}
		ids[o.ID] = struct{}{}
	}
	ranked := make(map[string]struct{}, len(s.Step4.Ranking))
	for _, id := range s.Step4.Ranking {
		if _, ok := ids[id]; !ok {
			return errs.Wrap(op, ErrMalformedSession, fmt.Errorf("ranking references unknown option %q", id))
		}
		if _, dup := ranked[id]; dup {
			return errs.Wrap(op, ErrMalformedSession, fmt.Errorf("ranking repeats option %q", id))
		}
		ranked[id] = struct{}{}
	}
	if s.Step4.FinalChoice != "" {
		if _, ok := ids[s.Step4.FinalChoice]; !ok {
			return errs.Wrap(op, ErrMalformedSession, fmt.Errorf("finalChoice references unknown option %q", s.Step4.FinalChoice))
		}
	}
	return nil
}

// PruneReferences drops Step4 references to options no longer in Step3.
func PruneReferences(s *Session) {
	if len(s.Step4.Ranking) > 0 {
		kept := make([]string, 0, len(s.Step4.Ranking))
		for _, id := range s.Step4.Ranking {
			if hasOption(s, id) {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			kept = nil
		}
		s.Step4.Ranking = kept
	}
	if s.Step4.FinalChoice != "" && !hasOption(s, s.Step4.FinalChoice) {
		s.Step4.FinalChoice = ""
	}
}

// MergeGenerated replaces previously generated options with generated,
// keeping user-authored options ahead of them. fingerprint identifies the
// prompt the options were generated from.
func MergeGenerated(s *Session, generated []Option, fingerprint string, now time.Time) {
	merged := make([]Option, 0, len(s.Step3.Options)+len(generated))
	for _, o := range s.Step3.Options {
		if o.Source != SourceAI {
			merged = append(merged, o)
		}
	}
	for _, o := range generated {
		o.Source = SourceAI
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		merged = append(merged, o)
	}
	s.Step3.Options = merged
	s.Step3.GeneratedFrom = fingerprint
	s.UpdatedAt = now
	PruneReferences(s)
}

// Marshal encodes s for storage.
func Marshal(s *Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, errs.Wrap("worksheet.Marshal", ErrMalformedSession, err)
	}
	return data, nil
}

// Unmarshal decodes a stored session and validates it.
func Unmarshal(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errs.Wrap("worksheet.Unmarshal", ErrMalformedSession, err)
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}
