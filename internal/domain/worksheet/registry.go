package worksheet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind describes how a field is decoded and when it counts as set.
type Kind string

// Field kinds.
const (
	KindText      Kind = "text"
	KindSet       Kind = "set"
	KindList      Kind = "list"
	KindEntries   Kind = "entries"
	KindOptions   Kind = "options"
	KindRanking   Kind = "ranking"
	KindReference Kind = "reference"
)

// Field is one registry entry. The progress engine reads Required and IsSet,
// patch application reads the decoder.
type Field struct {
	Step     Step
	Name     string
	Kind     Kind
	Required bool

	isSet  func(*Session) bool
	assign func(*Session, json.RawMessage) error
}

// IsSet reports whether the field holds a non-empty value in s.
func (f Field) IsSet(s *Session) bool { return f.isSet(s) }

var registry = map[Step][]Field{
	StepSelfProfile: {
		setField(StepSelfProfile, "values", true, func(s *Session) *[]string { return &s.Step0.Values }),
		setField(StepSelfProfile, "interests", true, func(s *Session) *[]string { return &s.Step0.Interests }),
		setField(StepSelfProfile, "strengths", true, func(s *Session) *[]string { return &s.Step0.Strengths }),
		setField(StepSelfProfile, "mustHaveConstraints", false, func(s *Session) *[]string { return &s.Step0.MustHaveConstraints }),
		setField(StepSelfProfile, "niceToHaveConstraints", false, func(s *Session) *[]string { return &s.Step0.NiceToHaveConstraints }),
		textField(StepSelfProfile, "concerns", false, func(s *Session) *string { return &s.Step0.Concerns }),
	},
	StepCommunication: {
		textField(StepCommunication, "problemDefinition", true, func(s *Session) *string { return &s.Step1.ProblemDefinition }),
		listField(StepCommunication, "internalCues", false, func(s *Session) *[]string { return &s.Step1.InternalCues }),
		listField(StepCommunication, "externalCues", false, func(s *Session) *[]string { return &s.Step1.ExternalCues }),
		listField(StepCommunication, "keyQuestions", false, func(s *Session) *[]string { return &s.Step1.KeyQuestions }),
	},
	StepAnalysis: {
		listField(StepAnalysis, "evaluationCriteria", true, func(s *Session) *[]string { return &s.Step2.EvaluationCriteria }),
		listField(StepAnalysis, "constraints", false, func(s *Session) *[]string { return &s.Step2.Constraints }),
		entriesField(StepAnalysis, "informationTemplate"),
	},
	StepSynthesis: {
		optionsField(StepSynthesis, "options"),
	},
	StepValuing: {
		rankingField(StepValuing, "ranking"),
		referenceField(StepValuing, "finalChoice"),
		textField(StepValuing, "tradeoffStatement", true, func(s *Session) *string { return &s.Step4.TradeoffStatement }),
	},
}

// Fields returns the registry entries of a step in declaration order.
func Fields(step Step) []Field {
	return registry[step]
}

func lookup(step Step, name string) (Field, bool) {
	for _, f := range registry[step] {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func textField(step Step, name string, required bool, at func(*Session) *string) Field {
	return Field{
		Step: step, Name: name, Kind: KindText, Required: required,
		isSet: func(s *Session) bool { return strings.TrimSpace(*at(s)) != "" },
		assign: func(s *Session, raw json.RawMessage) error {
			if isNull(raw) {
				*at(s) = ""
				return nil
			}
			var v string
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			*at(s) = v
			return nil
		},
	}
}

func decodeStrings(raw json.RawMessage) ([]string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var v []string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func setField(step Step, name string, required bool, at func(*Session) *[]string) Field {
	return Field{
		Step: step, Name: name, Kind: KindSet, Required: required,
		isSet: func(s *Session) bool { return len(*at(s)) > 0 },
		assign: func(s *Session, raw json.RawMessage) error {
			v, err := decodeStrings(raw)
			if err != nil {
				return err
			}
			*at(s) = NormalizeSet(v)
			return nil
		},
	}
}

func listField(step Step, name string, required bool, at func(*Session) *[]string) Field {
	return Field{
		Step: step, Name: name, Kind: KindList, Required: required,
		isSet: func(s *Session) bool { return len(*at(s)) > 0 },
		assign: func(s *Session, raw json.RawMessage) error {
			v, err := decodeStrings(raw)
			if err != nil {
				return err
			}
			*at(s) = NormalizeList(v)
			return nil
		},
	}
}

func entriesField(step Step, name string) Field {
	return Field{
		Step: step, Name: name, Kind: KindEntries,
		isSet: func(s *Session) bool { return len(s.Step2.InformationTemplate) > 0 },
		assign: func(s *Session, raw json.RawMessage) error {
			if isNull(raw) {
				s.Step2.InformationTemplate = nil
				return nil
			}
			var v []InfoEntry
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			for i, e := range v {
				if e == nil {
					return fmt.Errorf("entry %d is null", i)
				}
			}
			s.Step2.InformationTemplate = v
			return nil
		},
	}
}

func optionsField(step Step, name string) Field {
	return Field{
		Step: step, Name: name, Kind: KindOptions, Required: true,
		isSet: func(s *Session) bool { return len(s.Step3.Options) > 0 },
		assign: func(s *Session, raw json.RawMessage) error {
			if isNull(raw) {
				s.Step3.Options = nil
				s.Step3.GeneratedFrom = ""
				PruneReferences(s)
				return nil
			}
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			var v []Option
			if err := dec.Decode(&v); err != nil {
				return err
			}
			seen := make(map[string]struct{}, len(v))
			for i := range v {
				o := &v[i]
				if o.ID == "" {
					o.ID = uuid.NewString()
				}
				switch o.Source {
				case "":
					o.Source = SourceUser
				case SourceUser, SourceAI:
				default:
					return fmt.Errorf("option %d: unknown source %q", i, o.Source)
				}
				if _, dup := seen[o.ID]; dup {
					return fmt.Errorf("option %d: duplicate id %q", i, o.ID)
				}
				seen[o.ID] = struct{}{}
			}
			s.Step3.Options = v
			if !hasSource(v, SourceAI) {
				s.Step3.GeneratedFrom = ""
			}
			PruneReferences(s)
			return nil
		},
	}
}

func rankingField(step Step, name string) Field {
	return Field{
		Step: step, Name: name, Kind: KindRanking,
		isSet: func(s *Session) bool { return len(s.Step4.Ranking) > 0 },
		assign: func(s *Session, raw json.RawMessage) error {
			v, err := decodeStrings(raw)
			if err != nil {
				return err
			}
			seen := make(map[string]struct{}, len(v))
			for _, id := range v {
				if _, dup := seen[id]; dup {
					return fmt.Errorf("duplicate id %q", id)
				}
				seen[id] = struct{}{}
				if !hasOption(s, id) {
					return fmt.Errorf("unknown option %q", id)
				}
			}
			s.Step4.Ranking = v
			return nil
		},
	}
}

func referenceField(step Step, name string) Field {
	return Field{
		Step: step, Name: name, Kind: KindReference, Required: true,
		isSet: func(s *Session) bool { return s.Step4.FinalChoice != "" },
		assign: func(s *Session, raw json.RawMessage) error {
			if isNull(raw) {
				s.Step4.FinalChoice = ""
				return nil
			}
			var id string
			if err := json.Unmarshal(raw, &id); err != nil {
				return err
			}
			id = strings.TrimSpace(id)
			if id != "" && !hasOption(s, id) {
				return fmt.Errorf("unknown option %q", id)
			}
			s.Step4.FinalChoice = id
			return nil
		},
	}
}

func hasOption(s *Session, id string) bool {
	for _, o := range s.Step3.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

func hasSource(opts []Option, src Source) bool {
	for _, o := range opts {
		if o.Source == src {
			return true
		}
	}
	return false
}

// NormalizeSet trims entries, drops blanks and duplicates, keeping first-seen order.
func NormalizeSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// NormalizeList trims entries and drops blanks.
func NormalizeList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
