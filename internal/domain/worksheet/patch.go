package worksheet

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/okian/casve/pkg/errs"
)

// Patch is a partial step update: field name to raw JSON value. A JSON null
// clears the field.
type Patch map[string]json.RawMessage

// EffectKind enumerates the side effects a worksheet update asks for.
type EffectKind int

// Effect kinds.
const (
	EffectSave EffectKind = iota
	EffectLog
)

func (k EffectKind) String() string {
	switch k {
	case EffectSave:
		return "save"
	case EffectLog:
		return "log"
	default:
		return fmt.Sprintf("effect(%d)", int(k))
	}
}

// ActivityStepUpdated is the activity type logged after a successful patch.
const ActivityStepUpdated = "step_updated"

// Effect is returned by updates instead of performing I/O; the caller runs it.
type Effect struct {
	Kind     EffectKind
	Activity string
	Data     map[string]any
}

// ApplyPatch merges patch into the given step of s. Either every field in the
// patch is applied or s is left untouched. It returns the updated step record
// and the effects the caller must run.
func ApplyPatch(s *Session, step Step, patch Patch, now time.Time) (any, []Effect, error) {
	const op = "worksheet.ApplyPatch"
	if s == nil {
		return nil, nil, errs.New(op, ErrMalformedSession)
	}
	if !step.Valid() {
		return nil, nil, errs.Wrap(op, ErrMalformedPatch, fmt.Errorf("invalid step %d", int(step)))
	}

	names := make([]string, 0, len(patch))
	for name := range patch {
		if _, ok := lookup(step, name); !ok {
			return nil, nil, errs.Wrap(op, ErrMalformedPatch, fmt.Errorf("unknown field %q for step %d", name, int(step)))
		}
		names = append(names, name)
	}
	sort.Strings(names)

	next := s.Clone()
	for _, f := range registry[step] {
		raw, ok := patch[f.Name]
		if !ok {
			continue
		}
		if err := f.assign(next, raw); err != nil {
			return nil, nil, errs.Wrap(op, ErrMalformedPatch, fmt.Errorf("field %q: %w", f.Name, err))
		}
	}
	next.UpdatedAt = now
	*s = *next

	effects := []Effect{
		{Kind: EffectSave},
		{Kind: EffectLog, Activity: ActivityStepUpdated, Data: map[string]any{
			"step":   int(step),
			"fields": names,
		}},
	}
	rec, _ := StepRecord(s, step)
	return rec, effects, nil
}
