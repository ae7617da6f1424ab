package generation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/okian/casve/pkg/errs"
)

// Sentinel kinds returned by Generate.
var (
	ErrIncompletePrerequisite = errors.New("incomplete prerequisite")
	ErrUpstreamUnavailable    = errors.New("upstream unavailable")
	ErrMalformedLLMResponse   = errors.New("malformed llm response")
)

// IncompleteError lists the empty required fields per step.
type IncompleteError struct {
	Missing map[int][]string
}

func (e *IncompleteError) Error() string {
	steps := make([]int, 0, len(e.Missing))
	for s := range e.Missing {
		steps = append(steps, s)
	}
	sort.Ints(steps)
	parts := make([]string, 0, len(steps))
	for _, s := range steps {
		parts = append(parts, fmt.Sprintf("step %d: %s", s, strings.Join(e.Missing[s], ", ")))
	}
	return "missing " + strings.Join(parts, "; ")
}

// KindName returns the snake_case name of a generation error kind, or "" for
// errors of other kinds.
func KindName(err error) string {
	switch errs.KindOf(err) {
	case ErrIncompletePrerequisite:
		return "incomplete_prerequisite"
	case ErrUpstreamUnavailable:
		return "upstream_unavailable"
	case ErrMalformedLLMResponse:
		return "malformed_llm_response"
	}
	return ""
}
