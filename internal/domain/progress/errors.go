package progress

import "errors"

// ErrCannotAdvance is returned when the current step has empty required fields.
var ErrCannotAdvance = errors.New("cannot advance")
