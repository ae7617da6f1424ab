package journal

import "errors"

// ErrLogWriteFailure marks a journal record that was refused or could not be
// written. It is logged and counted, never returned to API callers.
var ErrLogWriteFailure = errors.New("log write failure")
