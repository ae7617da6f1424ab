package worksheet

import "errors"

// Sentinel kinds for worksheet errors.
var (
	ErrMalformedPatch   = errors.New("malformed patch")
	ErrMalformedSession = errors.New("malformed session")
)
