package service

import "errors"

// Sentinel kinds returned by the service in addition to those of the domain
// packages it calls.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrBackpressure   = errors.New("journal backpressure")
	ErrNotStarted     = errors.New("service not started")
)
