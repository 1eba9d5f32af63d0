package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound       = errors.New("domain: not found")
	ErrUnauthorized   = errors.New("domain: unauthorized")
	ErrUpstream       = errors.New("domain: upstream request failed")
	ErrMalformedEvent = errors.New("domain: malformed realtime event")
	ErrUnknownColumn  = errors.New("domain: unknown column")
	ErrUnknownTask    = errors.New("domain: unknown task")
)
