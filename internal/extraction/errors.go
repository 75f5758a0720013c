package extraction

import "errors"

// Sentinel errors returned by JobStore implementations.
var (
	ErrJobNotFound       = errors.New("extraction: job not found")
	ErrJobExists         = errors.New("extraction: job already exists")
	ErrInvalidTransition = errors.New("extraction: invalid status transition")
	ErrURLNotPending     = errors.New("extraction: url not in pending frontier")
)
