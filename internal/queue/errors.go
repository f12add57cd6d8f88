package queue

import "errors"

var (
	// ErrInvalidSpec is returned when a job cannot be created as requested,
	// e.g. the preset id is unknown.
	ErrInvalidSpec = errors.New("invalid job spec")
	// ErrJobNotFound is returned by lookups for ids the ledger does not hold.
	ErrJobNotFound = errors.New("job not found")
)
