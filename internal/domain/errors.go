package domain

import "errors"

var (
	// ErrInvalidTier is returned when a title's declared tier does not match the target tier.
	ErrInvalidTier = errors.New("invalid tier")
	// ErrNotFound is returned for operations on an unknown title or session.
	ErrNotFound = errors.New("not found")
	// ErrConcurrentModification is returned when a tier changed under an open comparison session.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrDegenerateAggregate is returned for retracts below zero or out-of-range scores.
	ErrDegenerateAggregate = errors.New("degenerate aggregate")
	// ErrSessionClosed is returned when a finished or cancelled session is used again.
	ErrSessionClosed = errors.New("session closed")
	// ErrInvalidOutcome is returned for an unknown comparison outcome.
	ErrInvalidOutcome = errors.New("invalid outcome")
)

// ErrAlreadyRanked is returned when a user rates a title already in their list.
var ErrAlreadyRanked = errors.New("already ranked")
