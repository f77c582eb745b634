package domain

import "errors"

var (
	// ErrValidation marks malformed input rejected before any state change.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing attempt or campaign.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an operation that is not applicable in the record's
	// current state, e.g. re-dispatching a non-pending attempt.
	ErrConflict = errors.New("conflict")

	// ErrDuplicateTracking is returned by the store when a freshly generated
	// tracking id collides with an existing one. Callers retry with a new id.
	ErrDuplicateTracking = errors.New("duplicate tracking id")

	// ErrUnknownTracking marks a callback referencing a tracking id that is
	// not present in the store.
	ErrUnknownTracking = errors.New("unknown tracking id")

	// ErrInvalidTransition marks a callback that would move an attempt's
	// status backward or mutate a terminal attempt.
	ErrInvalidTransition = errors.New("invalid transition")
)
