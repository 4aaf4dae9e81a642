package moderation

import "errors"

var (
	// ErrNotFound is returned when a case, term or violation does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyReviewed is returned when a second review decision is
	// attempted on a case. The first decision is final.
	ErrAlreadyReviewed = errors.New("case already reviewed")

	// ErrInvalidInput is returned for requests that fail validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEnforcementFailed is returned when a violation was recorded but
	// the account-level penalty could not be applied. The violation is
	// persisted; enforcement can be retried.
	ErrEnforcementFailed = errors.New("penalty enforcement failed")
)
