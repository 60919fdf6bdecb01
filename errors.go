package steward

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("steward: no store configured")
	ErrStoreClosed = errors.New("steward: store closed")

	// Not found errors.
	ErrDefinitionNotFound = errors.New("steward: workflow definition not found")
	ErrInstanceNotFound   = errors.New("steward: workflow instance not found")
	ErrRecordNotFound     = errors.New("steward: idempotency record not found")
	ErrTriggerNotFound    = errors.New("steward: trigger not found")
	ErrReviewNotFound     = errors.New("steward: review record not found")
	ErrProviderNotFound   = errors.New("steward: no client registered for capability")

	// Conflict errors.
	ErrConflict         = errors.New("steward: concurrent modification detected")
	ErrDuplicateTrigger = errors.New("steward: duplicate trigger")
	ErrInstanceExists   = errors.New("steward: workflow instance already exists")

	// State errors.
	ErrInvalidState       = errors.New("steward: invalid state transition")
	ErrNotAwaiting        = errors.New("steward: instance is not awaiting a callback")
	ErrRetriesExhausted   = errors.New("steward: retry budget exhausted")
	ErrInstanceTerminal   = errors.New("steward: instance is in a terminal state")
	ErrCancelUnavailable  = errors.New("steward: instance cannot be cancelled in its current state")
	ErrMissingCorrelation = errors.New("steward: callback carries no correlation id")
)
