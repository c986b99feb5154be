package model

import "errors"

// Sentinel errors dispatched by errors.Is/errors.As per the error
// taxonomy in spec.md §7.
var (
	ErrInvalidLine     = errors.New("model: issue line must be >= 1")
	ErrInvalidSeverity = errors.New("model: issue severity must be one of critical|high|medium|low")

	// ErrTransientExternal marks a retryable failure from an external
	// collaborator (store, search, generator timeouts or 5xx).
	ErrTransientExternal = errors.New("adapter: transient external failure")

	// ErrPermanentExternal marks an unretryable failure (auth, 4xx
	// misconfiguration) that should disable the offending adapter for
	// the remainder of the run.
	ErrPermanentExternal = errors.New("adapter: permanent external failure")

	// ErrFileSystem marks a read or write failure against the local
	// filesystem.
	ErrFileSystem = errors.New("analyzer: filesystem failure")

	// ErrValidation marks an expected validation failure, not a bug.
	ErrValidation = errors.New("validator: candidate failed validation")

	// ErrInvariant marks an internal invariant violation (e.g. a
	// pattern transform unbalances delimiters after registration-time
	// checks already passed).
	ErrInvariant = errors.New("invariant violated")

	// ErrCancelled marks cooperative cancellation of a run.
	ErrCancelled = errors.New("scheduler: run cancelled")
)
