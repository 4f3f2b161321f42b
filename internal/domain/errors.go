package domain

import "errors"

var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource with the same identity
	// already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrClosed indicates that an operation was attempted on a store
	// that has already been closed.
	ErrClosed = errors.New("store closed")

	// ErrAlreadyRegistered is reported by the identity feed when the
	// hash key is known to the clearinghouse. Callers treat it as
	// success: registration must be safe to repeat.
	ErrAlreadyRegistered = errors.New("identity already registered")

	// ErrRejected indicates that the clearinghouse returned a structured
	// rejection rather than a transport failure. Not retryable without
	// operator intervention.
	ErrRejected = errors.New("submission rejected")
)
