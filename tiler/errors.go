package tiler

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidRequest is returned when a block request fails pre-flight validation.
	// No reservation is attempted for a call carrying an invalid request.
	ErrInvalidRequest = errors.New("invalid block request")

	// ErrExhausted is returned when no free region of the requested shape exists in the
	// target container. It is an ordinary, recoverable outcome: space may free up later,
	// or a different shape may still fit.
	ErrExhausted = errors.New("no free region of the requested shape")

	// ErrLifecycle is returned when an operation is applied to an address in the wrong
	// lifecycle state: freeing an imported block, unmapping an owned one, releasing an
	// address twice, or releasing an address this manager does not know.
	ErrLifecycle = errors.New("operation does not match the lifecycle state of this address")

	// ErrNotSupported is returned for requests outside the baseline mapping capability
	// (more than one block per Map call, or a 2D map request).
	ErrNotSupported = errors.New("request is outside the supported capability")
)
