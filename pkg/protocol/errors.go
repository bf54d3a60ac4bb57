package protocol

import "errors"

var (
	// ErrNoToken is returned when a chunk contains no word.
	ErrNoToken = errors.New("protocol: no token")

	// ErrInvalidReset is wrapped around reset values that are not base-10 integers.
	ErrInvalidReset = errors.New("protocol: invalid reset value")

	// ErrTransform marks a transform failure as retryable.
	// Transformers wrap it so the writer can apply its retry policy.
	ErrTransform = errors.New("protocol: transform failed")

	// ErrUnknownTransform is returned by ParseTransformMode for unknown names.
	ErrUnknownTransform = errors.New("protocol: unknown transform")
)
