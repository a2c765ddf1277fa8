// Package errs defines the sentinel error kinds shared across the storage
// engine, checked with errors.Is rather than modeled as an exception
// hierarchy.
package errs

import "errors"

var (
	// ErrInvalidFormat marks a header/magic/version mismatch in a region file.
	ErrInvalidFormat = errors.New("regionstore: invalid format")

	// ErrUnsupportedCodec marks a codec the build does not implement.
	ErrUnsupportedCodec = errors.New("regionstore: unsupported codec")

	// ErrMalformedPayload marks a codec frame that failed to decompress.
	ErrMalformedPayload = errors.New("regionstore: malformed payload")

	// ErrTimeout marks an operation that exceeded its caller-supplied deadline.
	ErrTimeout = errors.New("regionstore: timeout")

	// ErrCorrupted marks a chunk whose checksum failed to validate after retries.
	ErrCorrupted = errors.New("regionstore: corrupted chunk")

	// ErrClosed marks an operation against a closed manager or region.
	ErrClosed = errors.New("regionstore: closed")

	// ErrPayloadTooLarge marks a write whose payload exceeds the maximum chunk size.
	ErrPayloadTooLarge = errors.New("regionstore: payload too large")

	// ErrChunkAbsent marks a chunk slot with size == 0: logically absent, not an error
	// condition callers need to treat specially, but useful for internal plumbing.
	ErrChunkAbsent = errors.New("regionstore: chunk absent")
)
