// Package errs defines the stable error kinds of spec.md §7. Call sites
// wrap a sentinel with fmt.Errorf("...: %w", ErrX) so errors.Is still
// matches while carrying call-specific detail.
package errs

import "errors"

var (
	// ErrDimensionMismatch: vector length != the configured dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrShardOverload: server rejects a new device at capacity.
	ErrShardOverload = errors.New("shard overload")

	// ErrProtocolError: malformed delta, unknown version, oversized payload.
	ErrProtocolError = errors.New("protocol error")

	// ErrTransportFailure: network/timeout talking to the constellation.
	ErrTransportFailure = errors.New("transport failure")

	// ErrCompressionLimit: encoded payload exceeds its configured cap.
	ErrCompressionLimit = errors.New("compression limit exceeded")

	// ErrInternalFailure: storage or index error with no partial effect.
	ErrInternalFailure = errors.New("internal failure")

	// ErrSyncInFlight: a sync is already outstanding for this device.
	ErrSyncInFlight = errors.New("sync already in flight")
)
