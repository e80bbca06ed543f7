package gateway

import "errors"

// Domain-specific errors for gateway operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConfiguration is returned for missing or invalid connection settings.
	// It is surfaced immediately and never retried.
	ErrConfiguration = errors.New("gateway: invalid configuration")

	// ErrConnection wraps handshake and network failures.
	ErrConnection = errors.New("gateway: connection failed")

	// ErrNotConnected is returned when an operation needs a live session.
	ErrNotConnected = errors.New("gateway: not connected")

	// ErrPublish wraps an I/O failure while publishing.
	ErrPublish = errors.New("gateway: publish failed")

	// ErrDecode marks an unexpected payload shape or field type.
	ErrDecode = errors.New("gateway: decode failed")

	// ErrInvalidArgument is returned when a command carries no fields.
	ErrInvalidArgument = errors.New("gateway: invalid argument")

	// ErrStateConflict is returned for a rejected switch combination.
	// No network I/O is performed.
	ErrStateConflict = errors.New("gateway: state conflict")

	// ErrCommandTimeout is returned when no response matched in time.
	ErrCommandTimeout = errors.New("gateway: command timed out")

	// ErrCommandFailed is returned when the device answered with a
	// non-zero result code.
	ErrCommandFailed = errors.New("gateway: command failed")

	// ErrDuplicateRequest is returned when a correlation id is already pending.
	ErrDuplicateRequest = errors.New("gateway: duplicate request id")
)
