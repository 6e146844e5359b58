package osc

import "errors"

// Domain-specific errors for the OSC transport.
var (
	// ErrBindFailed is returned when the local endpoint cannot be bound
	// (typically because the port is already in use).
	ErrBindFailed = errors.New("osc: bind failed")

	// ErrClosed is returned when sending on a closed connection.
	ErrClosed = errors.New("osc: connection closed")

	// ErrSendFailed is returned when a message cannot be encoded or written.
	ErrSendFailed = errors.New("osc: send failed")

	// ErrInvalidTarget is returned when a target address cannot be resolved.
	ErrInvalidTarget = errors.New("osc: invalid target")

	// ErrUnsupportedArg is returned for argument values outside int32, string and float32.
	ErrUnsupportedArg = errors.New("osc: unsupported argument type")
)
