package serialosc

import "errors"

// Domain-specific errors for serialosc operations.
var (
	// ErrStartFailed is returned when the registry cannot bind its endpoints.
	ErrStartFailed = errors.New("serialosc: start failed")

	// ErrNoTransport is returned when a session is created without a transport.
	ErrNoTransport = errors.New("serialosc: transport is required")

	// ErrInvalidDevicePort is returned for a device port outside 1-65535.
	ErrInvalidDevicePort = errors.New("serialosc: invalid device port")

	// ErrAlreadyStarted is returned when Start is called on a running session.
	ErrAlreadyStarted = errors.New("serialosc: session already started")

	// ErrInvalidRotation is returned for rotations other than 0, 90, 180 and 270.
	ErrInvalidRotation = errors.New("serialosc: rotation must be 0, 90, 180 or 270")

	// ErrInvalidPrefix is returned for prefixes that do not start with "/".
	ErrInvalidPrefix = errors.New("serialosc: prefix must start with /")

	// ErrWrongKind is returned when a grid command is sent to an arc or vice versa.
	ErrWrongKind = errors.New("serialosc: command not supported by device kind")
)
