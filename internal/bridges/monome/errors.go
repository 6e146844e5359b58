package monome

import "errors"

// Domain errors for the monome bridge package.
var (
	// ErrMissingDependency is returned by NewBridge when a required
	// option is nil.
	ErrMissingDependency = errors.New("monome: missing dependency")

	// ErrUnknownCommand is returned for command names the bridge does
	// not implement.
	ErrUnknownCommand = errors.New("monome: unknown command")

	// ErrUnsupported is returned when a command does not apply to the
	// device kind (e.g. ring_set on a grid).
	ErrUnsupported = errors.New("monome: command not supported by device")

	// ErrInvalidParameters is returned when a command parameter is
	// missing or has the wrong type.
	ErrInvalidParameters = errors.New("monome: invalid parameters")

	// ErrInvalidSchedule is returned when the health cron spec does not parse.
	ErrInvalidSchedule = errors.New("monome: invalid health schedule")
)
