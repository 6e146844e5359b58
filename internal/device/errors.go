package device

import "errors"

// Domain errors for the device package. Check them with errors.Is.
var (
	// ErrDeviceNotFound is returned when no row matches (id, device_port).
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrTrackerStarted is returned by Tracker.Start when already running.
	ErrTrackerStarted = errors.New("device: tracker already started")
)
