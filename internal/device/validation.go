package device

import (
	"fmt"

	"github.com/nerrad567/serialosc-core/internal/serialosc"
)

// maxModelLength bounds the model column. serialosc model strings are
// short ("monome 128", "monome arc 4").
const maxModelLength = 64

// ValidateDevice checks a row before it is written.
//
// Rules:
//   - id is required and device_port must be 1-65535
//   - kind is "grid" or "arc"
//   - model is at most 64 characters
//   - rotation is 0, 90, 180 or 270
//   - sizes and encoder count are not negative
//
// Returns an error wrapping ErrInvalidDevice describing the first
// validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if d.DevicePort <= 0 || d.DevicePort > 65535 {
		return fmt.Errorf("%w: device port %d out of range", ErrInvalidDevice, d.DevicePort)
	}
	if d.Kind != serialosc.KindGrid.String() && d.Kind != serialosc.KindArc.String() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDevice, d.Kind)
	}
	if len(d.Model) > maxModelLength {
		return fmt.Errorf("%w: model longer than %d characters", ErrInvalidDevice, maxModelLength)
	}
	if !serialosc.ValidRotation(d.Rotation) {
		return fmt.Errorf("%w: rotation %d", ErrInvalidDevice, d.Rotation)
	}
	if d.SizeX < 0 || d.SizeY < 0 || d.Encoders < 0 {
		return fmt.Errorf("%w: negative dimensions", ErrInvalidDevice)
	}
	return nil
}
