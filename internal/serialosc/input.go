package serialosc

import (
	"github.com/nerrad567/serialosc-core/internal/osc"
)

// Session event topics.
//
// Lifecycle events carry the *Session as payload. Input events carry a
// KeyEvent, EncoderKeyEvent, TiltEvent or DeltaEvent value.
const (
	// EventInitialized fires exactly once, when port, host and prefix
	// have all been acknowledged.
	EventInitialized = "initialized"

	// EventConnected and EventDisconnected follow /sys/connect and
	// /sys/disconnect from the device.
	EventConnected    = "connected"
	EventDisconnected = "disconnected"

	// EventKey is a grid key or an arc encoder push.
	EventKey   = "key"
	EventTilt  = "tilt"
	EventDelta = "delta"
)

// Registry event topics. The payload is the *Session.
const (
	// EventDeviceAdd fires once per discovered device, after the
	// handshake when Config.StartDevices is set.
	EventDeviceAdd = "device:add"

	// EventDeviceRemove fires when the daemon reports a known device gone.
	EventDeviceRemove = "device:remove"
)

// AddTopic is the per-device add topic, "<id>:add".
func AddTopic(id string) string { return id + ":add" }

// RemoveTopic is the per-device remove topic, "<id>:remove".
func RemoveTopic(id string) string { return id + ":remove" }

// KeyEvent is a grid key press (State 1) or release (State 0).
type KeyEvent struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	State int `json:"s"`
}

// TiltEvent is a grid tilt sensor reading. Z is the fourth axis value
// reported by serialosc.
type TiltEvent struct {
	Sensor int `json:"n"`
	X      int `json:"x"`
	Y      int `json:"y"`
	Z      int `json:"z"`
}

// EncoderKeyEvent is an arc encoder push.
type EncoderKeyEvent struct {
	Encoder int `json:"n"`
	State   int `json:"s"`
}

// DeltaEvent is an arc encoder turn.
type DeltaEvent struct {
	Encoder int `json:"n"`
	Delta   int `json:"d"`
}

// inputRoutes returns the input listeners of a device kind under prefix.
// Grids listen for key and tilt, arcs for encoder key and delta.
func (s *Session) inputRoutes(kind Kind, prefix string) []osc.Route {
	if kind == KindArc {
		return []osc.Route{
			{Address: prefix + SuffixEncKey, Handler: s.onEncoderKey},
			{Address: prefix + SuffixDelta, Handler: s.onDelta},
		}
	}
	return []osc.Route{
		{Address: prefix + SuffixGridKey, Handler: s.onGridKey},
		{Address: prefix + SuffixTilt, Handler: s.onTilt},
	}
}

// onGridKey handles <prefix>/grid/key x y s.
func (s *Session) onGridKey(m osc.Message) {
	v, ok := intArgs(m, 3)
	if !ok {
		s.dropMalformed(m)
		return
	}
	s.events.Publish(EventKey, KeyEvent{X: v[0], Y: v[1], State: v[2]})
}

// onTilt handles <prefix>/tilt n x y z.
func (s *Session) onTilt(m osc.Message) {
	v, ok := intArgs(m, 4)
	if !ok {
		s.dropMalformed(m)
		return
	}
	s.events.Publish(EventTilt, TiltEvent{Sensor: v[0], X: v[1], Y: v[2], Z: v[3]})
}

// onEncoderKey handles <prefix>/enc/key n s. It shares EventKey with
// grid presses; the payload type tells them apart.
func (s *Session) onEncoderKey(m osc.Message) {
	v, ok := intArgs(m, 2)
	if !ok {
		s.dropMalformed(m)
		return
	}
	s.events.Publish(EventKey, EncoderKeyEvent{Encoder: v[0], State: v[1]})
}

// onDelta handles <prefix>/enc/delta n d. d is signed, positive
// clockwise.
func (s *Session) onDelta(m osc.Message) {
	v, ok := intArgs(m, 2)
	if !ok {
		s.dropMalformed(m)
		return
	}
	s.events.Publish(EventDelta, DeltaEvent{Encoder: v[0], Delta: v[1]})
}

// intArgs reads the first n arguments as integers. Extra arguments are
// ignored; a missing or non-integer one fails the whole read.
func intArgs(m osc.Message, n int) ([]int, bool) {
	out := make([]int, n)
	for i := range out {
		v, ok := m.Int(i)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}
