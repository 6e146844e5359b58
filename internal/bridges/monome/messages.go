package monome

import (
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/nerrad567/serialosc-core/internal/serialosc"
)

// DeviceState is published retained on <prefix>/state/<id> whenever a
// device is added, removed, connects or disconnects.
//
//	{"device_id":"m1000286","kind":"grid","model":"monome 128","slug":"monome-128",
//	 "device_port":14656,"online":true,"state":"connected","size_x":16,"size_y":8,
//	 "prefix":"/monome","rotation":0,"timestamp":"..."}
type DeviceState struct {
	// DeviceID is the daemon id; it is also the last topic level.
	DeviceID string `json:"device_id"`

	// ReportedID is the id from /sys/id when it differs from DeviceID.
	ReportedID string `json:"reported_id,omitempty"`

	Kind  string `json:"kind"`
	Model string `json:"model"`

	// Slug is the model in URL-safe form, e.g. "monome-arc-4".
	Slug string `json:"slug"`

	Port   int  `json:"device_port"`
	Online bool `json:"online"`

	// State is the session handshake state, e.g. "awaiting_info".
	State string `json:"state"`

	SizeX    int       `json:"size_x,omitempty"`
	SizeY    int       `json:"size_y,omitempty"`
	Encoders int       `json:"encoders,omitempty"`
	Prefix   string    `json:"prefix"`
	Rotation int       `json:"rotation"`
	Time     time.Time `json:"timestamp"`
}

// NewDeviceState snapshots a session. online is passed in rather than
// read from the session so a removed device can be published offline
// while its session still reports connected.
func NewDeviceState(sess *serialosc.Session, online bool) DeviceState {
	rec := sess.Record()
	st := DeviceState{
		DeviceID: sess.DaemonID(),
		Kind:     rec.Kind.String(),
		Model:    rec.Model,
		Slug:     slug.Make(rec.Model),
		Port:     rec.DevicePort,
		Online:   online,
		State:    string(sess.State()),
		SizeX:    rec.SizeX,
		SizeY:    rec.SizeY,
		Encoders: rec.Encoders,
		Prefix:   rec.Prefix,
		Rotation: rec.Rotation,
		Time:     time.Now().UTC(),
	}
	if rec.ID != st.DeviceID {
		st.ReportedID = rec.ID
	}
	return st
}

// InputMessage is published on <prefix>/input/<id>/<event> for every key,
// tilt and delta event.
//
//	{"device_id":"m1000286","kind":"grid","event":"key","fields":{"x":3,"y":5,"s":1}}
type InputMessage struct {
	DeviceID string         `json:"device_id"`
	Kind     string         `json:"kind"`
	Event    string         `json:"event"`
	Fields   map[string]int `json:"fields"`
	Time     time.Time      `json:"timestamp"`
}

// inputFields flattens a session input payload. ok is false for payloads
// that are not input events.
func inputFields(payload any) (fields map[string]int, ok bool) {
	switch e := payload.(type) {
	case serialosc.KeyEvent:
		return map[string]int{"x": e.X, "y": e.Y, "s": e.State}, true
	case serialosc.TiltEvent:
		return map[string]int{"n": e.Sensor, "x": e.X, "y": e.Y, "z": e.Z}, true
	case serialosc.EncoderKeyEvent:
		return map[string]int{"n": e.Encoder, "s": e.State}, true
	case serialosc.DeltaEvent:
		return map[string]int{"n": e.Encoder, "d": e.Delta}, true
	}
	return nil, false
}

// CommandMessage is received on <prefix>/command/<id>.
//
//	{"id":"...","command":"led_set","parameters":{"x":0,"y":0,"s":1}}
type CommandMessage struct {
	// ID correlates the acknowledgement. One is generated when empty.
	ID string `json:"id,omitempty"`

	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ensureID assigns a random id to commands that arrive without one.
func (c *CommandMessage) ensureID() {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	// AckAccepted means every OSC message of the command was sent.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command was rejected or a send failed.
	AckFailed AckStatus = "failed"
)

// Error codes carried by failed acknowledgements.
const (
	// ErrCodeUnknownDevice: no session for the id in the topic.
	ErrCodeUnknownDevice = "UNKNOWN_DEVICE"

	// ErrCodeNotConnected: the session exists but is not connected.
	ErrCodeNotConnected = "NOT_CONNECTED"

	// ErrCodeInvalidCommand: the command name is not in CommandNames.
	ErrCodeInvalidCommand = "INVALID_COMMAND"

	// ErrCodeInvalidParameters: a parameter is missing or out of range.
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"

	// ErrCodeUnsupported: the command does not apply to this device kind.
	ErrCodeUnsupported = "UNSUPPORTED"

	// ErrCodeSendFailed: the OSC send returned an error.
	ErrCodeSendFailed = "SEND_FAILED"

	// ErrCodeBadPayload: the payload is not a CommandMessage.
	ErrCodeBadPayload = "BAD_PAYLOAD"
)

// AckMessage is published on <prefix>/ack/<id>, one per command.
// Error is set only when Status is AckFailed.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command,omitempty"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
	Time      time.Time `json:"timestamp"`
}

// AckError describes a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthStatus is the bridge's operational status.
type HealthStatus string

// Health statuses. Degraded means the bridge runs but the registry is
// stopped; stopping is the last message before shutdown.
const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on <prefix>/health.
//
// Devices counts every known session, Connected the usable ones and
// Stored the rows in the device store. The counters only grow.
type HealthMessage struct {
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Devices       int          `json:"devices"`
	Connected     int          `json:"connected"`
	Stored        int          `json:"stored,omitempty"`
	Commands      uint64       `json:"commands"`
	CommandErrors uint64       `json:"command_errors"`
	InputEvents   uint64       `json:"input_events"`
	Time          time.Time    `json:"timestamp"`
}
