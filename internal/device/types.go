package device

import (
	"time"

	"github.com/nerrad567/serialosc-core/internal/serialosc"
)

// Key identifies a stored device. The daemon may reuse an id on another
// port for a second unit, so the port is part of the identity.
type Key struct {
	ID   string
	Port int
}

// Device is one row of the devices table.
//
// A row outlives the session it was recorded from: it keeps the last
// known record of a device across removals and restarts of monomed.
type Device struct {
	// ID and DevicePort are the daemon announcement; together they form
	// the primary key.
	ID         string `json:"id"`
	DevicePort int    `json:"device_port"`

	// Kind is "grid" or "arc".
	Kind  string `json:"kind"`
	Model string `json:"model"`

	// Encoders is set for arcs, SizeX and SizeY for grids. Zero means
	// not (yet) reported.
	Encoders int `json:"encoders,omitempty"`
	SizeX    int `json:"size_x,omitempty"`
	SizeY    int `json:"size_y,omitempty"`

	Prefix   string `json:"prefix"`
	Rotation int    `json:"rotation"`

	// FirstSeen is set on insert and never changed; LastSeen moves with
	// every write.
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// Online is true between a device's add or connect and its remove
	// or disconnect.
	Online bool `json:"online"`
}

// Key returns the device's store key.
func (d *Device) Key() Key {
	return Key{ID: d.ID, Port: d.DevicePort}
}

// FromRecord builds a row from a session record. id overrides rec.ID so
// a row keeps the daemon id it was first stored under.
//
// Both timestamps are set to at; the repository and the tracker keep
// the original FirstSeen of an existing row.
func FromRecord(id string, rec serialosc.Record, online bool, at time.Time) Device {
	return Device{
		ID:         id,
		DevicePort: rec.DevicePort,
		Kind:       rec.Kind.String(),
		Model:      rec.Model,
		Encoders:   rec.Encoders,
		SizeX:      rec.SizeX,
		SizeY:      rec.SizeY,
		Prefix:     rec.Prefix,
		Rotation:   rec.Rotation,
		FirstSeen:  at,
		LastSeen:   at,
		Online:     online,
	}
}
