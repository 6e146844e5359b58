package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by monomed.
const (
	MeasurementInput   = "monome_input"
	MeasurementSession = "monome_session"
)

// InputEvent is one device input reading.
//
// Fields carry the event values, for example x, y and state for a key
// press or encoder and delta for an arc turn.
type InputEvent struct {
	DeviceID string
	Kind     string // "grid" or "arc"
	Event    string // "key", "tilt" or "delta"
	Fields   map[string]int
	Time     time.Time
}

// NewInputPoint builds the monome_input point for e.
//
// Tags: device_id, kind, event. Every field is written as an integer.
// A zero Time means now.
func NewInputPoint(e InputEvent) *write.Point {
	fields := make(map[string]interface{}, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = int64(v)
	}
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(
		MeasurementInput,
		map[string]string{
			"device_id": e.DeviceID,
			"kind":      e.Kind,
			"event":     e.Event,
		},
		fields,
		ts,
	)
}

// NewSessionPoint builds a monome_session point recording a lifecycle
// change. Tags: device_id, kind. The state is a string field.
func NewSessionPoint(deviceID, kind, state string, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementSession,
		map[string]string{
			"device_id": deviceID,
			"kind":      kind,
		},
		map[string]interface{}{
			"state": state,
		},
		ts,
	)
}

// WriteInputEvent queues an input event for the next batch.
// It never blocks; the event is dropped when the client is closed.
func (c *Client) WriteInputEvent(e InputEvent) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(NewInputPoint(e))
}

// WriteSessionEvent queues a lifecycle change stamped now.
// state is one of "added", "removed", "connected" or "disconnected".
func (c *Client) WriteSessionEvent(deviceID, kind, state string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(NewSessionPoint(deviceID, kind, state, time.Now()))
}
