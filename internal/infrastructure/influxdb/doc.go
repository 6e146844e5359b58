// Package influxdb records monome input history.
//
// Every key press, tilt reading and encoder turn can be written as a
// monome_input point tagged with device_id, kind and event; session
// lifecycle changes go to monome_session. Writes are batched by the
// client library and never block the event path.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history off
//	}
//	client.WriteInputEvent(influxdb.InputEvent{
//	    DeviceID: "m0-1", Kind: "grid", Event: "key",
//	    Fields:   map[string]int{"x": 3, "y": 4, "s": 1},
//	})
package influxdb
