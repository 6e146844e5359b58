// Package monome bridges serialosc devices to MQTT.
//
// # Topics
//
// With the default prefix "monome":
//
//	monome/state/<id>          retained DeviceState (add, remove, connect, disconnect)
//	monome/input/<id>/<event>  InputMessage for key, tilt and delta events
//	monome/command/<id>        CommandMessage in
//	monome/ack/<id>            AckMessage out ("accepted" or "failed")
//	monome/health              retained HealthMessage on a cron schedule
//
// # Commands
//
// Grid: led_set, led_all, led_map, led_row, led_col, led_intensity,
// led_level_set, led_level_all, led_level_map, led_level_row,
// led_level_col, tilt_set. Arc: ring_set, ring_all, ring_map,
// ring_range. Both: rotation, prefix, info.
//
//	{"id":"c1","command":"led_set","parameters":{"x":3,"y":5,"s":1}}
//	{"command":"ring_range","parameters":{"n":0,"x1":60,"x2":4,"level":15}}
//
// A command is acknowledged "accepted" once every OSC message was sent;
// serialosc does not confirm LED output.
//
// When a Recorder is configured each input event is also written to
// InfluxDB, and when a Store is configured it is synced on every
// health tick.
package monome
