// Package serialosc discovers monome grids and arcs through the serialosc
// daemon and runs the per-device session handshake.
//
// # Architecture
//
//	serialosc daemon ◄──notify/list── Registry ──creates──► Session (one per device)
//	                 ──device/add/remove──►                    │
//	                                                           ▼
//	device ◄── /sys/port, /sys/host, /sys/info ──── handshake (looplab/fsm)
//	       ──► /sys/port, /sys/host, /sys/prefix ──► initialized
//	       ──► <prefix>/grid/key, /tilt, /enc/*  ──► key, tilt, delta events
//
// The Registry owns two transport endpoints: one for daemon traffic and one
// shared by every Session. /sys/* replies carry no prefix, so each Session
// listens only to datagrams sent from its device's port.
//
// # Handshake
//
// A started Session sends /sys/port and waits for the three required
// acknowledgements: port, host and prefix. The first port ack triggers
// /sys/host, the first host ack triggers /sys/info. The "initialized" event
// fires exactly once, when the last of the three arrives, whatever the
// order. /sys/size and /sys/rotation only update the record.
//
// A /sys/prefix message swaps the input listeners from the old prefix to the
// new one in a single transport operation.
//
// # Events
//
// Registry: device:add, device:remove, <id>:add, <id>:remove (payload
// *Session). Session: initialized, connected, disconnected (payload
// *Session), key, tilt, delta (payload KeyEvent, TiltEvent,
// EncoderKeyEvent, DeltaEvent).
//
// # Thread Safety
//
// Registry and Session are safe for concurrent use. Events are published
// after internal locks are released.
//
// # References
//
//   - https://monome.org/docs/serialosc/osc/
package serialosc
