package serialosc

import (
	"context"

	"github.com/looplab/fsm"
)

// HandshakeState is the lifecycle stage of a Session.
//
// A session moves configured -> port_negotiating on Start, then through
// host_negotiating and awaiting_info as acknowledgements arrive. It reaches
// connected once initialized or on /sys/connect, and moves between
// connected and disconnected afterwards. Acks may arrive in any order, so
// the intermediate states are advisory; initialization is decided by the
// pending acknowledgement set, not by the state.
type HandshakeState string

// Handshake states.
const (
	StateConfigured      HandshakeState = "configured"
	StatePortNegotiating HandshakeState = "port_negotiating"
	StateHostNegotiating HandshakeState = "host_negotiating"
	StateAwaitingInfo    HandshakeState = "awaiting_info"
	StateConnected       HandshakeState = "connected"
	StateDisconnected    HandshakeState = "disconnected"
)

// Handshake events fired into the state machine.
const (
	evStart      = "start"
	evPortAck    = "port_ack"
	evHostAck    = "host_ack"
	evInitialize = "initialize"
	evConnect    = "connect"
	evDisconnect = "disconnect"
)

// Required acknowledgements. A session is initialized once all three
// have been received.
const (
	ackPort   = "port"
	ackHost   = "host"
	ackPrefix = "prefix"
)

// newHandshake builds the session state machine. onTransition is called
// after every state change.
//
// Session.fire checks Can first, so an event that is not valid in the
// current state is a no-op. Duplicate acks are normal.
func newHandshake(onTransition func(from, to string)) *fsm.FSM {
	negotiating := []string{
		string(StatePortNegotiating),
		string(StateHostNegotiating),
		string(StateAwaitingInfo),
	}

	return fsm.NewFSM(
		string(StateConfigured),
		fsm.Events{
			{Name: evStart, Src: []string{string(StateConfigured)}, Dst: string(StatePortNegotiating)},
			{Name: evPortAck, Src: []string{string(StatePortNegotiating)}, Dst: string(StateHostNegotiating)},
			{
				Name: evHostAck,
				Src:  []string{string(StatePortNegotiating), string(StateHostNegotiating)},
				Dst:  string(StateAwaitingInfo),
			},
			{
				Name: evInitialize,
				Src:  append(append([]string{}, negotiating...), string(StateDisconnected)),
				Dst:  string(StateConnected),
			},
			{
				Name: evConnect,
				Src:  append(append([]string{}, negotiating...), string(StateDisconnected)),
				Dst:  string(StateConnected),
			},
			{
				Name: evDisconnect,
				Src:  append(append([]string{}, negotiating...), string(StateConnected)),
				Dst:  string(StateDisconnected),
			},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if onTransition != nil {
					onTransition(e.Src, e.Dst)
				}
			},
		},
	)
}
