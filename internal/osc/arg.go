package osc

import (
	"fmt"
	"math"
	"net"

	goosc "github.com/hypebeast/go-osc/osc"
)

// ArgType is the wire type of a message argument.
type ArgType string

// Argument types understood by serialosc.
const (
	ArgInt    ArgType = "integer"
	ArgString ArgType = "string"
	ArgFloat  ArgType = "float"
)

// Arg is a typed message argument.
//
// Value holds an int32, string or float32 for the supported types. Inbound
// arguments of other OSC types keep their decoded value with an empty Type,
// so argument positions are preserved.
type Arg struct {
	Type  ArgType
	Value any
}

// Int returns an integer argument. OSC integers are 32-bit, so v is
// clamped to [math.MinInt32, math.MaxInt32] rather than wrapped.
func Int(v int) Arg {
	return Arg{Type: ArgInt, Value: clampInt32(v)}
}

// String returns a string argument.
func String(v string) Arg {
	return Arg{Type: ArgString, Value: v}
}

// Float returns a float argument (sent as float32).
func Float(v float32) Arg {
	return Arg{Type: ArgFloat, Value: v}
}

// clampInt32 saturates v at the int32 bounds.
func clampInt32(v int) int32 {
	switch {
	case v > math.MaxInt32:
		return math.MaxInt32
	case v < math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

// native converts the argument to the value go-osc expects. A plain int
// is accepted for ArgInt and clamped like Int.
func (a Arg) native() (any, error) {
	switch a.Type {
	case ArgInt:
		switch v := a.Value.(type) {
		case int32:
			return v, nil
		case int:
			return clampInt32(v), nil
		}
	case ArgString:
		if v, ok := a.Value.(string); ok {
			return v, nil
		}
	case ArgFloat:
		if v, ok := a.Value.(float32); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %T", ErrUnsupportedArg, a.Type, a.Value)
}

// Message is a decoded inbound message.
type Message struct {
	// Address is the OSC address, e.g. "/sys/port".
	Address string

	// Args holds the decoded arguments in wire order.
	Args []Arg

	// From is the sender's address.
	From *net.UDPAddr
}

// Int returns argument i as an int. ok is false if the argument is
// missing or not numeric.
//
// Floats are truncated toward zero and int64 values are narrowed to int.
func (m Message) Int(i int) (int, bool) {
	if i < 0 || i >= len(m.Args) {
		return 0, false
	}
	switch v := m.Args[i].Value.(type) {
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float32:
		return int(v), true
	}
	return 0, false
}

// Text returns argument i as a string. ok is false if the argument is
// missing or not a string.
func (m Message) Text(i int) (string, bool) {
	if i < 0 || i >= len(m.Args) {
		return "", false
	}
	v, ok := m.Args[i].Value.(string)
	return v, ok
}

// decode converts a go-osc message. Argument types without a serialosc
// meaning keep their position with an empty Type.
func decode(msg *goosc.Message, from *net.UDPAddr) Message {
	out := Message{
		Address: msg.Address,
		Args:    make([]Arg, 0, len(msg.Arguments)),
		From:    from,
	}
	for _, a := range msg.Arguments {
		switch v := a.(type) {
		case int32:
			out.Args = append(out.Args, Arg{Type: ArgInt, Value: v})
		case int64:
			out.Args = append(out.Args, Arg{Type: ArgInt, Value: v})
		case float32:
			out.Args = append(out.Args, Arg{Type: ArgFloat, Value: v})
		case float64:
			out.Args = append(out.Args, Arg{Type: ArgFloat, Value: float32(v)})
		case string:
			out.Args = append(out.Args, Arg{Type: ArgString, Value: v})
		default:
			out.Args = append(out.Args, Arg{Value: v})
		}
	}
	return out
}

// encode builds the wire form of an outbound message. It fails with
// ErrUnsupportedArg before anything is written.
func encode(address string, args []Arg) ([]byte, error) {
	msg := goosc.NewMessage(address)
	for _, a := range args {
		v, err := a.native()
		if err != nil {
			return nil, err
		}
		msg.Append(v)
	}
	return msg.MarshalBinary()
}
