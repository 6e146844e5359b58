package serialosc

import (
	"math/rand/v2"
	"regexp"
	"strconv"
)

// Kind is the device family.
type Kind int

const (
	// KindGrid is a monome grid (key matrix with LEDs, optional tilt).
	KindGrid Kind = iota

	// KindArc is a monome arc (encoders with LED rings).
	KindArc
)

// String returns "grid" or "arc".
func (k Kind) String() string {
	if k == KindArc {
		return "arc"
	}
	return "grid"
}

// ParseKind is the inverse of Kind.String. Anything but "arc" is a grid.
func ParseKind(s string) Kind {
	if s == "arc" {
		return KindArc
	}
	return KindGrid
}

// Listen port range used when none is configured: [1024, 65535).
// Ports below 1024 need privileges on most systems.
const (
	minRandomPort   = 1024
	randomPortRange = 64512
)

// arcModel matches daemon model strings of arcs and captures the encoder
// count.
var arcModel = regexp.MustCompile(`monome arc (\d+)`)

// Classify derives the kind and encoder count from a daemon model string.
// "monome arc 4" is an arc with 4 encoders; anything else is a grid.
func Classify(model string) (Kind, int) {
	m := arcModel.FindStringSubmatch(model)
	if m == nil {
		return KindGrid, 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return KindGrid, 0
	}
	return KindArc, n
}

// RandomPort returns a port in [1024, 65535). The port is not checked
// for availability; binding it may still fail.
func RandomPort() int {
	return minRandomPort + rand.IntN(randomPortRange) //nolint:gosec // not security sensitive
}

// ValidRotation reports whether r is one of 0, 90, 180, 270.
func ValidRotation(r int) bool {
	switch r {
	case 0, 90, 180, 270:
		return true
	}
	return false
}

// Record is the identity and addressing of one device.
//
// A Record starts from the daemon announcement and is filled in by the
// device's /sys replies. Fields a device never reports keep their zero
// value, so a grid that has not sent /sys/size has SizeX == SizeY == 0.
type Record struct {
	// ID is assigned by the daemon (e.g. "m1000286"). The device may
	// report a different one via /sys/id.
	ID string

	// Kind is derived from Model.
	Kind Kind

	// Model is the raw daemon model string (e.g. "monome 128").
	Model string

	// ListenHost and ListenPort are the local endpoint the device sends to.
	ListenHost string
	ListenPort int

	// DeviceHost and DevicePort are the device's own endpoint.
	DeviceHost string
	DevicePort int

	// SizeX and SizeY are set by /sys/size (grid only).
	SizeX int
	SizeY int

	// Encoders is the arc encoder count.
	Encoders int

	// Prefix is the address namespace, e.g. "/monome".
	Prefix string

	// Rotation is 0, 90, 180 or 270.
	Rotation int
}
