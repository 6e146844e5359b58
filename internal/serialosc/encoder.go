package serialosc

import (
	"github.com/nerrad567/serialosc-core/internal/osc"
)

// Wire addresses. Device addresses under a prefix are suffixes.
const (
	// Daemon requests and notifications. list and notify carry the
	// reply host and port; device, add and remove carry id, model and
	// device port.
	AddrList   = "/serialosc/list"
	AddrNotify = "/serialosc/notify"
	AddrDevice = "/serialosc/device"
	AddrAdd    = "/serialosc/add"
	AddrRemove = "/serialosc/remove"

	// Device system messages. The device answers a request on the same
	// address, and /sys/info with one reply per /sys attribute.
	AddrSysPort       = "/sys/port"
	AddrSysHost       = "/sys/host"
	AddrSysID         = "/sys/id"
	AddrSysSize       = "/sys/size"
	AddrSysRotation   = "/sys/rotation"
	AddrSysPrefix     = "/sys/prefix"
	AddrSysInfo       = "/sys/info"
	AddrSysConnect    = "/sys/connect"
	AddrSysDisconnect = "/sys/disconnect"

	// Input sent by a device under its prefix.
	SuffixGridKey = "/grid/key"
	SuffixTilt    = "/tilt"
	SuffixEncKey  = "/enc/key"
	SuffixDelta   = "/enc/delta"

	suffixLEDSet       = "/grid/led/set"
	suffixLEDAll       = "/grid/led/all"
	suffixLEDMap       = "/grid/led/map"
	suffixLEDRow       = "/grid/led/row"
	suffixLEDCol       = "/grid/led/col"
	suffixLEDIntensity = "/grid/led/intensity"
	suffixLevelSet     = "/grid/led/level/set"
	suffixLevelAll     = "/grid/led/level/all"
	suffixLevelMap     = "/grid/led/level/map"
	suffixLevelRow     = "/grid/led/level/row"
	suffixLevelCol     = "/grid/led/level/col"
	suffixTiltSet      = "/tilt/set"
	suffixRingSet      = "/ring/set"
	suffixRingAll      = "/ring/all"
	suffixRingMap      = "/ring/map"
	suffixRingRange    = "/ring/range"
)

// Command is an encoded outbound message.
//
// Builders never validate coordinates or levels: serialosc clips or
// ignores out-of-range values itself, so commands are passed through
// as given.
type Command struct {
	Address string
	Args    []osc.Arg
}

// command builds a message whose arguments are all integers.
func command(address string, values ...int) Command {
	return Command{Address: address, Args: ints(values...)}
}

func ints(values ...int) []osc.Arg {
	args := make([]osc.Arg, len(values))
	for i, v := range values {
		args[i] = osc.Int(v)
	}
	return args
}

// Daemon requests.

// ListRequest asks the daemon to announce every device to host:port.
func ListRequest(host string, port int) Command {
	return Command{Address: AddrList, Args: []osc.Arg{osc.String(host), osc.Int(port)}}
}

// NotifyRequest subscribes host:port to the next add/remove notification.
// The daemon forgets the subscription after notifying once, so it has to
// be sent again after every notification.
func NotifyRequest(host string, port int) Command {
	return Command{Address: AddrNotify, Args: []osc.Arg{osc.String(host), osc.Int(port)}}
}

// Device system requests.

// SysPort tells the device which local port to send to. The device acks
// with /sys/port.
func SysPort(port int) Command { return command(AddrSysPort, port) }

// SysHost tells the device which host to send to. The device acks with
// /sys/host.
func SysHost(host string) Command {
	return Command{Address: AddrSysHost, Args: []osc.Arg{osc.String(host)}}
}

// SysInfo asks the device to report its id, size, host, port, prefix and
// rotation. Takes no arguments.
func SysInfo() Command { return Command{Address: AddrSysInfo} }

// SysRotation sets the grid rotation in degrees (0, 90, 180 or 270).
func SysRotation(r int) Command { return command(AddrSysRotation, r) }

// SysPrefix sets the address prefix the device uses for input and
// expects for LED commands.
func SysPrefix(prefix string) Command {
	return Command{Address: AddrSysPrefix, Args: []osc.Arg{osc.String(prefix)}}
}

// Grid LED commands. States are 0 (off) or 1 (on); levels are 0-15.

// GridSet turns the LED at (x, y) on (s=1) or off (s=0).
func GridSet(prefix string, x, y, s int) Command { return command(prefix+suffixLEDSet, x, y, s) }

// GridAll turns every LED on (s=1) or off (s=0).
func GridAll(prefix string, s int) Command { return command(prefix+suffixLEDAll, s) }

// GridMap sets an 8x8 quad at (xOffset, yOffset) from packed rows.
// Offsets should be multiples of 8.
func GridMap(prefix string, xOffset, yOffset int, q Quad) Command {
	values := []int{xOffset, yOffset}
	for _, row := range q {
		values = append(values, int(row))
	}
	return command(prefix+suffixLEDMap, values...)
}

// GridRow sets consecutive 8-LED blocks of row y starting at xOffset.
// Each mask holds one block, bit x for column xOffset+x.
func GridRow(prefix string, xOffset, y int, masks ...int) Command {
	return command(prefix+suffixLEDRow, append([]int{xOffset, y}, masks...)...)
}

// GridCol sets consecutive 8-LED blocks of column x starting at yOffset.
// Each mask holds one block, bit y for row yOffset+y.
func GridCol(prefix string, x, yOffset int, masks ...int) Command {
	return command(prefix+suffixLEDCol, append([]int{x, yOffset}, masks...)...)
}

// GridIntensity sets the global LED intensity, 0-15.
func GridIntensity(prefix string, level int) Command {
	return command(prefix+suffixLEDIntensity, level)
}

// GridLevelSet sets the LED at (x, y) to level 0-15.
func GridLevelSet(prefix string, x, y, level int) Command {
	return command(prefix+suffixLevelSet, x, y, level)
}

// GridLevelAll sets every LED to level 0-15.
func GridLevelAll(prefix string, level int) Command {
	return command(prefix+suffixLevelAll, level)
}

// GridLevelMap sets an 8x8 quad of 0-15 levels. levels should hold 64
// values in row-major order; see FlattenLevels.
func GridLevelMap(prefix string, xOffset, yOffset int, levels []int) Command {
	return command(prefix+suffixLevelMap, append([]int{xOffset, yOffset}, levels...)...)
}

// GridLevelRow sets row y starting at xOffset, one level per LED. Send
// 8 levels per block of 8 columns.
func GridLevelRow(prefix string, xOffset, y int, levels ...int) Command {
	return command(prefix+suffixLevelRow, append([]int{xOffset, y}, levels...)...)
}

// GridLevelCol sets column x starting at yOffset, one level per LED.
// Send 8 levels per block of 8 rows.
func GridLevelCol(prefix string, x, yOffset int, levels ...int) Command {
	return command(prefix+suffixLevelCol, append([]int{x, yOffset}, levels...)...)
}

// TiltSet enables (s=1) or disables (s=0) tilt sensor n.
func TiltSet(prefix string, n, s int) Command { return command(prefix+suffixTiltSet, n, s) }

// Arc ring commands. Rings have 64 LEDs numbered clockwise from the top;
// levels are 0-15.

// RingSet sets LED x of ring n to level.
func RingSet(prefix string, n, x, level int) Command {
	return command(prefix+suffixRingSet, n, x, level)
}

// RingAll sets every LED of ring n to level.
func RingAll(prefix string, n, level int) Command { return command(prefix+suffixRingAll, n, level) }

// RingMap sets all 64 LEDs of ring n.
func RingMap(prefix string, n int, levels []int) Command {
	return command(prefix+suffixRingMap, append([]int{n}, levels...)...)
}

// RingRange sets LEDs x1 through x2 of ring n, wrapping past 63.
func RingRange(prefix string, n, x1, x2, level int) Command {
	return command(prefix+suffixRingRange, n, x1, x2, level)
}

// Quad is an 8x8 block packed one byte per row, bit x set for column x.
type Quad [8]uint8

// PackRow packs up to 8 LED states into a row byte: bit x is set iff
// row[x] is non-zero.
func PackRow(row []int) uint8 {
	var v uint8
	for x := 0; x < len(row) && x < 8; x++ {
		if row[x] != 0 {
			v |= 1 << x
		}
	}
	return v
}

// PackQuad packs an 8x8 matrix of LED states. Missing rows are dark.
// Individual rows can be overwritten afterwards with pre-packed bytes.
func PackQuad(rows [][]int) Quad {
	var q Quad
	for y := 0; y < len(rows) && y < 8; y++ {
		q[y] = PackRow(rows[y])
	}
	return q
}

// PackFlat packs 64 LED states given in row-major order.
func PackFlat(leds []int) Quad {
	var q Quad
	for y := 0; y < 8; y++ {
		lo := y * 8
		if lo >= len(leds) {
			break
		}
		hi := min(lo+8, len(leds))
		q[y] = PackRow(leds[lo:hi])
	}
	return q
}

// FlattenLevels turns nested level rows into the row-major list that
// GridLevelMap expects.
func FlattenLevels(rows [][]int) []int {
	out := make([]int, 0, 64)
	for _, row := range rows {
		out = append(out, row...)
	}
	return out
}
