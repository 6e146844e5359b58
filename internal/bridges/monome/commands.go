package monome

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/nerrad567/serialosc-core/internal/serialosc"
)

// Command names accepted on the command topic.
//
// Parameters mostly follow the OSC arguments: x, y, s (0/1), level
// (0-15), n (sensor or encoder) and masks or levels for rows and columns.
// x_offset and y_offset default to 0. led_map takes "rows" (8x8) or
// "leds" (64 values); led_level_map takes "rows" or "levels". rotation,
// prefix and info work on every device. led_* and tilt_set need a grid,
// ring_* an arc.
const (
	CmdLEDSet       = "led_set"
	CmdLEDAll       = "led_all"
	CmdLEDMap       = "led_map"
	CmdLEDRow       = "led_row"
	CmdLEDCol       = "led_col"
	CmdLEDIntensity = "led_intensity"
	CmdLEDLevelSet  = "led_level_set"
	CmdLEDLevelAll  = "led_level_all"
	CmdLEDLevelMap  = "led_level_map"
	CmdLEDLevelRow  = "led_level_row"
	CmdLEDLevelCol  = "led_level_col"
	CmdTiltSet      = "tilt_set"
	CmdRingSet      = "ring_set"
	CmdRingAll      = "ring_all"
	CmdRingMap      = "ring_map"
	CmdRingRange    = "ring_range"
	CmdRotation     = "rotation"
	CmdPrefix       = "prefix"
	CmdInfo         = "info"
)

// Parameter limits.
const (
	quadSide         = 8
	quadCells        = quadSide * quadSide
	ringLEDs         = 64
	maxLEDLevel      = 15
	maxParamMaskSize = 32
)

// commandFunc runs one command against a session.
type commandFunc func(sess *serialosc.Session, p params) error

// commands maps every accepted command name to its implementation.
// Parameters are validated before anything is sent.
var commands = map[string]commandFunc{
	CmdLEDSet: onGrid(func(g serialosc.Grid, p params) error {
		v, err := p.ints("x", "y", "s")
		if err != nil {
			return err
		}
		return g.Set(v[0], v[1], v[2])
	}),
	CmdLEDAll: onGrid(func(g serialosc.Grid, p params) error {
		s, err := p.int("s")
		if err != nil {
			return err
		}
		return g.All(s)
	}),
	CmdLEDMap: onGrid(func(g serialosc.Grid, p params) error {
		xo, yo := p.intOr("x_offset", 0), p.intOr("y_offset", 0)
		q, err := p.quad()
		if err != nil {
			return err
		}
		return g.Map(xo, yo, q)
	}),
	CmdLEDRow: onGrid(func(g serialosc.Grid, p params) error {
		y, err := p.int("y")
		if err != nil {
			return err
		}
		masks, err := p.list("masks", maxParamMaskSize)
		if err != nil {
			return err
		}
		return g.Row(p.intOr("x_offset", 0), y, masks...)
	}),
	CmdLEDCol: onGrid(func(g serialosc.Grid, p params) error {
		x, err := p.int("x")
		if err != nil {
			return err
		}
		masks, err := p.list("masks", maxParamMaskSize)
		if err != nil {
			return err
		}
		return g.Col(x, p.intOr("y_offset", 0), masks...)
	}),
	CmdLEDIntensity: onGrid(func(g serialosc.Grid, p params) error {
		l, err := p.level("level")
		if err != nil {
			return err
		}
		return g.Intensity(l)
	}),
	CmdLEDLevelSet: onGrid(func(g serialosc.Grid, p params) error {
		v, err := p.ints("x", "y")
		if err != nil {
			return err
		}
		l, err := p.level("level")
		if err != nil {
			return err
		}
		return g.LevelSet(v[0], v[1], l)
	}),
	CmdLEDLevelAll: onGrid(func(g serialosc.Grid, p params) error {
		l, err := p.level("level")
		if err != nil {
			return err
		}
		return g.LevelAll(l)
	}),
	CmdLEDLevelMap: onGrid(func(g serialosc.Grid, p params) error {
		levels, err := p.levelGrid()
		if err != nil {
			return err
		}
		return g.LevelMap(p.intOr("x_offset", 0), p.intOr("y_offset", 0), levels)
	}),
	CmdLEDLevelRow: onGrid(func(g serialosc.Grid, p params) error {
		y, err := p.int("y")
		if err != nil {
			return err
		}
		levels, err := p.list("levels", maxParamMaskSize*quadSide)
		if err != nil {
			return err
		}
		return g.LevelRow(p.intOr("x_offset", 0), y, levels...)
	}),
	CmdLEDLevelCol: onGrid(func(g serialosc.Grid, p params) error {
		x, err := p.int("x")
		if err != nil {
			return err
		}
		levels, err := p.list("levels", maxParamMaskSize*quadSide)
		if err != nil {
			return err
		}
		return g.LevelCol(x, p.intOr("y_offset", 0), levels...)
	}),
	CmdTiltSet: onGrid(func(g serialosc.Grid, p params) error {
		n, err := p.int("n")
		if err != nil {
			return err
		}
		enable, err := p.bool("enable")
		if err != nil {
			return err
		}
		return g.SetTilt(n, enable)
	}),
	CmdRingSet: onArc(func(a serialosc.Arc, p params) error {
		v, err := p.ints("n", "x")
		if err != nil {
			return err
		}
		l, err := p.level("level")
		if err != nil {
			return err
		}
		return a.Set(v[0], v[1], l)
	}),
	CmdRingAll: onArc(func(a serialosc.Arc, p params) error {
		n, err := p.int("n")
		if err != nil {
			return err
		}
		l, err := p.level("level")
		if err != nil {
			return err
		}
		return a.All(n, l)
	}),
	CmdRingMap: onArc(func(a serialosc.Arc, p params) error {
		n, err := p.int("n")
		if err != nil {
			return err
		}
		levels, err := p.list("levels", ringLEDs)
		if err != nil {
			return err
		}
		if len(levels) != ringLEDs {
			return fmt.Errorf("%w: levels needs %d values, got %d", ErrInvalidParameters, ringLEDs, len(levels))
		}
		return a.Map(n, levels)
	}),
	CmdRingRange: onArc(func(a serialosc.Arc, p params) error {
		v, err := p.ints("n", "x1", "x2")
		if err != nil {
			return err
		}
		l, err := p.level("level")
		if err != nil {
			return err
		}
		return a.Range(v[0], v[1], v[2], l)
	}),
	CmdRotation: func(sess *serialosc.Session, p params) error {
		r, err := p.int("rotation")
		if err != nil {
			return err
		}
		return sess.SetRotation(r)
	},
	CmdPrefix: func(sess *serialosc.Session, p params) error {
		prefix, err := p.string("prefix")
		if err != nil {
			return err
		}
		return sess.SetPrefix(prefix)
	},
	CmdInfo: func(sess *serialosc.Session, _ params) error {
		return sess.Info()
	},
}

// CommandNames returns every accepted command name, sorted.
// The health message and the CLI use it to list what the bridge accepts.
func CommandNames() []string {
	names := lo.Keys(commands)
	sort.Strings(names)
	return names
}

// execute runs one command against a session. Unknown names fail with
// ErrUnknownCommand.
func execute(sess *serialosc.Session, cmd CommandMessage) error {
	fn, ok := commands[cmd.Command]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
	return fn(sess, params(cmd.Parameters))
}

// errorCode maps a command error to an ack error code. Anything that is
// not a validation error is reported as a send failure.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrUnsupported):
		return ErrCodeUnsupported
	case errors.Is(err, ErrInvalidParameters),
		errors.Is(err, serialosc.ErrInvalidRotation),
		errors.Is(err, serialosc.ErrInvalidPrefix):
		return ErrCodeInvalidParameters
	default:
		return ErrCodeSendFailed
	}
}

// onGrid adapts a grid command. Arcs get ErrUnsupported.
func onGrid(fn func(serialosc.Grid, params) error) commandFunc {
	return func(sess *serialosc.Session, p params) error {
		g, ok := sess.Grid()
		if !ok {
			return fmt.Errorf("%w: %s is an arc", ErrUnsupported, sess.DaemonID())
		}
		return fn(g, p)
	}
}

// onArc adapts an arc command. Grids get ErrUnsupported.
func onArc(fn func(serialosc.Arc, params) error) commandFunc {
	return func(sess *serialosc.Session, p params) error {
		a, ok := sess.Arc()
		if !ok {
			return fmt.Errorf("%w: %s is a grid", ErrUnsupported, sess.DaemonID())
		}
		return fn(a, p)
	}
}

// params reads command parameters decoded from JSON, where every number
// arrives as float64.
type params map[string]any

// int reads a required integer. Whole floats are accepted.
func (p params) int(key string) (int, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidParameters, key)
	}
	n, ok := toInt(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidParameters, key)
	}
	return n, nil
}

// intOr reads an optional integer, falling back to def when it is
// missing or invalid.
func (p params) intOr(key string, def int) int {
	if n, err := p.int(key); err == nil {
		return n
	}
	return def
}

// ints reads several required integers in order.
func (p params) ints(keys ...string) ([]int, error) {
	out := make([]int, len(keys))
	for i, k := range keys {
		n, err := p.int(k)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// level reads a required LED level, 0-15.
func (p params) level(key string) (int, error) {
	l, err := p.int(key)
	if err != nil {
		return 0, err
	}
	if l < 0 || l > maxLEDLevel {
		return 0, fmt.Errorf("%w: %s must be 0-%d", ErrInvalidParameters, key, maxLEDLevel)
	}
	return l, nil
}

// bool reads a required flag. A number counts as true when non-zero.
func (p params) bool(key string) (bool, error) {
	switch v := p[key].(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case nil:
		return false, fmt.Errorf("%w: %s is required", ErrInvalidParameters, key)
	}
	return false, fmt.Errorf("%w: %s must be a boolean", ErrInvalidParameters, key)
}

// string reads a required non-empty string.
func (p params) string(key string) (string, error) {
	s, ok := p[key].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidParameters, key)
	}
	return s, nil
}

// list reads an integer array of at most max values.
func (p params) list(key string, maxLen int) ([]int, error) {
	raw, ok := p[key].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s must be a non-empty array", ErrInvalidParameters, key)
	}
	if len(raw) > maxLen {
		return nil, fmt.Errorf("%w: %s has more than %d values", ErrInvalidParameters, key, maxLen)
	}
	return toInts(key, raw)
}

// rows reads an 8x8 array of arrays.
func (p params) rows(key string) ([][]int, error) {
	raw, ok := p[key].([]any)
	if !ok || len(raw) != quadSide {
		return nil, fmt.Errorf("%w: %s must hold %d rows", ErrInvalidParameters, key, quadSide)
	}
	out := make([][]int, quadSide)
	for i, r := range raw {
		row, ok := r.([]any)
		if !ok || len(row) != quadSide {
			return nil, fmt.Errorf("%w: %s row %d must hold %d values", ErrInvalidParameters, key, i, quadSide)
		}
		ints, err := toInts(key, row)
		if err != nil {
			return nil, err
		}
		out[i] = ints
	}
	return out, nil
}

// quad reads an on/off quad from "rows" (8x8) or "leds" (64 values).
func (p params) quad() (serialosc.Quad, error) {
	if _, ok := p["rows"]; ok {
		rows, err := p.rows("rows")
		if err != nil {
			return serialosc.Quad{}, err
		}
		return serialosc.PackQuad(rows), nil
	}
	leds, err := p.list("leds", quadCells)
	if err != nil {
		return serialosc.Quad{}, err
	}
	if len(leds) != quadCells {
		return serialosc.Quad{}, fmt.Errorf("%w: leds needs %d values", ErrInvalidParameters, quadCells)
	}
	return serialosc.PackFlat(leds), nil
}

// levelGrid reads 64 levels from "rows" (8x8) or "levels" (flat).
func (p params) levelGrid() ([]int, error) {
	var levels []int
	if _, ok := p["rows"]; ok {
		rows, err := p.rows("rows")
		if err != nil {
			return nil, err
		}
		levels = serialosc.FlattenLevels(rows)
	} else {
		l, err := p.list("levels", quadCells)
		if err != nil {
			return nil, err
		}
		levels = l
	}
	if len(levels) != quadCells {
		return nil, fmt.Errorf("%w: level map needs %d values", ErrInvalidParameters, quadCells)
	}
	return levels, nil
}

// toInt accepts whole float64 values, as decoded from JSON, and ints.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// toInts converts a JSON array, naming the first bad index in the error.
func toInts(key string, raw []any) ([]int, error) {
	out := make([]int, len(raw))
	for i, v := range raw {
		n, ok := toInt(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] must be an integer", ErrInvalidParameters, key, i)
		}
		out[i] = n
	}
	return out, nil
}
