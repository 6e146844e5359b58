package serialosc

// Grid sends LED commands to a grid session. All calls are fire-and-forget;
// the error is the transport's send error.
//
// Every command is built under the session's prefix at the moment of the
// call, so a prefix change takes effect for the next command. Commands
// are sent whatever the session state; a device that is not listening
// simply drops them.
type Grid struct {
	s *Session
}

// Grid returns the grid view of the session. ok is false for arcs.
func (s *Session) Grid() (g Grid, ok bool) {
	return Grid{s: s}, s.Kind() == KindGrid
}

// Set turns the LED at (x, y) on (1) or off (0).
func (g Grid) Set(x, y, state int) error {
	return g.s.sendPrefixed(func(p string) Command { return GridSet(p, x, y, state) })
}

// All turns every LED on (1) or off (0).
func (g Grid) All(state int) error {
	return g.s.sendPrefixed(func(p string) Command { return GridAll(p, state) })
}

// Map sets an 8x8 quad. Use PackQuad or PackFlat to build q.
func (g Grid) Map(xOffset, yOffset int, q Quad) error {
	return g.s.sendPrefixed(func(p string) Command { return GridMap(p, xOffset, yOffset, q) })
}

// Row sets row y from xOffset with one bitmask per 8 LEDs.
func (g Grid) Row(xOffset, y int, masks ...int) error {
	return g.s.sendPrefixed(func(p string) Command { return GridRow(p, xOffset, y, masks...) })
}

// Col sets column x from yOffset with one bitmask per 8 LEDs.
func (g Grid) Col(x, yOffset int, masks ...int) error {
	return g.s.sendPrefixed(func(p string) Command { return GridCol(p, x, yOffset, masks...) })
}

// Intensity sets the global LED intensity (0-15).
func (g Grid) Intensity(level int) error {
	return g.s.sendPrefixed(func(p string) Command { return GridIntensity(p, level) })
}

// LevelSet sets the LED at (x, y) to level (0-15).
func (g Grid) LevelSet(x, y, level int) error {
	return g.s.sendPrefixed(func(p string) Command { return GridLevelSet(p, x, y, level) })
}

// LevelAll sets every LED to level (0-15).
func (g Grid) LevelAll(level int) error {
	return g.s.sendPrefixed(func(p string) Command { return GridLevelAll(p, level) })
}

// LevelMap sets an 8x8 quad of levels given as 64 row-major values.
func (g Grid) LevelMap(xOffset, yOffset int, levels []int) error {
	return g.s.sendPrefixed(func(p string) Command { return GridLevelMap(p, xOffset, yOffset, levels) })
}

// LevelRow sets row y from xOffset, one level per LED.
func (g Grid) LevelRow(xOffset, y int, levels ...int) error {
	return g.s.sendPrefixed(func(p string) Command { return GridLevelRow(p, xOffset, y, levels...) })
}

// LevelCol sets column x from yOffset, one level per LED.
func (g Grid) LevelCol(x, yOffset int, levels ...int) error {
	return g.s.sendPrefixed(func(p string) Command { return GridLevelCol(p, x, yOffset, levels...) })
}

// SetTilt enables or disables tilt sensor n.
func (g Grid) SetTilt(sensor int, enable bool) error {
	s := 0
	if enable {
		s = 1
	}
	return g.s.sendPrefixed(func(p string) Command { return TiltSet(p, sensor, s) })
}

// Arc sends ring commands to an arc session. Like Grid, calls are
// fire-and-forget under the current prefix.
type Arc struct {
	s *Session
}

// Arc returns the arc view of the session. ok is false for grids.
func (s *Session) Arc() (a Arc, ok bool) {
	return Arc{s: s}, s.Kind() == KindArc
}

// Set sets LED x of ring n to level (0-15).
func (a Arc) Set(n, x, level int) error {
	return a.s.sendPrefixed(func(p string) Command { return RingSet(p, n, x, level) })
}

// All sets every LED of ring n.
func (a Arc) All(n, level int) error {
	return a.s.sendPrefixed(func(p string) Command { return RingAll(p, n, level) })
}

// Map sets ring n from 64 levels.
func (a Arc) Map(n int, levels []int) error {
	return a.s.sendPrefixed(func(p string) Command { return RingMap(p, n, levels) })
}

// Range sets LEDs x1 through x2 of ring n. The range wraps, so x1 > x2
// lights across LED 0.
func (a Arc) Range(n, x1, x2, level int) error {
	return a.s.sendPrefixed(func(p string) Command { return RingRange(p, n, x1, x2, level) })
}
