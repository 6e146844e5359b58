package serialosc

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/looplab/fsm"

	"github.com/nerrad567/serialosc-core/internal/events"
	"github.com/nerrad567/serialosc-core/internal/osc"
)

// defaultHost is used for unset listen and device hosts.
const defaultHost = "localhost"

// Transport is the subset of *osc.Conn a Session needs.
//
// All sessions of a registry share one Transport. Each session registers
// its listeners under its own namespaces and filters on its device port,
// so sessions never see each other's traffic.
type Transport interface {
	Send(to *net.UDPAddr, address string, args ...osc.Arg) error
	Handle(ns string, from int, routes ...osc.Route)
	Rebind(ns string, from int, routes ...osc.Route)
	Remove(ns string)
}

var _ Transport = (*osc.Conn)(nil)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures a Session or Registry.
//
// Example:
//
//	r := serialosc.NewRegistry(serialosc.WithLogger(log.Component("serialosc")))
type Option func(*options)

type options struct {
	logger Logger
}

// WithLogger sets the logger. A nil logger keeps the silent default.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: noopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// sessionKey identifies a session in the registry for its whole lifetime.
type sessionKey struct {
	id   string
	port int
}

// Session is the host-side representative of one device: it runs the
// handshake, decodes input and sends output.
//
// Lifecycle:
//  1. Start registers the /sys listeners and sends /sys/port
//  2. The /sys/port ack triggers /sys/host
//  3. The /sys/host ack triggers a single /sys/info
//  4. The first /sys/prefix binds the input listeners
//  5. Once port, host and prefix are all acked, EventInitialized fires
//
// Acks are accepted in any order and duplicates are ignored, so
// EventInitialized fires exactly once however the device answers.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Handlers run on the transport's receive goroutine; events are
//     published after mu is released so subscribers may call back in.
type Session struct {
	// Fixed at construction.
	key        sessionKey
	transport  Transport
	deviceAddr *net.UDPAddr
	sysNS      string
	inputNS    string
	events     *events.Router
	logger     Logger
	handshake  *fsm.FSM

	// mu guards everything below.
	mu  sync.Mutex
	rec Record

	// pending holds the acknowledgements still required for initialization.
	pending     map[string]struct{}
	started     bool
	initialized bool
	connected   bool

	// infoSent limits /sys/info to one request per handshake.
	infoSent bool
}

// NewSession creates a session in the configured state. Unset hosts
// default to "localhost"; an unset listen port gets a random one.
func NewSession(rec Record, t Transport, opts ...Option) (*Session, error) {
	if t == nil {
		return nil, ErrNoTransport
	}
	if rec.DevicePort <= 0 || rec.DevicePort > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDevicePort, rec.DevicePort)
	}
	if rec.ListenHost == "" {
		rec.ListenHost = defaultHost
	}
	if rec.DeviceHost == "" {
		rec.DeviceHost = defaultHost
	}
	if rec.ListenPort == 0 {
		rec.ListenPort = RandomPort()
	}

	addr, err := osc.ResolveAddr(rec.DeviceHost, rec.DevicePort)
	if err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	ns := fmt.Sprintf("%s@%d", rec.ID, rec.DevicePort)
	s := &Session{
		key:        sessionKey{id: rec.ID, port: rec.DevicePort},
		transport:  t,
		deviceAddr: addr,
		sysNS:      ns + "/sys",
		inputNS:    ns + "/input",
		events:     events.NewRouter(),
		logger:     o.logger,
		rec:        rec,
		pending: map[string]struct{}{
			ackPort:   {},
			ackHost:   {},
			ackPrefix: {},
		},
	}
	s.events.SetLogger(o.logger)
	s.handshake = newHandshake(func(from, to string) {
		s.logger.Debug("handshake transition", "device", s.key.id, "from", from, "to", to)
	})

	return s, nil
}

// Start registers the /sys listeners and sends /sys/port to the device.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.transport.Handle(s.sysNS, s.key.port, s.sysRoutes()...)
	s.fire(evStart)
	cmd := SysPort(s.rec.ListenPort)
	s.mu.Unlock()

	s.logger.Info("starting device session",
		"device", s.key.id,
		"device_port", s.key.port,
		"listen_port", cmd.Args[0].Value,
	)
	return s.send(cmd)
}

// Stop marks the device as disconnected. Listeners stay registered so
// late messages are still handled.
func (s *Session) Stop() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// Events returns the session's event router.
func (s *Session) Events() *events.Router { return s.events }

// On subscribes to a session event.
func (s *Session) On(topic string, h events.Handler) (unsubscribe func()) {
	return s.events.Subscribe(topic, h)
}

// Record returns a copy of the device record.
func (s *Session) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// ID returns the current device id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.ID
}

// DaemonID returns the id the daemon announced, which stays fixed even
// when the device later reports another one via /sys/id.
func (s *Session) DaemonID() string { return s.key.id }

// Kind returns the device kind.
func (s *Session) Kind() Kind {
	return s.rec.Kind // immutable after construction
}

// DevicePort returns the daemon-reported device port.
func (s *Session) DevicePort() int { return s.key.port }

// State returns the handshake state.
func (s *Session) State() HandshakeState {
	return HandshakeState(s.handshake.Current())
}

// Connected reports whether the device is usable.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Initialized reports whether the handshake has completed.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Pending returns the required acknowledgements not yet received, sorted.
func (s *Session) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.pending))
	for k := range s.pending {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SetRotation asks the device to rotate. The device confirms with
// /sys/rotation, which updates the record.
func (s *Session) SetRotation(r int) error {
	if !ValidRotation(r) {
		return fmt.Errorf("%w: %d", ErrInvalidRotation, r)
	}
	return s.send(SysRotation(r))
}

// SetPrefix asks the device to change its prefix. The device confirms
// with /sys/prefix, which rebinds the input listeners.
func (s *Session) SetPrefix(prefix string) error {
	if !strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	return s.send(SysPrefix(prefix))
}

// Info requests a fresh /sys report from the device.
func (s *Session) Info() error {
	return s.send(SysInfo())
}

// sysRoutes returns the /sys listeners registered by Start.
func (s *Session) sysRoutes() []osc.Route {
	return []osc.Route{
		{Address: AddrSysPort, Handler: s.onPort},
		{Address: AddrSysHost, Handler: s.onHost},
		{Address: AddrSysID, Handler: s.onID},
		{Address: AddrSysSize, Handler: s.onSize},
		{Address: AddrSysRotation, Handler: s.onRotation},
		{Address: AddrSysPrefix, Handler: s.onPrefix},
		{Address: AddrSysConnect, Handler: s.onConnect},
		{Address: AddrSysDisconnect, Handler: s.onDisconnect},
	}
}

// onPort handles the /sys/port ack. The first one moves the handshake on
// to /sys/host unless the host was already acknowledged.
func (s *Session) onPort(m osc.Message) {
	port, ok := m.Int(0)
	if !ok {
		s.dropMalformed(m)
		return
	}

	s.mu.Lock()
	s.rec.ListenPort = port
	var out []Command
	if s.ack(ackPort) {
		s.fire(evPortAck)
		if _, hostPending := s.pending[ackHost]; hostPending {
			out = append(out, SysHost(s.rec.ListenHost))
		}
	}
	signals := s.complete()
	s.mu.Unlock()

	s.flush(out, signals)
}

// onHost handles the /sys/host ack and requests /sys/info once.
func (s *Session) onHost(m osc.Message) {
	host, ok := m.Text(0)
	if !ok {
		s.dropMalformed(m)
		return
	}

	s.mu.Lock()
	s.rec.ListenHost = host
	var out []Command
	if s.ack(ackHost) {
		s.fire(evHostAck)
		if !s.infoSent {
			s.infoSent = true
			out = append(out, SysInfo())
		}
	}
	signals := s.complete()
	s.mu.Unlock()

	s.flush(out, signals)
}

// onPrefix handles /sys/prefix. Every report rebinds the input listeners
// in one step, so no input is lost or doubled across a prefix change.
func (s *Session) onPrefix(m osc.Message) {
	prefix, ok := m.Text(0)
	if !ok {
		s.dropMalformed(m)
		return
	}

	s.mu.Lock()
	old := s.rec.Prefix
	s.rec.Prefix = prefix
	s.transport.Rebind(s.inputNS, s.key.port, s.inputRoutes(s.rec.Kind, prefix)...)
	s.ack(ackPrefix)
	signals := s.complete()
	s.mu.Unlock()

	if old != prefix {
		s.logger.Debug("device prefix changed", "device", s.key.id, "old", old, "new", prefix)
	}
	s.flush(nil, signals)
}

// onID records the device-reported id. The daemon id used for lookups is
// not changed.
func (s *Session) onID(m osc.Message) {
	id, ok := m.Text(0)
	if !ok {
		s.dropMalformed(m)
		return
	}
	s.mu.Lock()
	s.rec.ID = id
	s.mu.Unlock()
}

// onSize handles /sys/size x y. Size is informational and never gates
// initialization.
func (s *Session) onSize(m osc.Message) {
	v, ok := intArgs(m, 2)
	if !ok {
		s.dropMalformed(m)
		return
	}
	s.mu.Lock()
	s.rec.SizeX, s.rec.SizeY = v[0], v[1]
	s.mu.Unlock()
}

// onRotation handles /sys/rotation degrees.
func (s *Session) onRotation(m osc.Message) {
	r, ok := m.Int(0)
	if !ok {
		s.dropMalformed(m)
		return
	}
	s.mu.Lock()
	s.rec.Rotation = r
	s.mu.Unlock()
}

// onConnect handles /sys/connect. It fires EventConnected every time,
// even for a device that is already connected.
func (s *Session) onConnect(osc.Message) {
	s.mu.Lock()
	s.connected = true
	s.fire(evConnect)
	s.mu.Unlock()

	s.flush(nil, []string{EventConnected})
}

// onDisconnect handles /sys/disconnect. Listeners stay registered.
func (s *Session) onDisconnect(osc.Message) {
	s.mu.Lock()
	s.connected = false
	s.fire(evDisconnect)
	s.mu.Unlock()

	s.flush(nil, []string{EventDisconnected})
}

// ack clears a required acknowledgement. It reports whether it was
// still pending. Caller holds mu.
func (s *Session) ack(name string) bool {
	if _, ok := s.pending[name]; !ok {
		return false
	}
	delete(s.pending, name)
	return true
}

// complete finishes initialization the first time the pending set is
// empty. Caller holds mu.
func (s *Session) complete() []string {
	if s.initialized || len(s.pending) > 0 {
		return nil
	}
	s.initialized = true
	s.connected = true
	s.fire(evInitialize)
	return []string{EventInitialized}
}

// fire applies a handshake event if the current state allows it.
func (s *Session) fire(event string) {
	if !s.handshake.Can(event) {
		return
	}
	if err := s.handshake.Event(context.Background(), event); err != nil {
		s.logger.Debug("handshake event rejected", "device", s.key.id, "event", event, "error", err)
	}
}

// flush sends queued commands then publishes signals. Called without mu.
func (s *Session) flush(out []Command, signals []string) {
	for _, c := range out {
		if err := s.send(c); err != nil {
			s.logger.Warn("device send failed", "device", s.key.id, "address", c.Address, "error", err)
		}
	}
	for _, topic := range signals {
		s.events.Publish(topic, s)
	}
}

// send writes c to the device endpoint.
func (s *Session) send(c Command) error {
	return s.transport.Send(s.deviceAddr, c.Address, c.Args...)
}

// sendPrefixed builds a command under the current prefix and sends it.
func (s *Session) sendPrefixed(build func(prefix string) Command) error {
	s.mu.Lock()
	prefix := s.rec.Prefix
	s.mu.Unlock()
	return s.send(build(prefix))
}

// dropMalformed logs a message whose arguments have the wrong count or
// type. Nothing else happens; the device is not told.
func (s *Session) dropMalformed(m osc.Message) {
	s.logger.Debug("ignoring malformed device message",
		"device", s.key.id,
		"address", m.Address,
		"args", len(m.Args),
	)
}
