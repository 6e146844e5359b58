package serialosc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samber/lo"

	"github.com/nerrad567/serialosc-core/internal/events"
	"github.com/nerrad567/serialosc-core/internal/osc"
)

// Default daemon endpoint.
const (
	DefaultDaemonHost = "localhost"
	DefaultDaemonPort = 12002
)

// discoveryNS is the listener namespace of the daemon handlers.
const discoveryNS = "serialosc"

// Config holds registry settings. Start from DefaultConfig; zero ports
// are replaced by random ones in [1024, 65535).
type Config struct {
	// Host is the local interface for both endpoints. Default: "localhost".
	Host string

	// Port receives daemon traffic.
	Port int

	// DevicePort receives traffic from every device.
	DevicePort int

	// DaemonHost and DaemonPort locate serialosc. Default: localhost:12002.
	DaemonHost string
	DaemonPort int

	// StartDevices runs the handshake for every discovered device and
	// delays the add events until it completes. When false, add events
	// fire on discovery and sessions are left unstarted.
	StartDevices bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Host:         defaultHost,
		DaemonHost:   DefaultDaemonHost,
		DaemonPort:   DefaultDaemonPort,
		StartDevices: true,
	}
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = defaultHost
	}
	if c.Port == 0 {
		c.Port = RandomPort()
	}
	if c.DevicePort == 0 {
		c.DevicePort = RandomPort()
	}
	if c.DaemonHost == "" {
		c.DaemonHost = DefaultDaemonHost
	}
	if c.DaemonPort == 0 {
		c.DaemonPort = DefaultDaemonPort
	}
	return c
}

// Registry tracks the devices announced by serialosc.
//
// It owns two endpoints: discovery receives daemon announcements and
// notifications, devices is shared by every Session for /sys and input
// traffic. Each device is known by its daemon id and device port, so a
// device re-announced on another port is a new Session.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Event handlers run on an endpoint's receive goroutine and may call
//     any Registry or Session method, Stop included.
type Registry struct {
	events *events.Router
	logger Logger

	// mu guards everything below.
	mu        sync.Mutex
	cfg       Config
	running   bool
	discovery *osc.Conn
	devices   *osc.Conn

	// sessions in discovery order. Removed devices stay until Stop.
	sessions []*Session
}

// NewRegistry creates a stopped registry.
func NewRegistry(opts ...Option) *Registry {
	o := buildOptions(opts)
	r := &Registry{
		events: events.NewRouter(),
		logger: o.logger,
	}
	r.events.SetLogger(o.logger)
	return r
}

// Start binds the endpoints, registers with the daemon and requests the
// device list. A bind failure is returned as is; no other port is tried.
//
// On a running registry Start only adopts cfg.StartDevices and asks the
// daemon to enumerate again. Known devices are not announced twice.
func (r *Registry) Start(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()

	r.mu.Lock()
	if r.running {
		r.cfg.StartDevices = cfg.StartDevices
		r.mu.Unlock()
		return r.requestDevices()
	}

	discovery, err := osc.Listen(ctx, osc.Config{Host: cfg.Host, Port: cfg.Port})
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: discovery endpoint: %w", ErrStartFailed, err)
	}
	devices, err := osc.Listen(ctx, osc.Config{Host: cfg.Host, Port: cfg.DevicePort})
	if err != nil {
		discovery.Close() //nolint:errcheck // Best effort cleanup on error path
		r.mu.Unlock()
		return fmt.Errorf("%w: device endpoint: %w", ErrStartFailed, err)
	}
	if err := discovery.AddTarget(cfg.DaemonHost, cfg.DaemonPort); err != nil {
		discovery.Close() //nolint:errcheck // Best effort cleanup on error path
		devices.Close()   //nolint:errcheck // Best effort cleanup on error path
		r.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	discovery.SetLogger(r.logger)
	devices.SetLogger(r.logger)

	discovery.Handle(discoveryNS, 0,
		osc.Route{Address: AddrDevice, Handler: r.onDevice},
		osc.Route{Address: AddrAdd, Handler: r.onAdd},
		osc.Route{Address: AddrRemove, Handler: r.onRemove},
	)

	r.cfg = cfg
	r.discovery = discovery
	r.devices = devices
	r.running = true
	r.mu.Unlock()

	r.logger.Info("serialosc registry started",
		"host", cfg.Host,
		"port", cfg.Port,
		"device_port", cfg.DevicePort,
		"daemon", fmt.Sprintf("%s:%d", cfg.DaemonHost, cfg.DaemonPort),
	)

	return r.requestDevices()
}

// Stop removes all listeners, releases both sockets and forgets every
// device. Sessions still negotiating are abandoned. Stopping a stopped
// registry is a no-op.
//
// Stop may be called from an event handler. It then returns without
// waiting for the receive loop that runs the handler; that loop exits as
// soon as the handler returns.
func (r *Registry) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	discovery, devices := r.discovery, r.devices
	r.running = false
	r.discovery = nil
	r.devices = nil
	r.sessions = nil
	r.mu.Unlock()

	discovery.RemoveAll()
	devices.RemoveAll()
	err := errors.Join(discovery.Close(), devices.Close())

	r.logger.Info("serialosc registry stopped")
	return err
}

// Events returns the registry event router.
func (r *Registry) Events() *events.Router { return r.events }

// On subscribes to a registry event.
func (r *Registry) On(topic string, h events.Handler) (unsubscribe func()) {
	return r.events.Subscribe(topic, h)
}

// Running reports whether Start has succeeded and Stop has not been called.
func (r *Registry) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Config returns the effective configuration.
func (r *Registry) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Devices returns every known session in discovery order.
func (r *Registry) Devices() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Session(nil), r.sessions...)
}

// Connected returns the sessions that are currently usable.
func (r *Registry) Connected() []*Session {
	return lo.Filter(r.Devices(), func(s *Session, _ int) bool {
		return s.Connected()
	})
}

// Device returns the session for a daemon id.
//
// A removed device that serialosc announces again gets a new session on
// its new port while the old one stays known, disconnected. Device
// therefore prefers, in order:
//  1. the most recently discovered connected session
//  2. the most recently discovered session of any state
//
// The second result is false when the id has never been announced.
func (r *Registry) Device(id string) (*Session, bool) {
	sessions := r.Devices()
	if sess, _, ok := lo.FindLastIndexOf(sessions, func(s *Session) bool {
		return s.key.id == id && s.Connected()
	}); ok {
		return sess, true
	}
	sess, _, ok := lo.FindLastIndexOf(sessions, func(s *Session) bool {
		return s.key.id == id
	})
	return sess, ok
}

// DeviceEndpoint returns the local port every device sends to, or 0
// when stopped.
func (r *Registry) DeviceEndpoint() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.devices == nil {
		return 0
	}
	return r.devices.Port()
}

// onDevice handles /serialosc/device id model port.
//
// A new id and port pair gets a Session bound to the shared device
// endpoint. With StartDevices the add event waits for EventInitialized;
// otherwise it fires straight away and the session is left unstarted.
func (r *Registry) onDevice(m osc.Message) {
	id, okID := m.Text(0)
	model, okModel := m.Text(1)
	port, okPort := m.Int(2)
	if !okID || !okModel || !okPort {
		r.logger.Debug("ignoring malformed device announcement", "args", len(m.Args))
		return
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	if _, known := r.find(id, port); known {
		r.mu.Unlock()
		r.logger.Debug("ignoring duplicate device announcement", "device", id, "device_port", port)
		return
	}

	kind, encoders := Classify(model)
	rec := Record{
		ID:         id,
		Kind:       kind,
		Model:      model,
		Encoders:   encoders,
		ListenHost: r.cfg.Host,
		ListenPort: r.devices.Port(),
		DeviceHost: r.cfg.DaemonHost,
		DevicePort: port,
	}
	sess, err := NewSession(rec, r.devices, WithLogger(r.logger))
	if err != nil {
		r.mu.Unlock()
		r.logger.Warn("cannot create device session", "device", id, "error", err)
		return
	}
	r.sessions = append(r.sessions, sess)
	startDevices := r.cfg.StartDevices
	r.mu.Unlock()

	r.logger.Info("device discovered",
		"device", id,
		"model", model,
		"kind", kind.String(),
		"device_port", port,
	)

	if !startDevices {
		r.publishAdd(sess)
		return
	}

	sess.Events().Once(EventInitialized, func(events.Event) {
		r.publishAdd(sess)
	})
	if err := sess.Start(); err != nil {
		r.logger.Warn("cannot start device session", "device", id, "error", err)
	}
}

// onAdd handles /serialosc/add: enumerate again and renew the notify
// subscription, which the daemon drops after each notification.
func (r *Registry) onAdd(osc.Message) {
	if err := r.send(r.listRequest()); err != nil {
		r.logger.Warn("list request failed", "error", err)
	}
	if err := r.send(r.notifyRequest()); err != nil {
		r.logger.Warn("notify request failed", "error", err)
	}
}

// onRemove handles /serialosc/remove id model port.
//
// The session is marked disconnected and kept, so a device that comes
// back on the same port is treated as a duplicate. An unknown device is
// ignored. The notify subscription is renewed either way.
func (r *Registry) onRemove(m osc.Message) {
	id, okID := m.Text(0)
	port, okPort := m.Int(2)

	if okID && okPort {
		r.mu.Lock()
		sess, found := r.find(id, port)
		r.mu.Unlock()

		if found {
			sess.Stop()
			r.logger.Info("device removed", "device", id, "device_port", port)
			r.events.Publish(RemoveTopic(sess.ID()), sess)
			r.events.Publish(EventDeviceRemove, sess)
		}
	} else {
		r.logger.Debug("ignoring malformed remove notification", "args", len(m.Args))
	}

	if err := r.send(r.notifyRequest()); err != nil {
		r.logger.Warn("notify request failed", "error", err)
	}
}

// publishAdd fires the per-device add topic before the global one.
func (r *Registry) publishAdd(sess *Session) {
	r.events.Publish(AddTopic(sess.ID()), sess)
	r.events.Publish(EventDeviceAdd, sess)
}

// find looks a session up by daemon id and device port. Caller holds mu.
func (r *Registry) find(id string, port int) (*Session, bool) {
	return lo.Find(r.sessions, func(s *Session) bool {
		return s.key == sessionKey{id: id, port: port}
	})
}

// requestDevices sends notify then list.
func (r *Registry) requestDevices() error {
	return errors.Join(
		r.send(r.notifyRequest()),
		r.send(r.listRequest()),
	)
}

// listRequest and notifyRequest point the daemon at the discovery endpoint.
func (r *Registry) listRequest() Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ListRequest(r.cfg.Host, r.cfg.Port)
}

func (r *Registry) notifyRequest() Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return NotifyRequest(r.cfg.Host, r.cfg.Port)
}

// send broadcasts a command to the daemon. It is a no-op once stopped.
func (r *Registry) send(c Command) error {
	r.mu.Lock()
	discovery := r.discovery
	r.mu.Unlock()

	if discovery == nil {
		return nil
	}
	return discovery.Broadcast(c.Address, c.Args...)
}
