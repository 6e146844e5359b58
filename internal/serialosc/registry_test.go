package serialosc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/serialosc-core/internal/events"
	"github.com/nerrad567/serialosc-core/internal/osc"
)

const testTimeout = 2 * time.Second

func listenLoopback(t *testing.T) *osc.Conn {
	t.Helper()
	c, err := osc.Listen(context.Background(), osc.Config{Host: "127.0.0.1"})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { c.Close() }) //nolint:errcheck // Test cleanup
	return c
}

// freePort returns a UDP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	c, err := osc.Listen(context.Background(), osc.Config{Host: "127.0.0.1"})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	port := c.Port()
	c.Close() //nolint:errcheck // Test helper
	return port
}

// fakeDaemon answers list requests with a fixed set of devices.
type fakeDaemon struct {
	conn   *osc.Conn
	list   chan osc.Message
	notify chan osc.Message

	mu      sync.Mutex
	devices []osc.Message
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	d := &fakeDaemon{
		conn:   listenLoopback(t),
		list:   make(chan osc.Message, 16),
		notify: make(chan osc.Message, 16),
	}
	d.conn.Handle("daemon", 0,
		osc.Route{Address: AddrList, Handler: d.onList},
		osc.Route{Address: AddrNotify, Handler: func(m osc.Message) { d.notify <- m }},
	)
	return d
}

func (d *fakeDaemon) addDevice(id, model string, port int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices = append(d.devices, osc.Message{
		Address: AddrDevice,
		Args:    []osc.Arg{osc.String(id), osc.String(model), osc.Int(port)},
	})
}

func (d *fakeDaemon) onList(m osc.Message) {
	d.list <- m
	host, _ := m.Text(0)
	port, _ := m.Int(1)
	to, err := osc.ResolveAddr(host, port)
	if err != nil {
		return
	}
	d.mu.Lock()
	announce := append([]osc.Message(nil), d.devices...)
	d.mu.Unlock()
	for _, a := range announce {
		d.conn.Send(to, a.Address, a.Args...) //nolint:errcheck // Test fake
	}
}

// sendTo sends a daemon notification to the registry discovery port.
func (d *fakeDaemon) sendTo(t *testing.T, port int, address string, args ...osc.Arg) {
	t.Helper()
	to, err := osc.ResolveAddr("127.0.0.1", port)
	if err != nil {
		t.Fatalf("ResolveAddr() error = %v", err)
	}
	if err := d.conn.Send(to, address, args...); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
}

// replyFunc sends a message back to wherever the device was told to send.
type replyFunc func(address string, args ...osc.Arg)

// fakeDevice answers the /sys handshake like serialosc does for a grid.
type fakeDevice struct {
	conn  *osc.Conn
	ports chan int
	reply replyFunc
}

func newFakeDevice(t *testing.T, id string) *fakeDevice {
	t.Helper()
	return newScriptedDevice(t, func(reply replyFunc, port int) {
		reply(AddrSysID, osc.String(id))
		reply(AddrSysSize, osc.Int(16), osc.Int(8))
		reply(AddrSysHost, osc.String("127.0.0.1"))
		reply(AddrSysPort, osc.Int(port))
		reply(AddrSysPrefix, osc.String("/monome"))
		reply(AddrSysRotation, osc.Int(0))
	})
}

// newScriptedDevice acknowledges /sys/port and /sys/host and answers
// /sys/info with whatever info sends.
func newScriptedDevice(t *testing.T, info func(reply replyFunc, port int)) *fakeDevice {
	t.Helper()
	d := &fakeDevice{conn: listenLoopback(t), ports: make(chan int, 4)}

	var mu sync.Mutex
	var host string
	var port int
	d.reply = func(address string, args ...osc.Arg) {
		mu.Lock()
		h, p := host, port
		mu.Unlock()
		to, err := osc.ResolveAddr(h, p)
		if err != nil {
			return
		}
		d.conn.Send(to, address, args...) //nolint:errcheck // Test fake
	}

	d.conn.Handle("device", 0,
		osc.Route{Address: AddrSysPort, Handler: func(m osc.Message) {
			p, _ := m.Int(0)
			mu.Lock()
			port = p
			if host == "" {
				host = "127.0.0.1"
			}
			mu.Unlock()
			d.ports <- p
			d.reply(AddrSysPort, osc.Int(p))
		}},
		osc.Route{Address: AddrSysHost, Handler: func(m osc.Message) {
			h, _ := m.Text(0)
			mu.Lock()
			host = h
			mu.Unlock()
			d.reply(AddrSysHost, osc.String(h))
		}},
		osc.Route{Address: AddrSysInfo, Handler: func(osc.Message) {
			mu.Lock()
			p := port
			mu.Unlock()
			info(d.reply, p)
		}},
	)
	return d
}

func startRegistry(t *testing.T, daemon *fakeDaemon, startDevices bool) *Registry {
	t.Helper()
	r := NewRegistry()
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = freePort(t)
	cfg.DevicePort = freePort(t)
	cfg.DaemonHost = "127.0.0.1"
	cfg.DaemonPort = daemon.conn.Port()
	cfg.StartDevices = startDevices

	if err := r.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { r.Stop() }) //nolint:errcheck // Test cleanup
	return r
}

func waitSession(t *testing.T, ch <-chan *Session) *Session {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for device event")
	}
	return nil
}

func waitRequest(t *testing.T, ch <-chan osc.Message) osc.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for daemon request")
	}
	return osc.Message{}
}

func sessionChan(r *Registry, topic string) <-chan *Session {
	ch := make(chan *Session, 8)
	r.On(topic, func(e events.Event) { ch <- e.Payload.(*Session) })
	return ch
}

func TestRegistryDiscoversAndInitializes(t *testing.T) {
	daemon := newFakeDaemon(t)
	device := newFakeDevice(t, "m0-1")
	daemon.addDevice("m0-1", "monome 128", device.conn.Port())

	r := NewRegistry()
	added := sessionChan(r, EventDeviceAdd)
	addedByID := sessionChan(r, AddTopic("m0-1"))

	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = freePort(t)
	cfg.DevicePort = freePort(t)
	cfg.DaemonHost = "127.0.0.1"
	cfg.DaemonPort = daemon.conn.Port()
	if err := r.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { r.Stop() }) //nolint:errcheck // Test cleanup

	notify := waitRequest(t, daemon.notify)
	if host, _ := notify.Text(0); host != "127.0.0.1" {
		t.Errorf("notify host = %q, want 127.0.0.1", host)
	}
	if port, _ := notify.Int(1); port != cfg.Port {
		t.Errorf("notify port = %d, want %d", port, cfg.Port)
	}
	waitRequest(t, daemon.list)

	s := waitSession(t, added)
	if got := waitSession(t, addedByID); got != s {
		t.Error("per-device add delivered a different session")
	}

	if port := <-device.ports; port != cfg.DevicePort {
		t.Errorf("/sys/port = %d, want shared device port %d", port, cfg.DevicePort)
	}
	if !s.Initialized() || !s.Connected() {
		t.Errorf("session initialized=%v connected=%v, want both true", s.Initialized(), s.Connected())
	}
	rec := s.Record()
	if rec.Model != "monome 128" || rec.Kind != KindGrid {
		t.Errorf("record = %+v", rec)
	}
	if rec.Prefix != "/monome" {
		t.Errorf("Prefix = %q, want /monome", rec.Prefix)
	}
	if rec.SizeX != 16 || rec.SizeY != 8 {
		t.Errorf("size = %dx%d, want 16x8", rec.SizeX, rec.SizeY)
	}

	if got, ok := r.Device("m0-1"); !ok || got != s {
		t.Error("Device(m0-1) did not return the session")
	}
	if len(r.Connected()) != 1 {
		t.Errorf("Connected() = %d sessions, want 1", len(r.Connected()))
	}
	if r.DeviceEndpoint() != cfg.DevicePort {
		t.Errorf("DeviceEndpoint() = %d, want %d", r.DeviceEndpoint(), cfg.DevicePort)
	}
}

func TestRegistryIgnoresDuplicatesAndUnknownRemoves(t *testing.T) {
	daemon := newFakeDaemon(t)
	r := startRegistry(t, daemon, false)
	added := sessionChan(r, EventDeviceAdd)
	removed := sessionChan(r, EventDeviceRemove)
	waitRequest(t, daemon.notify)
	waitRequest(t, daemon.list)

	port := r.Config().Port
	for range 2 {
		daemon.sendTo(t, port, AddrDevice, osc.String("m1"), osc.String("monome 64"), osc.Int(9001))
	}
	waitSession(t, added)

	// Unknown remove still renews the notify subscription. Messages are
	// handled in order, so the duplicate has been seen by now.
	daemon.sendTo(t, port, AddrRemove, osc.String("ghost"), osc.String("monome 64"), osc.Int(9999))
	waitRequest(t, daemon.notify)

	if n := len(r.Devices()); n != 1 {
		t.Errorf("Devices() = %d, want 1", n)
	}
	select {
	case <-added:
		t.Error("duplicate announcement produced a second add")
	default:
	}
	select {
	case <-removed:
		t.Error("unknown remove produced an event")
	default:
	}

	// Same id on another port is a distinct device.
	daemon.sendTo(t, port, AddrDevice, osc.String("m1"), osc.String("monome 64"), osc.Int(9002))
	waitSession(t, added)
	if n := len(r.Devices()); n != 2 {
		t.Errorf("Devices() = %d, want 2", n)
	}
}

func TestRegistryRemoveKnownDevice(t *testing.T) {
	daemon := newFakeDaemon(t)
	r := startRegistry(t, daemon, false)
	added := sessionChan(r, EventDeviceAdd)
	removed := sessionChan(r, EventDeviceRemove)
	removedByID := sessionChan(r, RemoveTopic("m2"))
	waitRequest(t, daemon.notify)

	port := r.Config().Port
	daemon.sendTo(t, port, AddrDevice, osc.String("m2"), osc.String("monome arc 4"), osc.Int(9003))
	s := waitSession(t, added)
	if s.Kind() != KindArc || s.Record().Encoders != 4 {
		t.Errorf("kind = %s encoders = %d, want arc with 4", s.Kind(), s.Record().Encoders)
	}

	daemon.sendTo(t, port, AddrRemove, osc.String("m2"), osc.String("monome arc 4"), osc.Int(9003))
	if got := waitSession(t, removed); got != s {
		t.Error("device:remove delivered a different session")
	}
	waitSession(t, removedByID)
	waitRequest(t, daemon.notify)

	if s.Connected() {
		t.Error("removed session still connected")
	}
	if n := len(r.Devices()); n != 1 {
		t.Errorf("Devices() = %d, want the record kept", n)
	}
}

func TestRegistryAddNotificationRequestsList(t *testing.T) {
	daemon := newFakeDaemon(t)
	r := startRegistry(t, daemon, false)
	waitRequest(t, daemon.notify)
	waitRequest(t, daemon.list)

	daemon.sendTo(t, r.Config().Port, AddrAdd, osc.String("m3"), osc.String("monome 128"), osc.Int(9004))
	waitRequest(t, daemon.list)
	waitRequest(t, daemon.notify)
}

func TestRegistryWithoutStartDevices(t *testing.T) {
	daemon := newFakeDaemon(t)
	device := newFakeDevice(t, "m4")
	daemon.addDevice("m4", "monome 128", device.conn.Port())

	r := NewRegistry()
	added := sessionChan(r, EventDeviceAdd)

	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.DaemonHost = "127.0.0.1"
	cfg.DaemonPort = daemon.conn.Port()
	cfg.StartDevices = false
	if err := r.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { r.Stop() }) //nolint:errcheck // Test cleanup

	s := waitSession(t, added)
	if s.Initialized() {
		t.Error("session initialized without StartDevices")
	}
	if s.State() != StateConfigured {
		t.Errorf("State() = %s, want %s", s.State(), StateConfigured)
	}

	select {
	case p := <-device.ports:
		t.Errorf("device received /sys/port %d without StartDevices", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegistryRestartRequestsAgain(t *testing.T) {
	daemon := newFakeDaemon(t)
	r := startRegistry(t, daemon, false)
	waitRequest(t, daemon.notify)
	waitRequest(t, daemon.list)

	first := r.Config()
	if err := r.Start(context.Background(), DefaultConfig()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	waitRequest(t, daemon.notify)
	waitRequest(t, daemon.list)

	cfg := r.Config()
	if cfg.Port != first.Port || cfg.DevicePort != first.DevicePort {
		t.Errorf("restart rebound endpoints: %+v -> %+v", first, cfg)
	}
	if !cfg.StartDevices {
		t.Error("StartDevices not adopted on restart")
	}
}

func TestRegistryStop(t *testing.T) {
	daemon := newFakeDaemon(t)
	r := startRegistry(t, daemon, false)
	waitRequest(t, daemon.notify)

	daemon.sendTo(t, r.Config().Port, AddrDevice, osc.String("m5"), osc.String("monome 128"), osc.Int(9005))

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if r.Running() {
		t.Error("Running() = true after Stop()")
	}
	if n := len(r.Devices()); n != 0 {
		t.Errorf("Devices() = %d after Stop(), want 0", n)
	}
	if r.DeviceEndpoint() != 0 {
		t.Errorf("DeviceEndpoint() = %d after Stop(), want 0", r.DeviceEndpoint())
	}
}

func TestRegistryStartBindFailure(t *testing.T) {
	taken := listenLoopback(t)

	r := NewRegistry()
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = taken.Port()

	err := r.Start(context.Background(), cfg)
	if !errors.Is(err, ErrStartFailed) {
		t.Fatalf("Start() error = %v, want ErrStartFailed", err)
	}
	if !errors.Is(err, osc.ErrBindFailed) {
		t.Errorf("Start() error = %v, want wrapped ErrBindFailed", err)
	}
	if r.Running() {
		t.Error("Running() = true after failed Start()")
	}
}

// TestRegistryAddPrecedesSize covers a device that answers /sys/info with
// its prefix only: the add event fires once the required acknowledgements
// are in, and the size is filled in whenever /sys/size arrives.
func TestRegistryAddPrecedesSize(t *testing.T) {
	daemon := newFakeDaemon(t)
	device := newScriptedDevice(t, func(reply replyFunc, _ int) {
		reply(AddrSysPrefix, osc.String("/monome"))
	})
	daemon.addDevice("m6", "monome 128", device.conn.Port())

	type snapshot struct {
		initialized bool
		pending     []string
		rec         Record
	}
	atAdd := make(chan snapshot, 1)

	r := NewRegistry()
	r.On(EventDeviceAdd, func(e events.Event) {
		s := e.Payload.(*Session)
		atAdd <- snapshot{initialized: s.Initialized(), pending: s.Pending(), rec: s.Record()}
	})
	added := sessionChan(r, EventDeviceAdd)

	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.DaemonHost = "127.0.0.1"
	cfg.DaemonPort = daemon.conn.Port()
	if err := r.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { r.Stop() }) //nolint:errcheck // Test cleanup

	s := waitSession(t, added)
	snap := <-atAdd
	if !snap.initialized {
		t.Error("device:add fired before the session was initialized")
	}
	if len(snap.pending) != 0 {
		t.Errorf("Pending() at add = %v, want none", snap.pending)
	}
	if snap.rec.SizeX != 0 || snap.rec.SizeY != 0 {
		t.Errorf("size at add = %dx%d, want 0x0", snap.rec.SizeX, snap.rec.SizeY)
	}
	if snap.rec.Prefix != "/monome" {
		t.Errorf("Prefix at add = %q, want /monome", snap.rec.Prefix)
	}

	connected := make(chan struct{}, 1)
	s.On(EventConnected, func(events.Event) { connected <- struct{}{} })

	// Messages from one socket are handled in order, so the size has been
	// applied once the connect event is seen.
	device.reply(AddrSysSize, osc.Int(16), osc.Int(8))
	device.reply(AddrSysConnect)
	select {
	case <-connected:
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for /sys/connect")
	}

	if rec := s.Record(); rec.SizeX != 16 || rec.SizeY != 8 {
		t.Errorf("size after /sys/size = %dx%d, want 16x8", rec.SizeX, rec.SizeY)
	}
}

// TestRegistryStopFromHandler stops the registry from inside a device:add
// handler, both when the add comes straight from discovery and when it
// follows a device handshake.
func TestRegistryStopFromHandler(t *testing.T) {
	tests := []struct {
		name         string
		startDevices bool
	}{
		{"on discovery", false},
		{"after handshake", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			daemon := newFakeDaemon(t)
			device := newFakeDevice(t, "m1")
			daemon.addDevice("m1", "monome 128", device.conn.Port())

			r := NewRegistry()
			done := make(chan error, 1)
			r.On(EventDeviceAdd, func(events.Event) { done <- r.Stop() })

			cfg := DefaultConfig()
			cfg.Host = "127.0.0.1"
			cfg.DaemonHost = "127.0.0.1"
			cfg.DaemonPort = daemon.conn.Port()
			cfg.StartDevices = tt.startDevices
			if err := r.Start(context.Background(), cfg); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			t.Cleanup(func() { r.Stop() }) //nolint:errcheck // Test cleanup

			select {
			case err := <-done:
				if err != nil {
					t.Errorf("Stop() from handler error = %v", err)
				}
			case <-time.After(testTimeout):
				t.Fatal("Stop() called from a device:add handler never returned")
			}
			if r.Running() {
				t.Error("Running() = true after Stop()")
			}
		})
	}
}

// TestRegistryDevicePrefersLiveSession re-announces a removed device on a
// new port and checks lookups by id land on the new session.
func TestRegistryDevicePrefersLiveSession(t *testing.T) {
	daemon := newFakeDaemon(t)
	r := startRegistry(t, daemon, false)
	added := sessionChan(r, EventDeviceAdd)
	removed := sessionChan(r, EventDeviceRemove)
	waitRequest(t, daemon.notify)

	oldDev := listenLoopback(t)
	newDev := listenLoopback(t)
	port := r.Config().Port

	daemon.sendTo(t, port, AddrDevice, osc.String("m1"), osc.String("monome 128"), osc.Int(oldDev.Port()))
	stale := waitSession(t, added)
	daemon.sendTo(t, port, AddrRemove, osc.String("m1"), osc.String("monome 128"), osc.Int(oldDev.Port()))
	waitSession(t, removed)

	daemon.sendTo(t, port, AddrDevice, osc.String("m1"), osc.String("monome 128"), osc.Int(newDev.Port()))
	live := waitSession(t, added)
	if live == stale {
		t.Fatal("re-announcement on a new port reused the old session")
	}

	got, ok := r.Device("m1")
	if !ok {
		t.Fatal("Device(m1) not found")
	}
	if got != live {
		t.Errorf("Device(m1) before connect = port %d, want most recent port %d", got.DevicePort(), newDev.Port())
	}

	connected := make(chan struct{}, 1)
	live.On(EventConnected, func(events.Event) { connected <- struct{}{} })
	if err := live.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	to, err := osc.ResolveAddr("127.0.0.1", r.DeviceEndpoint())
	if err != nil {
		t.Fatalf("ResolveAddr() error = %v", err)
	}
	if err := newDev.Send(to, AddrSysConnect); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case <-connected:
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for /sys/connect")
	}

	// A later, unconnected session with the same id loses to the live one.
	third := listenLoopback(t)
	daemon.sendTo(t, port, AddrDevice, osc.String("m1"), osc.String("monome 128"), osc.Int(third.Port()))
	waitSession(t, added)

	got, ok = r.Device("m1")
	if !ok {
		t.Fatal("Device(m1) not found")
	}
	if got != live || got.DevicePort() != newDev.Port() {
		t.Errorf("Device(m1) = port %d connected=%v, want live port %d", got.DevicePort(), got.Connected(), newDev.Port())
	}
	if _, ok := r.Device("ghost"); ok {
		t.Error("Device(ghost) found an unknown id")
	}
}
