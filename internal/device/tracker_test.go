package device

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/serialosc-core/internal/events"
	"github.com/nerrad567/serialosc-core/internal/osc"
	"github.com/nerrad567/serialosc-core/internal/serialosc"
)

// stubTransport lets tests play the device side of a session.
type stubTransport struct {
	mu     sync.Mutex
	routes map[string][]osc.Handler
}

func newStubTransport() *stubTransport {
	return &stubTransport{routes: make(map[string][]osc.Handler)}
}

func (s *stubTransport) Send(*net.UDPAddr, string, ...osc.Arg) error { return nil }

func (s *stubTransport) Handle(_ string, _ int, routes ...osc.Route) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range routes {
		s.routes[r.Address] = append(s.routes[r.Address], r.Handler)
	}
}

func (s *stubTransport) Rebind(ns string, from int, routes ...osc.Route) {
	s.Handle(ns, from, routes...)
}

func (s *stubTransport) Remove(string) {}

func (s *stubTransport) deliver(address string, args ...osc.Arg) {
	s.mu.Lock()
	handlers := append([]osc.Handler(nil), s.routes[address]...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(osc.Message{Address: address, Args: args})
	}
}

// stubSource stands in for the discovery registry.
type stubSource struct {
	router   *events.Router
	sessions []*serialosc.Session
}

func newStubSource() *stubSource {
	return &stubSource{router: events.NewRouter()}
}

func (s *stubSource) On(topic string, h events.Handler) func() {
	return s.router.Subscribe(topic, h)
}

func (s *stubSource) Devices() []*serialosc.Session { return s.sessions }

// handshake starts a session and answers the three required /sys queries.
func handshake(t *testing.T, id string, port int) (*serialosc.Session, *stubTransport) {
	t.Helper()
	tr := newStubTransport()
	sess, err := serialosc.NewSession(serialosc.Record{
		ID:         id,
		Kind:       serialosc.KindGrid,
		Model:      "monome 128",
		ListenPort: 13000,
		DevicePort: port,
	}, tr)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if err := sess.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	tr.deliver(serialosc.AddrSysPort, osc.Int(13000))
	tr.deliver(serialosc.AddrSysHost, osc.String("localhost"))
	tr.deliver(serialosc.AddrSysPrefix, osc.String("/monome"))
	if !sess.Initialized() {
		t.Fatal("session not initialized after handshake")
	}
	return sess, tr
}

func startTracker(t *testing.T, src *stubSource) (*Tracker, *SQLiteRepository) {
	t.Helper()
	repo := setupTestDB(t)
	tracker := NewTracker(repo)
	if err := tracker.Start(context.Background(), src); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(tracker.Stop)
	return tracker, repo
}

func TestTracker_StartMarksStoredDevicesOffline(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	if err := repo.Upsert(ctx, testDevice("stale", 1000)); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	tracker := NewTracker(repo)
	if err := tracker.Start(ctx, newStubSource()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tracker.Stop()

	d, ok := tracker.Get(Key{ID: "stale", Port: 1000})
	if !ok {
		t.Fatal("stored device missing from cache")
	}
	if d.Online {
		t.Error("stored device still online after Start")
	}
	if tracker.Online() != 0 {
		t.Errorf("Online() = %d, want 0", tracker.Online())
	}

	if err := tracker.Start(ctx, newStubSource()); !errors.Is(err, ErrTrackerStarted) {
		t.Errorf("second Start() error = %v, want ErrTrackerStarted", err)
	}
}

func TestTracker_RecordsAddAndRemove(t *testing.T) {
	src := newStubSource()
	tracker, repo := startTracker(t, src)
	ctx := context.Background()

	sess, _ := handshake(t, "m1000286", 14656)
	src.router.Publish(serialosc.EventDeviceAdd, sess)

	got, err := repo.Get(ctx, "m1000286", 14656)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.Online || got.Kind != "grid" || got.Prefix != "/monome" {
		t.Errorf("stored row = %+v", got)
	}
	if tracker.Online() != 1 {
		t.Errorf("Online() = %d, want 1", tracker.Online())
	}

	src.router.Publish(serialosc.EventDeviceRemove, sess)

	got, err = repo.Get(ctx, "m1000286", 14656)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Online {
		t.Error("device online after remove")
	}
	if d, _ := tracker.Get(Key{ID: "m1000286", Port: 14656}); d.Online {
		t.Error("cached device online after remove")
	}
}

func TestTracker_FollowsConnectAndDisconnect(t *testing.T) {
	src := newStubSource()
	tracker, repo := startTracker(t, src)
	ctx := context.Background()

	sess, tr := handshake(t, "m1", 1000)
	src.router.Publish(serialosc.EventDeviceAdd, sess)

	tr.deliver(serialosc.AddrSysDisconnect)
	got, err := repo.Get(ctx, "m1", 1000)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Online {
		t.Error("device online after /sys/disconnect")
	}

	tr.deliver(serialosc.AddrSysConnect)
	got, err = repo.Get(ctx, "m1", 1000)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.Online {
		t.Error("device offline after /sys/connect")
	}
	if tracker.Online() != 1 {
		t.Errorf("Online() = %d, want 1", tracker.Online())
	}
}

func TestTracker_KeepsDaemonIDAfterIDChange(t *testing.T) {
	src := newStubSource()
	tracker, repo := startTracker(t, src)

	sess, tr := handshake(t, "m1", 1000)
	src.sessions = []*serialosc.Session{sess}
	src.router.Publish(serialosc.EventDeviceAdd, sess)

	tr.deliver(serialosc.AddrSysID, osc.String("renamed"))
	tr.deliver(serialosc.AddrSysSize, osc.Int(16), osc.Int(8))
	if err := tracker.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	got, err := repo.Get(context.Background(), "m1", 1000)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.SizeX != 16 || got.SizeY != 8 {
		t.Errorf("size = %dx%d, want 16x8", got.SizeX, got.SizeY)
	}
	if _, err := repo.Get(context.Background(), "renamed", 1000); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("row stored under reported id, error = %v", err)
	}
}

func TestTracker_SyncSkipsUntrackedSessions(t *testing.T) {
	src := newStubSource()
	tracker, repo := startTracker(t, src)

	sess, _ := handshake(t, "m1", 1000)
	// Present in the source but never announced through an add event
	// after Start, and not there at Start either.
	src.sessions = []*serialosc.Session{sess}

	if err := tracker.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	devices, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("List() = %d rows, want 0", len(devices))
	}
}

func TestTracker_RecordsExistingSessionsOnStart(t *testing.T) {
	src := newStubSource()
	sess, _ := handshake(t, "m1", 1000)
	src.sessions = []*serialosc.Session{sess}

	tracker, _ := startTracker(t, src)

	devices := tracker.List()
	if len(devices) != 1 || devices[0].ID != "m1" || !devices[0].Online {
		t.Errorf("List() = %+v, want m1 online", devices)
	}
}

func TestTracker_StopUnsubscribes(t *testing.T) {
	src := newStubSource()
	repo := setupTestDB(t)
	tracker := NewTracker(repo)
	if err := tracker.Start(context.Background(), src); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	tracker.Stop()

	sess, _ := handshake(t, "m1", 1000)
	src.router.Publish(serialosc.EventDeviceAdd, sess)

	if _, err := repo.Get(context.Background(), "m1", 1000); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("device recorded after Stop, error = %v", err)
	}
	if err := tracker.Sync(context.Background()); err != nil {
		t.Errorf("Sync() after Stop error = %v", err)
	}
}

func TestTracker_ListOrder(t *testing.T) {
	src := newStubSource()
	tracker, _ := startTracker(t, src)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	tracker.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for _, id := range []string{"b", "a"} {
		sess, _ := handshake(t, id, 1000)
		src.router.Publish(serialosc.EventDeviceAdd, sess)
	}

	devices := tracker.List()
	if len(devices) != 2 || devices[0].ID != "b" || devices[1].ID != "a" {
		t.Errorf("List() order = %+v, want b then a", devices)
	}
}
