package device

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/nerrad567/serialosc-core/internal/events"
	"github.com/nerrad567/serialosc-core/internal/serialosc"
)

// Logger defines the logging interface used by the Tracker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards everything until SetLogger is called.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Source is the discovery side the tracker follows. *serialosc.Registry
// satisfies it.
type Source interface {
	On(topic string, h events.Handler) (unsubscribe func())
	Devices() []*serialosc.Session
}

var _ Source = (*serialosc.Registry)(nil)

// Tracker mirrors discovery into a Repository and keeps an in-memory
// copy of every stored row for fast lookups.
//
// Rows are keyed by the id the daemon announced, so a device that later
// reports another id through /sys/id keeps its row.
//
// Events handled:
//   - device:add: upsert the row, online
//   - device:remove: mark offline
//   - connected / disconnected of a tracked session: upsert online or
//     mark offline
//
// All public methods are thread-safe.
type Tracker struct {
	repo   Repository
	logger Logger
	now    func() time.Time

	// mu guards the subscription state.
	mu      sync.Mutex
	ctx     context.Context //nolint:containedctx // handlers run on the OSC receive goroutine
	src     Source
	keys    map[*serialosc.Session]Key
	unsubs  []func()
	running bool

	// cache mirrors the repository; guarded by cacheMu.
	cacheMu sync.RWMutex
	cache   map[Key]Device
}

// NewTracker creates a tracker over repo.
func NewTracker(repo Repository) *Tracker {
	return &Tracker{
		repo:   repo,
		logger: noopLogger{},
		now:    time.Now,
		keys:   make(map[*serialosc.Session]Key),
		cache:  make(map[Key]Device),
	}
}

// SetLogger sets the logger for the tracker. Call before Start.
func (t *Tracker) SetLogger(logger Logger) {
	t.logger = logger
}

// Start marks every stored device offline, loads the cache and begins
// following src. Sessions src already holds are recorded immediately.
// ctx bounds every store write made from event handlers.
func (t *Tracker) Start(ctx context.Context, src Source) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrTrackerStarted
	}
	t.running = true
	t.ctx = ctx
	t.src = src
	t.mu.Unlock()

	n, err := t.repo.MarkAllOffline(ctx)
	if err != nil {
		t.abort()
		return err
	}
	if err := t.RefreshCache(ctx); err != nil {
		t.abort()
		return err
	}
	t.logger.Info("device tracker started", "stale_online", n)

	t.mu.Lock()
	t.unsubs = append(t.unsubs,
		src.On(serialosc.EventDeviceAdd, t.onAdd),
		src.On(serialosc.EventDeviceRemove, t.onRemove),
	)
	t.mu.Unlock()

	for _, sess := range src.Devices() {
		if sess.Initialized() {
			t.track(sess, sess.Connected())
		}
	}
	return nil
}

// Stop unsubscribes from the source and every tracked session.
//
// The cache and the store are left as they are, so List keeps working
// after Stop. Rows stay online; the next Start marks them offline.
func (t *Tracker) Stop() {
	t.mu.Lock()
	unsubs := t.unsubs
	t.unsubs = nil
	t.keys = make(map[*serialosc.Session]Key)
	t.running = false
	t.src = nil
	t.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}

// abort undoes the running flag of a failed Start.
func (t *Tracker) abort() {
	t.mu.Lock()
	t.running = false
	t.src = nil
	t.mu.Unlock()
}

// RefreshCache reloads all devices from the repository into the cache.
func (t *Tracker) RefreshCache(ctx context.Context) error {
	devices, err := t.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	t.cache = lo.Associate(devices, func(d Device) (Key, Device) {
		return d.Key(), d
	})
	return nil
}

// Get returns the cached row for key.
func (t *Tracker) Get(key Key) (Device, bool) {
	t.cacheMu.RLock()
	defer t.cacheMu.RUnlock()
	d, ok := t.cache[key]
	return d, ok
}

// List returns every cached row, oldest first.
func (t *Tracker) List() []Device {
	t.cacheMu.RLock()
	devices := lo.Values(t.cache)
	t.cacheMu.RUnlock()

	slices.SortFunc(devices, func(a, b Device) int {
		return cmp.Or(
			a.FirstSeen.Compare(b.FirstSeen),
			cmp.Compare(a.ID, b.ID),
			cmp.Compare(a.DevicePort, b.DevicePort),
		)
	})
	return devices
}

// Online returns how many cached rows are online.
func (t *Tracker) Online() int {
	t.cacheMu.RLock()
	defer t.cacheMu.RUnlock()
	return lo.CountBy(lo.Values(t.cache), func(d Device) bool { return d.Online })
}

// Sync rewrites the row of every tracked session so late /sys replies
// (size, rotation, prefix) reach the store.
func (t *Tracker) Sync(ctx context.Context) error {
	t.mu.Lock()
	src := t.src
	t.mu.Unlock()
	if src == nil {
		return nil
	}

	var errs []error
	for _, sess := range src.Devices() {
		key, ok := t.keyOf(sess)
		if !ok {
			continue
		}
		if err := t.store(ctx, key, sess.Record(), sess.Connected()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// onAdd records a newly announced device as online.
func (t *Tracker) onAdd(e events.Event) {
	if sess, ok := e.Payload.(*serialosc.Session); ok {
		t.track(sess, true)
	}
}

// onRemove marks a removed device offline. The row is kept.
func (t *Tracker) onRemove(e events.Event) {
	if sess, ok := e.Payload.(*serialosc.Session); ok {
		t.setOnline(sess, false)
	}
}

// track records sess and, the first time it is seen, follows its
// connect and disconnect events.
func (t *Tracker) track(sess *serialosc.Session, online bool) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	key, known := t.keys[sess]
	if !known {
		key = Key{ID: sess.DaemonID(), Port: sess.DevicePort()}
		t.keys[sess] = key
		t.unsubs = append(t.unsubs,
			sess.On(serialosc.EventConnected, func(events.Event) { t.track(sess, true) }),
			sess.On(serialosc.EventDisconnected, func(events.Event) { t.setOnline(sess, false) }),
		)
	}
	ctx := t.ctx
	t.mu.Unlock()

	if err := t.store(ctx, key, sess.Record(), online); err != nil {
		t.logger.Error("recording device failed", "device", key.ID, "device_port", key.Port, "error", err)
	}
}

// setOnline updates only the online flag and last_seen of a tracked
// session's row. Untracked sessions are ignored.
func (t *Tracker) setOnline(sess *serialosc.Session, online bool) {
	key, ok := t.keyOf(sess)
	if !ok {
		return
	}
	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()

	at := t.now().UTC()
	if err := t.repo.SetOnline(ctx, key.ID, key.Port, online, at); err != nil {
		t.logger.Error("updating device state failed", "device", key.ID, "device_port", key.Port, "error", err)
		return
	}

	t.cacheMu.Lock()
	if d, ok := t.cache[key]; ok {
		d.Online = online
		d.LastSeen = at
		t.cache[key] = d
	}
	t.cacheMu.Unlock()

	t.logger.Debug("device state recorded", "device", key.ID, "device_port", key.Port, "online", online)
}

// store upserts the full row for key and refreshes the cache, keeping
// the cached FirstSeen.
func (t *Tracker) store(ctx context.Context, key Key, rec serialosc.Record, online bool) error {
	d := FromRecord(key.ID, rec, online, t.now().UTC())
	if err := t.repo.Upsert(ctx, &d); err != nil {
		return err
	}

	t.cacheMu.Lock()
	if old, ok := t.cache[key]; ok {
		d.FirstSeen = old.FirstSeen
	}
	t.cache[key] = d
	t.cacheMu.Unlock()
	return nil
}

// keyOf returns the store key of a tracked session.
func (t *Tracker) keyOf(sess *serialosc.Session) (Key, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key, ok := t.keys[sess]
	return key, ok
}
