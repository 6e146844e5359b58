package monome

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/nerrad567/serialosc-core/internal/device"
	"github.com/nerrad567/serialosc-core/internal/events"
	"github.com/nerrad567/serialosc-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/serialosc-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/serialosc-core/internal/serialosc"
)

// syncTimeout bounds one device store sync run from the health schedule.
const syncTimeout = 5 * time.Second

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is used when BridgeOptions.Logger is nil.
// noopLogger is used until a Logger is supplied.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher is the MQTT side of the bridge.
// This allows mocking in tests; *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Registry is the discovery side of the bridge.
// This interface is satisfied by *serialosc.Registry.
type Registry interface {
	On(topic string, h events.Handler) (unsubscribe func())
	Devices() []*serialosc.Session
	Device(id string) (*serialosc.Session, bool)
	Running() bool
}

// DeviceStore is the persisted device list.
// This is optional - if nil, the bridge runs without store syncs and
// health reports no stored count.
type DeviceStore interface {
	Sync(ctx context.Context) error
	List() []device.Device
}

// InputRecorder writes input and lifecycle events to a time-series
// store. This is optional - if nil, nothing is recorded.
type InputRecorder interface {
	WriteInputEvent(e influxdb.InputEvent)
	WriteSessionEvent(deviceID, kind, state string)
}

// Compile-time checks that the concrete clients satisfy the interfaces.
var (
	_ Publisher     = (*mqtt.Client)(nil)
	_ Registry      = (*serialosc.Registry)(nil)
	_ DeviceStore   = (*device.Tracker)(nil)
	_ InputRecorder = (*influxdb.Client)(nil)
)

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Registry and MQTT are required.
	Registry Registry
	MQTT     Publisher

	// Topics and QoS apply to state, ack and health messages. Input is
	// always published at QoS 0.
	Topics mqtt.Topics
	QoS    byte

	// Store is synced on every health tick when set.
	Store DeviceStore

	// Recorder receives every input event when set.
	Recorder InputRecorder

	// HealthSchedule is a cron spec; empty means every 30 seconds.
	HealthSchedule string

	// Version is reported in health messages.
	Version string
	Logger  Logger
}

// Bridge exposes discovered devices on MQTT.
//
//   - Device add, remove, connect and disconnect publish a retained
//     DeviceState on <prefix>/state/<id>.
//   - Key, tilt and delta events publish an InputMessage on
//     <prefix>/input/<id>/<event>.
//   - CommandMessages on <prefix>/command/<id> drive LED output and
//     /sys settings, acknowledged on <prefix>/ack/<id>.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	// Dependencies, fixed at construction.
	reg      Registry
	mqtt     Publisher
	topics   mqtt.Topics
	qos      byte
	store    DeviceStore
	recorder InputRecorder
	health   *HealthReporter

	// attached maps each followed session to its unsubscribe func;
	// guarded by mu.
	mu       sync.Mutex
	attached map[*serialosc.Session]func()
	unsubs   []func()
	started  bool
	stopOnce sync.Once

	ctx       context.Context //nolint:containedctx // bounds store syncs from cron ticks
	ctxCancel context.CancelFunc

	// Counters reported in health messages and by Metrics.
	commands      atomic.Uint64
	commandErrors atomic.Uint64
	inputEvents   atomic.Uint64

	logger Logger
}

// NewBridge creates a bridge. Call Start to begin operation.
//
// Returns ErrMissingDependency without a registry or MQTT client, or the
// HealthReporter error for an invalid health schedule.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("%w: registry", ErrMissingDependency)
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("%w: mqtt client", ErrMissingDependency)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		reg:       opts.Registry,
		mqtt:      opts.MQTT,
		topics:    opts.Topics,
		qos:       opts.QoS,
		store:     opts.Store,
		recorder:  opts.Recorder,
		attached:  make(map[*serialosc.Session]func()),
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    noopLogger{},
	}
	if opts.Logger != nil {
		b.logger = opts.Logger
	}

	health, err := NewHealthReporter(HealthReporterConfig{
		Topic:     opts.Topics.Health(),
		Schedule:  opts.HealthSchedule,
		Version:   opts.Version,
		Publisher: opts.MQTT,
		Snapshot:  b.snapshot,
		OnTick:    b.syncStore,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	health.SetLogger(b.logger)
	b.health = health

	return b, nil
}

// Start begins bridge operation.
//
// It performs the following steps:
//  1. Subscribes to registry add and remove events
//  2. Attaches to every device already initialized and publishes its state
//  3. Subscribes to the command topic of every device
//  4. Starts health reporting
//
// Calling Start again is a no-op.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.unsubs = append(b.unsubs,
		b.reg.On(serialosc.EventDeviceAdd, b.onAdd),
		b.reg.On(serialosc.EventDeviceRemove, b.onRemove),
	)
	b.mu.Unlock()

	for _, sess := range b.reg.Devices() {
		if sess.Initialized() {
			b.attach(sess)
			b.publishState(sess, sess.Connected())
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	topic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(topic, b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", topic)

	b.health.Start()
	b.logger.Info("bridge started", "devices", len(b.reg.Devices()))
	return nil
}

// Stop gracefully shuts down the bridge.
//
// It unsubscribes from commands, detaches from the registry and every
// session, and publishes a final health message. Retained device states
// are left as they are. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()

		if err := b.mqtt.Unsubscribe(b.topics.AllCommands()); err != nil {
			b.logger.Warn("unsubscribe from commands failed", "error", err)
		}

		b.mu.Lock()
		unsubs := append(b.unsubs, lo.Values(b.attached)...)
		b.unsubs = nil
		b.attached = make(map[*serialosc.Session]func())
		b.mu.Unlock()
		for _, u := range unsubs {
			u()
		}

		b.health.Stop()
		b.logger.Info("bridge stopped")
	})
}

// PublishStates republishes every initialized device's state. Wire it
// to the MQTT client's reconnect callback.
func (b *Bridge) PublishStates() {
	for _, sess := range b.reg.Devices() {
		if sess.Initialized() {
			b.publishState(sess, sess.Connected())
		}
	}
}

// onAdd attaches to a new device and publishes it online.
func (b *Bridge) onAdd(e events.Event) {
	sess, ok := e.Payload.(*serialosc.Session)
	if !ok {
		return
	}
	b.attach(sess)
	b.publishState(sess, true)
	b.recordLifecycle(sess, "added")
}

// onRemove publishes a removed device offline.
func (b *Bridge) onRemove(e events.Event) {
	sess, ok := e.Payload.(*serialosc.Session)
	if !ok {
		return
	}
	// Listeners stay attached; a later /sys/connect brings it back.
	b.publishState(sess, false)
	b.recordLifecycle(sess, "removed")
}

// attach follows a session's events once.
func (b *Bridge) attach(sess *serialosc.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.attached[sess]; ok {
		return
	}
	b.attached[sess] = sess.On(events.All, func(e events.Event) {
		b.onSessionEvent(sess, e)
	})
}

// onSessionEvent routes one session event: input is published, connect
// and disconnect republish the state. Other events are ignored.
func (b *Bridge) onSessionEvent(sess *serialosc.Session, e events.Event) {
	switch e.Topic {
	case serialosc.EventKey, serialosc.EventTilt, serialosc.EventDelta:
		b.publishInput(sess, e)
	case serialosc.EventConnected:
		b.publishState(sess, true)
		b.recordLifecycle(sess, e.Topic)
	case serialosc.EventDisconnected:
		b.publishState(sess, false)
		b.recordLifecycle(sess, e.Topic)
	}
}

// publishState publishes the retained DeviceState of sess under its
// daemon id.
func (b *Bridge) publishState(sess *serialosc.Session, online bool) {
	id := sess.DaemonID()
	payload, err := json.Marshal(NewDeviceState(sess, online))
	if err != nil {
		b.logger.Error("encoding device state failed", "device", id, "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.State(id), payload, b.qos, true); err != nil {
		b.logger.Warn("publishing device state failed", "device", id, "error", err)
	}
}

// publishInput publishes one input event, non-retained at QoS 0, and
// hands it to the recorder when one is set. Events whose payload is not
// an input type are ignored.
func (b *Bridge) publishInput(sess *serialosc.Session, e events.Event) {
	fields, ok := inputFields(e.Payload)
	if !ok {
		return
	}
	b.inputEvents.Add(1)

	msg := InputMessage{
		DeviceID: sess.DaemonID(),
		Kind:     sess.Kind().String(),
		Event:    e.Topic,
		Fields:   fields,
		Time:     time.Now().UTC(),
	}

	if b.recorder != nil {
		b.recorder.WriteInputEvent(influxdb.InputEvent{
			DeviceID: msg.DeviceID,
			Kind:     msg.Kind,
			Event:    msg.Event,
			Fields:   msg.Fields,
			Time:     msg.Time,
		})
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("encoding input failed", "device", msg.DeviceID, "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Input(msg.DeviceID, msg.Event), payload, 0, false); err != nil {
		b.logger.Debug("publishing input failed", "device", msg.DeviceID, "error", err)
	}
}

// recordLifecycle writes a monome_session point when a recorder is set.
func (b *Bridge) recordLifecycle(sess *serialosc.Session, state string) {
	if b.recorder != nil {
		b.recorder.WriteSessionEvent(sess.DaemonID(), sess.Kind().String(), state)
	}
}

// handleCommand executes a CommandMessage and always answers with an ack.
// Command failures are reported on the ack topic, not returned.
//
// Failure codes, checked in order:
//   - BAD_PAYLOAD: the payload is not a CommandMessage
//   - UNKNOWN_DEVICE: the registry has no session for the topic's id
//   - NOT_CONNECTED: the session exists but is not connected
//   - INVALID_COMMAND, INVALID_PARAMETERS, UNSUPPORTED or SEND_FAILED
//     from executing the command (see errorCode)
//
// The device is looked up through Registry.Device, which prefers a
// connected session when a device was re-announced on a new port.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	id, ok := b.topics.DeviceFromCommand(topic)
	if !ok {
		b.logger.Warn("ignoring command on unexpected topic", "topic", topic)
		return nil
	}
	b.commands.Add(1)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		cmd.ensureID()
		b.ackFailed(id, cmd, ErrCodeBadPayload, err.Error())
		return nil
	}
	cmd.ensureID()

	sess, found := b.reg.Device(id)
	if !found {
		b.ackFailed(id, cmd, ErrCodeUnknownDevice, fmt.Sprintf("device %s not found", id))
		return nil
	}
	if !sess.Connected() {
		b.ackFailed(id, cmd, ErrCodeNotConnected, fmt.Sprintf("device %s is not connected", id))
		return nil
	}

	if err := execute(sess, cmd); err != nil {
		b.ackFailed(id, cmd, errorCode(err), err.Error())
		return nil
	}

	b.logger.Debug("command executed", "device", id, "command", cmd.Command, "command_id", cmd.ID)
	b.publishAck(id, AckMessage{
		CommandID: cmd.ID,
		DeviceID:  id,
		Command:   cmd.Command,
		Status:    AckAccepted,
	})
	return nil
}

// ackFailed counts and logs a failed command and publishes its ack.
func (b *Bridge) ackFailed(id string, cmd CommandMessage, code, message string) {
	b.commandErrors.Add(1)
	b.logger.Warn("command failed", "device", id, "command", cmd.Command, "code", code, "error", message)
	b.publishAck(id, AckMessage{
		CommandID: cmd.ID,
		DeviceID:  id,
		Command:   cmd.Command,
		Status:    AckFailed,
		Error:     &AckError{Code: code, Message: message},
	})
}

// publishAck stamps and publishes an ack, non-retained.
func (b *Bridge) publishAck(id string, ack AckMessage) {
	ack.Time = time.Now().UTC()
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("encoding ack failed", "device", id, "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(id), payload, b.qos, false); err != nil {
		b.logger.Warn("publishing ack failed", "device", id, "error", err)
	}
}

// snapshot fills the health counters. A stopped registry marks the
// bridge degraded.
func (b *Bridge) snapshot(msg *HealthMessage) {
	devices := b.reg.Devices()
	msg.Devices = len(devices)
	msg.Connected = lo.CountBy(devices, func(s *serialosc.Session) bool { return s.Connected() })
	msg.Commands = b.commands.Load()
	msg.CommandErrors = b.commandErrors.Load()
	msg.InputEvents = b.inputEvents.Load()
	if b.store != nil {
		msg.Stored = len(b.store.List())
	}
	if !b.reg.Running() {
		msg.Status = HealthDegraded
		msg.Reason = "serialosc registry stopped"
	}
}

// syncStore runs on every health tick, bounded by syncTimeout and
// cancelled by Stop.
func (b *Bridge) syncStore() {
	if b.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, syncTimeout)
	defer cancel()
	if err := b.store.Sync(ctx); err != nil {
		b.logger.Warn("device store sync failed", "error", err)
	}
}

// Metrics returns the command and input counters. They only grow for
// the lifetime of the bridge.
func (b *Bridge) Metrics() (commands, commandErrors, inputEvents uint64) {
	return b.commands.Load(), b.commandErrors.Load(), b.inputEvents.Load()
}
