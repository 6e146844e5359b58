package monome

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultHealthSchedule publishes health every 30 seconds.
const DefaultHealthSchedule = "@every 30s"

// HealthPublisher is the subset of the MQTT client the reporter needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Topic receives the retained health message.
	Topic string

	// Schedule is a cron spec ("@every 30s", "*/1 * * * *").
	// Default: DefaultHealthSchedule.
	Schedule string

	// Version is copied into every message.
	Version string

	// Publisher receives the messages. Nil disables publishing.
	Publisher HealthPublisher

	// Snapshot fills the counters and may downgrade the status.
	Snapshot func(*HealthMessage)

	// OnTick runs before each scheduled publish.
	OnTick func()
}

// HealthReporter publishes a retained HealthMessage on a cron schedule
// and a final "stopping" message on Stop.
//
// Messages go out at QoS 1. While the publisher is disconnected scheduled
// messages are skipped; the broker's retained LWT speaks for the bridge.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time
	cron      *cron.Cron

	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter validates the schedule and returns a stopped reporter.
func NewHealthReporter(cfg HealthReporterConfig) (*HealthReporter, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultHealthSchedule
	}

	h := &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		cron:      cron.New(),
		logger:    noopLogger{},
	}
	if _, err := h.cron.AddFunc(cfg.Schedule, h.tick); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, cfg.Schedule, err)
	}
	return h, nil
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Start publishes once and starts the schedule.
func (h *HealthReporter) Start() {
	if err := h.PublishNow(); err != nil {
		h.getLogger().Error("failed to publish initial health", "error", err)
	}
	h.cron.Start()
}

// Stop halts the schedule, waits for a running tick and publishes
// "stopping". Safe to call more than once.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		<-h.cron.Stop().Done()
		if err := h.publish(HealthStopping, "bridge stopping"); err != nil {
			h.getLogger().Warn("failed to publish stopping health", "error", err)
		}
	})
}

// PublishNow publishes the current health immediately.
func (h *HealthReporter) PublishNow() error {
	return h.publish(HealthHealthy, "")
}

// tick runs OnTick and publishes. It is the cron job.
func (h *HealthReporter) tick() {
	if h.cfg.OnTick != nil {
		h.cfg.OnTick()
	}
	if err := h.PublishNow(); err != nil {
		h.getLogger().Error("failed to publish health", "error", err)
	}
}

// Build returns the message PublishNow would send.
//
// Snapshot may downgrade a healthy status. A stopping status always wins
// over whatever Snapshot sets.
func (h *HealthReporter) Build(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Status:        status,
		Reason:        reason,
		Version:       h.cfg.Version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Time:          time.Now().UTC(),
	}
	if h.cfg.Snapshot != nil {
		h.cfg.Snapshot(&msg)
	}
	if status == HealthStopping {
		msg.Status, msg.Reason = status, reason
	}
	return msg
}

// publish marshals and sends one message. The stopping message is
// attempted even when the publisher reports disconnected.
func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	if !h.cfg.Publisher.IsConnected() && status != HealthStopping {
		// Nothing to publish to; the broker holds the LWT status.
		return nil
	}

	payload, err := json.Marshal(h.Build(status, reason))
	if err != nil {
		return fmt.Errorf("encoding health: %w", err)
	}
	return h.cfg.Publisher.Publish(h.cfg.Topic, payload, 1, true)
}

// getLogger returns the current logger under the read lock.
func (h *HealthReporter) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}
