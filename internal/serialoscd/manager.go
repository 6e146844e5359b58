package serialoscd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status is the state of the supervised daemon.
type Status string

// Manager statuses. Failed is set after an unexpected exit and stays set
// once the restart limit is reached or a respawn fails.
const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// DefaultBinary is looked up in PATH when Config.Binary is empty.
const DefaultBinary = "serialoscd"

// Config defaults.
const (
	defaultRestartDelay    = 2 * time.Second
	defaultGracefulTimeout = 5 * time.Second
	defaultStartupDelay    = 500 * time.Millisecond
)

// ErrAlreadyRunning is returned by Start on a running manager.
var ErrAlreadyRunning = errors.New("serialoscd already running")

// Config holds settings for the supervised daemon.
type Config struct {
	// Binary is the daemon executable. Default: DefaultBinary.
	Binary string

	// Args are passed unchanged.
	Args []string

	// RestartDelay is the pause between an unexpected exit and the
	// next spawn. Default: 2s.
	RestartDelay time.Duration

	// MaxRestarts limits consecutive restarts. 0 means unlimited.
	MaxRestarts int

	// GracefulTimeout is how long Stop waits after SIGTERM before
	// sending SIGKILL. Default: 5s.
	GracefulTimeout time.Duration

	// StartupDelay is how long Start waits after spawning so the daemon
	// can bind its port before the registry registers. Default: 500ms.
	StartupDelay time.Duration

	// OnStart runs after every successful spawn, restarts included.
	OnStart func(pid int)
}

// withDefaults fills zero fields. A negative StartupDelay disables the
// wait and is stored as 0.
func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = defaultRestartDelay
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = defaultGracefulTimeout
	}
	if c.StartupDelay < 0 {
		c.StartupDelay = 0
	} else if c.StartupDelay == 0 {
		c.StartupDelay = defaultStartupDelay
	}
	return c
}

// Logger defines the logging interface for the manager.
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

// Manager runs serialoscd as a child process and restarts it when it
// exits unexpectedly. The child gets its own process group so Stop
// also reaches the per-device processes serialoscd forks.
type Manager struct {
	cfg    Config
	logger Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd // current child, nil before the first spawn
	status    Status
	restarts  int // consecutive unexpected exits since Start
	lastError error
	started   time.Time
	stopping  bool          // set by Stop so supervise does not respawn
	done      chan struct{} // closed when supervise returns
}

// NewManager creates a stopped manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:    cfg.withDefaults(),
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start spawns the daemon, waits StartupDelay and begins supervising it.
// A spawn failure is returned and nothing is retried.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.status = StatusStarting
	m.stopping = false
	m.restarts = 0
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()

	cmd, err := m.spawn(ctx)
	if err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		m.mu.Unlock()
		close(done)
		return err
	}

	go m.supervise(ctx, cmd, done)

	select {
	case <-time.After(m.cfg.StartupDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// spawn starts one child process and marks the manager running.
// Output is forwarded to the logger until the pipes close.
func (m *Manager) spawn(ctx context.Context) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, m.cfg.Binary, m.cfg.Args...) //nolint:gosec // binary comes from local config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", m.cfg.Binary, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.started = time.Now()
	m.mu.Unlock()

	go m.logLines("stdout", stdout)
	go m.logLines("stderr", stderr)

	pid := cmd.Process.Pid
	m.logger.Info("serialoscd started", "binary", m.cfg.Binary, "pid", pid)
	if m.cfg.OnStart != nil {
		m.cfg.OnStart(pid)
	}
	return cmd, nil
}

// logLines forwards daemon output one line per record.
func (m *Manager) logLines(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m.logger.Debug("serialoscd output", "stream", stream, "line", sc.Text())
	}
}

// supervise waits for cmd and respawns it until Stop, ctx cancellation
// or MaxRestarts.
func (m *Manager) supervise(ctx context.Context, cmd *exec.Cmd, done chan struct{}) {
	defer close(done)

	for {
		err := cmd.Wait()

		m.mu.Lock()
		stopping := m.stopping
		if stopping || ctx.Err() != nil {
			m.status = StatusStopped
			m.mu.Unlock()
			m.logger.Info("serialoscd stopped")
			return
		}
		m.status = StatusFailed
		m.lastError = err
		m.restarts++
		attempt := m.restarts
		m.mu.Unlock()

		m.logger.Warn("serialoscd exited unexpectedly", "error", err, "attempt", attempt)

		if m.cfg.MaxRestarts > 0 && attempt > m.cfg.MaxRestarts {
			m.logger.Error("serialoscd restart limit reached", "restarts", m.cfg.MaxRestarts)
			return
		}

		select {
		case <-ctx.Done():
			m.setStatus(StatusStopped)
			return
		case <-time.After(m.cfg.RestartDelay):
		}

		m.mu.RLock()
		stopping = m.stopping
		m.mu.RUnlock()
		if stopping {
			m.setStatus(StatusStopped)
			return
		}

		next, spawnErr := m.spawn(ctx)
		if spawnErr != nil {
			m.logger.Error("failed to restart serialoscd", "error", spawnErr)
			m.mu.Lock()
			m.lastError = spawnErr
			m.mu.Unlock()
			return
		}
		cmd = next
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Stop sends SIGTERM to the daemon's process group, then SIGKILL after
// GracefulTimeout. It returns once supervision has ended.
func (m *Manager) Stop() error {
	m.mu.Lock()
	done := m.done
	if done == nil {
		m.mu.Unlock()
		return nil
	}
	m.stopping = true
	cmd := m.cmd
	running := m.status == StatusRunning
	m.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping serialoscd", "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("failed to signal serialoscd", "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.cfg.GracefulTimeout):
		m.logger.Warn("serialoscd did not exit, killing", "timeout", m.cfg.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing serialoscd: %w", err)
	}
	<-done
	return nil
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Stats is a point-in-time view of the supervised daemon.
type Stats struct {
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns the current statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{Status: m.status, Restarts: m.restarts}
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		s.PID = m.cmd.Process.Pid
		s.Uptime = time.Since(m.started)
	}
	if m.lastError != nil {
		s.LastError = m.lastError.Error()
	}
	return s
}
