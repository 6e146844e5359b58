package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/serialosc-core/internal/device"
	"github.com/nerrad567/serialosc-core/internal/infrastructure/config"
	"github.com/nerrad567/serialosc-core/internal/infrastructure/database"
	"github.com/nerrad567/serialosc-core/internal/infrastructure/logging"
	"github.com/nerrad567/serialosc-core/internal/osc"
	"github.com/nerrad567/serialosc-core/internal/serialosc"
	"github.com/nerrad567/serialosc-core/migrations"
)

// runApp runs the CLI with args and returns what it wrote to stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut

	err := app.RunContext(ctx, append([]string{"monomed"}, args...))
	return out.String(), err
}

// TestRun_InvalidConfigPath verifies every command fails with a missing config file.
func TestRun_InvalidConfigPath(t *testing.T) {
	t.Setenv(configEnv, "/nonexistent/path/config.yaml")

	for _, cmd := range []string{"run", "scan", "devices", "echo"} {
		t.Run(cmd, func(t *testing.T) {
			_, err := runApp(t, cmd)
			if err == nil {
				t.Fatalf("%s should fail with invalid config path", cmd)
			}
			if !errors.Is(err, os.ErrNotExist) {
				t.Errorf("error = %v, want os.ErrNotExist", err)
			}
		})
	}
}

// TestRun_MissingDatabasePath verifies run fails validation before opening anything.
func TestRun_MissingDatabasePath(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")

	configContent := `
serialosc:
  daemon_host: localhost
  daemon_port: 12002

database:
  path: ""

mqtt:
  enabled: false

logging:
  level: info
  format: text
  output: stdout
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := runApp(t, "--config", configPath, "run")
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("error = %v, want config.ErrInvalid", err)
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error %q should name database.path", err)
	}
}

func TestDevicesCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "monomed.db")
	t.Setenv(configEnv, "")
	t.Setenv("MONOMED_DATABASE_PATH", dbPath)

	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{Path: dbPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("migrating database: %v", err)
	}
	repo := device.NewSQLiteRepository(db.DB)
	for _, d := range []*device.Device{
		{ID: "m1000286", DevicePort: 14656, Kind: "grid", Model: "monome 128", SizeX: 16, SizeY: 8, Prefix: "/monome", Online: true},
		{ID: "m0000045", DevicePort: 14657, Kind: "arc", Model: "monome arc 4", Encoders: 4},
	} {
		if err := repo.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert(%s) error = %v", d.ID, err)
		}
	}
	db.Close() //nolint:errcheck // reopened by the command

	out, err := runApp(t, "devices")
	if err != nil {
		t.Fatalf("devices error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header and 2 rows:\n%s", len(lines), out)
	}
	for _, want := range []string{"m1000286", "16x8", "/monome", "m0000045", "4 enc"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSize(t *testing.T) {
	tests := []struct {
		name     string
		kind     string
		x, y     int
		encoders int
		want     string
	}{
		{"grid", "grid", 16, 8, 0, "16x8"},
		{"grid before size", "grid", 0, 0, 0, "-"},
		{"arc", "arc", 0, 0, 4, "4 enc"},
		{"arc without encoders", "arc", 0, 0, 0, "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := size(tt.kind, tt.x, tt.y, tt.encoders); got != tt.want {
				t.Errorf("size() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegistryConfig(t *testing.T) {
	got := registryConfig(config.SerialOSCConfig{
		Host:         "127.0.0.1",
		Port:         13000,
		DevicePort:   13001,
		DaemonHost:   "studio.local",
		DaemonPort:   12002,
		StartDevices: true,
	})
	want := serialosc.Config{
		Host:         "127.0.0.1",
		Port:         13000,
		DevicePort:   13001,
		DaemonHost:   "studio.local",
		DaemonPort:   12002,
		StartDevices: true,
	}
	if got != want {
		t.Errorf("registryConfig() = %+v, want %+v", got, want)
	}
}

func TestEchoTurnWraps(t *testing.T) {
	e := &echo{}
	sess := &serialosc.Session{}

	steps := []struct {
		n, delta, want int
	}{
		{0, 1, 1},
		{0, -3, 62},
		{0, 130, 0},
		{1, -1, 63},
		{0, 5, 5},
	}
	for _, s := range steps {
		if got := e.turn(sess, s.n, s.delta); got != s.want {
			t.Errorf("turn(%d, %d) = %d, want %d", s.n, s.delta, got, s.want)
		}
	}
}

// TestEchoAttachLogsClearFailure attaches a grid whose transport is closed
// so the initial clear fails.
func TestEchoAttachLogsClearFailure(t *testing.T) {
	conn, err := osc.Listen(context.Background(), osc.Config{Host: "127.0.0.1"})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	conn.Close() //nolint:errcheck // closed on purpose

	sess, err := serialosc.NewSession(serialosc.Record{
		ID:         "m1000286",
		Kind:       serialosc.KindGrid,
		Model:      "monome 128",
		DeviceHost: "127.0.0.1",
		DevicePort: 14656,
	}, conn)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	var buf bytes.Buffer
	e := &echo{
		log:      logging.NewWithWriter(config.LoggingConfig{Level: "debug", Format: "text"}, "test", &buf),
		attached: make(map[*serialosc.Session]bool),
	}
	e.attach(sess)

	out := buf.String()
	if !strings.Contains(out, "grid clear failed") {
		t.Errorf("log missing clear failure:\n%s", out)
	}
	if !strings.Contains(out, "m1000286") {
		t.Errorf("log missing device id:\n%s", out)
	}
}
