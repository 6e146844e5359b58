// monomed - serialosc host controller
//
// monomed discovers monome grids and arcs through the serialosc daemon,
// runs the /sys handshake for each device and exposes them over MQTT:
//   - Device state and input events are published as JSON
//   - LED and /sys commands are accepted per device and acknowledged
//   - Device history is kept in SQLite, input optionally in InfluxDB
//
// Run "monomed help" for the available commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// configEnv names the config file when --config is not given.
const configEnv = "MONOMED_CONFIG"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newApp builds the command tree. "run" is the default action.
func newApp() *cli.App {
	return &cli.App{
		Name:    "monomed",
		Usage:   "serialosc host controller for monome grids and arcs",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file (defaults and MONOMED_* env vars apply without one)",
				EnvVars: []string{configEnv},
			},
		},
		Action: runCommand,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the controller with the MQTT bridge and device store",
				Action: runCommand,
			},
			{
				Name:  "scan",
				Usage: "list the devices serialosc currently announces",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "wait",
						Usage: "how long to collect announcements",
						Value: defaultScanWait,
					},
					&cli.BoolFlag{
						Name:  "handshake",
						Usage: "run the /sys handshake to learn size, prefix and rotation",
						Value: true,
					},
				},
				Action: scanCommand,
			},
			{
				Name:   "devices",
				Usage:  "list the devices recorded in the database",
				Action: devicesCommand,
			},
			{
				Name:   "echo",
				Usage:  "light grid keys while held and follow arc encoders",
				Action: echoCommand,
			},
		},
	}
}
