package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/nerrad567/serialosc-core/internal/device"
	"github.com/nerrad567/serialosc-core/internal/infrastructure/config"
	"github.com/nerrad567/serialosc-core/internal/infrastructure/database"
	"github.com/nerrad567/serialosc-core/internal/infrastructure/logging"
	"github.com/nerrad567/serialosc-core/internal/serialosc"
	"github.com/nerrad567/serialosc-core/migrations"
)

const defaultScanWait = 2 * time.Second

// scanCommand starts a registry, collects announcements for --wait and
// prints what it found. Logs go to stderr so the table stays clean.
func scanCommand(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.NewWithWriter(cfg.Logging, version, c.App.ErrWriter)

	rc := registryConfig(cfg.SerialOSC)
	rc.StartDevices = c.Bool("handshake")

	registry := serialosc.NewRegistry(serialosc.WithLogger(log.Component("serialosc")))
	if err := registry.Start(c.Context, rc); err != nil {
		return fmt.Errorf("starting serialosc registry: %w", err)
	}
	defer func() {
		if stopErr := registry.Stop(); stopErr != nil {
			log.Error("error stopping serialosc registry", "error", stopErr)
		}
	}()

	select {
	case <-time.After(c.Duration("wait")):
	case <-c.Context.Done():
		return c.Context.Err()
	}

	return printSessions(c.App.Writer, registry.Devices())
}

// devicesCommand prints the device rows kept by "run".
func devicesCommand(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(c.Context, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(c.Context, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	devices, err := device.NewSQLiteRepository(db.DB).List(c.Context)
	if err != nil {
		return err
	}
	return printDevices(c.App.Writer, devices)
}

func printSessions(w io.Writer, sessions []*serialosc.Session) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tMODEL\tPORT\tSIZE\tPREFIX\tROTATION\tSTATE")
	for _, sess := range sessions {
		rec := sess.Record()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%d\t%s\n",
			rec.ID, rec.Kind, rec.Model, rec.DevicePort,
			size(rec.Kind.String(), rec.SizeX, rec.SizeY, rec.Encoders),
			orDash(rec.Prefix), rec.Rotation, sess.State(),
		)
	}
	return tw.Flush()
}

func printDevices(w io.Writer, devices []device.Device) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tMODEL\tPORT\tSIZE\tPREFIX\tONLINE\tLAST SEEN")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%t\t%s\n",
			d.ID, d.Kind, d.Model, d.DevicePort,
			size(d.Kind, d.SizeX, d.SizeY, d.Encoders),
			orDash(d.Prefix), d.Online, d.LastSeen.Local().Format(time.DateTime),
		)
	}
	return tw.Flush()
}

// size renders "16x8" for grids and "4 enc" for arcs; "-" when unknown.
func size(kind string, x, y, encoders int) string {
	if kind == serialosc.KindArc.String() {
		if encoders == 0 {
			return "-"
		}
		return strconv.Itoa(encoders) + " enc"
	}
	if x == 0 || y == 0 {
		return "-"
	}
	return fmt.Sprintf("%dx%d", x, y)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
