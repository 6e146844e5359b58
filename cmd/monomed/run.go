package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/serialosc-core/internal/bridges/monome"
	"github.com/nerrad567/serialosc-core/internal/device"
	"github.com/nerrad567/serialosc-core/internal/infrastructure/config"
	"github.com/nerrad567/serialosc-core/internal/infrastructure/database"
	"github.com/nerrad567/serialosc-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/serialosc-core/internal/infrastructure/logging"
	"github.com/nerrad567/serialosc-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/serialosc-core/internal/serialosc"
	"github.com/nerrad567/serialosc-core/internal/serialoscd"
	"github.com/nerrad567/serialosc-core/migrations"
)

func runCommand(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return run(c.Context, cfg)
}

// run is the actual application logic, separated from the CLI for testability.
//
// Startup order:
//  1. Logger, database and migrations
//  2. InfluxDB and MQTT (each optional)
//  3. serialoscd (when managed), serialosc registry, device tracker
//     and MQTT bridge
//
// Everything is torn down in reverse order once ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging, version)
	log.Info("starting monomed",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	influxClient, err := connectInflux(ctx, cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing influxdb connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing influxdb", "error", closeErr)
			}
		}()
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, mqtt.NewTopics(cfg.Bridge.TopicPrefix))
		if err != nil {
			return fmt.Errorf("connecting to mqtt: %w", err)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
		defer func() {
			log.Info("closing mqtt connection")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing mqtt", "error", closeErr)
			}
		}()
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("mqtt connection lost", "error", err)
		})
		log.Info("mqtt connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		)
	} else {
		log.Info("mqtt disabled, bridge not started")
	}

	registry := serialosc.NewRegistry(serialosc.WithLogger(log.Component("serialosc")))
	rc := registryConfig(cfg.SerialOSC)

	if cfg.SerialOSC.Managed.Enabled {
		daemon := newDaemon(ctx, cfg.SerialOSC.Managed, registry, rc, log)
		if err := daemon.Start(ctx); err != nil {
			return fmt.Errorf("starting serialoscd: %w", err)
		}
		defer func() {
			if stopErr := daemon.Stop(); stopErr != nil {
				log.Error("error stopping serialoscd", "error", stopErr)
			}
		}()
	}

	if err := registry.Start(ctx, rc); err != nil {
		return fmt.Errorf("starting serialosc registry: %w", err)
	}
	defer func() {
		if stopErr := registry.Stop(); stopErr != nil {
			log.Error("error stopping serialosc registry", "error", stopErr)
		}
	}()

	tracker := device.NewTracker(device.NewSQLiteRepository(db.DB))
	tracker.SetLogger(log.Component("device"))
	if err := tracker.Start(ctx, registry); err != nil {
		return fmt.Errorf("starting device tracker: %w", err)
	}
	defer tracker.Stop()

	if mqttClient != nil {
		bridge, bridgeErr := startBridge(ctx, cfg, registry, mqttClient, tracker, influxClient, log)
		if bridgeErr != nil {
			return bridgeErr
		}
		defer bridge.Stop()

		// Retained state may be stale after a broker restart.
		mqttClient.SetOnConnect(func() {
			log.Info("mqtt reconnected, republishing device state")
			bridge.PublishStates()
		})
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("monomed started",
		"daemon", fmt.Sprintf("%s:%d", cfg.SerialOSC.DaemonHost, cfg.SerialOSC.DaemonPort),
		"device_port", registry.DeviceEndpoint(),
	)

	<-ctx.Done()
	log.Info("shutting down")

	return drain(cfg, tracker, influxClient, log)
}

// drain persists tracker state and flushes pending points, bounded by
// the configured shutdown timeout.
func drain(cfg *config.Config, tracker *device.Tracker, influxClient *influxdb.Client, log *logging.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := tracker.Sync(gctx); err != nil {
			return fmt.Errorf("syncing devices: %w", err)
		}
		return nil
	})
	if influxClient != nil {
		g.Go(func() error {
			influxClient.Flush()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Warn("shutdown drain incomplete", "error", err)
	}
	log.Info("shutdown complete", "stored_devices", len(tracker.List()))
	return nil
}

// connectInflux returns a nil client when InfluxDB is disabled.
func connectInflux(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("influxdb disabled")
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("connecting to influxdb: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("influxdb write error", "error", err)
	})
	log.Info("influxdb connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	return client, nil
}

// startBridge wires the registry, tracker and optional recorder to MQTT.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	registry *serialosc.Registry,
	mqttClient *mqtt.Client,
	tracker *device.Tracker,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*monome.Bridge, error) {
	opts := monome.BridgeOptions{
		Registry:       registry,
		MQTT:           mqttClient,
		Topics:         mqttClient.Topics(),
		QoS:            mqttClient.QoS(),
		Store:          tracker,
		HealthSchedule: cfg.Bridge.HealthSchedule,
		Version:        version,
		Logger:         log.Component("bridge"),
	}
	// A typed nil would pass the bridge's nil check.
	if influxClient != nil && cfg.Bridge.RecordInput {
		opts.Recorder = influxClient
	}

	bridge, err := monome.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating monome bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting monome bridge: %w", err)
	}
	log.Info("monome bridge started",
		"topic_prefix", cfg.Bridge.TopicPrefix,
		"health_schedule", cfg.Bridge.HealthSchedule,
		"record_input", opts.Recorder != nil,
	)
	return bridge, nil
}

// healthCheck verifies all connections are working.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// newDaemon builds the serialoscd supervisor. A respawned daemon has
// forgotten our registration, so the registry re-registers once the new
// process has had StartupDelay to bind.
func newDaemon(
	ctx context.Context,
	mc config.ManagedDaemonConfig,
	registry *serialosc.Registry,
	rc serialosc.Config,
	log *logging.Logger,
) *serialoscd.Manager {
	startupDelay := time.Duration(mc.StartupDelayMS) * time.Millisecond
	m := serialoscd.NewManager(serialoscd.Config{
		Binary:       mc.Binary,
		Args:         mc.Args,
		RestartDelay: time.Duration(mc.RestartDelay) * time.Second,
		MaxRestarts:  mc.MaxRestarts,
		StartupDelay: startupDelay,
		OnStart: func(int) {
			if !registry.Running() {
				return
			}
			time.AfterFunc(startupDelay, func() {
				if err := registry.Start(ctx, rc); err != nil {
					log.Error("re-registering with restarted serialoscd failed", "error", err)
				}
			})
		},
	})
	m.SetLogger(log.Component("serialoscd"))
	return m
}

func registryConfig(c config.SerialOSCConfig) serialosc.Config {
	return serialosc.Config{
		Host:         c.Host,
		Port:         c.Port,
		DevicePort:   c.DevicePort,
		DaemonHost:   c.DaemonHost,
		DaemonPort:   c.DaemonPort,
		StartDevices: c.StartDevices,
	}
}
