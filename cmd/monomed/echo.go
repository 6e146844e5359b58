package main

import (
	"fmt"
	"sync"

	"github.com/urfave/cli/v2"

	"github.com/nerrad567/serialosc-core/internal/events"
	"github.com/nerrad567/serialosc-core/internal/infrastructure/config"
	"github.com/nerrad567/serialosc-core/internal/infrastructure/logging"
	"github.com/nerrad567/serialosc-core/internal/serialosc"
)

// ringSize is the LED count of one arc ring.
const ringSize = 64

// echoCommand mirrors input back to the LEDs until interrupted. Useful
// for checking a device end to end without MQTT.
func echoCommand(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)

	rc := registryConfig(cfg.SerialOSC)
	rc.StartDevices = true

	e := &echo{
		log:      log.Component("echo"),
		attached: make(map[*serialosc.Session]bool),
	}

	registry := serialosc.NewRegistry(serialosc.WithLogger(log.Component("serialosc")))
	unsub := registry.On(serialosc.EventDeviceAdd, func(ev events.Event) {
		if sess, ok := ev.Payload.(*serialosc.Session); ok {
			e.attach(sess)
		}
	})
	defer unsub()

	if err := registry.Start(c.Context, rc); err != nil {
		return fmt.Errorf("starting serialosc registry: %w", err)
	}
	defer func() {
		if stopErr := registry.Stop(); stopErr != nil {
			log.Error("error stopping serialosc registry", "error", stopErr)
		}
	}()

	log.Info("echo running, press Ctrl+C to stop", "device_port", registry.DeviceEndpoint())
	<-c.Context.Done()
	return nil
}

type echo struct {
	log *logging.Logger

	mu        sync.Mutex
	attached  map[*serialosc.Session]bool
	positions map[ringKey]int
}

type ringKey struct {
	sess *serialosc.Session
	n    int
}

func (e *echo) attach(sess *serialosc.Session) {
	e.mu.Lock()
	if e.attached[sess] {
		e.mu.Unlock()
		return
	}
	e.attached[sess] = true
	e.mu.Unlock()

	if g, ok := sess.Grid(); ok {
		sess.On(serialosc.EventKey, func(ev events.Event) {
			k, ok := ev.Payload.(serialosc.KeyEvent)
			if !ok {
				return
			}
			if err := g.Set(k.X, k.Y, k.State); err != nil {
				e.log.Warn("led set failed", "device", sess.ID(), "error", err)
			}
		})
		if err := g.All(0); err != nil {
			e.log.Warn("grid clear failed", "device", sess.ID(), "error", err)
		}
	}
	if a, ok := sess.Arc(); ok {
		sess.On(serialosc.EventDelta, func(ev events.Event) {
			d, ok := ev.Payload.(serialosc.DeltaEvent)
			if !ok {
				return
			}
			pos := e.turn(sess, d.Encoder, d.Delta)
			if err := a.All(d.Encoder, 0); err != nil {
				e.log.Warn("ring clear failed", "device", sess.ID(), "error", err)
				return
			}
			if err := a.Set(d.Encoder, pos, 15); err != nil {
				e.log.Warn("ring set failed", "device", sess.ID(), "error", err)
			}
		})
	}

	rec := sess.Record()
	e.log.Info("echoing device", "id", rec.ID, "kind", rec.Kind.String(), "model", rec.Model)
}

// turn moves the ring cursor by delta and returns the new LED index.
func (e *echo) turn(sess *serialosc.Session, n, delta int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.positions == nil {
		e.positions = make(map[ringKey]int)
	}
	k := ringKey{sess, n}
	pos := ((e.positions[k]+delta)%ringSize + ringSize) % ringSize
	e.positions[k] = pos
	return pos
}
