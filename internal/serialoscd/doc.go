// Package serialoscd supervises a local serialosc daemon.
//
// monomed normally talks to a daemon started by the system (launchd,
// systemd). On hosts without one, set serialosc.managed.enabled and the
// Manager runs the daemon as a child process instead:
//
//	m := serialoscd.NewManager(serialoscd.Config{
//	    Binary:  "/usr/local/bin/serialoscd",
//	    OnStart: func(int) { registry.Start(ctx, cfg) },
//	})
//	if err := m.Start(ctx); err != nil {
//	    return err
//	}
//	defer m.Stop()
//
// The daemon is restarted after an unexpected exit. OnStart runs after
// every spawn, so a registry can ask the fresh daemon to enumerate again.
package serialoscd
