// Package device persists every monome the daemon has announced.
//
// The store is a single SQLite table keyed by (daemon id, device port):
// the daemon may announce the same id on two ports for two units, and a
// device may report another id through /sys/id after discovery.
//
// # Components
//
//   - Repository / SQLiteRepository: upsert, lookup, online flag and delete.
//   - Tracker: follows a serialosc.Registry and mirrors add, remove,
//     connect and disconnect into the repository, with an in-memory cache
//     for List and Get.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	tracker := device.NewTracker(repo)
//	tracker.SetLogger(log.Component("device"))
//	if err := tracker.Start(ctx, registry); err != nil {
//	    return err
//	}
//	defer tracker.Stop()
//
// On Start every stored row is marked offline; a row comes back online
// when the daemon announces the device again.
package device
