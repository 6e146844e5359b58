// Package osc provides the UDP transport used to talk to serialosc and to
// the devices it exposes.
//
// Messages are encoded and decoded with github.com/hypebeast/go-osc. This
// package adds what a serialosc host needs on top of the codec:
//   - one receive goroutine per socket, dispatching in arrival order
//   - listener namespaces that can be removed or swapped atomically
//   - an optional sender-port filter per namespace, so several devices can
//     share one local endpoint
//   - broadcast targets for the daemon
//
// # Architecture
//
//	serialosc daemon ──UDP──► Conn (discovery) ──► Registry handlers
//	devices          ──UDP──► Conn (devices)   ──► Session handlers
//	                                             (filtered by sender port)
//
// # Thread Safety
//
// Handle, Remove, Rebind and RemoveAll take the subscription write lock.
// The receive loop matches each message against one snapshot of the
// listeners and invokes them after releasing the lock, so a handler may
// itself call Rebind (the /sys/prefix handler does).
//
// Send and Broadcast are safe for concurrent use.
package osc
