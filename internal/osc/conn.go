package osc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	goosc "github.com/hypebeast/go-osc/osc"
)

// Default configuration values.
const (
	// DefaultHost is the interface the transport binds to when none is given.
	DefaultHost = "localhost"

	// defaultReadBufferSize fits the largest UDP payload.
	defaultReadBufferSize = 65507
)

// Logger defines the logging interface used by Conn.
// It is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds settings for a transport endpoint.
type Config struct {
	// Host is the local interface to bind. Default: "localhost".
	Host string

	// Port is the local UDP port. 0 lets the kernel choose.
	Port int

	// ReadBufferSize is the size of the receive buffer. Default: 65507.
	ReadBufferSize int
}

// Handler is invoked for every inbound message matching a route.
type Handler func(Message)

// Route binds an address pattern to a handler.
//
// The address may use path.Match wildcards ("/sys/*"); an address without
// wildcards matches exactly.
type Route struct {
	Address string
	Handler Handler
}

// listener is one registered route in a namespace. from is the required
// sender port, 0 for any.
type listener struct {
	ns      string
	from    int
	address string
	handler Handler
}

// matches reports whether msg is for this listener: sender port first,
// then address.
func (l listener) matches(msg Message) bool {
	if l.from != 0 && (msg.From == nil || msg.From.Port != l.from) {
		return false
	}
	return addressMatch(l.address, msg.Address)
}

// Conn is a bound UDP endpoint speaking OSC.
//
// A Conn runs one receive goroutine from Listen until Close. Every inbound
// datagram is parsed, split into messages if it is a bundle, and each
// message is delivered to the matching listeners in registration order.
// Handlers therefore run one at a time and must not block for long.
type Conn struct {
	pc      *net.UDPConn
	bufSize int

	// listeners in registration order; guarded by mu.
	listeners []listener
	mu        sync.RWMutex

	// targets receive Broadcast; guarded by targetsMu.
	targets   []*net.UDPAddr
	targetsMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	// dispatching is true while the receive loop is delivering a packet.
	// Close checks it to avoid waiting on the loop from inside a handler.
	closed      atomic.Bool
	dispatching atomic.Bool
	done        chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once

	// Counters reported by Stats.
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	parseErrors      atomic.Uint64
	handlerPanics    atomic.Uint64
}

// Stats contains transport counters.
//
// ParseErrors counts datagrams go-osc could not decode; they are dropped.
// HandlerPanics counts recovered handler panics.
type Stats struct {
	MessagesReceived uint64
	MessagesSent     uint64
	ParseErrors      uint64
	HandlerPanics    uint64
	Listeners        int
}

// Listen binds a UDP endpoint and starts its receive loop.
//
// A port that is already in use is returned as ErrBindFailed; there is no
// retry on another port.
func Listen(ctx context.Context, cfg Config) (*Conn, error) {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	bufSize := cfg.ReadBufferSize
	if bufSize <= 0 {
		bufSize = defaultReadBufferSize
	}

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", net.JoinHostPort(host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBindFailed, err)
	}
	udp, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: unexpected connection type %T", ErrBindFailed, pc)
	}

	c := &Conn{
		pc:      udp,
		bufSize: bufSize,
		done:    make(chan struct{}),
	}

	c.wg.Add(1)
	go c.receiveLoop()

	return c, nil
}

// LocalAddr returns the bound address.
func (c *Conn) LocalAddr() *net.UDPAddr {
	addr, _ := c.pc.LocalAddr().(*net.UDPAddr) //nolint:errcheck // always *net.UDPAddr for a UDPConn
	return addr
}

// Port returns the bound UDP port.
func (c *Conn) Port() int {
	if addr := c.LocalAddr(); addr != nil {
		return addr.Port
	}
	return 0
}

// Handle registers routes under a namespace. from restricts the routes to
// messages sent from that UDP port; 0 accepts any sender.
//
// Routes with an empty address or nil handler are skipped. Registering
// under an existing namespace adds to it; use Rebind to replace.
func (c *Conn) Handle(ns string, from int, routes ...Route) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = appendRoutes(c.listeners, ns, from, routes)
}

// Remove drops every route registered under ns.
func (c *Conn) Remove(ns string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = withoutNamespace(c.listeners, ns)
}

// Rebind replaces the routes of ns in one step. A message being matched
// concurrently sees either the old routes or the new ones, never both.
func (c *Conn) Rebind(ns string, from int, routes ...Route) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = appendRoutes(withoutNamespace(c.listeners, ns), ns, from, routes)
}

// RemoveAll drops every route in every namespace.
func (c *Conn) RemoveAll() {
	c.mu.Lock()
	c.listeners = nil
	c.mu.Unlock()
}

// Addresses returns the addresses registered under ns, in registration order.
func (c *Conn) Addresses(ns string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []string
	for _, l := range c.listeners {
		if l.ns == ns {
			out = append(out, l.address)
		}
	}
	return out
}

// AddTarget registers a broadcast target. Adding the same address twice
// is a no-op.
func (c *Conn) AddTarget(host string, port int) error {
	addr, err := ResolveAddr(host, port)
	if err != nil {
		return err
	}

	c.targetsMu.Lock()
	defer c.targetsMu.Unlock()
	for _, t := range c.targets {
		if t.IP.Equal(addr.IP) && t.Port == addr.Port {
			return nil
		}
	}
	c.targets = append(c.targets, addr)
	return nil
}

// Broadcast sends a message to every registered target. A failure for one
// target does not stop the others; all errors are joined.
func (c *Conn) Broadcast(address string, args ...Arg) error {
	c.targetsMu.RLock()
	targets := make([]*net.UDPAddr, len(c.targets))
	copy(targets, c.targets)
	c.targetsMu.RUnlock()

	var errs []error
	for _, t := range targets {
		if err := c.Send(t, address, args...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Send writes one message to a remote endpoint.
//
// Returns:
//   - ErrClosed after Close
//   - ErrSendFailed wrapping the encode or write error
func (c *Conn) Send(to *net.UDPAddr, address string, args ...Arg) error {
	if c.closed.Load() {
		return ErrClosed
	}

	data, err := encode(address, args)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSendFailed, address, err)
	}
	if _, err := c.pc.WriteToUDP(data, to); err != nil {
		return fmt.Errorf("%w: %s to %s: %w", ErrSendFailed, address, to, err)
	}

	c.messagesSent.Add(1)
	return nil
}

// SetLogger sets the logger for transport diagnostics.
func (c *Conn) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Stats returns a snapshot of the transport counters.
func (c *Conn) Stats() Stats {
	c.mu.RLock()
	n := len(c.listeners)
	c.mu.RUnlock()

	return Stats{
		MessagesReceived: c.messagesReceived.Load(),
		MessagesSent:     c.messagesSent.Load(),
		ParseErrors:      c.parseErrors.Load(),
		HandlerPanics:    c.handlerPanics.Load(),
		Listeners:        n,
	}
}

// Close stops the receive loop, releases the socket and drops all routes.
// Safe to call multiple times.
//
// Close normally returns once the receive loop has exited. Handlers run on
// that loop, so a Close issued while a handler is running (typically from
// the handler itself) does not wait: the loop exits as soon as the handler
// returns, and no further handler is invoked.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		err = c.pc.Close()
		if !c.dispatching.Load() {
			c.wg.Wait()
		}
		c.RemoveAll()
	})
	return err
}

// receiveLoop reads datagrams until the socket is closed. Read errors
// other than the close itself are logged and reading continues.
func (c *Conn) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, c.bufSize)
	for {
		n, from, err := c.pc.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.logWarn("osc read failed", "error", err)
			continue
		}

		packet, err := goosc.ParsePacket(string(buf[:n]))
		if err != nil {
			c.parseErrors.Add(1)
			c.logDebug("dropping malformed packet", "from", from.String(), "error", err)
			continue
		}

		c.dispatching.Store(true)
		for _, m := range flatten(packet) {
			c.messagesReceived.Add(1)
			c.dispatch(decode(m, from))
		}
		c.dispatching.Store(false)
	}
}

// dispatch delivers msg to every matching listener, in registration order.
// Delivery stops as soon as the Conn is closed, even mid-message.
func (c *Conn) dispatch(msg Message) {
	c.mu.RLock()
	var handlers []Handler
	for _, l := range c.listeners {
		if l.matches(msg) {
			handlers = append(handlers, l.handler)
		}
	}
	c.mu.RUnlock()

	for _, h := range handlers {
		if c.closed.Load() {
			return
		}
		c.invoke(h, msg)
	}
}

// invoke runs one handler with panic recovery.
func (c *Conn) invoke(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.handlerPanics.Add(1)
			c.logError("osc handler panic recovered", "address", msg.Address, "panic", r)
		}
	}()
	h(msg)
}

// ResolveAddr resolves a host and port to a UDP address.
func ResolveAddr(host string, port int) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s:%d: %w", ErrInvalidTarget, host, port, err)
	}
	return addr, nil
}

// appendRoutes adds the valid routes of ns to ls.
func appendRoutes(ls []listener, ns string, from int, routes []Route) []listener {
	for _, r := range routes {
		if r.Handler == nil || r.Address == "" {
			continue
		}
		ls = append(ls, listener{ns: ns, from: from, address: r.Address, handler: r.Handler})
	}
	return ls
}

// withoutNamespace returns a new slice so snapshots held elsewhere stay valid.
func withoutNamespace(ls []listener, ns string) []listener {
	out := make([]listener, 0, len(ls))
	for _, l := range ls {
		if l.ns != ns {
			out = append(out, l)
		}
	}
	return out
}

// addressMatch compares an address with a route pattern. Patterns
// without wildcards are compared verbatim; "*" never crosses a "/".
func addressMatch(pattern, address string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == address
	}
	ok, err := path.Match(pattern, address)
	return err == nil && ok
}

// flatten returns the messages of a packet, descending into nested
// bundles. Bundle timetags are ignored; everything is delivered now.
func flatten(p goosc.Packet) []*goosc.Message {
	switch v := p.(type) {
	case *goosc.Message:
		return []*goosc.Message{v}
	case *goosc.Bundle:
		out := append([]*goosc.Message(nil), v.Messages...)
		for _, b := range v.Bundles {
			out = append(out, flatten(b)...)
		}
		return out
	}
	return nil
}

func (c *Conn) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Conn) logDebug(msg string, kv ...any) {
	if l := c.getLogger(); l != nil {
		l.Debug(msg, kv...)
	}
}

func (c *Conn) logWarn(msg string, kv ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, kv...)
	}
}

func (c *Conn) logError(msg string, kv ...any) {
	if l := c.getLogger(); l != nil {
		l.Error(msg, kv...)
	}
}
