package osc

import (
	"context"
	"errors"
	"testing"
	"time"
)

const testTimeout = 2 * time.Second

// listenLoopback binds a transport on 127.0.0.1 with a kernel-chosen port.
func listenLoopback(t *testing.T) *Conn {
	t.Helper()
	c, err := Listen(context.Background(), Config{Host: "127.0.0.1"})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { c.Close() }) //nolint:errcheck // Test cleanup
	return c
}

func waitMessage(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestSendAndReceive(t *testing.T) {
	server := listenLoopback(t)
	client := listenLoopback(t)

	got := make(chan Message, 1)
	server.Handle("test", 0, Route{Address: "/sys/port", Handler: func(m Message) { got <- m }})

	if err := client.Send(server.LocalAddr(), "/sys/port", Int(13000)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	m := waitMessage(t, got)
	if m.Address != "/sys/port" {
		t.Errorf("Address = %q, want /sys/port", m.Address)
	}
	port, ok := m.Int(0)
	if !ok || port != 13000 {
		t.Errorf("Int(0) = %d, %v; want 13000, true", port, ok)
	}
	if m.From == nil || m.From.Port != client.Port() {
		t.Errorf("From = %v, want port %d", m.From, client.Port())
	}
}

func TestTypedArguments(t *testing.T) {
	server := listenLoopback(t)
	client := listenLoopback(t)

	got := make(chan Message, 1)
	server.Handle("test", 0, Route{Address: "/serialosc/device", Handler: func(m Message) { got <- m }})

	if err := client.Send(server.LocalAddr(), "/serialosc/device",
		String("m1000"), String("monome 128"), Int(9000), Float(0.5)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	m := waitMessage(t, got)
	if len(m.Args) != 4 {
		t.Fatalf("len(Args) = %d, want 4", len(m.Args))
	}
	if id, _ := m.Text(0); id != "m1000" {
		t.Errorf("Text(0) = %q, want m1000", id)
	}
	if model, _ := m.Text(1); model != "monome 128" {
		t.Errorf("Text(1) = %q, want monome 128", model)
	}
	if port, _ := m.Int(2); port != 9000 {
		t.Errorf("Int(2) = %d, want 9000", port)
	}
	if m.Args[3].Type != ArgFloat {
		t.Errorf("Args[3].Type = %q, want %q", m.Args[3].Type, ArgFloat)
	}
	if _, ok := m.Text(2); ok {
		t.Error("Text(2) ok = true for an integer argument")
	}
	if _, ok := m.Int(7); ok {
		t.Error("Int(7) ok = true for a missing argument")
	}
}

func TestSenderPortFilter(t *testing.T) {
	server := listenLoopback(t)
	deviceA := listenLoopback(t)
	deviceB := listenLoopback(t)

	gotA := make(chan Message, 4)
	gotB := make(chan Message, 4)
	server.Handle("a", deviceA.Port(), Route{Address: "/sys/prefix", Handler: func(m Message) { gotA <- m }})
	server.Handle("b", deviceB.Port(), Route{Address: "/sys/prefix", Handler: func(m Message) { gotB <- m }})

	if err := deviceB.Send(server.LocalAddr(), "/sys/prefix", String("/b")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	m := waitMessage(t, gotB)
	if p, _ := m.Text(0); p != "/b" {
		t.Errorf("prefix = %q, want /b", p)
	}

	select {
	case m := <-gotA:
		t.Errorf("namespace a received %s from another sender", m.Address)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRebindReplacesNamespace(t *testing.T) {
	c := listenLoopback(t)
	noop := func(Message) {}

	c.Handle("dev:input", 0,
		Route{Address: "/monome/grid/key", Handler: noop},
		Route{Address: "/monome/tilt", Handler: noop},
	)
	c.Handle("other", 0, Route{Address: "/monome/grid/key", Handler: noop})

	c.Rebind("dev:input", 0,
		Route{Address: "/x/grid/key", Handler: noop},
		Route{Address: "/x/tilt", Handler: noop},
	)

	got := c.Addresses("dev:input")
	want := []string{"/x/grid/key", "/x/tilt"}
	if len(got) != len(want) {
		t.Fatalf("Addresses() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Addresses()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if other := c.Addresses("other"); len(other) != 1 {
		t.Errorf("Addresses(other) = %v, want untouched", other)
	}

	c.Remove("dev:input")
	if n := len(c.Addresses("dev:input")); n != 0 {
		t.Errorf("after Remove, %d routes remain", n)
	}

	c.RemoveAll()
	if s := c.Stats(); s.Listeners != 0 {
		t.Errorf("Stats().Listeners = %d after RemoveAll, want 0", s.Listeners)
	}
}

func TestBroadcast(t *testing.T) {
	sender := listenLoopback(t)
	a := listenLoopback(t)
	b := listenLoopback(t)

	got := make(chan Message, 4)
	for _, c := range []*Conn{a, b} {
		c.Handle("test", 0, Route{Address: "/serialosc/list", Handler: func(m Message) { got <- m }})
	}

	for _, c := range []*Conn{a, b, a} {
		if err := sender.AddTarget("127.0.0.1", c.Port()); err != nil {
			t.Fatalf("AddTarget() error = %v", err)
		}
	}

	if err := sender.Broadcast("/serialosc/list", String("localhost"), Int(4200)); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}

	waitMessage(t, got)
	waitMessage(t, got)
	select {
	case <-got:
		t.Error("duplicate target received the broadcast twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	server := listenLoopback(t)
	client := listenLoopback(t)

	got := make(chan Message, 1)
	server.Handle("test", 0,
		Route{Address: "/sys/id", Handler: func(Message) { panic("boom") }},
		Route{Address: "/sys/id", Handler: func(m Message) { got <- m }},
	)

	if err := client.Send(server.LocalAddr(), "/sys/id", String("m1")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	waitMessage(t, got)

	if s := server.Stats(); s.HandlerPanics != 1 {
		t.Errorf("HandlerPanics = %d, want 1", s.HandlerPanics)
	}
}

func TestListenPortInUse(t *testing.T) {
	c := listenLoopback(t)

	_, err := Listen(context.Background(), Config{Host: "127.0.0.1", Port: c.Port()})
	if !errors.Is(err, ErrBindFailed) {
		t.Errorf("Listen() on used port error = %v, want ErrBindFailed", err)
	}
}

func TestSendAfterClose(t *testing.T) {
	c := listenLoopback(t)
	to := c.LocalAddr()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := c.Send(to, "/sys/info"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close error = %v, want ErrClosed", err)
	}
}

func TestAddressMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		address string
		want    bool
	}{
		{"exact", "/sys/port", "/sys/port", true},
		{"exact mismatch", "/sys/port", "/sys/host", false},
		{"wildcard", "/sys/*", "/sys/host", true},
		{"wildcard stays in segment", "/sys/*", "/monome/grid/key", false},
		{"prefix is not a match", "/monome/grid", "/monome/grid/key", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := addressMatch(tt.pattern, tt.address); got != tt.want {
				t.Errorf("addressMatch(%q, %q) = %v, want %v", tt.pattern, tt.address, got, tt.want)
			}
		})
	}
}

func TestCloseFromHandler(t *testing.T) {
	server := listenLoopback(t)
	client := listenLoopback(t)

	var calls int
	closed := make(chan error, 1)
	server.Handle("test", 0,
		Route{Address: "/serialosc/device", Handler: func(Message) {
			calls++
			closed <- server.Close()
		}},
		Route{Address: "/serialosc/device", Handler: func(Message) { calls++ }},
	)

	if err := client.Send(server.LocalAddr(), "/serialosc/device", String("m1")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close() from handler error = %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Close() called from a handler did not return")
	}

	server.wg.Wait()
	if calls != 1 {
		t.Errorf("handlers invoked %d times, want 1 (none after Close)", calls)
	}
	if s := server.Stats(); s.Listeners != 0 {
		t.Errorf("Listeners = %d after Close, want 0", s.Listeners)
	}
}
