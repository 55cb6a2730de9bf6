package node

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clawdis/bridge/internal/bridge"
)

// fakeGateway accepts one node connection and drives the protocol from the
// gateway side.
type fakeGateway struct {
	t  *testing.T
	ln net.Listener

	conn net.Conn
	enc  *bridge.Encoder
	dec  *bridge.Decoder
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return &fakeGateway{t: t, ln: ln}
}

func (g *fakeGateway) endpoint() bridge.Endpoint {
	addr := g.ln.Addr().(*net.TCPAddr)
	return bridge.Endpoint{Host: "127.0.0.1", Port: addr.Port}
}

func (g *fakeGateway) accept() *bridge.Frame {
	g.t.Helper()
	conn, err := g.ln.Accept()
	if err != nil {
		g.t.Fatalf("Accept: %v", err)
	}
	g.conn = conn
	g.enc = bridge.NewEncoder(conn)
	g.dec = bridge.NewDecoder(conn, nil)

	hello, err := g.dec.Next()
	if err != nil {
		g.t.Fatalf("read hello: %v", err)
	}
	return hello
}

func (g *fakeGateway) send(f *bridge.Frame) {
	g.t.Helper()
	if err := g.enc.Encode(f); err != nil {
		g.t.Errorf("send %s: %v", f.Type, err)
	}
}

func (g *fakeGateway) next() *bridge.Frame {
	g.t.Helper()
	f, err := g.dec.Next()
	if err != nil {
		g.t.Fatalf("read frame: %v", err)
	}
	return f
}

type statusRecorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *statusRecorder) record(state State, reason string) {
	r.mu.Lock()
	r.entries = append(r.entries, string(state)+": "+reason)
	r.mu.Unlock()
}

func (r *statusRecorder) contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testIdentity(commands []string) bridge.Identity {
	return bridge.Identity{
		NodeID:      "test-node",
		DisplayName: "Test Node",
		Token:       "tok-1",
		Platform:    "test",
		Commands:    commands,
	}
}

func TestSession_HandshakeInvokeAndRequest(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(t)

	notifier := &fakeNotifier{}
	d := NewDispatcher(nil)
	RegisterCommands(d, Capabilities{Notifier: notifier}, Gates{}, nil)
	events := NewEventQueue(8, nil)
	status := &statusRecorder{}

	s := NewSession(SessionOptions{
		Dispatcher:   d,
		Events:       events,
		OnStatus:     status.record,
		PingInterval: -1,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Connect(gw.endpoint(), testIdentity(d.Commands()))

	hello := gw.accept()
	if hello.Type != bridge.TypeHello || hello.NodeID != "test-node" || hello.Token != "tok-1" {
		t.Fatalf("hello = %+v", hello)
	}
	if len(hello.Commands) != 1 || hello.Commands[0] != CmdSystemNotify {
		t.Fatalf("hello commands = %v", hello.Commands)
	}
	gw.send(&bridge.Frame{Type: bridge.TypeHelloOK, ServerName: "gw-test"})

	waitFor(t, "connected state", s.Connected)
	if s.ServerName() != "gw-test" {
		t.Errorf("ServerName = %q", s.ServerName())
	}

	// Gateway-initiated invoke.
	gw.send(&bridge.Frame{Type: bridge.TypeInvoke, ID: "i1", Command: CmdSystemNotify, ParamsJSON: `{"title":"hi"}`})
	res := gw.next()
	if res.Type != bridge.TypeInvokeRes || res.ID != "i1" || !res.Okay() {
		t.Fatalf("invoke-res = %+v", res)
	}
	if len(notifier.titles) != 1 || notifier.titles[0] != "hi" {
		t.Errorf("notifier titles = %v", notifier.titles)
	}

	// Liveness: gateway ping gets a matching pong.
	gw.send(&bridge.Frame{Type: bridge.TypePing, ID: "p1"})
	if pong := gw.next(); pong.Type != bridge.TypePong || pong.ID != "p1" {
		t.Fatalf("pong = %+v", pong)
	}

	// Gateway event lands in the queue.
	gw.send(&bridge.Frame{Type: bridge.TypeEvent, ID: "e1", Event: "agent.request", PayloadJSON: `{"q":1}`})
	waitFor(t, "event delivery", func() bool { return len(events.Events()) > 0 })
	ev := <-events.Events()
	if ev.Name != "agent.request" || ev.PayloadJSON != `{"q":1}` {
		t.Errorf("event = %+v", ev)
	}

	// Node-initiated request round trip.
	type reqResult struct {
		r   bridge.Result
		err error
	}
	done := make(chan reqResult, 1)
	go func() {
		r, err := s.Request(context.Background(), "prefs.get", map[string]string{"key": "volume"})
		done <- reqResult{r, err}
	}()
	req := gw.next()
	if req.Type != bridge.TypeReq || req.Method != "prefs.get" {
		t.Fatalf("req = %+v", req)
	}
	gw.send(&bridge.Frame{Type: bridge.TypeRes, ID: req.ID, OK: bridge.Bool(true), PayloadJSON: `{"value":"0.5"}`})
	got := <-done
	if got.err != nil || !got.r.OK || got.r.PayloadJSON != `{"value":"0.5"}` {
		t.Fatalf("request result = %+v, err %v", got.r, got.err)
	}

	// Node-originated event helper.
	if err := s.SendTranscript("turn on the lights"); err != nil {
		t.Fatalf("SendTranscript: %v", err)
	}
	tr := gw.next()
	if tr.Type != bridge.TypeEvent || tr.Event != EventVoiceTranscript || tr.PayloadJSON != `{"text":"turn on the lights"}` {
		t.Fatalf("transcript event = %+v", tr)
	}

	// Disconnect tears down and parks the session, reporting Offline.
	s.Disconnect()
	waitFor(t, "idle state", func() bool { return s.State() == StateIdle })
	waitFor(t, "offline status", func() bool { return status.contains("Offline") })
	if err := s.SendEvent("x", nil); err == nil {
		t.Error("SendEvent after disconnect should fail")
	}
}

func TestSession_RejectedHelloTriggersReconnect(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(t)
	status := &statusRecorder{}

	s := NewSession(SessionOptions{
		Dispatcher:   NewDispatcher(nil),
		OnStatus:     status.record,
		PingInterval: -1,
		Backoff:      bridge.Backoff{Base: 10 * time.Millisecond, Growth: 1.1, Max: 20 * time.Millisecond},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Connect(gw.endpoint(), testIdentity(nil))

	gw.accept()
	gw.send(&bridge.Frame{Type: bridge.TypeError, Code: bridge.CodeNotAuthorized, Message: "bad token"})

	waitFor(t, "reconnecting status", func() bool { return status.contains("reconnecting in") })
	if !status.contains("bad token") {
		t.Error("status should carry the rejection reason")
	}

	// The supervisor retries: a second hello arrives without another Connect.
	hello := gw.accept()
	if hello.Type != bridge.TypeHello {
		t.Fatalf("second hello = %+v", hello)
	}
	s.Disconnect()
}

func TestSession_ConnectSupersedesStalledAttempt(t *testing.T) {
	t.Parallel()

	gwA := newFakeGateway(t)
	gwB := newFakeGateway(t)
	status := &statusRecorder{}

	s := NewSession(SessionOptions{
		Dispatcher:   NewDispatcher(nil),
		OnStatus:     status.record,
		PingInterval: -1,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// First target answers nothing after hello, so the attempt sits in the
	// handshake read.
	s.Connect(gwA.endpoint(), testIdentity(nil))
	if hello := gwA.accept(); hello.Type != bridge.TypeHello {
		t.Fatalf("first hello = %+v", hello)
	}

	// A newer Connect takes over without waiting the handshake out.
	s.Connect(gwB.endpoint(), testIdentity(nil))
	if hello := gwB.accept(); hello.Type != bridge.TypeHello {
		t.Fatalf("second hello = %+v", hello)
	}
	gwB.send(&bridge.Frame{Type: bridge.TypeHelloOK, ServerName: "gw-b"})

	waitFor(t, "connection to the new gateway", func() bool {
		return s.Connected() && s.ServerName() == "gw-b"
	})

	// The stale attempt's socket was closed, not left dangling.
	gwA.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if f, err := gwA.dec.Next(); err == nil {
		t.Fatalf("stale connection still alive, read %+v", f)
	}

	s.Disconnect()
}

func TestSession_DisconnectFailsPendingRequests(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(t)
	s := NewSession(SessionOptions{Dispatcher: NewDispatcher(nil), PingInterval: -1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Connect(gw.endpoint(), testIdentity(nil))
	gw.accept()
	gw.send(&bridge.Frame{Type: bridge.TypeHelloOK, ServerName: "gw"})
	waitFor(t, "connected state", s.Connected)

	done := make(chan error, 1)
	go func() {
		_, err := s.Request(context.Background(), "prefs.get", nil)
		done <- err
	}()
	gw.next() // req is on the wire, now yank the session
	s.Disconnect()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Request returned transport error %v, want protocol failure", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pending request not failed on disconnect")
	}
}
