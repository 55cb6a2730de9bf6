package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clawdis/bridge/internal/bridge"
)

// State is the lifecycle phase of a node session.
type State string

// Session states. Only one connection attempt owns the session at a time;
// a newer Connect supersedes an in-flight attempt via the generation
// counter.
const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateHandshaking  State = "handshaking"
	StateConnected    State = "connected"
	StateClosing      State = "closing"
	StateReconnecting State = "reconnecting"
)

// Default session timings.
const (
	DefaultDialTimeout      = 8 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultRequestTimeout   = 30 * time.Second
	DefaultPingInterval     = 30 * time.Second
	defaultPairTimeout      = 2 * time.Minute
	pingMissLimit           = 3
	idlePollInterval        = time.Second
)

// StatusFunc receives state transitions with a human-readable reason.
type StatusFunc func(state State, reason string)

// SessionOptions configures a Session. Zero-value durations take the
// package defaults; nil callbacks are skipped.
type SessionOptions struct {
	Logger     *slog.Logger
	Dispatcher *Dispatcher
	A2UI       *A2UI
	Events     *EventQueue

	// OnStatus is called on every state transition.
	OnStatus StatusFunc
	// OnPaired receives the token issued by a silent pairing exchange.
	OnPaired func(token string)

	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	PingInterval     time.Duration
	Backoff          bridge.Backoff
}

type desired struct {
	ep bridge.Endpoint
	id bridge.Identity
}

// Session owns one logical connection to a gateway: dial, hello handshake,
// frame routing, outbound requests, and teardown. Run supervises reconnects
// for as long as a desired endpoint is set.
type Session struct {
	logger     *slog.Logger
	dispatcher *Dispatcher
	a2ui       *A2UI
	events     *EventQueue
	onStatus   StatusFunc
	onPaired   func(string)

	dialTimeout      time.Duration
	handshakeTimeout time.Duration
	requestTimeout   time.Duration
	pingInterval     time.Duration
	backoff          bridge.Backoff

	pending *bridge.PendingTable
	wake    chan struct{}

	mu            sync.Mutex
	want          *desired
	gen           uint64
	state         State
	conn          net.Conn
	enc           *bridge.Encoder
	serverName    string
	canvasHostURL string
}

// NewSession creates a session in the Idle state.
func NewSession(opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		logger:           logger,
		dispatcher:       opts.Dispatcher,
		a2ui:             opts.A2UI,
		events:           opts.Events,
		onStatus:         opts.OnStatus,
		onPaired:         opts.OnPaired,
		dialTimeout:      opts.DialTimeout,
		handshakeTimeout: opts.HandshakeTimeout,
		requestTimeout:   opts.RequestTimeout,
		pingInterval:     opts.PingInterval,
		backoff:          opts.Backoff,
		pending:          bridge.NewPendingTable(),
		wake:             make(chan struct{}, 1),
		state:            StateIdle,
	}
	if s.dialTimeout <= 0 {
		s.dialTimeout = DefaultDialTimeout
	}
	if s.handshakeTimeout <= 0 {
		s.handshakeTimeout = DefaultHandshakeTimeout
	}
	if s.requestTimeout <= 0 {
		s.requestTimeout = DefaultRequestTimeout
	}
	if s.pingInterval == 0 {
		s.pingInterval = DefaultPingInterval
	}
	if s.backoff.Base <= 0 {
		s.backoff = bridge.DefaultBackoff()
	}
	return s
}

// Connect sets the desired gateway. Any in-flight attempt or live
// connection for a previous target is superseded immediately.
func (s *Session) Connect(ep bridge.Endpoint, id bridge.Identity) {
	s.mu.Lock()
	s.want = &desired{ep: ep, id: id}
	s.gen++
	s.closeConnLocked()
	s.mu.Unlock()

	s.pending.CancelAll("not connected")
	if s.a2ui != nil {
		s.a2ui.Clear()
	}
	s.poke()
}

// Disconnect clears the desired gateway and tears down the connection.
// Bumping the generation here means the old attempt's teardown becomes a
// no-op, so pending requests are failed directly.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.want = nil
	s.gen++
	hadConn := s.conn != nil
	s.closeConnLocked()
	s.state = StateClosing
	s.mu.Unlock()

	if hadConn {
		s.notify(StateClosing, "disconnect requested")
	}
	s.pending.CancelAll("not connected")
	if s.a2ui != nil {
		s.a2ui.Clear()
	}
	s.poke()
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the hello handshake has completed on the
// current connection.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// ServerName returns the gateway's advertised name for the live session.
func (s *Session) ServerName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverName
}

// CanvasHostURL returns the resolved canvas base URL for the live session.
func (s *Session) CanvasHostURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canvasHostURL
}

// Request sends a req frame and waits for the matching res.
func (s *Session) Request(ctx context.Context, method string, params any) (bridge.Result, error) {
	enc, err := s.liveEncoder()
	if err != nil {
		return bridge.Result{}, err
	}
	paramsJSON, err := encodeParams(params)
	if err != nil {
		return bridge.Result{}, err
	}

	id := uuid.NewString()
	ch, err := s.pending.Register(id)
	if err != nil {
		return bridge.Result{}, err
	}
	frame := &bridge.Frame{Type: bridge.TypeReq, ID: id, Method: method, ParamsJSON: paramsJSON}
	if err := enc.Encode(frame); err != nil {
		s.pending.Forget(id)
		return bridge.Result{}, err
	}

	r, err := bridge.Await(ctx, ch, s.requestTimeout)
	if err != nil {
		s.pending.Forget(id)
		return bridge.Result{}, err
	}
	return r, nil
}

// SendEvent emits a fire-and-forget event frame to the gateway.
func (s *Session) SendEvent(name string, payload any) error {
	enc, err := s.liveEncoder()
	if err != nil {
		return err
	}
	payloadJSON, err := encodeParams(payload)
	if err != nil {
		return err
	}
	return enc.Encode(&bridge.Frame{
		Type:        bridge.TypeEvent,
		ID:          uuid.NewString(),
		Event:       name,
		PayloadJSON: payloadJSON,
	})
}

// SendTranscript forwards a recognized voice utterance to the gateway.
func (s *Session) SendTranscript(text string) error {
	return s.SendEvent(EventVoiceTranscript, map[string]string{"text": text})
}

// SendAgentRequest asks the gateway's agent to handle a message.
func (s *Session) SendAgentRequest(message string) error {
	return s.SendEvent(EventAgentRequest, map[string]string{"message": message})
}

func encodeParams(params any) (string, error) {
	switch v := params.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("node: encode params: %w", err)
	}
	return string(raw), nil
}

func (s *Session) liveEncoder() (*bridge.Encoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.enc == nil {
		return nil, ErrNotConnected
	}
	return s.enc, nil
}

// connectOnce performs a single dial/handshake/read-loop cycle. It reports
// whether the Connected state was reached so the supervisor can reset its
// backoff, and returns nil when the attempt was superseded or ended
// cleanly.
func (s *Session) connectOnce(ctx context.Context, d desired, gen uint64) (connected bool, err error) {
	s.setState(gen, StateConnecting, "connecting to "+d.ep.Addr())

	dialer := net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.ep.Addr())
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", d.ep.Addr(), err)
	}
	if !s.installConn(conn, gen) {
		conn.Close()
		return false, nil
	}
	defer s.teardown(gen)

	enc := bridge.NewEncoder(conn)
	dec := bridge.NewDecoder(conn, s.logger)
	s.setEncoder(gen, enc)
	s.setState(gen, StateHandshaking, "handshaking")

	ident := d.id
	if ident.Token == "" && s.onPaired != nil {
		token, perr := s.pair(conn, enc, dec, ident)
		if perr != nil {
			return false, perr
		}
		ident.Token = token
		s.onPaired(token)
	}

	if err := enc.Encode(ident.HelloFrame()); err != nil {
		return false, fmt.Errorf("send hello: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))
	reply, err := dec.Next()
	if err != nil {
		return false, fmt.Errorf("handshake read: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	switch reply.Type {
	case bridge.TypeHelloOK:
	case bridge.TypeError:
		return false, fmt.Errorf("gateway rejected hello: %s: %s", reply.Code, reply.Message)
	default:
		return false, fmt.Errorf("unexpected %s frame during handshake", reply.Type)
	}

	if !s.becomeConnected(gen, reply, d.ep) {
		return false, nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.pingInterval > 0 {
		go s.pingLoop(loopCtx, conn, enc)
	}
	return true, s.readLoop(loopCtx, dec, enc)
}

// pair performs the silent pairing exchange for a node without a stored
// token: send pair-request, wait for pair-ok carrying the issued token.
func (s *Session) pair(conn net.Conn, enc *bridge.Encoder, dec *bridge.Decoder, ident bridge.Identity) (string, error) {
	s.logger.Info("no stored token, requesting pairing", "nodeId", ident.NodeID)
	req := &bridge.Frame{
		Type:        bridge.TypePairRequest,
		ID:          uuid.NewString(),
		NodeID:      ident.NodeID,
		DisplayName: ident.DisplayName,
		Platform:    ident.Platform,
		Silent:      true,
	}
	if err := enc.Encode(req); err != nil {
		return "", fmt.Errorf("send pair-request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(defaultPairTimeout))
	defer conn.SetReadDeadline(time.Time{})
	for {
		f, err := dec.Next()
		if err != nil {
			return "", fmt.Errorf("pairing read: %w", err)
		}
		switch f.Type {
		case bridge.TypePairOK:
			if f.Token == "" {
				return "", errors.New("pair-ok carried no token")
			}
			s.logger.Info("pairing approved", "nodeId", ident.NodeID)
			return f.Token, nil
		case bridge.TypeError:
			return "", fmt.Errorf("pairing rejected: %s: %s", f.Code, f.Message)
		case bridge.TypePing:
			_ = enc.Encode(&bridge.Frame{Type: bridge.TypePong, ID: f.ID})
		default:
			s.logger.Debug("ignoring frame while pairing", "type", string(f.Type))
		}
	}
}

// readLoop routes inbound frames until the connection breaks or the
// context is cancelled.
func (s *Session) readLoop(ctx context.Context, dec *bridge.Decoder, enc *bridge.Encoder) error {
	for {
		f, err := dec.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return errors.New("connection closed by gateway")
			}
			return err
		}

		switch f.Type {
		case bridge.TypeRes:
			s.pending.Complete(f.ID, bridge.Result{OK: f.Okay(), PayloadJSON: f.PayloadJSON, Err: f.Error})
		case bridge.TypePong:
			s.pending.Complete(f.ID, bridge.Result{OK: true})
		case bridge.TypePing:
			_ = enc.Encode(&bridge.Frame{Type: bridge.TypePong, ID: f.ID})
		case bridge.TypeInvoke:
			go s.handleInvoke(ctx, enc, f)
		case bridge.TypeEvent:
			if s.events != nil {
				s.events.Publish(Event{Name: f.Event, PayloadJSON: f.PayloadJSON})
			}
		case bridge.TypeReq:
			// Nodes expose no req methods; only the gateway does.
			_ = enc.Encode(&bridge.Frame{
				Type:  bridge.TypeRes,
				ID:    f.ID,
				OK:    bridge.Bool(false),
				Error: bridge.NewError(bridge.CodeUnavailable, fmt.Sprintf("method %q not available on node", f.Method)),
			})
		case bridge.TypeError:
			return fmt.Errorf("gateway error: %s: %s", f.Code, f.Message)
		default:
			s.logger.Debug("ignoring frame", "type", string(f.Type))
		}
	}
}

func (s *Session) handleInvoke(ctx context.Context, enc *bridge.Encoder, f *bridge.Frame) {
	res := InvokeResult{Err: bridge.NewError(bridge.CodeUnavailable, "node has no command dispatcher")}
	if s.dispatcher != nil {
		res = s.dispatcher.Dispatch(ctx, InvokeRequest{ID: f.ID, Command: f.Command, ParamsJSON: f.ParamsJSON})
	}
	reply := &bridge.Frame{
		Type:        bridge.TypeInvokeRes,
		ID:          f.ID,
		OK:          bridge.Bool(res.OK),
		PayloadJSON: res.PayloadJSON,
		Error:       res.Err,
	}
	if err := enc.Encode(reply); err != nil {
		s.logger.Warn("failed to send invoke-res", "command", f.Command, "error", err)
	}
}

// pingLoop sends correlated pings and closes the connection after
// pingMissLimit consecutive misses, forcing the read loop to exit.
func (s *Session) pingLoop(ctx context.Context, conn net.Conn, enc *bridge.Encoder) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.pingOnce(ctx, enc) {
			misses = 0
			continue
		}
		misses++
		if misses >= pingMissLimit {
			s.logger.Warn("gateway unresponsive, closing connection", "missedPings", misses)
			conn.Close()
			return
		}
	}
}

func (s *Session) pingOnce(ctx context.Context, enc *bridge.Encoder) bool {
	id := uuid.NewString()
	ch, err := s.pending.Register(id)
	if err != nil {
		return false
	}
	if err := enc.Encode(&bridge.Frame{Type: bridge.TypePing, ID: id}); err != nil {
		s.pending.Forget(id)
		return false
	}
	r, err := bridge.Await(ctx, ch, s.pingInterval)
	if err != nil {
		s.pending.Forget(id)
		return false
	}
	return r.OK
}

// installConn records the live connection if this attempt still owns the
// session.
func (s *Session) installConn(conn net.Conn, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.want == nil {
		return false
	}
	s.conn = conn
	return true
}

func (s *Session) setEncoder(gen uint64, enc *bridge.Encoder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.enc = enc
	}
}

func (s *Session) becomeConnected(gen uint64, reply *bridge.Frame, ep bridge.Endpoint) bool {
	canvasURL := ""
	if s.a2ui != nil {
		canvasURL = s.a2ui.SetHost(reply.CanvasHostURL, ep)
	} else {
		canvasURL = ResolveCanvasHost(reply.CanvasHostURL, ep)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	s.serverName = reply.ServerName
	s.canvasHostURL = canvasURL
	s.state = StateConnected
	s.mu.Unlock()

	s.logger.Info("connected to gateway", "server", reply.ServerName, "canvasHost", canvasURL)
	s.notify(StateConnected, "connected to "+reply.ServerName)
	return true
}

// teardown releases the connection owned by gen: close the socket, fail
// every pending request, and clear the per-session canvas host.
func (s *Session) teardown(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.closeConnLocked()
	s.mu.Unlock()

	s.pending.CancelAll("not connected")
	if s.a2ui != nil {
		s.a2ui.Clear()
	}
}

// closeConnLocked closes and forgets the live connection. Caller holds mu.
func (s *Session) closeConnLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.enc = nil
	s.serverName = ""
	s.canvasHostURL = ""
}

func (s *Session) setState(gen uint64, state State, reason string) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()
	s.notify(state, reason)
}

func (s *Session) notify(state State, reason string) {
	if s.onStatus != nil {
		s.onStatus(state, reason)
	}
	s.logger.Debug("session state", "state", string(state), "reason", reason)
}

func (s *Session) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) snapshot() (*desired, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.want == nil {
		return nil, s.gen
	}
	d := *s.want
	return &d, s.gen
}

func (s *Session) stillWanted(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.want != nil
}
