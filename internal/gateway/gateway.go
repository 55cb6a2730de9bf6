package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clawdis/bridge/internal/bridge"
	"github.com/clawdis/bridge/internal/prefs"
)

// Gateway accepts node connections over raw TCP and WebSocket, runs the
// hello handshake, and keeps one NodeSession per node id.
type Gateway struct {
	config  Config
	timings timings
	logger  *slog.Logger

	registry *NodeRegistry
	methods  *MethodSet
	metrics  *Metrics
	events   *EventFeed

	tokenMu sync.RWMutex
	tokens  map[string]struct{}

	externalSweep bool

	ln         net.Listener
	httpServer *http.Server
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewGateway builds a gateway from validated config. store may be nil when
// no preference module is loaded.
func NewGateway(config Config, store prefs.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	config.defaults()
	t, err := config.parseTimings()
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		config:   config,
		timings:  t,
		logger:   logger,
		registry: NewNodeRegistry(),
		methods:  NewMethodSet(logger),
		metrics:  NewMetrics(),
		events:   NewEventFeed(config.EventBuffer, logger),
		tokens:   make(map[string]struct{}, len(config.Tokens)),
	}
	for _, tok := range config.Tokens {
		if tok != "" {
			g.tokens[tok] = struct{}{}
		}
	}
	g.methods.RegisterBuiltins(store)
	return g, nil
}

// Registry exposes the live node sessions.
func (g *Gateway) Registry() *NodeRegistry { return g.registry }

// Methods exposes the req method registry so other modules can add methods.
func (g *Gateway) Methods() *MethodSet { return g.methods }

// Events exposes the feed of node events for gateway-side consumers.
func (g *Gateway) Events() *EventFeed { return g.events }

// UseExternalSweeper hands stale-node sweeping to an outside caller of
// SweepStale (the cron job); the gateway then skips its internal sweep loop.
// Must be called before Start.
func (g *Gateway) UseExternalSweeper() { g.externalSweep = true }

// Start opens the listeners and launches the accept, ping, and sweep loops.
func (g *Gateway) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel

	ln, err := net.Listen("tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", g.config.Bind, err)
	}
	g.ln = ln

	g.wg.Add(1)
	go g.acceptLoop(ctx)

	if g.config.HTTPBind != "" {
		g.httpServer = &http.Server{
			Addr:         g.config.HTTPBind,
			Handler:      g.buildRouter(),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // streaming websocket connections
		}
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				g.logger.Error("http server failed", "error", err)
			}
		}()
	}

	if !g.externalSweep {
		g.wg.Add(1)
		go g.sweepLoop(ctx)
	}

	g.logger.Info("gateway started",
		"bind", ln.Addr().String(),
		"http", g.config.HTTPBind,
		"server", g.config.ServerName,
		"pairing", g.config.AllowPairing)
	return nil
}

// Addr returns the bound TCP address, for tests binding port 0.
func (g *Gateway) Addr() string {
	if g.ln == nil {
		return ""
	}
	return g.ln.Addr().String()
}

// Stop closes the listeners and every node session.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.cancel != nil {
		g.cancel()
	}
	if g.ln != nil {
		g.ln.Close()
	}
	if g.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, g.timings.shutdownTimeout)
		defer cancel()
		_ = g.httpServer.Shutdown(shutdownCtx)
	}

	g.registry.Range(func(s *NodeSession) bool {
		s.close("gateway shutting down")
		return true
	})

	g.wg.Wait()
	g.logger.Info("gateway stopped")
	return nil
}

func (g *Gateway) acceptLoop(ctx context.Context) {
	defer g.wg.Done()
	for {
		conn, err := g.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			g.logger.Warn("accept failed", "error", err)
			continue
		}
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.HandleConn(ctx, conn)
		}()
	}
}

// HandleConn runs one node connection end to end: handshake (optionally
// preceded by pairing), registration, read loop, cleanup. It works over any
// net.Conn, which is how the WebSocket path reuses it.
func (g *Gateway) HandleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	enc := bridge.NewEncoder(conn)
	dec := bridge.NewDecoder(conn, g.logger)

	hello, err := g.handshake(conn, enc, dec)
	if err != nil {
		g.metrics.HandshakeFailures.Inc()
		g.logger.Warn("handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}

	session := newNodeSession(conn, hello, g.timings.invokeTimeout)
	if old := g.registry.Add(session); old != nil {
		g.logger.Info("node reconnected, superseding previous session", "nodeId", session.NodeID)
		old.close("superseded by a new connection")
	} else {
		g.metrics.NodesConnected.Inc()
	}

	if err := enc.Encode(&bridge.Frame{
		Type:          bridge.TypeHelloOK,
		ServerName:    g.config.ServerName,
		CanvasHostURL: g.config.CanvasHostURL,
	}); err != nil {
		g.logger.Warn("failed to send hello-ok", "nodeId", session.NodeID, "error", err)
		g.removeSession(session)
		return
	}
	g.metrics.FramesTotal.WithLabelValues("out", string(bridge.TypeHelloOK)).Inc()

	g.logger.Info("node connected",
		"nodeId", session.NodeID,
		"displayName", session.DisplayName,
		"platform", session.Platform,
		"commands", len(session.Commands))

	pingCtx, cancelPing := context.WithCancel(ctx)
	if g.timings.pingInterval > 0 {
		g.wg.Add(1)
		go g.pingLoop(pingCtx, session)
	}

	g.readLoop(ctx, session, dec)

	cancelPing()
	g.removeSession(session)
	g.logger.Info("node disconnected", "nodeId", session.NodeID)
}

func (g *Gateway) removeSession(s *NodeSession) {
	if current, ok := g.registry.Get(s.NodeID); !ok || current != s {
		// Superseded: the replacement owns the gauge now.
		s.close("")
		return
	}
	g.registry.Remove(s)
	g.metrics.NodesConnected.Dec()
	s.close("")
}

// handshake reads the first frame and authenticates the node. A
// pair-request may precede the hello when pairing is allowed.
func (g *Gateway) handshake(conn net.Conn, enc *bridge.Encoder, dec *bridge.Decoder) (*bridge.Frame, error) {
	conn.SetReadDeadline(time.Now().Add(g.timings.helloTimeout))
	defer conn.SetReadDeadline(time.Time{})

	first, err := dec.Next()
	if err != nil {
		return nil, fmt.Errorf("read first frame: %w", err)
	}
	g.metrics.FramesTotal.WithLabelValues("in", string(first.Type)).Inc()

	if first.Type == bridge.TypePairRequest {
		if err := g.handlePairRequest(enc, first); err != nil {
			return nil, err
		}
		conn.SetReadDeadline(time.Now().Add(g.timings.helloTimeout))
		first, err = dec.Next()
		if err != nil {
			return nil, fmt.Errorf("read hello after pairing: %w", err)
		}
		g.metrics.FramesTotal.WithLabelValues("in", string(first.Type)).Inc()
	}

	if first.Type != bridge.TypeHello {
		g.reject(enc, bridge.CodeInvalidRequest, fmt.Sprintf("expected hello, got %s", first.Type))
		return nil, fmt.Errorf("unexpected %s frame", first.Type)
	}
	if first.NodeID == "" {
		g.reject(enc, bridge.CodeInvalidRequest, "hello missing nodeId")
		return nil, errors.New("hello missing nodeId")
	}
	if !g.tokenValid(first.Token) {
		g.reject(enc, bridge.CodeNotAuthorized, "invalid token")
		return nil, fmt.Errorf("node %s presented an invalid token", first.NodeID)
	}
	return first, nil
}

func (g *Gateway) handlePairRequest(enc *bridge.Encoder, req *bridge.Frame) error {
	if !g.config.AllowPairing {
		g.reject(enc, bridge.CodeNotAuthorized, "pairing is disabled")
		return errors.New("pairing disabled")
	}
	if req.NodeID == "" {
		g.reject(enc, bridge.CodeInvalidRequest, "pair-request missing nodeId")
		return errors.New("pair-request missing nodeId")
	}

	token := uuid.NewString()
	g.addToken(token)
	g.metrics.PairingsTotal.Inc()
	g.logger.Info("issued pairing token", "nodeId", req.NodeID, "displayName", req.DisplayName)

	if err := enc.Encode(&bridge.Frame{Type: bridge.TypePairOK, ID: req.ID, Token: token}); err != nil {
		return fmt.Errorf("send pair-ok: %w", err)
	}
	g.metrics.FramesTotal.WithLabelValues("out", string(bridge.TypePairOK)).Inc()
	return nil
}

func (g *Gateway) reject(enc *bridge.Encoder, code, message string) {
	_ = enc.Encode(&bridge.Frame{Type: bridge.TypeError, Code: code, Message: message})
}

func (g *Gateway) tokenValid(token string) bool {
	if token == "" {
		return false
	}
	g.tokenMu.RLock()
	defer g.tokenMu.RUnlock()
	_, ok := g.tokens[token]
	return ok
}

func (g *Gateway) addToken(token string) {
	g.tokenMu.Lock()
	g.tokens[token] = struct{}{}
	g.tokenMu.Unlock()
}

// readLoop routes every inbound frame for a registered session until the
// connection breaks.
func (g *Gateway) readLoop(ctx context.Context, s *NodeSession, dec *bridge.Decoder) {
	for {
		f, err := dec.Next()
		if err != nil {
			return
		}
		s.touch()
		g.metrics.FramesTotal.WithLabelValues("in", string(f.Type)).Inc()

		switch f.Type {
		case bridge.TypeInvokeRes, bridge.TypeRes:
			s.pending.Complete(f.ID, bridge.Result{OK: f.Okay(), PayloadJSON: f.PayloadJSON, Err: f.Error})
		case bridge.TypePong:
			s.pending.Complete(f.ID, bridge.Result{OK: true})
		case bridge.TypePing:
			if err := s.send(&bridge.Frame{Type: bridge.TypePong, ID: f.ID}); err == nil {
				g.metrics.FramesTotal.WithLabelValues("out", string(bridge.TypePong)).Inc()
			}
		case bridge.TypeReq:
			frame := f
			g.wg.Add(1)
			go func() {
				defer g.wg.Done()
				res := g.methods.Dispatch(ctx, s, frame)
				if err := s.send(res); err != nil {
					g.logger.Warn("failed to send res", "nodeId", s.NodeID, "method", frame.Method, "error", err)
					return
				}
				g.metrics.FramesTotal.WithLabelValues("out", string(bridge.TypeRes)).Inc()
			}()
		case bridge.TypeEvent:
			g.metrics.EventsTotal.Inc()
			g.events.Publish(NodeEvent{NodeID: s.NodeID, Name: f.Event, PayloadJSON: f.PayloadJSON})
		default:
			g.logger.Debug("ignoring frame from node", "nodeId", s.NodeID, "type", string(f.Type))
		}
	}
}

// pingLoop keeps the session warm; pongs refresh lastSeen via the read
// loop, and the sweep reaps nodes that stop answering.
func (g *Gateway) pingLoop(ctx context.Context, s *NodeSession) {
	defer g.wg.Done()
	ticker := time.NewTicker(g.timings.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Ping(ctx, g.timings.pingInterval); err != nil {
				g.logger.Debug("ping failed", "nodeId", s.NodeID, "error", err)
			}
		}
	}
}

func (g *Gateway) sweepLoop(ctx context.Context) {
	defer g.wg.Done()
	interval := g.timings.staleAfter / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.SweepStale()
		}
	}
}

// SweepStale disconnects every node that has been silent longer than
// stale_after. Returns how many sessions were reaped.
func (g *Gateway) SweepStale() int {
	cutoff := time.Now().Add(-g.timings.staleAfter)
	reaped := 0
	g.registry.Range(func(s *NodeSession) bool {
		if s.LastSeen().Before(cutoff) {
			g.logger.Warn("node unresponsive, disconnecting", "nodeId", s.NodeID, "lastSeen", s.LastSeen())
			s.close("unresponsive, disconnecting")
			reaped++
		}
		return true
	})
	return reaped
}

// Invoke routes a command to a connected node by id.
func (g *Gateway) Invoke(ctx context.Context, nodeID, command string, params any) (bridge.Result, error) {
	s, ok := g.registry.Get(nodeID)
	if !ok {
		return bridge.Result{}, fmt.Errorf("gateway: node %q not connected", nodeID)
	}

	start := time.Now()
	g.metrics.FramesTotal.WithLabelValues("out", string(bridge.TypeInvoke)).Inc()
	r, err := s.Invoke(ctx, command, params)
	g.metrics.InvokeSeconds.WithLabelValues(command).Observe(time.Since(start).Seconds())

	status := "ok"
	switch {
	case err != nil:
		status = "transport_error"
	case !r.OK:
		status = "error"
	}
	g.metrics.InvokesTotal.WithLabelValues(command, status).Inc()
	return r, err
}
