package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clawdis/bridge/internal/bridge"
)

// NodeSession is one authenticated node connection as seen from the
// gateway. It owns the socket, correlates the gateway's outbound invokes
// and pings, and tracks liveness.
type NodeSession struct {
	NodeID          string
	DisplayName     string
	Platform        string
	Version         string
	DeviceFamily    string
	ModelIdentifier string
	Caps            []string
	Commands        []string

	ConnectedAt time.Time

	conn    net.Conn
	enc     *bridge.Encoder
	pending *bridge.PendingTable

	invokeTimeout time.Duration

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
}

func newNodeSession(conn net.Conn, hello *bridge.Frame, invokeTimeout time.Duration) *NodeSession {
	now := time.Now()
	return &NodeSession{
		NodeID:          hello.NodeID,
		DisplayName:     hello.DisplayName,
		Platform:        hello.Platform,
		Version:         hello.Version,
		DeviceFamily:    hello.DeviceFamily,
		ModelIdentifier: hello.ModelIdentifier,
		Caps:            hello.Caps,
		Commands:        hello.Commands,
		ConnectedAt:     now,
		conn:            conn,
		enc:             bridge.NewEncoder(conn),
		pending:         bridge.NewPendingTable(),
		invokeTimeout:   invokeTimeout,
		lastSeen:        now,
	}
}

// Summary returns the serializable view of this session.
func (s *NodeSession) Summary() NodeSummary {
	s.mu.Lock()
	lastSeen := s.lastSeen
	s.mu.Unlock()
	return NodeSummary{
		NodeID:      s.NodeID,
		DisplayName: s.DisplayName,
		Platform:    s.Platform,
		Version:     s.Version,
		Caps:        s.Caps,
		Commands:    s.Commands,
		ConnectedAt: s.ConnectedAt,
		LastSeenAt:  lastSeen,
	}
}

// LastSeen returns when the node last produced a frame.
func (s *NodeSession) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *NodeSession) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// SupportsCommand reports whether the node advertised a command.
func (s *NodeSession) SupportsCommand(command string) bool {
	for _, c := range s.Commands {
		if c == command {
			return true
		}
	}
	return false
}

// Invoke sends a command to the node and waits for the invoke-res.
func (s *NodeSession) Invoke(ctx context.Context, command string, params any) (bridge.Result, error) {
	paramsJSON, err := encodeJSON(params)
	if err != nil {
		return bridge.Result{}, err
	}

	id := uuid.NewString()
	ch, err := s.pending.Register(id)
	if err != nil {
		return bridge.Result{}, err
	}
	frame := &bridge.Frame{Type: bridge.TypeInvoke, ID: id, Command: command, ParamsJSON: paramsJSON}
	if err := s.send(frame); err != nil {
		s.pending.Forget(id)
		return bridge.Result{}, err
	}

	r, err := bridge.Await(ctx, ch, s.invokeTimeout)
	if err != nil {
		s.pending.Forget(id)
		return bridge.Result{}, err
	}
	return r, nil
}

// Ping sends a correlated ping and waits for the pong.
func (s *NodeSession) Ping(ctx context.Context, timeout time.Duration) error {
	id := uuid.NewString()
	ch, err := s.pending.Register(id)
	if err != nil {
		return err
	}
	if err := s.send(&bridge.Frame{Type: bridge.TypePing, ID: id}); err != nil {
		s.pending.Forget(id)
		return err
	}
	if _, err := bridge.Await(ctx, ch, timeout); err != nil {
		s.pending.Forget(id)
		return err
	}
	return nil
}

// SendEvent pushes a fire-and-forget event frame to the node.
func (s *NodeSession) SendEvent(name string, payload any) error {
	payloadJSON, err := encodeJSON(payload)
	if err != nil {
		return err
	}
	return s.send(&bridge.Frame{
		Type:        bridge.TypeEvent,
		ID:          uuid.NewString(),
		Event:       name,
		PayloadJSON: payloadJSON,
	})
}

func (s *NodeSession) send(f *bridge.Frame) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return bridge.ErrNotConnected
	}
	return s.enc.Encode(f)
}

// close tears the session down exactly once: pending requests fail with
// UNAVAILABLE and the socket is closed with a best-effort error frame.
func (s *NodeSession) close(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if reason != "" {
		_ = s.enc.Encode(&bridge.Frame{
			Type:    bridge.TypeError,
			Code:    bridge.CodeUnavailable,
			Message: reason,
		})
	}
	s.pending.CancelAll("node disconnected")
	s.conn.Close()
}

func encodeJSON(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.RawMessage:
		return string(x), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("gateway: encode payload: %w", err)
	}
	return string(raw), nil
}
