package node

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/clawdis/bridge/internal/bridge"
)

// InvokeRequest is one gateway-initiated command as delivered on the wire.
type InvokeRequest struct {
	ID         string
	Command    string
	ParamsJSON string
}

// InvokeResult is the outcome reflected onto the invoke-res frame. Exactly
// one of PayloadJSON/Err is meaningful depending on OK.
type InvokeResult struct {
	OK          bool
	PayloadJSON string
	Err         *bridge.ErrorInfo
}

// Handler executes one command. The returned value is marshalled as the
// response payload; a json.RawMessage passes through verbatim and nil
// produces an empty payload.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Gate runs before the handler and can veto the invocation with a protocol
// error without touching the capability.
type Gate func() *bridge.ErrorInfo

type command struct {
	handler Handler
	gates   []Gate
}

// Dispatcher routes invoke frames to registered command handlers. Every
// invocation produces exactly one InvokeResult: gate refusals and handler
// panics surface as protocol errors, never as dropped responses.
type Dispatcher struct {
	logger *slog.Logger

	mu       sync.RWMutex
	commands map[string]command
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger,
		commands: make(map[string]command),
	}
}

// Register installs a handler under a command name, replacing any previous
// registration. Gates run in order before the handler.
func (d *Dispatcher) Register(name string, h Handler, gates ...Gate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands[name] = command{handler: h, gates: gates}
}

// Commands returns the sorted registered command names, as advertised in
// the hello frame.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch executes one command and always returns a result.
func (d *Dispatcher) Dispatch(ctx context.Context, req InvokeRequest) InvokeResult {
	d.mu.RLock()
	cmd, ok := d.commands[req.Command]
	d.mu.RUnlock()

	if !ok {
		return InvokeResult{Err: bridge.NewError(bridge.CodeInvalidRequest, fmt.Sprintf("unknown command %q", req.Command))}
	}

	for _, gate := range cmd.gates {
		if info := gate(); info != nil {
			d.logger.Debug("command gated", "command", req.Command, "code", info.Code)
			return InvokeResult{Err: info}
		}
	}

	return d.run(ctx, cmd.handler, req)
}

func (d *Dispatcher) run(ctx context.Context, h Handler, req InvokeRequest) (res InvokeResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command handler panicked", "command", req.Command, "panic", r)
			res = InvokeResult{Err: bridge.NewError(bridge.CodeUnavailable, fmt.Sprintf("internal error: %v", r))}
		}
	}()

	value, err := h(ctx, json.RawMessage(req.ParamsJSON))
	if err != nil {
		return InvokeResult{Err: errorInfo(err)}
	}

	payload, err := marshalPayload(value)
	if err != nil {
		d.logger.Error("command payload marshal failed", "command", req.Command, "error", err)
		return InvokeResult{Err: bridge.NewError(bridge.CodeUnavailable, "payload encoding failed")}
	}
	return InvokeResult{OK: true, PayloadJSON: payload}
}

func marshalPayload(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case json.RawMessage:
		return string(v), nil
	case string:
		return v, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// optionalParams decodes params into out, leaving out untouched when the
// payload is empty. A malformed payload resets out to the zero value so
// documented defaults apply instead of partial state.
func optionalParams[T any](raw json.RawMessage, out *T) {
	if len(raw) == 0 {
		return
	}
	if err := json.Unmarshal(raw, out); err != nil {
		var zero T
		*out = zero
	}
}

// requireParams decodes params into out and rejects empty or malformed
// payloads with INVALID_REQUEST.
func requireParams[T any](raw json.RawMessage, out *T) error {
	if len(raw) == 0 {
		return Errorf(bridge.CodeInvalidRequest, "params required")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return Errorf(bridge.CodeInvalidRequest, "malformed params: %v", err)
	}
	return nil
}
