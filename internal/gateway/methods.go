package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/clawdis/bridge/internal/bridge"
	"github.com/clawdis/bridge/internal/prefs"
)

// ReqError carries a protocol error code out of a req method handler.
type ReqError struct {
	Code    string
	Message string
}

// Error implements error.
func (e *ReqError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func reqErrorf(code, format string, args ...any) *ReqError {
	return &ReqError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// MethodFunc handles one node-initiated req frame. The returned value is
// marshalled into the res payload.
type MethodFunc func(ctx context.Context, s *NodeSession, params json.RawMessage) (any, error)

// MethodSet routes req frames by method name.
type MethodSet struct {
	logger *slog.Logger

	mu      sync.RWMutex
	methods map[string]MethodFunc
}

// NewMethodSet creates an empty method set.
func NewMethodSet(logger *slog.Logger) *MethodSet {
	if logger == nil {
		logger = slog.Default()
	}
	return &MethodSet{logger: logger, methods: make(map[string]MethodFunc)}
}

// Register installs a method handler, replacing any previous one.
func (ms *MethodSet) Register(name string, fn MethodFunc) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.methods[name] = fn
}

// Dispatch runs the method named in the req frame and builds the res frame.
// Every req gets exactly one res, unknown methods included.
func (ms *MethodSet) Dispatch(ctx context.Context, s *NodeSession, req *bridge.Frame) *bridge.Frame {
	ms.mu.RLock()
	fn, ok := ms.methods[req.Method]
	ms.mu.RUnlock()

	res := &bridge.Frame{Type: bridge.TypeRes, ID: req.ID}
	if !ok {
		res.OK = bridge.Bool(false)
		res.Error = bridge.NewError(bridge.CodeInvalidRequest, fmt.Sprintf("unknown method %q", req.Method))
		return res
	}

	value, err := fn(ctx, s, json.RawMessage(req.ParamsJSON))
	if err != nil {
		res.OK = bridge.Bool(false)
		var re *ReqError
		if errors.As(err, &re) {
			res.Error = bridge.NewError(re.Code, re.Message)
		} else {
			res.Error = bridge.NewError(bridge.CodeUnavailable, err.Error())
		}
		return res
	}

	payload, err := encodeJSON(value)
	if err != nil {
		ms.logger.Error("method payload marshal failed", "method", req.Method, "error", err)
		res.OK = bridge.Bool(false)
		res.Error = bridge.NewError(bridge.CodeUnavailable, "payload encoding failed")
		return res
	}
	res.OK = bridge.Bool(true)
	res.PayloadJSON = payload
	return res
}

// RegisterBuiltins wires the standard method surface: the prefs.* family
// backed by store, and a stub for "send" which nodes are not authorized to
// call directly.
func (ms *MethodSet) RegisterBuiltins(store prefs.Store) {
	type keyParams struct {
		Key string `json:"key"`
	}
	type kvParams struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}

	requireStore := func() error {
		if store == nil {
			return reqErrorf(bridge.CodeUnavailable, "no preference store configured")
		}
		return nil
	}

	ms.Register("prefs.get", func(ctx context.Context, s *NodeSession, params json.RawMessage) (any, error) {
		if err := requireStore(); err != nil {
			return nil, err
		}
		var p keyParams
		if err := json.Unmarshal(params, &p); err != nil || p.Key == "" {
			return nil, reqErrorf(bridge.CodeInvalidRequest, "key required")
		}
		value, found, err := store.Get(ctx, s.NodeID, p.Key)
		if err != nil {
			return nil, err
		}
		return map[string]any{"key": p.Key, "value": value, "found": found}, nil
	})

	ms.Register("prefs.set", func(ctx context.Context, s *NodeSession, params json.RawMessage) (any, error) {
		if err := requireStore(); err != nil {
			return nil, err
		}
		var p kvParams
		if err := json.Unmarshal(params, &p); err != nil || p.Key == "" {
			return nil, reqErrorf(bridge.CodeInvalidRequest, "key required")
		}
		if err := store.Set(ctx, s.NodeID, p.Key, p.Value); err != nil {
			return nil, err
		}
		return nil, nil
	})

	ms.Register("prefs.delete", func(ctx context.Context, s *NodeSession, params json.RawMessage) (any, error) {
		if err := requireStore(); err != nil {
			return nil, err
		}
		var p keyParams
		if err := json.Unmarshal(params, &p); err != nil || p.Key == "" {
			return nil, reqErrorf(bridge.CodeInvalidRequest, "key required")
		}
		if err := store.Delete(ctx, s.NodeID, p.Key); err != nil {
			return nil, err
		}
		return nil, nil
	})

	// Agent message injection stays gateway-internal.
	ms.Register("send", func(context.Context, *NodeSession, json.RawMessage) (any, error) {
		return nil, reqErrorf(bridge.CodeNotAuthorized, "nodes may not send agent messages directly")
	})
}
