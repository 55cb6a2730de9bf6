// Package node implements the node side of the bridge: the session state
// machine, reconnect supervision, the command dispatcher, and the canvas
// (A2UI) adapter.
package node

import (
	"errors"
	"fmt"

	"github.com/clawdis/bridge/internal/bridge"
)

// Sentinel errors for the node package.
var (
	ErrNotConnected = errors.New("node: not connected to gateway")
	ErrSuperseded   = errors.New("node: connection attempt superseded")
)

// CommandError carries a protocol error code through a command handler.
// Handlers return it (or wrap it) to control the code on the invoke-res
// frame; any other error maps to UNAVAILABLE.
type CommandError struct {
	Code    string
	Message string
}

// Error implements error.
func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds a CommandError with a formatted message.
func Errorf(code, format string, args ...any) *CommandError {
	return &CommandError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// errorInfo converts an arbitrary handler error into wire ErrorInfo.
func errorInfo(err error) *bridge.ErrorInfo {
	var ce *CommandError
	if errors.As(err, &ce) {
		return bridge.NewError(ce.Code, ce.Message)
	}
	return bridge.NewError(bridge.CodeUnavailable, err.Error())
}
