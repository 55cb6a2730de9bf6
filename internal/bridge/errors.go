package bridge

import "errors"

// Protocol error codes carried in ErrorInfo.Code.
const (
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeUnavailable           = "UNAVAILABLE"
	CodeCanvasDisabled        = "CANVAS_DISABLED"
	CodeCameraDisabled        = "CAMERA_DISABLED"
	CodeNodeBackground        = "NODE_BACKGROUND_UNAVAILABLE"
	CodeA2UIHostNotConfigured = "A2UI_HOST_NOT_CONFIGURED"
	CodeA2UIHostUnavailable   = "A2UI_HOST_UNAVAILABLE"
	CodePermissionMissing     = "PERMISSION_MISSING"
	CodeNotAuthorized         = "NOT_AUTHORIZED"
)

// Sentinel errors for the bridge package.
var (
	ErrNotConnected = errors.New("bridge: not connected")
	ErrDuplicateID  = errors.New("bridge: duplicate request id")
	ErrTimeout      = errors.New("bridge: request timed out")
)

// NewError builds an ErrorInfo with the given code and message.
func NewError(code, message string) *ErrorInfo {
	return &ErrorInfo{Code: code, Message: message}
}
