// Package bridge implements the wire protocol shared by the gateway and
// node sides: newline-delimited JSON frames, request/response correlation,
// the protocol error taxonomy, and reconnect backoff policy.
package bridge

// FrameType identifies the kind of frame on the wire.
type FrameType string

// Frame types exchanged over a bridge connection.
const (
	TypeHello       FrameType = "hello"
	TypeHelloOK     FrameType = "hello-ok"
	TypeError       FrameType = "error"
	TypeEvent       FrameType = "event"
	TypeReq         FrameType = "req"
	TypeRes         FrameType = "res"
	TypePing        FrameType = "ping"
	TypePong        FrameType = "pong"
	TypeInvoke      FrameType = "invoke"
	TypeInvokeRes   FrameType = "invoke-res"
	TypePairRequest FrameType = "pair-request"
	TypePairOK      FrameType = "pair-ok"
)

// Valid reports whether t is a frame type this implementation understands.
// Frames with unknown types are dropped by the decoder, never fatal.
func (t FrameType) Valid() bool {
	switch t {
	case TypeHello, TypeHelloOK, TypeError, TypeEvent, TypeReq, TypeRes,
		TypePing, TypePong, TypeInvoke, TypeInvokeRes, TypePairRequest, TypePairOK:
		return true
	}
	return false
}

// ErrorInfo is the structured error carried in res/invoke-res/error frames.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Frame is the single wire envelope for every message. It is a tagged union
// over Type; fields not used by a given type are omitted from the JSON.
// Unknown fields on inbound frames are ignored.
type Frame struct {
	Type FrameType `json:"type"`
	ID   string    `json:"id,omitempty"`

	// hello / pair-request
	NodeID          string   `json:"nodeId,omitempty"`
	DisplayName     string   `json:"displayName,omitempty"`
	Token           string   `json:"token,omitempty"`
	Platform        string   `json:"platform,omitempty"`
	Version         string   `json:"version,omitempty"`
	DeviceFamily    string   `json:"deviceFamily,omitempty"`
	ModelIdentifier string   `json:"modelIdentifier,omitempty"`
	Caps            []string `json:"caps,omitempty"`
	Commands        []string `json:"commands,omitempty"`
	Silent          bool     `json:"silent,omitempty"`

	// hello-ok
	ServerName    string `json:"serverName,omitempty"`
	CanvasHostURL string `json:"canvasHostUrl,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// event
	Event string `json:"event,omitempty"`

	// req
	Method string `json:"method,omitempty"`

	// invoke
	Command string `json:"command,omitempty"`

	// req / invoke
	ParamsJSON string `json:"paramsJSON,omitempty"`

	// res / invoke-res
	OK          *bool      `json:"ok,omitempty"`
	PayloadJSON string     `json:"payloadJSON,omitempty"`
	Error       *ErrorInfo `json:"error,omitempty"`
}

// Bool returns a pointer to b, for populating Frame.OK.
func Bool(b bool) *bool { return &b }

// Okay reports whether the frame carries ok:true.
func (f *Frame) Okay() bool { return f.OK != nil && *f.OK }
