package node

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/clawdis/bridge/internal/bridge"
)

// Built-in command names.
const (
	CmdCanvasPresent  = "canvas.present"
	CmdCanvasHide     = "canvas.hide"
	CmdCanvasNavigate = "canvas.navigate"
	CmdCanvasEvalJS   = "canvas.evalJS"
	CmdCanvasSnapshot = "canvas.snapshot"
	CmdA2UIReset      = "canvas.a2ui.reset"
	CmdA2UIPush       = "canvas.a2ui.push"
	CmdA2UIPushJSONL  = "canvas.a2ui.pushJSONL"
	CmdCameraSnap     = "camera.snap"
	CmdCameraClip     = "camera.clip"
	CmdScreenRecord   = "screen.record"
	CmdSystemRun      = "system.run"
	CmdSystemNotify   = "system.notify"
)

// RegisterCommands wires the built-in command set onto the dispatcher for
// whichever capabilities are installed. Absent capabilities simply register
// nothing, so the hello frame only advertises what the node can do.
func RegisterCommands(d *Dispatcher, caps Capabilities, gates Gates, a2ui *A2UI) {
	canvasGate := func() *bridge.ErrorInfo {
		if !gates.canvasEnabled() {
			return bridge.NewError(bridge.CodeCanvasDisabled, "canvas is disabled on this node")
		}
		return nil
	}
	cameraGate := func() *bridge.ErrorInfo {
		if !gates.cameraEnabled() {
			return bridge.NewError(bridge.CodeCameraDisabled, "camera is disabled on this node")
		}
		return nil
	}
	foregroundGate := func() *bridge.ErrorInfo {
		if !gates.foreground() {
			return bridge.NewError(bridge.CodeNodeBackground, "node app is in the background")
		}
		return nil
	}

	if caps.Canvas != nil {
		registerCanvasCommands(d, caps.Canvas, a2ui, canvasGate, foregroundGate)
	}
	if caps.Camera != nil {
		registerCameraCommands(d, caps.Camera, cameraGate, foregroundGate)
	}
	if caps.Screen != nil {
		d.Register(CmdScreenRecord, func(ctx context.Context, params json.RawMessage) (any, error) {
			var p ScreenRecordParams
			optionalParams(params, &p)
			p.normalize()
			return caps.Screen.Record(ctx, p)
		}, foregroundGate)
	}
	if caps.Shell != nil {
		d.Register(CmdSystemRun, func(ctx context.Context, params json.RawMessage) (any, error) {
			var p struct {
				Command string `json:"command"`
			}
			if err := requireParams(params, &p); err != nil {
				return nil, err
			}
			if strings.TrimSpace(p.Command) == "" {
				return nil, Errorf(bridge.CodeInvalidRequest, "command must not be empty")
			}
			return caps.Shell.Run(ctx, p.Command)
		})
	}
	if caps.Notifier != nil {
		d.Register(CmdSystemNotify, func(ctx context.Context, params json.RawMessage) (any, error) {
			var p struct {
				Title string `json:"title"`
				Body  string `json:"body"`
			}
			if err := requireParams(params, &p); err != nil {
				return nil, err
			}
			if p.Title == "" && p.Body == "" {
				return nil, Errorf(bridge.CodeInvalidRequest, "title or body required")
			}
			return nil, caps.Notifier.Notify(ctx, p.Title, p.Body)
		})
	}
}

func registerCanvasCommands(d *Dispatcher, canvas Canvas, a2ui *A2UI, canvasGate, foregroundGate Gate) {
	d.Register(CmdCanvasPresent, func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			URL string `json:"url"`
		}
		optionalParams(params, &p)
		url := p.URL
		if url == "" {
			if a2ui == nil {
				return nil, Errorf(bridge.CodeInvalidRequest, "url required")
			}
			bootstrap, err := a2ui.BootstrapURL()
			if err != nil {
				return nil, err
			}
			url = bootstrap
		}
		return nil, canvas.Present(ctx, url)
	}, canvasGate, foregroundGate)

	d.Register(CmdCanvasHide, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return nil, canvas.Hide(ctx)
	}, canvasGate)

	d.Register(CmdCanvasNavigate, func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			URL string `json:"url"`
		}
		if err := requireParams(params, &p); err != nil {
			return nil, err
		}
		if p.URL == "" {
			return nil, Errorf(bridge.CodeInvalidRequest, "url must not be empty")
		}
		return nil, canvas.Navigate(ctx, p.URL)
	}, canvasGate, foregroundGate)

	d.Register(CmdCanvasEvalJS, func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			JS string `json:"js"`
		}
		if err := requireParams(params, &p); err != nil {
			return nil, err
		}
		if p.JS == "" {
			return nil, Errorf(bridge.CodeInvalidRequest, "js must not be empty")
		}
		result, err := canvas.EvalJS(ctx, p.JS)
		if err != nil {
			return nil, err
		}
		return evalPayload(result), nil
	}, canvasGate, foregroundGate)

	d.Register(CmdCanvasSnapshot, func(ctx context.Context, params json.RawMessage) (any, error) {
		var p SnapshotParams
		optionalParams(params, &p)
		p.normalize()
		return canvas.Snapshot(ctx, p)
	}, canvasGate)

	if a2ui == nil {
		return
	}

	d.Register(CmdA2UIReset, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return a2ui.Reset(ctx)
	}, canvasGate, foregroundGate)

	push := func(ctx context.Context, params json.RawMessage) (any, error) {
		return a2ui.Push(ctx, params)
	}
	d.Register(CmdA2UIPush, push, canvasGate, foregroundGate)
	d.Register(CmdA2UIPushJSONL, push, canvasGate, foregroundGate)
}

func registerCameraCommands(d *Dispatcher, camera Camera, cameraGate, foregroundGate Gate) {
	d.Register(CmdCameraSnap, func(ctx context.Context, params json.RawMessage) (any, error) {
		var p CameraSnapParams
		optionalParams(params, &p)
		p.normalize()
		return camera.Snap(ctx, p)
	}, cameraGate, foregroundGate)

	d.Register(CmdCameraClip, func(ctx context.Context, params json.RawMessage) (any, error) {
		var p CameraClipParams
		optionalParams(params, &p)
		p.normalize()
		return camera.Clip(ctx, p)
	}, cameraGate, foregroundGate)
}

// evalPayload wraps a raw EvalJS result so the payload is always valid
// JSON: script results that already parse pass through, anything else is
// quoted as a string.
func evalPayload(result string) json.RawMessage {
	trimmed := strings.TrimSpace(result)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(result)
	return json.RawMessage(quoted)
}
