package node

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/clawdis/bridge/internal/bridge"
)

type fakeCamera struct {
	snaps int
	last  CameraSnapParams
}

func (c *fakeCamera) Snap(_ context.Context, p CameraSnapParams) (Capture, error) {
	c.snaps++
	c.last = p
	return Capture{Format: "jpeg", Base64: "aGk=", Width: 100, Height: 80}, nil
}

func (c *fakeCamera) Clip(_ context.Context, p CameraClipParams) (Capture, error) {
	return Capture{Format: "mp4", DurationSeconds: p.Seconds}, nil
}

type fakeNotifier struct {
	titles []string
}

func (n *fakeNotifier) Notify(_ context.Context, title, _ string) error {
	n.titles = append(n.titles, title)
	return nil
}

func TestDispatch_UnknownCommand(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	res := d.Dispatch(context.Background(), InvokeRequest{ID: "1", Command: "no.such.command"})
	if res.OK {
		t.Fatal("expected failure for unknown command")
	}
	if res.Err == nil || res.Err.Code != bridge.CodeInvalidRequest {
		t.Errorf("error = %+v, want INVALID_REQUEST", res.Err)
	}
}

func TestDispatch_CameraGateBlocksHandler(t *testing.T) {
	t.Parallel()

	cam := &fakeCamera{}
	d := NewDispatcher(nil)
	RegisterCommands(d, Capabilities{Camera: cam}, Gates{
		CameraEnabled: func() bool { return false },
	}, nil)

	res := d.Dispatch(context.Background(), InvokeRequest{ID: "1", Command: CmdCameraSnap})
	if res.OK {
		t.Fatal("expected gated failure")
	}
	if res.Err == nil || res.Err.Code != bridge.CodeCameraDisabled {
		t.Errorf("error = %+v, want CAMERA_DISABLED", res.Err)
	}
	if cam.snaps != 0 {
		t.Errorf("handler ran %d times despite gate", cam.snaps)
	}
}

func TestDispatch_BackgroundGate(t *testing.T) {
	t.Parallel()

	cam := &fakeCamera{}
	d := NewDispatcher(nil)
	RegisterCommands(d, Capabilities{Camera: cam}, Gates{
		Foreground: func() bool { return false },
	}, nil)

	res := d.Dispatch(context.Background(), InvokeRequest{ID: "1", Command: CmdCameraClip})
	if res.Err == nil || res.Err.Code != bridge.CodeNodeBackground {
		t.Errorf("error = %+v, want NODE_BACKGROUND_UNAVAILABLE", res.Err)
	}
}

func TestDispatch_ParamDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		params string
		want   CameraSnapParams
	}{
		{"empty params", "", CameraSnapParams{Facing: "back", MaxWidth: 1600, Quality: 0.9}},
		{"malformed params fall back to defaults", "{nope", CameraSnapParams{Facing: "back", MaxWidth: 1600, Quality: 0.9}},
		{"quality clamped high", `{"quality": 7.5}`, CameraSnapParams{Facing: "back", MaxWidth: 1600, Quality: 1.0}},
		{"quality clamped low", `{"quality": 0.001}`, CameraSnapParams{Facing: "back", MaxWidth: 1600, Quality: 0.05}},
		{"explicit facing kept", `{"facing": "front", "maxWidth": 320}`, CameraSnapParams{Facing: "front", MaxWidth: 320, Quality: 0.9}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cam := &fakeCamera{}
			d := NewDispatcher(nil)
			RegisterCommands(d, Capabilities{Camera: cam}, Gates{}, nil)

			res := d.Dispatch(context.Background(), InvokeRequest{ID: "1", Command: CmdCameraSnap, ParamsJSON: tt.params})
			if !res.OK {
				t.Fatalf("Dispatch failed: %+v", res.Err)
			}
			if cam.last != tt.want {
				t.Errorf("params = %+v, want %+v", cam.last, tt.want)
			}
		})
	}
}

func TestDispatch_RequiredParams(t *testing.T) {
	t.Parallel()

	n := &fakeNotifier{}
	d := NewDispatcher(nil)
	RegisterCommands(d, Capabilities{Notifier: n}, Gates{}, nil)

	for _, params := range []string{"", "{}", `{"title":"","body":""}`} {
		res := d.Dispatch(context.Background(), InvokeRequest{ID: "1", Command: CmdSystemNotify, ParamsJSON: params})
		if res.OK || res.Err == nil || res.Err.Code != bridge.CodeInvalidRequest {
			t.Errorf("params %q: result = %+v, want INVALID_REQUEST", params, res.Err)
		}
	}
	if len(n.titles) != 0 {
		t.Errorf("notifier called %d times on invalid params", len(n.titles))
	}

	res := d.Dispatch(context.Background(), InvokeRequest{ID: "2", Command: CmdSystemNotify, ParamsJSON: `{"title":"hi"}`})
	if !res.OK {
		t.Fatalf("valid notify failed: %+v", res.Err)
	}
	if len(n.titles) != 1 || n.titles[0] != "hi" {
		t.Errorf("titles = %v", n.titles)
	}
}

func TestDispatch_PanicBecomesUnavailable(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	d.Register("boom", func(context.Context, json.RawMessage) (any, error) {
		panic("kaboom")
	})

	res := d.Dispatch(context.Background(), InvokeRequest{ID: "1", Command: "boom"})
	if res.OK {
		t.Fatal("expected failure")
	}
	if res.Err == nil || res.Err.Code != bridge.CodeUnavailable {
		t.Errorf("error = %+v, want UNAVAILABLE", res.Err)
	}
	if !strings.Contains(res.Err.Message, "kaboom") {
		t.Errorf("message %q should carry the panic value", res.Err.Message)
	}
}

func TestDispatch_PayloadMarshalling(t *testing.T) {
	t.Parallel()

	cam := &fakeCamera{}
	d := NewDispatcher(nil)
	RegisterCommands(d, Capabilities{Camera: cam}, Gates{}, nil)

	res := d.Dispatch(context.Background(), InvokeRequest{ID: "1", Command: CmdCameraSnap})
	if !res.OK {
		t.Fatalf("Dispatch failed: %+v", res.Err)
	}
	var got Capture
	if err := json.Unmarshal([]byte(res.PayloadJSON), &got); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if got.Format != "jpeg" || got.Width != 100 {
		t.Errorf("payload = %+v", got)
	}
}

func TestDispatcher_CommandsSorted(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	RegisterCommands(d, Capabilities{Camera: &fakeCamera{}, Notifier: &fakeNotifier{}}, Gates{}, nil)

	got := d.Commands()
	want := []string{CmdCameraClip, CmdCameraSnap, CmdSystemNotify}
	if len(got) != len(want) {
		t.Fatalf("Commands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Commands = %v, want %v", got, want)
		}
	}
}
