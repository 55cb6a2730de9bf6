package node

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/clawdis/bridge/internal/bridge"
)

func TestResolveCanvasHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		advertised string
		ep         bridge.Endpoint
		want       string
	}{
		{
			name:       "advertised non-loopback wins verbatim",
			advertised: "https://canvas.example.com:8443/base",
			ep:         bridge.Endpoint{Host: "10.0.0.5", Port: 18790},
			want:       "https://canvas.example.com:8443/base",
		},
		{
			name:       "no advertised url, tailnet preferred",
			advertised: "",
			ep:         bridge.Endpoint{Host: "10.0.0.5", Port: 18790, LANHost: "192.168.1.4", TailnetDNS: "node1.ts.net", CanvasPort: 18793},
			want:       "http://node1.ts.net:18793",
		},
		{
			name:       "loopback advertised falls back to lan host, keeps scheme",
			advertised: "https://127.0.0.1:9000",
			ep:         bridge.Endpoint{Host: "10.0.0.5", Port: 18790, LANHost: "192.168.1.4"},
			want:       "https://192.168.1.4:18793",
		},
		{
			name:       "loopback advertised falls back to connect host",
			advertised: "http://localhost:9000",
			ep:         bridge.Endpoint{Host: "203.0.113.9", Port: 18790},
			want:       "http://203.0.113.9:18793",
		},
		{
			name:       "unspecified address is loopback-equivalent",
			advertised: "http://0.0.0.0:18793",
			ep:         bridge.Endpoint{Host: "203.0.113.9", Port: 18790, CanvasPort: 20000},
			want:       "http://203.0.113.9:20000",
		},
		{
			name:       "ipv6 loopback",
			advertised: "http://[::1]:18793",
			ep:         bridge.Endpoint{Host: "gw.local", Port: 18790},
			want:       "http://gw.local:18793",
		},
		{
			name:       "no host anywhere",
			advertised: "",
			ep:         bridge.Endpoint{},
			want:       "",
		},
		{
			name:       "garbage advertised url falls back",
			advertised: "::::not-a-url",
			ep:         bridge.Endpoint{Host: "10.0.0.5", Port: 18790},
			want:       "http://10.0.0.5:18793",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := ResolveCanvasHost(tt.advertised, tt.ep)
			if got != tt.want {
				t.Errorf("ResolveCanvasHost(%q) = %q, want %q", tt.advertised, got, tt.want)
			}
		})
	}
}

// scriptCanvas fakes the canvas capability: the probe script reports ready,
// guarded calls return canned JSON, and everything is recorded.
type scriptCanvas struct {
	ready     bool
	presented []string
	scripts   []string
}

func (c *scriptCanvas) Present(_ context.Context, url string) error {
	c.presented = append(c.presented, url)
	c.ready = true
	return nil
}

func (c *scriptCanvas) Hide(context.Context) error { return nil }

func (c *scriptCanvas) Navigate(context.Context, string) error { return nil }

func (c *scriptCanvas) EvalJS(_ context.Context, script string) (string, error) {
	if strings.Contains(script, "String(!!(window.A2UI") {
		if c.ready {
			return "true", nil
		}
		return "false", nil
	}
	c.scripts = append(c.scripts, script)
	return `{"ok":true}`, nil
}

func (c *scriptCanvas) Snapshot(context.Context, SnapshotParams) (Capture, error) {
	return Capture{}, nil
}

func newTestA2UI(canvas *scriptCanvas) *A2UI {
	a := NewA2UI(canvas, "test", nil)
	a.probeInterval = time.Millisecond
	a.readyTimeout = 50 * time.Millisecond
	return a
}

func TestA2UI_BootstrapURL(t *testing.T) {
	t.Parallel()

	a := newTestA2UI(&scriptCanvas{})

	if _, err := a.BootstrapURL(); err == nil {
		t.Fatal("expected A2UI_HOST_NOT_CONFIGURED before SetHost")
	}

	a.SetHost("", bridge.Endpoint{Host: "gw.example", Port: 18790})
	got, err := a.BootstrapURL()
	if err != nil {
		t.Fatalf("BootstrapURL: %v", err)
	}
	want := "http://gw.example:18793/__clawdis__/a2ui/?platform=test"
	if got != want {
		t.Errorf("BootstrapURL = %q, want %q", got, want)
	}
}

func TestA2UI_PushEncodings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		params string
	}{
		{"messages array", `{"messages":[{"op":"add"},{"op":"set"}]}`},
		{"jsonl field", `{"jsonl":"{\"op\":\"add\"}\n{\"op\":\"set\"}\n"}`},
		{"bare jsonl body", "{\"op\":\"add\"}\n{\"op\":\"set\"}"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			canvas := &scriptCanvas{ready: true}
			a := newTestA2UI(canvas)
			a.SetHost("", bridge.Endpoint{Host: "gw", Port: 18790})

			payload, err := a.Push(context.Background(), json.RawMessage(tt.params))
			if err != nil {
				t.Fatalf("Push: %v", err)
			}
			var out struct {
				OK bool `json:"ok"`
			}
			if err := json.Unmarshal(payload, &out); err != nil || !out.OK {
				t.Errorf("payload = %s", payload)
			}
			if len(canvas.scripts) != 1 {
				t.Fatalf("scripts = %d, want 1", len(canvas.scripts))
			}
			if !strings.Contains(canvas.scripts[0], `window.A2UI.apply([{"op":"add"},{"op":"set"}])`) {
				t.Errorf("apply call missing from script:\n%s", canvas.scripts[0])
			}
		})
	}
}

func TestA2UI_PushRejectsEmptyAndInvalid(t *testing.T) {
	t.Parallel()

	a := newTestA2UI(&scriptCanvas{ready: true})
	a.SetHost("", bridge.Endpoint{Host: "gw", Port: 18790})

	for _, params := range []string{"", "{}", `{"messages":[]}`, `{"jsonl":"not json"}`} {
		_, err := a.Push(context.Background(), json.RawMessage(params))
		var ce *CommandError
		if err == nil || !asCommandError(err, &ce) || ce.Code != bridge.CodeInvalidRequest {
			t.Errorf("params %q: err = %v, want INVALID_REQUEST", params, err)
		}
	}
}

func TestA2UI_PushPresentsBootstrapWhenNotReady(t *testing.T) {
	t.Parallel()

	canvas := &scriptCanvas{}
	a := newTestA2UI(canvas)
	a.SetHost("", bridge.Endpoint{Host: "gw", Port: 18790})

	if _, err := a.Push(context.Background(), json.RawMessage(`{"messages":[{"op":"add"}]}`)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(canvas.presented) != 1 || !strings.Contains(canvas.presented[0], a2uiPathSuffix) {
		t.Errorf("presented = %v, want one bootstrap load", canvas.presented)
	}
}

func TestA2UI_WaitReadyTimesOut(t *testing.T) {
	t.Parallel()

	a := newTestA2UI(&scriptCanvas{})
	err := a.WaitReady(context.Background())
	var ce *CommandError
	if err == nil || !asCommandError(err, &ce) || ce.Code != bridge.CodeA2UIHostUnavailable {
		t.Errorf("WaitReady = %v, want A2UI_HOST_UNAVAILABLE", err)
	}
}

func asCommandError(err error, out **CommandError) bool {
	ce, ok := err.(*CommandError)
	if ok {
		*out = ce
	}
	return ok
}
