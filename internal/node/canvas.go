package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/clawdis/bridge/internal/bridge"
)

const (
	a2uiPathSuffix    = "__clawdis__/a2ui/"
	a2uiProbeInterval = 120 * time.Millisecond
	a2uiReadyTimeout  = 5 * time.Second
)

// a2uiProbeScript checks whether the A2UI runtime has loaded in the canvas.
// It must evaluate to the literal string "true" when ready.
const a2uiProbeScript = `(() => {
  try {
    return String(!!(window.A2UI && typeof window.A2UI.apply === "function"));
  } catch (err) {
    return "false";
  }
})()`

// ResolveCanvasHost computes the effective canvas base URL for a session.
// An advertised URL wins verbatim unless it is empty or points at a
// loopback address, in which case the URL is rebuilt from the endpoint:
// tailnet DNS name first, then LAN host, then the connect host, with the
// endpoint's canvas port (default 18793) and the advertised scheme when
// one was given.
func ResolveCanvasHost(advertised string, ep bridge.Endpoint) string {
	advertised = strings.TrimSpace(advertised)
	scheme := "http"
	if advertised != "" {
		u, err := url.Parse(advertised)
		if err == nil && u.Scheme != "" && u.Host != "" {
			if !isLoopbackHost(u.Hostname()) {
				return advertised
			}
			scheme = u.Scheme
		}
	}

	host := ep.TailnetDNS
	if host == "" {
		host = ep.LANHost
	}
	if host == "" {
		host = ep.Host
	}
	if host == "" {
		return ""
	}

	port := ep.CanvasPort
	if port <= 0 {
		port = bridge.DefaultCanvasPort
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func isLoopbackHost(host string) bool {
	switch host {
	case "localhost", "::1", "::", "0.0.0.0", "":
		return true
	}
	if strings.HasPrefix(host, "127.") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsUnspecified()
	}
	return false
}

// A2UI drives the declarative canvas protocol over a Canvas capability.
// The host URL is set from each hello-ok and cleared on disconnect, so a
// push against a dead session fails fast with A2UI_HOST_NOT_CONFIGURED.
type A2UI struct {
	canvas   Canvas
	logger   *slog.Logger
	platform string

	probeInterval time.Duration
	readyTimeout  time.Duration

	mu      sync.Mutex
	hostURL string
}

// NewA2UI creates an adapter over the given canvas capability.
func NewA2UI(canvas Canvas, platform string, logger *slog.Logger) *A2UI {
	if logger == nil {
		logger = slog.Default()
	}
	return &A2UI{
		canvas:        canvas,
		logger:        logger,
		platform:      platform,
		probeInterval: a2uiProbeInterval,
		readyTimeout:  a2uiReadyTimeout,
	}
}

// SetHost resolves and stores the canvas host for the current session.
// It returns the resolved URL ("" when no host could be derived).
func (a *A2UI) SetHost(advertised string, ep bridge.Endpoint) string {
	resolved := ResolveCanvasHost(advertised, ep)
	a.mu.Lock()
	a.hostURL = resolved
	a.mu.Unlock()
	if resolved == "" {
		a.logger.Debug("no canvas host available for session")
	} else {
		a.logger.Debug("canvas host resolved", "url", resolved)
	}
	return resolved
}

// Clear forgets the session's canvas host.
func (a *A2UI) Clear() {
	a.mu.Lock()
	a.hostURL = ""
	a.mu.Unlock()
}

// HostURL returns the current canvas host, if any.
func (a *A2UI) HostURL() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hostURL, a.hostURL != ""
}

// BootstrapURL returns the full A2UI bootstrap page URL for this node.
func (a *A2UI) BootstrapURL() (string, error) {
	host, ok := a.HostURL()
	if !ok {
		return "", Errorf(bridge.CodeA2UIHostNotConfigured, "no canvas host configured for this session")
	}
	base := strings.TrimRight(host, "/")
	return base + "/" + a2uiPathSuffix + "?platform=" + url.QueryEscape(a.platform), nil
}

// Ready performs a single readiness probe against the loaded page.
func (a *A2UI) Ready(ctx context.Context) bool {
	result, err := a.canvas.EvalJS(ctx, a2uiProbeScript)
	return err == nil && strings.TrimSpace(result) == "true"
}

// WaitReady polls the readiness probe until the runtime loads or the
// timeout elapses.
func (a *A2UI) WaitReady(ctx context.Context) error {
	deadline := time.Now().Add(a.readyTimeout)
	for {
		if a.Ready(ctx) {
			return nil
		}
		if time.Now().After(deadline) {
			return Errorf(bridge.CodeA2UIHostUnavailable, "a2ui runtime did not become ready within %s", a.readyTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.probeInterval):
		}
	}
}

// ensurePresented loads the bootstrap page and waits for the runtime.
func (a *A2UI) ensurePresented(ctx context.Context) error {
	if a.Ready(ctx) {
		return nil
	}
	bootstrap, err := a.BootstrapURL()
	if err != nil {
		return err
	}
	if err := a.canvas.Present(ctx, bootstrap); err != nil {
		return err
	}
	return a.WaitReady(ctx)
}

// Reset clears all A2UI state on the canvas, presenting the bootstrap page
// first if the runtime is not loaded.
func (a *A2UI) Reset(ctx context.Context) (json.RawMessage, error) {
	if err := a.ensurePresented(ctx); err != nil {
		return nil, err
	}
	return a.eval(ctx, a2uiGuardedCall("window.A2UI.reset()", `{ ok: true }`))
}

type a2uiPushParams struct {
	Messages []json.RawMessage `json:"messages"`
	JSONL    string            `json:"jsonl"`
}

// Push applies a batch of A2UI messages. Both encodings are accepted: a
// JSON object with a "messages" array, or a "jsonl" string of one JSON
// message per line. Script-level failures come back as {ok:false,error}
// payloads rather than transport errors.
func (a *A2UI) Push(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	messages, err := decodePushMessages(params)
	if err != nil {
		return nil, err
	}
	if err := a.ensurePresented(ctx); err != nil {
		return nil, err
	}

	batch, err := json.Marshal(messages)
	if err != nil {
		return nil, Errorf(bridge.CodeInvalidRequest, "unencodable messages: %v", err)
	}
	script := a2uiGuardedCall(
		fmt.Sprintf("window.A2UI.apply(%s)", batch),
		fmt.Sprintf(`{ ok: true, applied: %d }`, len(messages)),
	)
	return a.eval(ctx, script)
}

func decodePushMessages(params json.RawMessage) ([]json.RawMessage, error) {
	var p a2uiPushParams
	if len(params) > 0 {
		// Strict decode so a bare JSONL body (even a single object with
		// other keys) falls through to the line-oriented path.
		dec := json.NewDecoder(bytes.NewReader(params))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			p = a2uiPushParams{JSONL: string(params)}
		}
	}

	messages := p.Messages
	if len(messages) == 0 && p.JSONL != "" {
		for _, line := range strings.Split(p.JSONL, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !json.Valid([]byte(line)) {
				return nil, Errorf(bridge.CodeInvalidRequest, "invalid jsonl line: %.60s", line)
			}
			messages = append(messages, json.RawMessage(line))
		}
	}
	if len(messages) == 0 {
		return nil, Errorf(bridge.CodeInvalidRequest, "no a2ui messages in params")
	}
	return messages, nil
}

// a2uiGuardedCall wraps a runtime call so exceptions become JSON-encoded
// {ok:false,error} results instead of EvalJS failures.
func a2uiGuardedCall(call, okLiteral string) string {
	return fmt.Sprintf(`(() => {
  try {
    if (!window.A2UI || typeof window.A2UI.apply !== "function") {
      return JSON.stringify({ ok: false, error: "a2ui runtime not loaded" });
    }
    %s;
    return JSON.stringify(%s);
  } catch (err) {
    return JSON.stringify({ ok: false, error: String((err && err.message) || err) });
  }
})()`, call, okLiteral)
}

func (a *A2UI) eval(ctx context.Context, script string) (json.RawMessage, error) {
	result, err := a.canvas.EvalJS(ctx, script)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(result)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return nil, Errorf(bridge.CodeUnavailable, "a2ui script returned a non-JSON result")
	}
	return json.RawMessage(trimmed), nil
}
