package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/clawdis/bridge/internal/bridge"
	"github.com/clawdis/bridge/internal/core"
)

func init() {
	core.RegisterModule(&Module{})
}

// Service names under which capabilities are looked up and session
// handles are published on the AppContext.
const (
	ServiceSession    = "node.session"
	ServiceEvents     = "node.events"
	ServiceCanvas     = "node.canvas"
	ServiceCamera     = "node.camera"
	ServiceScreen     = "node.screen"
	ServiceShell      = "node.shell"
	ServiceNotifier   = "node.notifier"
	ServiceForeground = "node.foreground"
)

// Config is the YAML configuration for the node.bridge module.
type Config struct {
	Gateway bridge.Endpoint `yaml:"gateway"`

	StatePath       string   `yaml:"state_path"`
	DisplayName     string   `yaml:"display_name"`
	Platform        string   `yaml:"platform"`
	Version         string   `yaml:"version"`
	DeviceFamily    string   `yaml:"device_family"`
	ModelIdentifier string   `yaml:"model_identifier"`
	Caps            []string `yaml:"caps"`

	CanvasEnabled *bool `yaml:"canvas_enabled"`
	CameraEnabled *bool `yaml:"camera_enabled"`

	PingInterval   string `yaml:"ping_interval"`
	RequestTimeout string `yaml:"request_timeout"`
	EventBuffer    int    `yaml:"event_buffer"`
	MDNS           *bool  `yaml:"mdns"`
}

// parsedDuration parses a config duration, returning 0 (package default)
// when unset.
func parsedDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Module connects this host to a gateway as a bridge node. Capabilities
// (canvas, camera, screen, shell, notifier) are discovered as services so
// platform-specific modules can provide them.
type Module struct {
	config Config
	logger *slog.Logger

	state      *NodeState
	session    *Session
	events     *EventQueue
	dispatcher *Dispatcher
	a2ui       *A2UI

	cancel   context.CancelFunc
	mdnsStop func()
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "node.bridge",
		New: func() core.Module { return new(Module) },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if node == nil {
		return nil
	}
	return node.Decode(&m.config)
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger

	if m.config.Gateway.Port <= 0 {
		m.config.Gateway.Port = 18790
	}
	if m.config.StatePath == "" {
		m.config.StatePath = DefaultStatePath()
	}
	if m.config.Platform == "" {
		m.config.Platform = "linux"
	}

	state, err := LoadOrInitState(m.config.StatePath)
	if err != nil {
		return err
	}
	if m.config.DisplayName != "" {
		state.DisplayName = m.config.DisplayName
	}
	m.state = state

	caps := Capabilities{}
	if svc, ok := ctx.Service(ServiceCanvas); ok {
		caps.Canvas, _ = svc.(Canvas)
	}
	if svc, ok := ctx.Service(ServiceCamera); ok {
		caps.Camera, _ = svc.(Camera)
	}
	if svc, ok := ctx.Service(ServiceScreen); ok {
		caps.Screen, _ = svc.(Screen)
	}
	if svc, ok := ctx.Service(ServiceShell); ok {
		caps.Shell, _ = svc.(Shell)
	}
	if svc, ok := ctx.Service(ServiceNotifier); ok {
		caps.Notifier, _ = svc.(Notifier)
	}

	gates := Gates{}
	if m.config.CanvasEnabled != nil && !*m.config.CanvasEnabled {
		gates.CanvasEnabled = func() bool { return false }
	}
	if m.config.CameraEnabled != nil && !*m.config.CameraEnabled {
		gates.CameraEnabled = func() bool { return false }
	}
	if svc, ok := ctx.Service(ServiceForeground); ok {
		if fg, ok := svc.(func() bool); ok {
			gates.Foreground = fg
		}
	}

	if caps.Canvas != nil {
		m.a2ui = NewA2UI(caps.Canvas, m.config.Platform, ctx.Logger)
	}
	m.dispatcher = NewDispatcher(ctx.Logger)
	RegisterCommands(m.dispatcher, caps, gates, m.a2ui)
	m.events = NewEventQueue(m.config.EventBuffer, ctx.Logger)

	pingInterval, err := parsedDuration(m.config.PingInterval)
	if err != nil {
		return fmt.Errorf("node.bridge: invalid ping_interval: %w", err)
	}
	requestTimeout, err := parsedDuration(m.config.RequestTimeout)
	if err != nil {
		return fmt.Errorf("node.bridge: invalid request_timeout: %w", err)
	}

	m.session = NewSession(SessionOptions{
		Logger:         ctx.Logger,
		Dispatcher:     m.dispatcher,
		A2UI:           m.a2ui,
		Events:         m.events,
		PingInterval:   pingInterval,
		RequestTimeout: requestTimeout,
		OnStatus: func(state State, reason string) {
			ctx.Logger.Info("bridge status", "state", string(state), "reason", reason)
		},
		OnPaired: func(token string) {
			m.state.Token = token
			if err := m.state.Save(m.config.StatePath); err != nil {
				ctx.Logger.Error("failed to persist pairing token", "error", err)
			}
		},
	})

	ctx.RegisterService(ServiceSession, m.session)
	ctx.RegisterService(ServiceEvents, m.events)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.Gateway.Host == "" {
		return errors.New("node.bridge: gateway.host is required")
	}
	if m.config.Gateway.Port <= 0 || m.config.Gateway.Port > 65535 {
		return fmt.Errorf("node.bridge: invalid gateway.port %d", m.config.Gateway.Port)
	}
	return nil
}

// Start implements core.Starter.
func (m *Module) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.session.Run(ctx)

	m.session.Connect(m.config.Gateway, m.identity())

	if m.config.MDNS == nil || *m.config.MDNS {
		stop, err := AdvertiseMDNS(m.state.NodeID, m.state.DisplayName, m.config.Platform, m.logger)
		if err != nil {
			m.logger.Warn("mdns advertisement unavailable", "error", err)
		} else {
			m.mdnsStop = stop
		}
	}

	m.logger.Info("node bridge started",
		"nodeId", m.state.NodeID,
		"gateway", m.config.Gateway.Addr(),
		"commands", len(m.dispatcher.Commands()))
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	if m.mdnsStop != nil {
		m.mdnsStop()
	}
	if m.session != nil {
		m.session.Disconnect()
	}
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

func (m *Module) identity() bridge.Identity {
	caps := m.config.Caps
	if len(caps) == 0 {
		caps = inferCaps(m.dispatcher.Commands())
	}
	return bridge.Identity{
		NodeID:          m.state.NodeID,
		DisplayName:     m.state.DisplayName,
		Token:           m.state.Token,
		Platform:        m.config.Platform,
		Version:         m.config.Version,
		DeviceFamily:    m.config.DeviceFamily,
		ModelIdentifier: m.config.ModelIdentifier,
		Caps:            caps,
		Commands:        m.dispatcher.Commands(),
	}
}

// inferCaps derives coarse capability names from registered commands.
func inferCaps(commands []string) []string {
	seen := map[string]bool{}
	var caps []string
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			caps = append(caps, c)
		}
	}
	for _, cmd := range commands {
		switch {
		case cmd == CmdCanvasSnapshot:
			add("canvas")
			add("snapshot")
		case cmd == CmdSystemNotify:
			add("notifications")
		case cmd == CmdSystemRun:
			add("shell")
		case cmd == CmdScreenRecord:
			add("screen")
		case len(cmd) > 7 && cmd[:7] == "canvas.":
			add("canvas")
		case len(cmd) > 7 && cmd[:7] == "camera.":
			add("camera")
		}
	}
	return caps
}
