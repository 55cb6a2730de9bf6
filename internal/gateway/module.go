// Package gateway implements the gateway side of the bridge: listeners,
// the node handshake, the per-node session registry, req method dispatch,
// and the HTTP surface (health, status, metrics, WebSocket nodes).
package gateway

import (
	"context"
	"errors"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/clawdis/bridge/internal/core"
	"github.com/clawdis/bridge/internal/prefs"
)

func init() {
	core.RegisterModule(&Module{})
}

// Service names published by the gateway module.
const (
	ServiceGateway  = "gateway.bridge"
	ServiceRegistry = "gateway.nodes"
	ServiceEvents   = "gateway.events"
)

// Module runs a Gateway under the application lifecycle.
type Module struct {
	config  Config
	logger  *slog.Logger
	gateway *Gateway
	appCtx  *core.AppContext
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.bridge",
		New: func() core.Module { return new(Module) },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if node == nil {
		return nil
	}
	if err := node.Decode(&m.config); err != nil {
		return err
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger
	m.config.defaults()

	var store prefs.Store
	if svc, ok := ctx.Service(prefs.ServiceName); ok {
		store, _ = svc.(prefs.Store)
	}

	gw, err := NewGateway(m.config, store, ctx.Logger)
	if err != nil {
		return err
	}
	m.gateway = gw
	m.appCtx = ctx

	// The cron module provisions before this one and owns periodic sweeps
	// through its node sweep job; keep only one sweeper running.
	if _, ok := ctx.Service("cron.scheduler"); ok {
		gw.UseExternalSweeper()
	}

	ctx.RegisterService(ServiceGateway, gw)
	ctx.RegisterService(ServiceRegistry, gw.Registry())
	ctx.RegisterService(ServiceEvents, gw.Events())
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if len(m.config.Tokens) == 0 && !m.config.AllowPairing {
		return errors.New("gateway.bridge: configure tokens or enable allow_pairing")
	}
	if _, err := m.config.parseTimings(); err != nil {
		return err
	}
	return nil
}

// Start implements core.Starter.
func (m *Module) Start() error {
	// The prefs module provisions after this one, so its store is not yet
	// registered when Provision runs. Pick it up here before serving.
	if svc, ok := m.appCtx.Service(prefs.ServiceName); ok {
		if store, ok := svc.(prefs.Store); ok && store != nil {
			m.gateway.Methods().RegisterBuiltins(store)
		}
	}
	return m.gateway.Start()
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	return m.gateway.Stop(ctx)
}
