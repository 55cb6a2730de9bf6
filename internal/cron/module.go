package cron

import (
	"context"

	"gopkg.in/yaml.v3"

	"github.com/clawdis/bridge/internal/core"
)

func init() {
	core.RegisterModule(&Module{})
}

// ModuleConfig holds YAML configuration for the cron module.
type ModuleConfig struct {
	// NodeSweepSchedule overrides the node sweep cron expression.
	NodeSweepSchedule string `yaml:"node_sweep_schedule"`
}

// Module runs the scheduler under the application lifecycle. Built-in jobs
// attach to services other modules registered, so resolution happens at
// Start, after every module is provisioned.
type Module struct {
	config    ModuleConfig
	appCtx    *core.AppContext
	scheduler *Scheduler
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "cron",
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
	m.appCtx = ctx
	m.scheduler = NewScheduler(ctx.Logger)
	ctx.RegisterService("cron.scheduler", m.scheduler)
	return nil
}

// Start implements core.Starter.
func (m *Module) Start() error {
	if svc, ok := m.appCtx.Service("gateway.bridge"); ok {
		if sweeper, ok := svc.(NodeSweeper); ok {
			if err := m.scheduler.RegisterJob(&NodeSweepJob{
				Sweeper:      sweeper,
				Logger:       m.appCtx.Logger,
				ScheduleExpr: m.config.NodeSweepSchedule,
			}); err != nil {
				return err
			}
		}
	}
	return m.scheduler.Start()
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	return m.scheduler.Stop(ctx)
}
