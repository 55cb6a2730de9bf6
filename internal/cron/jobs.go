package cron

import (
	"context"
	"log/slog"
)

// NodeSweeper is the subset of the gateway needed to reap dead sessions.
// Defined here to avoid a dependency on the gateway package.
type NodeSweeper interface {
	SweepStale() int
}

// NodeSweepJob disconnects node sessions that stopped answering pings.
type NodeSweepJob struct {
	Sweeper      NodeSweeper
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "* * * * *"
}

// Compile-time interface check.
var _ Job = (*NodeSweepJob)(nil)

// Name implements Job.
func (j *NodeSweepJob) Name() string { return "node_sweep" }

// Schedule implements Job.
func (j *NodeSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "* * * * *"
}

// Run reaps unresponsive node sessions.
func (j *NodeSweepJob) Run(_ context.Context) error {
	if reaped := j.Sweeper.SweepStale(); reaped > 0 {
		j.Logger.Info("cron: swept unresponsive nodes", "count", reaped)
	}
	return nil
}
