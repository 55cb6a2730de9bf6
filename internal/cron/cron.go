// Package cron schedules recurring maintenance work for the bridge, such as
// reaping node sessions that stopped answering pings.
package cron

import "context"

// Job is a recurring task run by the Scheduler.
type Job interface {
	// Name identifies the job in logs and must be unique per scheduler.
	Name() string

	// Schedule returns the job's five-field cron expression.
	Schedule() string

	// Run performs one execution. Long-running jobs should honor ctx
	// cancellation so shutdown is not held up.
	Run(ctx context.Context) error
}
