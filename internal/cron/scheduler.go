package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs registered jobs on their cron expressions. Each job carries
// its own mutex taken with TryLock, so a tick that fires while the previous
// run is still going is skipped instead of piling up.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   []Job
	locks  map[string]*sync.Mutex
	logger *slog.Logger
	cancel context.CancelFunc
}

// NewScheduler creates an empty scheduler. Register jobs before Start.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		locks:  make(map[string]*sync.Mutex),
		logger: logger,
	}
}

// RegisterJob adds a job. Job names are unique; a second registration under
// the same name fails.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	if _, exists := s.locks[name]; exists {
		return fmt.Errorf("cron: job %q already registered", name)
	}

	s.locks[name] = &sync.Mutex{}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start validates every schedule and begins ticking. Jobs run on a five-field
// cron grammar (minute granularity).
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s.cron = cron.New(cron.WithParser(parser))

	for _, j := range s.jobs {
		job := j
		lock := s.locks[job.Name()]

		_, err := s.cron.AddFunc(job.Schedule(), func() {
			if !lock.TryLock() {
				s.logger.Warn("job overran its schedule, skipping tick", "job", job.Name())
				return
			}
			defer lock.Unlock()

			if err := job.Run(ctx); err != nil {
				s.logger.Error("job failed", "job", job.Name(), "error", err)
			}
		})
		if err != nil {
			cancel()
			return fmt.Errorf("cron: job %q has an invalid schedule: %w", job.Name(), err)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop cancels job contexts and waits for in-flight runs to return.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.logger.Info("scheduler stopped")
	}
	return nil
}
