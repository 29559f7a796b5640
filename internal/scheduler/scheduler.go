// Package scheduler runs named jobs on a cron-style schedule expression,
// each firing one elevated agent turn against a prompt and target session.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// AgentRunner is the capability the scheduler needs from the Agent Loop:
// run one turn against a session. Accepted as an interface rather than
// importing agentloop directly, to break the cyclic dependency between
// the two packages.
type AgentRunner interface {
	ProcessMessage(ctx context.Context, sessionID, content string) error
}

// SessionElevator lets the scheduler mark a session elevated for the
// duration of a scheduled turn.
type SessionElevator interface {
	SetElevated(sessionID string, elevated bool) error
}

// Job is one named scheduled entry.
type Job struct {
	Name          string
	Schedule      string // standard 5-field cron expression (no seconds field)
	Prompt        string
	TargetSession string
}

// Scheduler runs Jobs on a robfig/cron/v3 clock, each firing one agent
// turn against its target session with the session marked elevated for
// that turn.
type Scheduler struct {
	runner   AgentRunner
	elevator SessionElevator
	logger   *slog.Logger

	cron *cron.Cron

	mu      sync.Mutex
	started bool
	entries map[string]cron.EntryID
	jobs    map[string]Job
}

// New builds a Scheduler. logger may be nil.
func New(runner AgentRunner, elevator SessionElevator, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		elevator: elevator,
		logger:   logger,
		cron:     cron.New(),
		entries:  make(map[string]cron.EntryID),
		jobs:     make(map[string]Job),
	}
}

// AddJob registers job, replacing any existing job of the same name.
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[job.Name]; ok {
		s.cron.Remove(existing)
		delete(s.entries, job.Name)
	}

	id, err := s.cron.AddFunc(job.Schedule, func() { s.fire(job) })
	if err != nil {
		return fmt.Errorf("schedule job %q: %w", job.Name, err)
	}
	s.entries[job.Name] = id
	s.jobs[job.Name] = job
	return nil
}

// RemoveJob unregisters a job by name.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
		delete(s.jobs, name)
	}
}

// Jobs returns a snapshot of the currently registered jobs.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// Start begins firing scheduled jobs. Safe to call once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	<-s.cron.Stop().Done()
}

func (s *Scheduler) fire(job Job) {
	if job.TargetSession == "" || s.runner == nil {
		return
	}
	ctx := context.Background()

	if s.elevator != nil {
		if err := s.elevator.SetElevated(job.TargetSession, true); err != nil {
			s.logger.Warn("scheduler: failed to elevate session", "job", job.Name, "error", err)
		}
		defer func() {
			if err := s.elevator.SetElevated(job.TargetSession, false); err != nil {
				s.logger.Warn("scheduler: failed to de-elevate session", "job", job.Name, "error", err)
			}
		}()
	}

	if err := s.runner.ProcessMessage(ctx, job.TargetSession, job.Prompt); err != nil {
		s.logger.Warn("scheduler: job turn failed", "job", job.Name, "error", err)
	}
}
