package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job names used by the server.
const (
	JobScan       = "scan"
	JobTrashPurge = "trash-purge"
)

type entry struct {
	id   cron.EntryID
	expr string
}

// Scheduler wraps robfig/cron and keeps jobs addressable by name so a job's
// schedule can be replaced at runtime.
type Scheduler struct {
	mu   sync.RWMutex
	c    *cron.Cron
	jobs map[string]entry
}

// New creates a stopped Scheduler. Call Start to activate it.
func New() *Scheduler {
	return &Scheduler{
		c:    cron.New(),
		jobs: make(map[string]entry),
	}
}

// Set installs fn under name on the cron expression expr, replacing any job
// already registered under that name. An empty expr removes the job.
func (s *Scheduler) Set(name, expr string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expr == "" {
		s.removeLocked(name)
		return nil
	}

	id, err := s.c.AddFunc(expr, fn)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q for job %s: %w", expr, name, err)
	}
	s.removeLocked(name)
	s.jobs[name] = entry{id: id, expr: expr}
	slog.Info("scheduler: job set", "job", name, "cron", expr)
	return nil
}

// Remove drops the job registered under name, if any.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
}

func (s *Scheduler) removeLocked(name string) {
	if e, ok := s.jobs[name]; ok {
		s.c.Remove(e.id)
		delete(s.jobs, name)
	}
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop halts the cron loop and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

// Next returns the next run time of the named job, or nil if it is not
// scheduled or the scheduler has not been started.
func (s *Scheduler) Next(name string) *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.jobs[name]
	if !ok {
		return nil
	}
	ce := s.c.Entry(e.id)
	if ce.ID == 0 || ce.Next.IsZero() {
		return nil
	}
	t := ce.Next
	return &t
}

// Expr returns the cron expression of the named job, or "".
func (s *Scheduler) Expr(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[name].expr
}
