// Package schedule runs the server's periodic jobs on cron expressions
// evaluated in the market's time zone.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"folio/internal/util"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Status is the last known state of a scheduled job.
type Status struct {
	Name     string        `json:"name"`
	Spec     string        `json:"spec"`
	Runs     int           `json:"runs"`
	Skipped  int           `json:"skipped"`
	LastRun  time.Time     `json:"last_run"`
	Duration time.Duration `json:"duration"`
	LastErr  string        `json:"last_error,omitempty"`
}

// ErrJobRunning is returned by Trigger when the job is already running.
var ErrJobRunning = errors.New("job already running")

// entry is one registered job. running guards against self-overlap for
// both scheduled and manual runs.
type entry struct {
	status          Status
	job             Job
	tradingDaysOnly bool
	running         sync.Mutex
}

// Scheduler wraps a cron runner. Jobs never overlap with themselves and
// can be restricted to trading days.
type Scheduler struct {
	cron *cron.Cron
	cal  *util.TradingCalendar
	log  *slog.Logger
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*entry
}

// New creates a Scheduler for cal's market.
func New(cal *util.TradingCalendar, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(cal.Location())),
		cal:    cal,
		log:    logger.With("component", "schedule"),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*entry),
	}
}

// Add registers job under name on a standard five-field cron spec. An empty
// spec disables the job. With tradingDaysOnly, scheduled runs falling on a
// weekend are skipped.
func (s *Scheduler) Add(name, spec string, tradingDaysOnly bool, job Job) error {
	if spec == "" {
		s.log.Info("job disabled", "job", name)
		return nil
	}
	s.mu.Lock()
	if _, dup := s.jobs[name]; dup {
		s.mu.Unlock()
		return fmt.Errorf("job %q already registered", name)
	}
	e := &entry{status: Status{Name: name, Spec: spec}, job: job, tradingDaysOnly: tradingDaysOnly}
	s.jobs[name] = e
	s.mu.Unlock()

	_, err := s.cron.AddFunc(spec, func() {
		if err := s.run(e, e.tradingDaysOnly); errors.Is(err, ErrJobRunning) {
			s.log.Warn("job still running, skipping", "job", name)
		}
	})
	if err != nil {
		s.mu.Lock()
		delete(s.jobs, name)
		s.mu.Unlock()
		return fmt.Errorf("adding job %s: %w", name, err)
	}
	s.log.Info("job scheduled", "job", name, "spec", spec)
	return nil
}

// Trigger runs the registered job once, synchronously, outside its
// schedule. It returns ErrJobRunning if a run is already in progress.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	return s.run(e, false)
}

func (s *Scheduler) run(e *entry, tradingDaysOnly bool) error {
	if !e.running.TryLock() {
		s.mu.Lock()
		e.status.Skipped++
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", e.status.Name, ErrJobRunning)
	}
	defer e.running.Unlock()

	name := e.status.Name
	now := s.now()
	if tradingDaysOnly && !s.cal.IsTradingDay(now) {
		s.mu.Lock()
		e.status.Skipped++
		s.mu.Unlock()
		s.log.Debug("not a trading day, skipping", "job", name)
		return nil
	}

	s.log.Info("job started", "job", name)
	err := e.job(s.ctx)
	elapsed := time.Since(now)

	s.mu.Lock()
	e.status.Runs++
	e.status.LastRun = now
	e.status.Duration = elapsed
	e.status.LastErr = ""
	if err != nil {
		e.status.LastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("job failed", "job", name, "error", err, "elapsed", elapsed)
	} else {
		s.log.Info("job finished", "job", name, "elapsed", elapsed)
	}
	return err
}

// Statuses returns a snapshot of every registered job.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
