// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrJobNotFound is returned by RunNow for an unregistered job name.
var ErrJobNotFound = errors.New("job not found")

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// JobStatus is the last known state of a registered job
type JobStatus struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	NextRun    time.Time `json:"next_run"`
	LastRun    time.Time `json:"last_run,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Running    bool      `json:"running"`
}

type entry struct {
	job      Job
	schedule string
	id       cron.EntryID

	mu       sync.Mutex // serializes runs of this job
	stateMu  sync.Mutex
	running  bool
	lastRun  time.Time
	lastErr  error
	duration time.Duration
}

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu   sync.RWMutex
	jobs map[string]*entry
}

// New creates a new scheduler
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
		jobs: make(map[string]*entry),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with cron schedule
// Schedule examples:
//   - "0 */5 * * * *"      - Every 5 minutes
//   - "@hourly"            - Every hour
//   - "0 30 22 * * MON-FRI" - 22:30 on weekdays
//   - "@every 30s"         - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %s already registered", job.Name())
	}

	e := &entry{job: job, schedule: schedule}
	id, err := s.cron.AddFunc(schedule, func() {
		_ = s.run(e)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, job.Name(), err)
	}
	e.id = id
	s.jobs[job.Name()] = e

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a registered job immediately (outside schedule)
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	e, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	s.log.Info().Str("job", name).Msg("Running job immediately")
	return s.run(e)
}

// Status returns the state of every registered job, sorted by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for name, e := range s.jobs {
		e.stateMu.Lock()
		st := JobStatus{
			Name:       name,
			Schedule:   e.schedule,
			NextRun:    s.cron.Entry(e.id).Next,
			LastRun:    e.lastRun,
			DurationMs: e.duration.Milliseconds(),
			Running:    e.running,
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		e.stateMu.Unlock()
		statuses = append(statuses, st)
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

func (s *Scheduler) run(e *entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := e.job.Name()
	s.log.Debug().Str("job", name).Msg("Running job")

	start := time.Now()
	e.stateMu.Lock()
	e.running = true
	e.stateMu.Unlock()

	err := e.job.Run()

	e.stateMu.Lock()
	e.running = false
	e.lastRun = start
	e.lastErr = err
	e.duration = time.Since(start)
	e.stateMu.Unlock()

	if err != nil {
		s.log.Error().
			Err(err).
			Str("job", name).
			Msg("Job failed")
		return err
	}

	s.log.Debug().Str("job", name).Dur("duration_ms", time.Since(start)).Msg("Job completed")
	return nil
}
