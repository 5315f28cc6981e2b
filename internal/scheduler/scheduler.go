// Package scheduler runs the periodic delivery, billing, retry and cleanup sweeps.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"inspiration-api/internal/apperr"
	"inspiration-api/internal/config"
	"inspiration-api/internal/database"
	"inspiration-api/internal/metrics"
	"inspiration-api/internal/models"
	"inspiration-api/internal/services"
	"inspiration-api/pkg/logging"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job names a sweep
type Job string

const (
	JobDelivery Job = "delivery"
	JobBilling  Job = "billing"
	JobRetry    Job = "retry"
	JobCleanup  Job = "cleanup"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrJobRunning = errors.New("job already running")
)

// ParseJob validates a job name
func ParseJob(name string) (Job, error) {
	switch j := Job(name); j {
	case JobDelivery, JobBilling, JobRetry, JobCleanup:
		return j, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

// Deps are the collaborators the sweeps drive
type Deps struct {
	Store         *database.Store
	Subscriptions *services.SubscriptionService
	Notifications *services.NotificationService
	Selector      *services.ContentSelector
	Templates     *services.Templates
	Marker        services.Marker
	Retry         *services.RetryPolicy
	Alerter       services.Alerter
	Metrics       *metrics.Metrics
}

// JobStatus describes one registered job
type JobStatus struct {
	Name      Job        `json:"name"`
	Spec      string     `json:"spec"`
	Next      *time.Time `json:"next_run,omitempty"`
	Prev      *time.Time `json:"prev_run,omitempty"`
	Running   bool       `json:"running"`
	LastError string     `json:"last_error,omitempty"`
}

// Status is a snapshot of the scheduler
type Status struct {
	Started  bool        `json:"started"`
	Timezone string      `json:"timezone"`
	Jobs     []JobStatus `json:"jobs"`
}

// Scheduler owns the cron runner and the sweeps
type Scheduler struct {
	Deps
	cfg      *config.Config
	location *time.Location
	specs    map[Job]string
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)

	mu        sync.Mutex
	cron      *cron.Cron
	entries   map[Job]cron.EntryID
	running   map[Job]bool
	lastError map[Job]string
}

// New creates a stopped scheduler
func New(cfg *config.Config, deps Deps) *Scheduler {
	return &Scheduler{
		Deps:     deps,
		cfg:      cfg,
		location: cfg.Location(),
		specs: map[Job]string{
			JobDelivery: cfg.DeliveryCron,
			JobBilling:  cfg.BillingCron,
			JobRetry:    cfg.RetryCron,
			JobCleanup:  cfg.CleanupCron,
		},
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepCtx,
		entries:   make(map[Job]cron.EntryID),
		running:   make(map[Job]bool),
		lastError: make(map[Job]string),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Start registers every job and starts the cron runner. Calling it again while started
// does nothing.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		logging.Infof("[Scheduler] Already started")
		return nil
	}

	cronLogger := cron.PrintfLogger(logging.Logger())
	c := cron.New(
		cron.WithLocation(s.location),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	entries := make(map[Job]cron.EntryID, len(s.specs))
	for _, job := range s.jobs() {
		job := job
		id, err := c.AddFunc(s.specs[job], func() {
			if _, err := s.run(context.Background(), job); err != nil && !errors.Is(err, ErrJobRunning) {
				logging.Errorf("[Scheduler] Job failed - job: %s, error: %v", job, err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid cron spec for %s %q: %w", job, s.specs[job], err)
		}
		entries[job] = id
	}

	s.cron = c
	s.entries = entries
	c.Start()
	logging.Infof("[Scheduler] Started - timezone: %s, jobs: %d", s.location, len(entries))
	return nil
}

// Stop stops the cron runner and waits for running jobs. It is safe to call repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.entries = make(map[Job]cron.EntryID)
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	logging.Infof("[Scheduler] Stopped")
}

// Status reads the registered jobs without side effects
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{Started: s.cron != nil, Timezone: s.location.String()}
	for _, job := range s.jobs() {
		js := JobStatus{
			Name:      job,
			Spec:      s.specs[job],
			Running:   s.running[job],
			LastError: s.lastError[job],
		}
		if s.cron != nil {
			if id, ok := s.entries[job]; ok {
				entry := s.cron.Entry(id)
				if !entry.Next.IsZero() {
					next := entry.Next
					js.Next = &next
				}
				if !entry.Prev.IsZero() {
					prev := entry.Prev
					js.Prev = &prev
				}
			}
		}
		status.Jobs = append(status.Jobs, js)
	}
	return status
}

// RunNow runs a job synchronously. It fails with ErrJobRunning if the job is in progress.
func (s *Scheduler) RunNow(ctx context.Context, job Job) (*Report, error) {
	if _, err := ParseJob(string(job)); err != nil {
		return nil, err
	}
	return s.run(ctx, job)
}

func (s *Scheduler) jobs() []Job {
	jobs := make([]Job, 0, len(s.specs))
	for job := range s.specs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i] < jobs[j] })
	return jobs
}

// RunDelivery runs the delivery sweep for slot instead of the current time. It shares the
// delivery job's running flag, so it fails with ErrJobRunning while a delivery is in progress.
func (s *Scheduler) RunDelivery(ctx context.Context, slot string) (*Report, error) {
	if !models.ValidDeliveryTime(slot) {
		return nil, fmt.Errorf("delivery slot %q: %w", slot, apperr.ErrInvalidInput)
	}
	return s.guard(ctx, JobDelivery, func(ctx context.Context) (*Report, error) {
		return s.Deliver(ctx, slot, s.now())
	})
}

func (s *Scheduler) run(ctx context.Context, job Job) (*Report, error) {
	return s.guard(ctx, job, func(ctx context.Context) (*Report, error) {
		switch job {
		case JobDelivery:
			tick := s.now().In(s.location)
			return s.Deliver(ctx, tick.Format("15:04"), tick)
		case JobBilling:
			return s.Bill(ctx)
		case JobRetry:
			return s.RetryFailed(ctx)
		case JobCleanup:
			return s.Cleanup(ctx)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, job)
	})
}

// guard runs sweep as job unless that job is already running, and records the outcome
func (s *Scheduler) guard(ctx context.Context, job Job, sweep func(context.Context) (*Report, error)) (*Report, error) {
	s.mu.Lock()
	if s.running[job] {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, job)
	}
	s.running[job] = true
	s.mu.Unlock()

	start := time.Now()
	logging.Infof("[Scheduler] Running job - job: %s", job)

	report, err := sweep(ctx)

	elapsed := time.Since(start)
	s.Metrics.ObserveSweep(string(job), err, elapsed)

	s.mu.Lock()
	s.running[job] = false
	if err != nil {
		s.lastError[job] = err.Error()
	} else {
		delete(s.lastError, job)
	}
	s.mu.Unlock()

	if report != nil {
		report.Duration = elapsed.String()
		logging.WithFields(logging.Fields{
			"job":       job,
			"processed": report.Processed,
			"succeeded": report.Succeeded,
			"failed":    report.Failed,
			"skipped":   report.Skipped,
			"duration":  report.Duration,
		}).Info("[Scheduler] Job finished")
	}
	return report, err
}
