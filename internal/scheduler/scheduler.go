// Package scheduler runs the ledger sweeps on their timers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/vipledger/pkg/entitlement"
	"go.uber.org/zap"
)

const (
	JobExpireVip           = "expire_vip"
	JobResetDailyQuotas    = "reset_daily_quotas"
	JobEscalateWithdrawals = "escalate_withdrawals"

	DefaultExpiryInterval     = time.Minute
	DefaultEscalationInterval = 10 * time.Minute

	lockKeyPrefix = "vipledger:sweep:"
)

var (
	ErrUnknownJob     = errors.New("scheduler: unknown job")
	ErrInvalidJob     = errors.New("scheduler: invalid job")
	ErrAlreadyStarted = errors.New("scheduler: already started")
)

// Schedule returns the next run time strictly after now.
type Schedule func(now time.Time) time.Time

// Every schedules a job at a fixed interval.
func Every(interval time.Duration) Schedule {
	return func(now time.Time) time.Time {
		return now.Add(interval)
	}
}

// Job is one named sweep.
type Job struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context) (entitlement.SweepReport, error)
}

// Intervals tunes the interval-driven sweeps. Zero values select defaults.
type Intervals struct {
	Expiry     time.Duration
	Escalation time.Duration
}

// ServiceJobs returns the three ledger sweeps bound to service. The daily
// reset fires at the service's local midnight.
func ServiceJobs(service *entitlement.Service, intervals Intervals) []Job {
	expiry := intervals.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiryInterval
	}
	escalation := intervals.Escalation
	if escalation <= 0 {
		escalation = DefaultEscalationInterval
	}
	return []Job{
		{Name: JobExpireVip, Schedule: Every(expiry), Run: service.ExpireVip},
		{Name: JobResetDailyQuotas, Schedule: service.NextDailyBoundary, Run: service.ResetDailyQuotas},
		{Name: JobEscalateWithdrawals, Schedule: Every(escalation), Run: service.EscalateWithdrawals},
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(scheduler *Scheduler) {
		if now != nil {
			scheduler.now = now
		}
	}
}

// WithLocker serializes each job across replicas.
func WithLocker(locker entitlement.Locker) Option {
	return func(scheduler *Scheduler) {
		scheduler.locker = locker
	}
}

// Scheduler runs each job on its own goroutine until stopped.
type Scheduler struct {
	jobs   map[string]Job
	order  []string
	logger *zap.Logger
	now    func() time.Time
	locker entitlement.Locker

	mutex  sync.Mutex
	cancel context.CancelFunc
	wait   sync.WaitGroup
}

// New validates jobs and returns an idle Scheduler.
func New(logger *zap.Logger, jobs []Job, options ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	scheduler := &Scheduler{jobs: make(map[string]Job, len(jobs)), logger: logger, now: time.Now}
	for _, job := range jobs {
		switch {
		case job.Name == "":
			return nil, fmt.Errorf("%w: missing name", ErrInvalidJob)
		case job.Schedule == nil:
			return nil, fmt.Errorf("%w: %s: missing schedule", ErrInvalidJob, job.Name)
		case job.Run == nil:
			return nil, fmt.Errorf("%w: %s: missing run", ErrInvalidJob, job.Name)
		}
		if _, exists := scheduler.jobs[job.Name]; exists {
			return nil, fmt.Errorf("%w: duplicate %s", ErrInvalidJob, job.Name)
		}
		scheduler.jobs[job.Name] = job
		scheduler.order = append(scheduler.order, job.Name)
	}
	for _, option := range options {
		if option != nil {
			option(scheduler)
		}
	}
	return scheduler, nil
}

// Names lists the registered jobs in registration order.
func (scheduler *Scheduler) Names() []string {
	return append([]string(nil), scheduler.order...)
}

// Start launches every job. It returns immediately.
func (scheduler *Scheduler) Start(ctx context.Context) error {
	scheduler.mutex.Lock()
	defer scheduler.mutex.Unlock()
	if scheduler.cancel != nil {
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	scheduler.cancel = cancel
	for _, name := range scheduler.order {
		job := scheduler.jobs[name]
		scheduler.wait.Add(1)
		go func() {
			defer scheduler.wait.Done()
			scheduler.loop(runCtx, job)
		}()
	}
	return nil
}

// Stop cancels the running jobs and waits for them to return.
func (scheduler *Scheduler) Stop() {
	scheduler.mutex.Lock()
	defer scheduler.mutex.Unlock()
	if scheduler.cancel == nil {
		return
	}
	scheduler.cancel()
	scheduler.wait.Wait()
	scheduler.cancel = nil
}

// RunOnce runs the named job immediately.
func (scheduler *Scheduler) RunOnce(ctx context.Context, name string) (entitlement.SweepReport, error) {
	job, ok := scheduler.jobs[name]
	if !ok {
		return entitlement.SweepReport{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return scheduler.run(ctx, job)
}

func (scheduler *Scheduler) loop(ctx context.Context, job Job) {
	logger := scheduler.logger.With(zap.String("job", job.Name))
	logger.Info("sweep scheduled")
	for {
		now := scheduler.now()
		wait := job.Schedule(now).Sub(now)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("sweep stopped")
			return
		case <-timer.C:
		}
		report, err := scheduler.run(ctx, job)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("sweep stopped")
				return
			}
			logger.Error("sweep failed", zap.Error(err))
			continue
		}
		if report.Applied > 0 || report.Failed > 0 {
			logger.Info("sweep finished",
				zap.Int("scanned", report.Scanned),
				zap.Int("applied", report.Applied),
				zap.Int("failed", report.Failed),
			)
		}
	}
}

func (scheduler *Scheduler) run(ctx context.Context, job Job) (entitlement.SweepReport, error) {
	if scheduler.locker != nil {
		unlock, err := scheduler.locker.Lock(ctx, lockKeyPrefix+job.Name)
		if err != nil {
			return entitlement.SweepReport{}, err
		}
		defer unlock()
	}
	return job.Run(ctx)
}
