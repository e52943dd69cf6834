// Package scheduler repeats port audits on cron schedules. Every tick runs an
// independent audit; a tick that arrives while the previous audit of the same
// job is still running is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/portaudit/internal/audit"
	"github.com/anstrom/portaudit/internal/logging"
	"github.com/anstrom/portaudit/internal/scanning"
)

var (
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobRunning is returned when a job is triggered while it is still running.
	ErrJobRunning = errors.New("job is already running")
	// ErrSchedulerRunning is returned by Start on a running scheduler.
	ErrSchedulerRunning = errors.New("scheduler is already running")
)

// Auditor performs one audit of a target.
type Auditor interface {
	Run(ctx context.Context, target string) (*audit.Outcome, error)
}

// Scheduler manages scheduled audit jobs.
type Scheduler struct {
	cron    *cron.Cron
	auditor Auditor
	logger  *logging.Logger
	jobs    map[uuid.UUID]*ScheduledJob
	mu      sync.RWMutex
	running bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// ScheduledJob is the state of one scheduled audit.
type ScheduledJob struct {
	ID         uuid.UUID
	CronID     cron.EntryID
	Target     string
	Expression string
	LastRun    time.Time
	NextRun    time.Time
	Running    bool
	Runs       int
	Skipped    int
	LastStatus string
	LastError  string
}

// ValidateExpression checks a standard five-field cron expression or a
// descriptor such as "@hourly" or "@every 30m".
func ValidateExpression(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return fmt.Errorf("invalid cron expression: empty")
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// NewScheduler creates a scheduler that runs audits through auditor.
func NewScheduler(auditor Auditor) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.Default().WithComponent("schedule")

	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger{logger}))),
		auditor: auditor,
		logger:  logger,
		jobs:    make(map[uuid.UUID]*ScheduledJob),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerRunning
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("scheduler has been stopped")
	}

	s.cron.Start()
	s.running = true

	for _, job := range s.jobs {
		job.NextRun = s.nextRun(job)
	}

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop interrupts running audits and waits for them to finish. A stopped
// scheduler cannot be restarted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.cancel()
	s.mu.Unlock()

	if wasRunning {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()

	s.logger.Info("Scheduler stopped")
}

// AddAuditJob schedules audits of target on expr.
func (s *Scheduler) AddAuditJob(target, expr string) (uuid.UUID, error) {
	if strings.TrimSpace(target) == "" {
		return uuid.Nil, fmt.Errorf("target is required")
	}
	if err := ValidateExpression(expr); err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job := &ScheduledJob{
		ID:         uuid.New(),
		Target:     target,
		Expression: expr,
	}

	cronID, err := s.cron.AddFunc(expr, func() {
		_ = s.executeJob(job.ID)
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to add cron job: %w", err)
	}

	job.CronID = cronID
	job.NextRun = s.nextRun(job)
	s.jobs[job.ID] = job

	s.logger.Info("Added audit job", "job_id", job.ID.String(), "target", target, "schedule", expr,
		"next_run", job.NextRun)
	return job.ID, nil
}

// RemoveJob unschedules a job. A running audit of the job is not interrupted.
func (s *Scheduler) RemoveJob(jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}

	s.cron.Remove(job.CronID)
	delete(s.jobs, jobID)

	s.logger.Info("Removed audit job", "job_id", jobID.String(), "target", job.Target)
	return nil
}

// TriggerJob runs a job immediately and waits for the audit to finish.
func (s *Scheduler) TriggerJob(jobID uuid.UUID) error {
	return s.executeJob(jobID)
}

// GetJobs returns a copy of every scheduled job, ordered by next run.
func (s *Scheduler) GetJobs() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	slices.SortFunc(jobs, func(a, b ScheduledJob) int {
		return a.NextRun.Compare(b.NextRun)
	})
	return jobs
}

// GetJob returns a copy of one job.
func (s *Scheduler) GetJob(jobID uuid.UUID) (ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return ScheduledJob{}, ErrJobNotFound
	}
	return *job, nil
}

func (s *Scheduler) executeJob(jobID uuid.UUID) error {
	job, err := s.prepareJobExecution(jobID)
	if err != nil {
		return err
	}
	defer s.wg.Done()

	logger := s.logger.WithFields("job_id", jobID.String()).WithTarget(job.Target)
	logger.Info("Executing scheduled audit")

	outcome, runErr := s.runAudit(job.Target)

	s.cleanupJobExecution(jobID, outcome, runErr)

	switch {
	case errors.Is(runErr, scanning.ErrScanInProgress):
		logger.Warn("Scheduled audit skipped, another audit is running")
	case runErr != nil:
		logger.Error("Scheduled audit failed", "error", runErr)
	default:
		logger.Info("Scheduled audit finished", "status", outcome.Status.String(),
			"open_ports", len(outcome.Result.Ports))
	}
	return runErr
}

// runAudit turns an auditor panic into an error so the job does not stay
// marked as running.
func (s *Scheduler) runAudit(target string) (outcome *audit.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = nil, fmt.Errorf("audit panicked: %v", r)
		}
	}()
	return s.auditor.Run(s.ctx, target)
}

// prepareJobExecution marks the job running, or reports why it cannot run.
func (s *Scheduler) prepareJobExecution(jobID uuid.UUID) (*ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, ErrJobNotFound
	}
	if s.ctx.Err() != nil {
		return nil, fmt.Errorf("scheduler has been stopped")
	}
	if job.Running {
		job.Skipped++
		s.logger.Warn("Audit job is already running, skipping", "job_id", jobID.String(), "target", job.Target)
		return nil, ErrJobRunning
	}

	job.Running = true
	job.LastRun = time.Now()
	s.wg.Add(1)

	snapshot := *job
	return &snapshot, nil
}

// cleanupJobExecution records the audit outcome and marks the job idle.
func (s *Scheduler) cleanupJobExecution(jobID uuid.UUID, outcome *audit.Outcome, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return
	}

	job.Running = false
	job.NextRun = s.nextRun(job)

	if errors.Is(runErr, scanning.ErrScanInProgress) {
		job.Skipped++
		return
	}

	job.Runs++
	job.LastError = ""
	if runErr != nil {
		job.LastError = runErr.Error()
	}
	if outcome != nil {
		job.LastStatus = outcome.Status.String()
	}
}

// nextRun asks cron for the next activation. Before Start cron has not
// computed it yet, so the schedule is evaluated directly.
func (s *Scheduler) nextRun(job *ScheduledJob) time.Time {
	if next := s.cron.Entry(job.CronID).Next; !next.IsZero() {
		return next
	}
	schedule, err := cron.ParseStandard(job.Expression)
	if err != nil {
		return time.Time{}
	}
	return schedule.Next(time.Now())
}

// cronLogger adapts the structured logger to cron.Logger.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
