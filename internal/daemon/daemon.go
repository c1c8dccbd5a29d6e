// Package daemon implements transferd's scheduler: one cron entry per
// configured job, a running guard so a slow job's next firing is skipped
// rather than queued, and the wiring between a completed run and the
// Metrics Exporter / Run Reporter.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opsmesh/transferctl/internal/config"
	"github.com/opsmesh/transferctl/internal/metrics"
	"github.com/opsmesh/transferctl/internal/report"
	"github.com/opsmesh/transferctl/internal/resourceguard"
	"github.com/opsmesh/transferctl/internal/transfer"
)

// Job tracks one scheduled transfer's execution guard and last outcome,
// mirroring the teacher's per-entry BackupJob/BackupJobResult split.
type Job struct {
	Config config.JobConfig

	mu         sync.Mutex
	running    bool
	LastResult *JobResult
}

// JobResult is the outcome of one scheduled firing.
type JobResult struct {
	Status    string // "completed", "failed", "skipped"
	Duration  time.Duration
	Timestamp time.Time
	Error     string
}

// Scheduler owns the cron instance, the registered jobs, and the
// collaborators a fired job needs to build and run a Supervisor.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	jobs   []*Job

	newSupervisor func() *transfer.Supervisor
	guard         *resourceguard.Guard
	reporter      *report.Reporter
	metrics       *metrics.Metrics
}

// New builds a Scheduler with one cron entry per job in cfg.Jobs.
// newSupervisor is called once per firing so each run gets a fresh
// Supervisor (the session password must not outlive one run).
func New(cfg *config.DaemonConfig, logger *slog.Logger, newSupervisor func() *transfer.Supervisor, guard *resourceguard.Guard, reporter *report.Reporter, m *metrics.Metrics) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		logger:        logger,
		newSupervisor: newSupervisor,
		guard:         guard,
		reporter:      reporter,
		metrics:       m,
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	for _, jc := range cfg.Jobs {
		job := &Job{Config: jc}
		s.jobs = append(s.jobs, job)

		jobRef := job
		if _, err := c.AddFunc(jc.Schedule, func() {
			s.executeJob(jobRef)
		}); err != nil {
			return nil, fmt.Errorf("registering cron job %q: %w", jc.Name, err)
		}

		logger.Info("registered transfer job", "job", jc.Name, "schedule", jc.Schedule, "source", jc.Source)
	}

	s.cron = c
	return s, nil
}

// Start begins firing registered jobs.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	s.cron.Start()
}

// Stop stops accepting new firings and waits for in-flight jobs, up to
// ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.Info("scheduler stopping")
	stopCtx := s.cron.Stop()

	select {
	case <-stopCtx.Done():
		s.logger.Info("scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out waiting for in-flight jobs")
	}
}

// Jobs returns every registered job, for a future status endpoint.
func (s *Scheduler) Jobs() []*Job {
	return s.jobs
}

func (s *Scheduler) executeJob(job *Job) {
	jobLogger := s.logger.With("job", job.Config.Name, "source", job.Config.Source)

	job.mu.Lock()
	if job.running {
		job.mu.Unlock()
		jobLogger.Warn("job already running, skipping this firing")
		job.LastResult = &JobResult{Status: "skipped", Timestamp: time.Now()}
		if s.metrics != nil {
			s.metrics.ObserveRun("skipped")
		}
		return
	}
	job.running = true
	job.mu.Unlock()

	defer func() {
		job.mu.Lock()
		job.running = false
		job.mu.Unlock()
	}()

	jobLogger.Info("scheduled transfer triggered")
	start := time.Now()

	err := s.runOnce(context.Background(), job.Config, jobLogger)
	duration := time.Since(start)

	if err != nil {
		jobLogger.Error("transfer failed", "error", err, "duration", duration)
		job.LastResult = &JobResult{Status: "failed", Duration: duration, Timestamp: time.Now(), Error: err.Error()}
	} else {
		jobLogger.Info("transfer completed", "duration", duration)
		job.LastResult = &JobResult{Status: "completed", Duration: duration, Timestamp: time.Now()}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, jc config.JobConfig, logger *slog.Logger) error {
	sourceHost, sourcePath, err := config.ParseEndpoint(jc.Source)
	if err != nil {
		return fmt.Errorf("parsing job source: %w", err)
	}

	targets := make([]config.Target, 0, len(jc.Targets))
	for _, raw := range jc.Targets {
		host, path, err := config.ParseEndpoint(raw)
		if err != nil {
			return fmt.Errorf("parsing job target %q: %w", raw, err)
		}
		targets = append(targets, config.Target{Host: host, Path: path})
	}

	spec, err := config.New(sourceHost, sourcePath, targets, jc.ToOptions())
	if err != nil {
		return fmt.Errorf("building transfer spec: %w", err)
	}

	sup := s.newSupervisor()
	sup.Logger = logger
	sup.Guard = s.guard

	runReport, runErr := sup.Run(ctx, spec)

	result := "success"
	if runErr != nil {
		result = "failure"
	}
	if s.metrics != nil {
		s.metrics.ObserveRun(result)
		for _, t := range runReport.Targets {
			targetResult := "success"
			if t.Phase != transfer.PhaseDone {
				targetResult = "failure"
			}
			s.metrics.ObserveTarget(targetResult, t.Duration)
		}
	}

	if s.reporter != nil {
		if archiveErr := s.reporter.Archive(ctx, jc.Name, runReport); archiveErr != nil {
			logger.Warn("failed to archive run report", "error", archiveErr)
		}
	}

	return runErr
}
