package daemon

import (
	"strings"
	"testing"
	"time"

	"github.com/opsmesh/transferctl/internal/config"
	"github.com/opsmesh/transferctl/internal/executor"
	"github.com/opsmesh/transferctl/internal/firewall"
	"github.com/opsmesh/transferctl/internal/portalloc"
	"github.com/opsmesh/transferctl/internal/probes"
	"github.com/opsmesh/transferctl/internal/replication"
	"github.com/opsmesh/transferctl/internal/transfer"
)

func scriptedExecutor() *executor.FakeExecutor {
	return &executor.FakeExecutor{
		RunResult: func(host string, argv []string) (*executor.Result, error) {
			line := strings.Join(argv, " ")
			switch {
			case strings.Contains(line, "du -sb"):
				return &executor.Result{ExitCode: 0, Stdout: "100 /path"}, nil
			case strings.Contains(line, "--output=avail"):
				return &executor.Result{ExitCode: 0, Stdout: "999999999\n"}, nil
			default:
				return &executor.Result{ExitCode: 0}, nil
			}
		},
	}
}

func testJobConfig(name string) config.JobConfig {
	jc := config.JobConfig{
		Name:     name,
		Schedule: "0 3 * * *",
		Source:   "source01:/data/home",
		Targets:  []string{"target01:/restore/home"},
	}
	jc.Options.Type = "file"
	jc.Options.Port = 5100
	return jc
}

func newTestScheduler(t *testing.T, fake *executor.FakeExecutor, jc config.JobConfig) *Scheduler {
	t.Helper()
	cfg := &config.DaemonConfig{Jobs: []config.JobConfig{jc}}

	probeSet := probes.New(fake)
	newSupervisor := func() *transfer.Supervisor {
		sup := transfer.NewSupervisor(fake, probeSet, firewall.New(fake), replication.New(fake), portalloc.New(probeSet, 0, 0, 0), nil)
		sup.StartupDelay = 0
		return sup
	}

	sched, err := New(cfg, nil, newSupervisor, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error building scheduler: %v", err)
	}
	return sched
}

func TestExecuteJob_SuccessfulRunRecordsCompleted(t *testing.T) {
	fake := scriptedExecutor()
	jc := testJobConfig("nightly")
	sched := newTestScheduler(t, fake, jc)

	sched.executeJob(sched.jobs[0])

	result := sched.jobs[0].LastResult
	if result == nil {
		t.Fatal("expected a LastResult after executeJob")
	}
	if result.Status != "completed" {
		t.Errorf("expected completed, got %q (error: %s)", result.Status, result.Error)
	}
}

func TestExecuteJob_SkipsWhenAlreadyRunning(t *testing.T) {
	fake := scriptedExecutor()
	jc := testJobConfig("nightly")
	sched := newTestScheduler(t, fake, jc)

	sched.jobs[0].running = true
	sched.executeJob(sched.jobs[0])

	result := sched.jobs[0].LastResult
	if result == nil || result.Status != "skipped" {
		t.Fatalf("expected a skipped result, got %+v", result)
	}
	if len(fake.Calls) != 0 {
		t.Errorf("expected no remote calls when the job was skipped, got %d", len(fake.Calls))
	}
}

func TestExecuteJob_FailurePropagatesErrorMessage(t *testing.T) {
	fake := &executor.FakeExecutor{
		RunResult: func(host string, argv []string) (*executor.Result, error) {
			return &executor.Result{ExitCode: 0}, nil
		},
	}
	jc := testJobConfig("broken")
	sched := newTestScheduler(t, fake, jc)

	sched.executeJob(sched.jobs[0])

	result := sched.jobs[0].LastResult
	if result == nil || result.Status != "failed" {
		t.Fatalf("expected a failed result when sanity checks can't parse empty probe output, got %+v", result)
	}
	if result.Error == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestNew_RejectsInvalidCronSchedule(t *testing.T) {
	jc := testJobConfig("bad-schedule")
	jc.Schedule = "not a cron expression"
	cfg := &config.DaemonConfig{Jobs: []config.JobConfig{jc}}

	_, err := New(cfg, nil, func() *transfer.Supervisor { return nil }, nil, nil, nil)
	if err == nil {
		t.Fatal("expected an error for an invalid cron schedule")
	}
}

func TestJobResult_DurationIsRecorded(t *testing.T) {
	fake := scriptedExecutor()
	jc := testJobConfig("timed")
	sched := newTestScheduler(t, fake, jc)

	sched.executeJob(sched.jobs[0])

	if sched.jobs[0].LastResult.Duration < 0 {
		t.Error("expected a non-negative duration")
	}
	if sched.jobs[0].LastResult.Timestamp.After(time.Now()) {
		t.Error("expected timestamp not to be in the future")
	}
}
