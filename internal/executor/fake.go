package executor

import (
	"context"
	"strings"
	"sync"
)

// Call records one Run/StartJob invocation against a FakeExecutor.
type Call struct {
	Host string
	Argv []string
}

// CmdLine joins Argv the way a human would read it in a test failure
// message.
func (c Call) CmdLine() string { return strings.Join(c.Argv, " ") }

// FakeExecutor is an in-memory RemoteExecutor used throughout this
// repository's tests in place of SSHExecutor. Responses are scripted via
// RunResult/JobResult; every call is recorded for assertions.
type FakeExecutor struct {
	mu sync.Mutex

	Calls []Call

	// RunResult, if set, computes the result of a synchronous Run call.
	// If nil, Run succeeds with exit code 0 and empty output.
	RunResult func(host string, argv []string) (*Result, error)

	// JobResult, if set, computes the result a started job will report
	// to WaitJob (unless the job was killed first). If nil, WaitJob
	// succeeds with exit code 0.
	JobResult func(host string, argv []string) (*Result, error)

	jobs []*fakeJob
}

type fakeJob struct {
	host   string
	argv   []string
	killed bool
}

func (j *fakeJob) Host() string { return j.host }

func (e *FakeExecutor) record(host string, argv []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = append(e.Calls, Call{Host: host, Argv: argv})
}

// Run implements RemoteExecutor.
func (e *FakeExecutor) Run(ctx context.Context, host string, argv []string) (*Result, error) {
	e.record(host, argv)
	if e.RunResult != nil {
		return e.RunResult(host, argv)
	}
	return &Result{ExitCode: 0}, nil
}

// StartJob implements RemoteExecutor.
func (e *FakeExecutor) StartJob(ctx context.Context, host string, argv []string) (JobHandle, error) {
	e.record(host, argv)
	job := &fakeJob{host: host, argv: argv}
	e.mu.Lock()
	e.jobs = append(e.jobs, job)
	e.mu.Unlock()
	return job, nil
}

// WaitJob implements RemoteExecutor.
func (e *FakeExecutor) WaitJob(ctx context.Context, handle JobHandle) (*Result, error) {
	job := handle.(*fakeJob)
	e.mu.Lock()
	killed := job.killed
	e.mu.Unlock()

	if killed {
		return &Result{ExitCode: -1, Stderr: "killed"}, nil
	}
	if e.JobResult != nil {
		return e.JobResult(job.host, job.argv)
	}
	return &Result{ExitCode: 0}, nil
}

// KillJob implements RemoteExecutor. Idempotent.
func (e *FakeExecutor) KillJob(ctx context.Context, handle JobHandle) error {
	job := handle.(*fakeJob)
	e.mu.Lock()
	job.killed = true
	e.mu.Unlock()
	return nil
}

// JobWasKilled reports whether KillJob was ever invoked on handle.
func (e *FakeExecutor) JobWasKilled(handle JobHandle) bool {
	job := handle.(*fakeJob)
	e.mu.Lock()
	defer e.mu.Unlock()
	return job.killed
}

// CallCount returns how many Calls match host and contain substr in
// their joined command line. Useful for "close was invoked exactly
// once" style assertions.
func (e *FakeExecutor) CallCount(host, substr string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.Calls {
		if c.Host == host && strings.Contains(c.CmdLine(), substr) {
			n++
		}
	}
	return n
}
