package replication

import (
	"context"
	"strings"
	"testing"

	"github.com/opsmesh/transferctl/internal/executor"
)

func TestStopReplication(t *testing.T) {
	fake := &executor.FakeExecutor{}
	c := New(fake)

	if err := c.StopReplication(context.Background(), "db01"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(fake.Calls[0].CmdLine(), "STOP SLAVE") {
		t.Errorf("expected STOP SLAVE in command: %q", fake.Calls[0].CmdLine())
	}
}

func TestStartReplication_UsesConfiguredSocket(t *testing.T) {
	fake := &executor.FakeExecutor{}
	c := New(fake)
	c.Socket = "/run/mysqld.sock"

	if err := c.StartReplication(context.Background(), "db01"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(fake.Calls[0].CmdLine(), "--socket=/run/mysqld.sock") {
		t.Errorf("expected socket flag in command: %q", fake.Calls[0].CmdLine())
	}
}

func TestStopReplication_PropagatesNonzeroExit(t *testing.T) {
	fake := &executor.FakeExecutor{
		RunResult: func(host string, argv []string) (*executor.Result, error) {
			return &executor.Result{ExitCode: 1, Stderr: "access denied"}, nil
		},
	}
	c := New(fake)

	if err := c.StopReplication(context.Background(), "db01"); err == nil {
		t.Fatal("expected an error on nonzero mysql exit")
	}
}
