package firewall

import (
	"context"
	"testing"

	"github.com/opsmesh/transferctl/internal/executor"
)

func TestOpen_InsertsWhenNoExistingRule(t *testing.T) {
	fake := &executor.FakeExecutor{
		RunResult: func(host string, argv []string) (*executor.Result, error) {
			if len(argv) > 1 && argv[1] == "-C" {
				return &executor.Result{ExitCode: 1}, nil
			}
			return &executor.Result{ExitCode: 0}, nil
		},
	}
	c := New(fake)

	if err := c.Open(context.Background(), "source01", "target01", 5000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.CallCount("target01", "-I") != 1 {
		t.Errorf("expected one insert call, calls: %+v", fake.Calls)
	}
}

func TestOpen_SkipsInsertWhenRuleAlreadyExists(t *testing.T) {
	fake := &executor.FakeExecutor{
		RunResult: func(host string, argv []string) (*executor.Result, error) {
			return &executor.Result{ExitCode: 0}, nil
		},
	}
	c := New(fake)

	if err := c.Open(context.Background(), "source01", "target01", 5000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.CallCount("target01", "-I") != 0 {
		t.Errorf("expected no insert call when rule already exists: %+v", fake.Calls)
	}
}

func TestClose_TreatsMissingRuleAsSuccess(t *testing.T) {
	fake := &executor.FakeExecutor{
		RunResult: func(host string, argv []string) (*executor.Result, error) {
			return &executor.Result{ExitCode: 1}, nil
		},
	}
	c := New(fake)

	if err := c.Close(context.Background(), "source01", "target01", 5000); err != nil {
		t.Errorf("expected a missing rule to be treated as success, got %v", err)
	}
}

func TestClose_PropagatesOtherFailures(t *testing.T) {
	fake := &executor.FakeExecutor{
		RunResult: func(host string, argv []string) (*executor.Result, error) {
			return &executor.Result{ExitCode: 2, Stderr: "iptables: bad rule"}, nil
		},
	}
	c := New(fake)

	if err := c.Close(context.Background(), "source01", "target01", 5000); err == nil {
		t.Fatal("expected an error for a non-idempotent failure exit code")
	}
}
