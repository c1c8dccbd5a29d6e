package transfer

import (
	"context"

	"github.com/opsmesh/transferctl/internal/executor"
)

// Prober is the subset of probes.Probes the Supervisor drives. Defined
// here rather than imported so tests can substitute a narrow fake
// without constructing a full probes.Probes over a FakeExecutor.
type Prober interface {
	HostExists(ctx context.Context, host string) bool
	FileExists(ctx context.Context, host, path string) bool
	IsDir(ctx context.Context, host, path string) bool
	IsSocket(ctx context.Context, host, path string) bool
	DirIsEmpty(ctx context.Context, host, dir string) bool
	DiskUsage(ctx context.Context, host, path string) (int64, error)
	HasAvailableDiskSpace(ctx context.Context, host, path string, size int64) (bool, error)
	CalculateChecksum(ctx context.Context, host, path string, isDir bool) (string, error)
	ReadChecksum(ctx context.Context, host, path string) (string, error)
}

// FirewallController is the external collaborator that opens/closes an
// inbound TCP port on a target, scoped to a source peer. Both
// operations are idempotent.
type FirewallController interface {
	Open(ctx context.Context, sourceHost, targetHost string, port int) error
	Close(ctx context.Context, sourceHost, targetHost string, port int) error
}

// ReplicationController is the external collaborator that pauses and
// resumes database replication on a named host.
type ReplicationController interface {
	StopReplication(ctx context.Context, host string) error
	StartReplication(ctx context.Context, host string) error
}

// PortAllocator picks a free listening port on host.
type PortAllocator interface {
	Allocate(ctx context.Context, host string) (int, error)
}

// Executor is the Remote Executor contract the Supervisor consumes.
// Satisfied by *executor.SSHExecutor and *executor.FakeExecutor.
type Executor = executor.RemoteExecutor
