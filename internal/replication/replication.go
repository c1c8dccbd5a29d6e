// Package replication implements the Replication Controller contract
// by running mysql client statements on the database host through a
// RemoteExecutor.
package replication

import (
	"context"
	"fmt"

	"github.com/opsmesh/transferctl/internal/executor"
)

// Controller pauses and resumes MariaDB/MySQL replication on a host,
// matching the xtrabackup mode's database family.
type Controller struct {
	Exec   executor.RemoteExecutor
	Socket string // optional; empty uses the client's default socket
}

// New builds a Controller using the default client socket.
func New(exec executor.RemoteExecutor) *Controller {
	return &Controller{Exec: exec}
}

func (c *Controller) argv(stmt string) []string {
	argv := []string{"/usr/bin/mysql"}
	if c.Socket != "" {
		argv = append(argv, "--socket="+c.Socket)
	}
	return append(argv, "-e", stmt)
}

// StopReplication runs STOP SLAVE on host.
func (c *Controller) StopReplication(ctx context.Context, host string) error {
	res, err := c.Exec.Run(ctx, host, c.argv("STOP SLAVE"))
	if err != nil {
		return fmt.Errorf("stopping replication on %s: %w", host, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("stopping replication on %s: mysql exited %d: %s", host, res.ExitCode, res.Stderr)
	}
	return nil
}

// StartReplication runs START SLAVE on host.
func (c *Controller) StartReplication(ctx context.Context, host string) error {
	res, err := c.Exec.Run(ctx, host, c.argv("START SLAVE"))
	if err != nil {
		return fmt.Errorf("starting replication on %s: %w", host, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("starting replication on %s: mysql exited %d: %s", host, res.ExitCode, res.Stderr)
	}
	return nil
}
