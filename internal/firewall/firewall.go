// Package firewall implements the Firewall Controller contract by
// running iptables insert/delete commands on the target host through a
// RemoteExecutor, the same executor every other remote operation uses.
// Commands are run once; there is no retry.
package firewall

import (
	"context"
	"fmt"

	"github.com/opsmesh/transferctl/internal/executor"
)

// Controller opens and closes inbound TCP holes scoped to one source
// peer and port, on a chain named Chain (default INPUT).
type Controller struct {
	Exec  executor.RemoteExecutor
	Chain string
}

// New builds a Controller targeting the INPUT chain.
func New(exec executor.RemoteExecutor) *Controller {
	return &Controller{Exec: exec, Chain: "INPUT"}
}

func (c *Controller) chain() string {
	if c.Chain == "" {
		return "INPUT"
	}
	return c.Chain
}

// Open inserts an accept rule on targetHost for traffic from sourceHost
// to port, ahead of any default-deny rule. Idempotent: a duplicate
// insert is avoided by checking first with -C before -I.
func (c *Controller) Open(ctx context.Context, sourceHost, targetHost string, port int) error {
	check := []string{"/sbin/iptables", "-C", c.chain(), "-p", "tcp", "-s", sourceHost, "--dport", fmt.Sprint(port), "-j", "ACCEPT"}
	res, err := c.Exec.Run(ctx, targetHost, check)
	if err != nil {
		return fmt.Errorf("checking firewall rule on %s: %w", targetHost, err)
	}
	if res.ExitCode == 0 {
		return nil
	}

	insert := []string{"/sbin/iptables", "-I", c.chain(), "1", "-p", "tcp", "-s", sourceHost, "--dport", fmt.Sprint(port), "-j", "ACCEPT"}
	res, err = c.Exec.Run(ctx, targetHost, insert)
	if err != nil {
		return fmt.Errorf("opening firewall on %s: %w", targetHost, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("opening firewall on %s: iptables exited %d: %s", targetHost, res.ExitCode, res.Stderr)
	}
	return nil
}

// Close removes the matching accept rule. A rule that is already gone
// is treated as success.
func (c *Controller) Close(ctx context.Context, sourceHost, targetHost string, port int) error {
	del := []string{"/sbin/iptables", "-D", c.chain(), "-p", "tcp", "-s", sourceHost, "--dport", fmt.Sprint(port), "-j", "ACCEPT"}
	res, err := c.Exec.Run(ctx, targetHost, del)
	if err != nil {
		return fmt.Errorf("closing firewall on %s: %w", targetHost, err)
	}
	if res.ExitCode != 0 && res.ExitCode != 1 {
		// iptables -D exits 1 when no matching rule exists; treat that,
		// and only that, as the idempotent already-closed case.
		return fmt.Errorf("closing firewall on %s: iptables exited %d: %s", targetHost, res.ExitCode, res.Stderr)
	}
	return nil
}
