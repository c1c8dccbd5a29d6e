// Package portalloc picks the listening port a target uses for one
// transfer. When the caller pins a port, the Transfer Supervisor skips
// this package entirely and runs targets serially over the single
// port. When the caller leaves the port unset, each target gets its
// own independently allocated port so targets can run concurrently.
package portalloc

import (
	"context"
	"math/rand/v2"

	"golang.org/x/time/rate"

	"github.com/opsmesh/transferctl/internal/xerr"
)

// PortChecker reports whether port is already bound on host. Backed in
// production by a probes.Probes call over the RemoteExecutor; faked in
// tests.
type PortChecker interface {
	PortInUse(ctx context.Context, host string, port int) (bool, error)
}

// Allocator finds a free port in [MinPort, MaxPort] on a target host,
// retrying on collision at a rate bounded by Limiter so a crowded port
// range doesn't turn into a hot retry loop against the target.
type Allocator struct {
	Probe       PortChecker
	MinPort     int
	MaxPort     int
	MaxAttempts int
	Limiter     *rate.Limiter
}

// New builds an Allocator with sane defaults: the 20000-40000 ephemeral
// band, 20 attempts, paced at 5 probes/second with a burst of 5.
func New(probe PortChecker, minPort, maxPort, maxAttempts int) *Allocator {
	if minPort <= 0 {
		minPort = 20000
	}
	if maxPort <= 0 || maxPort < minPort {
		maxPort = 40000
	}
	if maxAttempts <= 0 {
		maxAttempts = 20
	}
	return &Allocator{
		Probe:       probe,
		MinPort:     minPort,
		MaxPort:     maxPort,
		MaxAttempts: maxAttempts,
		Limiter:     rate.NewLimiter(5, 5),
	}
}

// Allocate returns a port on host that PortChecker reports as free,
// retrying with rate-limited pacing up to MaxAttempts times before
// giving up with a ResourceError wrapping ErrPortExhausted.
func (a *Allocator) Allocate(ctx context.Context, host string) (int, error) {
	span := a.MaxPort - a.MinPort + 1

	for attempt := 0; attempt < a.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := a.Limiter.Wait(ctx); err != nil {
				return 0, err
			}
		}

		port := a.MinPort + rand.IntN(span)
		inUse, err := a.Probe.PortInUse(ctx, host, port)
		if err != nil {
			return 0, xerr.New(xerr.KindResource, err)
		}
		if !inUse {
			return port, nil
		}
	}

	return 0, xerr.New(xerr.KindResource, xerr.ErrPortExhausted)
}
