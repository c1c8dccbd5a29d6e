package transfer

import "context"

// cleanupStack runs registered compensating actions in reverse
// registration order, unconditionally: a failing action is logged and
// does not stop the rest from running, matching the mandatory-cleanup
// invariant (firewall close, replication restart must always be
// attempted).
type cleanupStack struct {
	actions []func(ctx context.Context) error
}

func (c *cleanupStack) push(action func(ctx context.Context) error) {
	c.actions = append(c.actions, action)
}

// run executes every registered action LIFO and returns the first
// error encountered, wrapped as KindCleanup, after attempting all of
// them. Callers report this error but must never let it mask an
// earlier in-flight failure.
func (c *cleanupStack) run(ctx context.Context) error {
	var first error
	for i := len(c.actions) - 1; i >= 0; i-- {
		if err := c.actions[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	if first == nil {
		return nil
	}
	return NewError(KindCleanup, first)
}
