// Package xerr defines the orchestrator's semantic error kinds. It is
// a leaf package (no internal dependencies) so both the Pipeline
// Composer and the Transfer Supervisor can wrap errors with the same
// vocabulary without an import cycle between them.
package xerr

import (
	"errors"
	"fmt"
)

// Kind is one of the semantic error categories the orchestrator
// reports. It is not a Go error type itself — Error wraps an
// underlying cause with one of these kinds so callers can branch on
// the category without string matching.
type Kind string

const (
	// KindConfiguration covers invalid argument shape or an unsupported
	// socket pattern (derive-datadir failure).
	KindConfiguration Kind = "configuration"
	// KindPrecondition covers sanity-check failures: unreachable host,
	// missing source, target not a directory, insufficient space, a
	// replica that refused to stop.
	KindPrecondition Kind = "precondition"
	// KindResource covers port allocation exhaustion.
	KindResource Kind = "resource"
	// KindTransfer covers a nonzero exit of the sender pipeline.
	KindTransfer Kind = "transfer"
	// KindIntegrity covers a post-transfer size or checksum mismatch.
	KindIntegrity Kind = "integrity"
	// KindCleanup covers a failure during mandatory cleanup (firewall
	// close, replication restart). It never masks a prior failure.
	KindCleanup Kind = "cleanup"
)

// Error associates a Kind with an underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Errorf is New with fmt.Errorf-style formatting.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, if any of its wrapped causes
// carry one. Returns ("", false) for a plain error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Sentinel errors callers branch on directly.
var (
	// ErrPortExhausted is returned by the Port Allocator when no free
	// port could be found within the retry budget.
	ErrPortExhausted = errors.New("port allocator: exhausted retries without finding a free port")
	// ErrAllTargetsFailed is returned by the Supervisor when every
	// target in a run ended in the failed phase.
	ErrAllTargetsFailed = errors.New("transfer: all targets failed")
)
