package transfer

import "github.com/opsmesh/transferctl/internal/xerr"

// ErrorKind and friends are re-exported from xerr so call sites read
// transfer.KindPrecondition etc. while the kind vocabulary itself lives
// in a leaf package the Pipeline Composer can also depend on without
// creating an import cycle back into this package.
type ErrorKind = xerr.Kind

const (
	KindConfiguration = xerr.KindConfiguration
	KindPrecondition  = xerr.KindPrecondition
	KindResource      = xerr.KindResource
	KindTransfer      = xerr.KindTransfer
	KindIntegrity     = xerr.KindIntegrity
	KindCleanup       = xerr.KindCleanup
)

// Error is the concrete wrapped-error type produced by NewError/Errorf.
type Error = xerr.Error

// NewError wraps err with the given kind. Returns nil if err is nil.
func NewError(kind ErrorKind, err error) error { return xerr.New(kind, err) }

// Errorf is NewError with fmt.Errorf-style formatting.
func Errorf(kind ErrorKind, format string, args ...any) error { return xerr.Errorf(kind, format, args...) }

// KindOf extracts the ErrorKind from err, if any of its wrapped causes
// carry one. Returns ("", false) for a plain error.
func KindOf(err error) (ErrorKind, bool) { return xerr.KindOf(err) }

// Sentinel errors callers branch on directly.
var (
	ErrPortExhausted    = xerr.ErrPortExhausted
	ErrAllTargetsFailed = xerr.ErrAllTargetsFailed
)
