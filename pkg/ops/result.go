package ops

import "fmt"

// ResultCode classifies the outcome of a single operation or per-item step.
// The values are borrowed from HTTP so that logs and scripts can interpret
// them without a lookup table.
type ResultCode int

const (
	// Done means the operation executed against the database or filesystem.
	Done ResultCode = 200
	// WouldHaveDone means a dry run computed the operation but did not execute it.
	WouldHaveDone ResultCode = 304
	// PreconditionFailed means a check (missing column, mismatched structure,
	// malformed table name) rejected the operation before any mutation.
	PreconditionFailed ResultCode = 412
	// Failed means an I/O or database error stopped the operation.
	Failed ResultCode = 500
)

func (c ResultCode) String() string {
	switch c {
	case Done:
		return "done"
	case WouldHaveDone:
		return "dry-run"
	case PreconditionFailed:
		return "precondition-failed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("code-%d", int(c))
	}
}
