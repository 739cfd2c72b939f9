package replay

import "fmt"

// FatalError wraps a non-transient plumbing or CVCS failure that aborts
// the current changeset and the run.
type FatalError struct {
	CID    int
	Detail string
	Err    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("changeset %d: %s: %v", e.CID, e.Detail, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// UnresolvedSourceError wraps a source-resolution failure with the
// changeset and path it occurred on, for top-level reporting.
type UnresolvedSourceError struct {
	CID        int
	ServerPath string
	Err        error
}

func (e *UnresolvedSourceError) Error() string {
	return fmt.Sprintf("changeset %d: resolving source for %s: %v", e.CID, e.ServerPath, e.Err)
}

func (e *UnresolvedSourceError) Unwrap() error { return e.Err }
