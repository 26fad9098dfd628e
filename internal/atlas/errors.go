package atlas

import (
	"errors"
	"fmt"
)

// Caller logic errors. Surfaced immediately, never retried.
var (
	// ErrNodeNotFound reports an operation against an unknown node identity.
	ErrNodeNotFound = errors.New("atlas: node not found")

	// ErrLinkExists reports a link_state call whose (source, label) pair is
	// already taken by an edge pointing at a different target.
	ErrLinkExists = errors.New("atlas: edge label already exists on source node")
)

// StorageError wraps index/node/edge persistence failures. Fatal to the
// current operation; the store retries the underlying write once with
// backoff before surfacing it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("atlas storage failure in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// CollaboratorError wraps a failed browser or reasoning call. The
// controllers retry with bounded attempts, then mark the current task
// failed and continue rather than aborting the run.
type CollaboratorError struct {
	Collaborator string // "browser" or "reasoner"
	Op           string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s collaborator failed during %s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
