// Package txn implements the transactional concurrency core: active
// transaction tracking, per-class reader/writer arbitration, the
// modification log used for rollback and reclamation, class hierarchy
// routing, pending-restore ordering, and ID-range allocation.
package txn

import "errors"

// Boundary error codes surfaced to callers of the engine.
var (
	// ErrConflict is transient and retryable: the caller lost a race for a
	// resource another in-flight transaction currently holds.
	ErrConflict = errors.New("txn: conflict")

	// ErrNonUniqueID is transient and retryable: an id collided with one
	// already present in the object graph.
	ErrNonUniqueID = errors.New("txn: non-unique id")

	// ErrIDUnavailable is terminal: the requested id or range cannot be
	// represented in the 51-bit counter space.
	ErrIDUnavailable = errors.New("txn: id unavailable")

	// ErrInvalidArgument is terminal: a caller-supplied argument violates
	// a precondition (e.g. a zero-count range request).
	ErrInvalidArgument = errors.New("txn: invalid argument")

	// ErrLockRefused is terminal: a class lock could not be acquired under
	// the snapshot-isolation rules. The transaction must roll back.
	ErrLockRefused = errors.New("txn: lock refused")

	// ErrNotActive is returned by operations on a transaction that is not
	// (or is no longer) present in the active set.
	ErrNotActive = errors.New("txn: transaction not active")

	// ErrCorruption is fatal: an invariant the caller was responsible for
	// upholding has already been violated (e.g. a pending-restore prune
	// against an object with no pending entry at all). The subsystem that
	// raises it should be treated as unsafe to continue using.
	ErrCorruption = errors.New("txn: corruption")
)
