package txn

import "github.com/gridcask/classdb/internal/coretopo"

// Handle is an opaque reference to a memory-manager-owned buffer.
type Handle uint64

// MemoryManager is the downward collaborator the modification log
// allocates its chunks through. It is owned by the engine; this package
// never allocates chunk storage directly so that callers can swap in a
// pooled or accounted allocator (see internal/storage.MemManager).
type MemoryManager interface {
	Allocate(size int) (Handle, error)
	Buffer(h Handle) []byte
	Free(h Handle)
}

// ObjectStore is the downward collaborator providing scan ranges over a
// class's live objects, used by the class-hierarchy facade's Scan.
type ObjectStore interface {
	ScanRange(classIndex int) (first, last ObjectID, count int64)
}

// ChangesetCodec applies a decoded changeset's operations against a
// transaction; the wire format and parser are out of scope here.
type ChangesetCodec interface {
	Apply(tx *Transaction, raw []byte) error
}

// CoreTopology is re-exported so callers outside this module don't need to
// import internal/coretopo directly to satisfy Engine's constructor.
type CoreTopology = coretopo.Topology
