package txn

import (
	"sync"
	"sync/atomic"
)

// writerState is the per-CPU-core record of how many writers are
// currently in flight through this core for the owning class, and the
// highest commit version any of them has published. Padding keeps each
// element on its own cache line so CommitWrite/RollbackWrite on one core
// never invalidates another core's line.
type writerState struct {
	inFlightWriters      atomic.Int64
	lastCommittedVersion atomic.Uint64
	_                    [48]byte // pad to a 64-byte cache line alongside the two 8-byte fields above
}

// ClassLocker arbitrates class-granularity read/write locks.
// TryTakeReadLock/TryAddWriter never block; they fail fast so the caller
// can retry or abort. The exclusive operation set
// (TryTakeReadLock, CommitReadLock, RollbackReadLock, Rewind) and
// TryAddWriter share one mutex; CommitWrite/RollbackWrite touch only the
// calling core's cell and need no mutex at all.
type ClassLocker struct {
	mu                       sync.Mutex
	cores                    []writerState
	readerCount              atomic.Int64
	committedReadLockVersion atomic.Uint64
}

// NewClassLocker allocates a locker striped across coreCount cores.
func NewClassLocker(coreCount int) *ClassLocker {
	if coreCount <= 0 {
		coreCount = 1
	}
	return &ClassLocker{cores: make([]writerState, coreCount)}
}

func (c *ClassLocker) totalInFlightWriters() int64 {
	var total int64
	for i := range c.cores {
		total += c.cores[i].inFlightWriters.Load()
	}
	return total
}

func (c *ClassLocker) maxLastCommittedVersion() uint64 {
	var max uint64
	for i := range c.cores {
		if v := c.cores[i].lastCommittedVersion.Load(); v > max {
			max = v
		}
	}
	return max
}

// TryTakeReadLock attempts to take classIndex's read lock on behalf of tx.
// Idempotent: if tx already holds the lock, it succeeds without touching
// reader_count again. Fails if a writer committed a version newer than
// tx's snapshot, if more than one writer is currently in flight, or if the
// single in-flight writer is not tx itself.
func (c *ClassLocker) TryTakeReadLock(tx *Transaction, classIndex int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tx.HoldsReadLock(classIndex) {
		return true
	}

	if c.maxLastCommittedVersion() > tx.ReadVersion {
		return false
	}

	writers := c.totalInFlightWriters()
	if writers > 1 {
		return false
	}
	if writers == 1 && !tx.HoldsWriteLock(classIndex) {
		return false
	}

	c.readerCount.Add(1)
	tx.Ctx.LockedClasses.Add(classIndex)
	return true
}

// TryAddWriter attempts to add tx as a writer of classIndex on core. Fails
// if a reader already published a commit version newer than tx's
// snapshot, or if readers other than tx itself are currently holding the
// class's read lock.
func (c *ClassLocker) TryAddWriter(tx *Transaction, core, classIndex int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.committedReadLockVersion.Load() > tx.ReadVersion {
		return false
	}

	readers := c.readerCount.Load()
	if readers > 1 {
		return false
	}
	if readers == 1 && !tx.HoldsReadLock(classIndex) {
		return false
	}

	c.cores[core%len(c.cores)].inFlightWriters.Add(1)
	tx.Ctx.WrittenClasses.Add(classIndex)
	return true
}

// CommitReadLock releases a read lock and publishes commitVersion as the
// new high-water mark for reader releases on this class.
func (c *ClassLocker) CommitReadLock(commitVersion uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.readerCount.Add(-1)
	casMaxUint64(&c.committedReadLockVersion, commitVersion)
}

// RollbackReadLock releases a read lock without publishing a version.
func (c *ClassLocker) RollbackReadLock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readerCount.Add(-1)
}

// CommitWrite releases a write lock held on core and publishes
// commitVersion as that core's new high-water mark. Safe to call
// concurrently with writer additions on other cores.
func (c *ClassLocker) CommitWrite(core int, commitVersion uint64) {
	cell := &c.cores[core%len(c.cores)]
	cell.inFlightWriters.Add(-1)
	casMaxUint64(&cell.lastCommittedVersion, commitVersion)
}

// RollbackWrite releases a write lock held on core without publishing a
// version.
func (c *ClassLocker) RollbackWrite(core int) {
	c.cores[core%len(c.cores)].inFlightWriters.Add(-1)
}

// Rewind zeroes every committed-version field, used after failure
// recovery to let readers with an old snapshot succeed again. version
// names the recovery point but this is an unconditional reset, not a
// conditional one: every committed-version watermark goes back to zero
// regardless of its current value.
func (c *ClassLocker) Rewind(version uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = version
	c.committedReadLockVersion.Store(0)
	for i := range c.cores {
		c.cores[i].lastCommittedVersion.Store(0)
	}
}

// casMaxUint64 atomically sets *addr to max(*addr, v).
func casMaxUint64(addr *atomic.Uint64, v uint64) {
	for {
		cur := addr.Load()
		if v <= cur {
			return
		}
		if addr.CompareAndSwap(cur, v) {
			return
		}
	}
}
