package txn

import (
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
)

// ObjectReader is the minimal read handle returned by a point lookup; the
// concrete shape of a decoded object belongs to the data-model layer, out
// of scope here.
type ObjectReader interface {
	ID() ObjectID
}

// ObjectAccessor is the downward collaborator satisfying get_object.
// Kept distinct from ObjectStore (which only serves hierarchy scans) so a
// caller can back scans and point lookups with different implementations
// if it wants to.
type ObjectAccessor interface {
	Get(tx *Transaction, id ObjectID) (ObjectReader, error)
}

// EngineConfig bundles the downward collaborators an Engine is assembled
// from: Engine itself exposes the upward-facing facade these build.
type EngineConfig struct {
	Memory   MemoryManager
	Objects  ObjectAccessor
	Model    ModelDescriptor
	Topology CoreTopology
	Codec    ChangesetCodec
	IDStore  IDGeneratorStore

	// Config overrides the built-in tunables (config.go). The zero value
	// selects DefaultConfig().
	Config Config
}

// Engine wires the transactional concurrency core's components behind a
// single facade for upward callers: transaction lifecycle, class-locker
// access, object/changeset access, and id-range allocation.
type Engine struct {
	memory   MemoryManager
	objects  ObjectAccessor
	model    ModelDescriptor
	topology CoreTopology
	codec    ChangesetCodec
	idStore  IDGeneratorStore
	config   Config

	active  *ActiveSet
	restore *PendingRestore

	lockersMu sync.Mutex
	lockers   map[int]*ClassLocker

	nextTxID atomic.Uint64
	version  atomic.Uint64 // monotonically increasing commit-version source
}

// NewEngine assembles an Engine from its downward collaborators. A zero
// cfg.Config selects DefaultConfig().
func NewEngine(cfg EngineConfig) *Engine {
	config := cfg.Config
	if config == (Config{}) {
		config = DefaultConfig()
	}
	return &Engine{
		memory:   cfg.Memory,
		objects:  cfg.Objects,
		model:    cfg.Model,
		topology: cfg.Topology,
		codec:    cfg.Codec,
		idStore:  cfg.IDStore,
		config:   config,
		active:   NewActiveSet(),
		restore:  NewPendingRestore(),
		lockers:  make(map[int]*ClassLocker),
	}
}

// ClassLocker returns (creating on first use) the locker for classIndex,
// striped across the engine's core count unless Config.ShardCount
// overrides it.
func (e *Engine) ClassLocker(classIndex int) *ClassLocker {
	e.lockersMu.Lock()
	defer e.lockersMu.Unlock()
	l, ok := e.lockers[classIndex]
	if !ok {
		shards := e.topology.CoreCount()
		if e.config.ShardCount > 0 {
			shards = e.config.ShardCount
		}
		l = NewClassLocker(shards)
		e.lockers[classIndex] = l
	}
	return l
}

// BeginTransaction opens a new transaction against the current commit-
// version watermark. dbID and allowSystem are accepted for interface
// parity with multi-database and system-transaction callers; this
// single-database engine does not yet branch on either.
func (e *Engine) BeginTransaction(dbID uint64, txType TxType, source TxSource, allowSystem bool) *Transaction {
	tx := &Transaction{
		ID:          e.nextTxID.Add(1),
		ReadVersion: e.version.Load(),
		Type:        txType,
		Source:      source,
		Core:        e.topology.CurrentCore(),
		Ctx:         newTransactionContext(e.memory, e.config),
	}
	e.active.Add(tx)
	return tx
}

// Commit publishes tx's writes: every class it holds a lock on releases
// through its locker under the newly assigned commit version, its
// modification log is freed, and it leaves the active set.
func (e *Engine) Commit(tx *Transaction) error {
	commitVersion := e.version.Add(1)
	tx.CommitVersion = commitVersion
	e.release(tx, true, commitVersion)
	_, err := e.active.Complete(tx)
	return err
}

// Rollback releases tx's locks without publishing a commit version.
func (e *Engine) Rollback(tx *Transaction) error {
	e.release(tx, false, 0)
	_, err := e.active.Complete(tx)
	return err
}

// release walks tx's locked and written classes, committing or rolling
// back each one's lock, then frees the modification log. Commit and
// Rollback share this helper so the release order can never drift
// between the two paths.
func (e *Engine) release(tx *Transaction, commit bool, version uint64) {
	for _, classIndex := range tx.Ctx.LockedClasses.Keys() {
		locker := e.ClassLocker(classIndex)
		if commit {
			locker.CommitReadLock(version)
		} else {
			locker.RollbackReadLock()
		}
	}
	for _, classIndex := range tx.Ctx.WrittenClasses.Keys() {
		locker := e.ClassLocker(classIndex)
		if commit {
			locker.CommitWrite(tx.Core, version)
		} else {
			locker.RollbackWrite(tx.Core)
		}
	}
	tx.Ctx.Log.Free()
}

// GetObject resolves id against the injected object accessor.
func (e *Engine) GetObject(tx *Transaction, id ObjectID) (ObjectReader, error) {
	return e.objects.Get(tx, id)
}

// ApplyChangeset decodes and applies raw through the injected codec.
func (e *Engine) ApplyChangeset(tx *Transaction, raw []byte) error {
	if e.codec == nil {
		return fmt.Errorf("txn: no changeset codec configured: %w", ErrInvalidArgument)
	}
	return e.codec.Apply(tx, raw)
}

// ActiveTransactions iterates active transactions newest first.
func (e *Engine) ActiveTransactions() iter.Seq[*Transaction] {
	return func(yield func(*Transaction) bool) {
		e.active.Each(yield)
	}
}

// OldestReader returns the active set's oldest transaction, if any.
func (e *Engine) OldestReader() (*Transaction, bool) {
	return e.active.OldestReader()
}

// PendingRestore exposes the engine's restore coordinator to replay-path
// callers outside this package.
func (e *Engine) PendingRestore() *PendingRestore {
	return e.restore
}
