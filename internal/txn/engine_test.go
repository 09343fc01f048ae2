package txn

import "testing"

// fakeTopology is a fixed-core CoreTopology for deterministic tests.
type fakeTopology struct{ cores int }

func (f fakeTopology) CoreCount() int   { return f.cores }
func (f fakeTopology) CurrentCore() int { return 0 }

// fakeObjectAccessor answers every Get with a canned ObjectReader.
type fakeObjectReader struct{ id ObjectID }

func (r fakeObjectReader) ID() ObjectID { return r.id }

type fakeObjectAccessor struct{ known map[ObjectID]bool }

func (f fakeObjectAccessor) Get(tx *Transaction, id ObjectID) (ObjectReader, error) {
	if !f.known[id] {
		return nil, ErrNotActive
	}
	return fakeObjectReader{id: id}, nil
}

func newTestEngine() *Engine {
	return NewEngine(EngineConfig{
		Memory:   newFakeMemoryManager(),
		Objects:  fakeObjectAccessor{known: map[ObjectID]bool{}},
		Topology: fakeTopology{cores: 2},
	})
}

func TestEngineBeginTransactionAssignsDistinctIDs(t *testing.T) {
	e := newTestEngine()
	t1 := e.BeginTransaction(0, TxRead, SourceClient, false)
	t2 := e.BeginTransaction(0, TxRead, SourceClient, false)
	if t1.ID == t2.ID {
		t.Fatalf("expected distinct transaction ids, got %d twice", t1.ID)
	}
	if e.active.Len() != 2 {
		t.Fatalf("both transactions should be active")
	}
}

func TestEngineCommitReleasesLocksAndPublishesVersion(t *testing.T) {
	e := newTestEngine()
	const classIdx = 0
	locker := e.ClassLocker(classIdx)

	tx := e.BeginTransaction(0, TxReadWrite, SourceClient, false)
	if !locker.TryAddWriter(tx, tx.Core, classIdx) {
		t.Fatalf("writer should be admitted")
	}

	if err := e.Commit(tx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if tx.CommitVersion == 0 {
		t.Fatalf("commit should assign a non-zero commit version")
	}
	if locker.cores[0].inFlightWriters.Load() != 0 {
		t.Fatalf("commit should release the write lock")
	}
	if e.active.Len() != 0 {
		t.Fatalf("committed transaction should leave the active set")
	}

	reader := e.BeginTransaction(0, TxRead, SourceClient, false)
	if !locker.TryTakeReadLock(reader, classIdx) {
		t.Fatalf("a fresh reader should see the committed write")
	}
}

func TestEngineRollbackReleasesWithoutPublishing(t *testing.T) {
	e := newTestEngine()
	const classIdx = 0
	locker := e.ClassLocker(classIdx)

	tx := e.BeginTransaction(0, TxReadWrite, SourceClient, false)
	locker.TryAddWriter(tx, tx.Core, classIdx)

	if err := e.Rollback(tx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if locker.cores[0].lastCommittedVersion.Load() != 0 {
		t.Fatalf("rollback must not publish a commit version")
	}
	if e.active.Len() != 0 {
		t.Fatalf("rolled-back transaction should leave the active set")
	}
}

func TestEngineGetObjectDelegatesToAccessor(t *testing.T) {
	e := NewEngine(EngineConfig{
		Memory:   newFakeMemoryManager(),
		Objects:  fakeObjectAccessor{known: map[ObjectID]bool{MakeID(1, 7): true}},
		Topology: fakeTopology{cores: 1},
	})
	tx := e.BeginTransaction(0, TxRead, SourceClient, false)
	obj, err := e.GetObject(tx, MakeID(1, 7))
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if obj.ID() != MakeID(1, 7) {
		t.Fatalf("GetObject returned wrong object: %v", obj.ID())
	}
}

func TestEngineApplyChangesetWithoutCodecFails(t *testing.T) {
	e := newTestEngine()
	tx := e.BeginTransaction(0, TxReadWrite, SourceClient, false)
	if err := e.ApplyChangeset(tx, []byte("x")); err == nil {
		t.Fatalf("expected an error with no codec configured")
	}
}

func TestEngineOldestReaderTracksActiveSet(t *testing.T) {
	e := newTestEngine()
	if _, ok := e.OldestReader(); ok {
		t.Fatalf("fresh engine should report no oldest reader")
	}
	t1 := e.BeginTransaction(0, TxRead, SourceClient, false)
	e.BeginTransaction(0, TxRead, SourceClient, false)

	oldest, ok := e.OldestReader()
	if !ok || oldest.ID != t1.ID {
		t.Fatalf("OldestReader() = (%v,%v), want (%d,true)", oldest, ok, t1.ID)
	}
}

func TestEngineActiveTransactionsIterates(t *testing.T) {
	e := newTestEngine()
	t1 := e.BeginTransaction(0, TxRead, SourceClient, false)
	t2 := e.BeginTransaction(0, TxRead, SourceClient, false)

	var seen []uint64
	for tx := range e.ActiveTransactions() {
		seen = append(seen, tx.ID)
	}
	if len(seen) != 2 || seen[0] != t2.ID || seen[1] != t1.ID {
		t.Fatalf("ActiveTransactions order = %v, want [%d %d]", seen, t2.ID, t1.ID)
	}
}

func TestEngineConfigOverridesShardCountAndIDStart(t *testing.T) {
	e := NewEngine(EngineConfig{
		Memory:   newFakeMemoryManager(),
		Objects:  fakeObjectAccessor{known: map[ObjectID]bool{}},
		Topology: fakeTopology{cores: 4},
		IDStore:  &fakeIDGeneratorStore{},
		Config:   Config{ShardCount: 1, IDGeneratorStart: 50},
	})

	if got := len(e.ClassLocker(0).cores); got != 1 {
		t.Fatalf("ClassLocker shard count = %d, want Config.ShardCount override of 1", got)
	}

	base, err := e.TakeIDRange(10)
	if err != nil {
		t.Fatalf("TakeIDRange: %v", err)
	}
	if base != 50 {
		t.Fatalf("base = %d, want Config.IDGeneratorStart of 50", base)
	}
}

func TestEngineConfigTunesModLogChunkSizing(t *testing.T) {
	e := NewEngine(EngineConfig{
		Memory:   newFakeMemoryManager(),
		Objects:  fakeObjectAccessor{known: map[ObjectID]bool{}},
		Topology: fakeTopology{cores: 1},
		Config:   Config{ChunkStartSize: 64, ChunkMaxSize: 128},
	})
	tx := e.BeginTransaction(0, TxReadWrite, SourceClient, false)
	if _, err := tx.Ctx.Log.Append(ModClass, 10); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if tx.Ctx.Log.head.capacity != 64 {
		t.Fatalf("first chunk capacity = %d, want Config.ChunkStartSize of 64", tx.Ctx.Log.head.capacity)
	}
}
