package txn

import (
	"sync"
	"testing"
)

// These tests drive concrete end-to-end scenarios directly against a
// wired-up *Engine, as a single cross-component check that the pieces
// cooperate the way the per-file unit tests assume in isolation.
// Related component-level coverage lives in locker_test.go,
// idrange_test.go, restore_test.go and modlog_test.go.

func TestScenarioSnapshotIsolation(t *testing.T) {
	e := newTestEngine()
	const classIdx = 0

	t1 := e.BeginTransaction(0, TxRead, SourceClient, false)
	if !e.ClassLocker(classIdx).TryTakeReadLock(t1, classIdx) {
		t.Fatalf("T1 TryTakeReadLock: want success")
	}
	// Release T1's reader count (publishing its snapshot version) so a
	// writer may be admitted; T1's LockedClasses still records the class.
	e.ClassLocker(classIdx).CommitReadLock(t1.ReadVersion)

	t2 := e.BeginTransaction(0, TxReadWrite, SourceClient, false)
	if !e.ClassLocker(classIdx).TryAddWriter(t2, t2.Core, classIdx) {
		t.Fatalf("T2 TryAddWriter: want success")
	}
	if err := e.Commit(t2); err != nil {
		t.Fatalf("T2 Commit: %v", err)
	}

	if !e.ClassLocker(classIdx).TryTakeReadLock(t1, classIdx) {
		t.Fatalf("T1 re-taking its own already-held read lock: want success")
	}

	t3 := e.BeginTransaction(0, TxRead, SourceClient, false)
	t3.ReadVersion = t1.ReadVersion
	if e.ClassLocker(classIdx).TryTakeReadLock(t3, classIdx) {
		t.Fatalf("T3 with a stale snapshot: want failure after T2's commit")
	}
}

func TestScenarioWriterUpgrade(t *testing.T) {
	e := newTestEngine()
	const classIdx = 0
	locker := e.ClassLocker(classIdx)

	t1 := e.BeginTransaction(0, TxReadWrite, SourceClient, false)
	if !locker.TryTakeReadLock(t1, classIdx) {
		t.Fatalf("T1 TryTakeReadLock: want success")
	}
	if !locker.TryAddWriter(t1, t1.Core, classIdx) {
		t.Fatalf("T1 TryAddWriter (upgrade): want success")
	}

	t2 := e.BeginTransaction(0, TxReadWrite, SourceClient, false)
	t2.ReadVersion = t1.ReadVersion
	if locker.TryAddWriter(t2, t2.Core, classIdx) {
		t.Fatalf("T2 TryAddWriter while T1's write is in flight: want failure")
	}
}

func TestScenarioIDAllocationContention(t *testing.T) {
	e := newTestEngineWithIDStore(&fakeIDGeneratorStore{})

	var wg sync.WaitGroup
	bases := make([]uint64, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			base, err := e.TakeIDRange(1000)
			if err != nil {
				t.Errorf("worker %d TakeIDRange: %v", i, err)
				return
			}
			bases[i] = base
		}(i)
	}
	wg.Wait()

	got := map[uint64]bool{bases[0]: true, bases[1]: true}
	if !got[1024] || !got[2024] || bases[0] == bases[1] {
		t.Fatalf("bases = %v, want {1024, 2024} with no overlap", bases)
	}

	final, err := e.TakeIDRange(1)
	if err != nil {
		t.Fatalf("final TakeIDRange: %v", err)
	}
	if final != 3024 {
		t.Fatalf("final base = %d, want 3024", final)
	}
}

func TestScenarioPendingRestoreOrdering(t *testing.T) {
	e := newTestEngine()
	pr := e.PendingRestore()
	id := ObjectID(42)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	must(pr.Add(id, &RestoreNode{PrevVersion: 5, Version: 6, IsFirstInTransaction: true}))
	must(pr.Add(id, &RestoreNode{PrevVersion: 6, Version: 7, IsFirstInTransaction: true}))
	must(pr.Add(id, &RestoreNode{PrevVersion: 5, Version: 6, IsFirstInTransaction: false}))

	var applied []uint64
	action := func(node *RestoreNode, param any, moreInTransaction bool) {
		applied = append(applied, node.Version)
	}

	ok, err := pr.TryPrune(id, 5, action, nil)
	if err != nil || !ok {
		t.Fatalf("TryPrune(id, 5) = (%v, %v), want (true, nil)", ok, err)
	}
	if len(applied) != 3 {
		t.Fatalf("applied %d operations, want 3 (both version-6 ops then version 7)", len(applied))
	}
	if applied[0] != 6 || applied[1] != 6 || applied[2] != 7 {
		t.Fatalf("applied = %v, want [6 6 7]", applied)
	}
	if pr.Len() != 0 {
		t.Fatalf("PendingRestore should be empty (o removed) after pruning both transactions")
	}
}

func TestScenarioLogMergeCoalesce(t *testing.T) {
	mm := newFakeMemoryManager()
	var a, b ModLog
	a.Init(mm)
	b.Init(mm)

	if _, err := a.Append(ModClass, 100); err != nil {
		t.Fatalf("a.Append: %v", err)
	}
	if _, err := b.Append(ModClass, 200); err != nil {
		t.Fatalf("b.Append: %v", err)
	}

	a.Merge(&b)

	if a.head == nil || a.head != a.tail {
		t.Fatalf("expected a single coalesced chunk after merge")
	}
	if a.head.offset != 300 {
		t.Fatalf("merged chunk offset = %d, want 300", a.head.offset)
	}
	if !b.Empty() {
		t.Fatalf("b should be empty after merge")
	}
}

func TestScenarioRewind(t *testing.T) {
	e := newTestEngine()
	const classIdx = 0
	locker := e.ClassLocker(classIdx)

	writer := e.BeginTransaction(0, TxReadWrite, SourceClient, false)
	if !locker.TryAddWriter(writer, writer.Core, classIdx) {
		t.Fatalf("writer TryAddWriter: want success")
	}
	if err := e.Commit(writer); err != nil {
		t.Fatalf("writer Commit: %v", err)
	}

	stale := e.BeginTransaction(0, TxRead, SourceClient, false)
	stale.ReadVersion = 0
	if locker.TryTakeReadLock(stale, classIdx) {
		t.Fatalf("stale reader before rewind: want failure")
	}

	locker.Rewind(0)

	if !locker.TryTakeReadLock(stale, classIdx) {
		t.Fatalf("stale reader after rewind: want success")
	}
}
