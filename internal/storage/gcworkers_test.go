package storage

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gridcask/classdb/internal/txn"
)

type fixedTopology struct{ cores int }

func (f fixedTopology) CoreCount() int   { return f.cores }
func (f fixedTopology) CurrentCore() int { return 0 }

type nullObjectAccessor struct{}

func (nullObjectAccessor) Get(tx *txn.Transaction, id txn.ObjectID) (txn.ObjectReader, error) {
	return nil, txn.ErrNotActive
}

func newGCTestEngine() *txn.Engine {
	return txn.NewEngine(txn.EngineConfig{
		Memory:   NewMemManager(nil),
		Objects:  nullObjectAccessor{},
		Topology: fixedTopology{cores: 2},
	})
}

func TestSweepPoolSubmitRunsTaskAndReportsCompletion(t *testing.T) {
	p := NewSweepPool(DefaultSweepPoolConfig())
	defer p.Shutdown(time.Second)

	out := <-p.Submit(context.Background(), func(ctx context.Context) (SweepResult, error) {
		return SweepResult{ClassIndex: 3, Note: "ok"}, nil
	})
	if out.Error != nil {
		t.Fatalf("Submit: %v", out.Error)
	}
	if out.Result.ClassIndex != 3 || out.Result.Note != "ok" {
		t.Fatalf("Result = %+v, want ClassIndex=3 Note=ok", out.Result)
	}
	if p.Stats().Completed != 1 {
		t.Fatalf("Completed = %d, want 1", p.Stats().Completed)
	}
}

func TestSweepPoolTaskTimeoutReportsFailure(t *testing.T) {
	cfg := DefaultSweepPoolConfig()
	cfg.TaskTimeout = 10 * time.Millisecond
	p := NewSweepPool(cfg)
	defer p.Shutdown(time.Second)

	out := <-p.Submit(context.Background(), func(ctx context.Context) (SweepResult, error) {
		<-ctx.Done()
		return SweepResult{}, ctx.Err()
	})
	if out.Error == nil {
		t.Fatalf("expected a timeout error")
	}
	if p.Stats().TimedOut != 1 {
		t.Fatalf("TimedOut = %d, want 1", p.Stats().TimedOut)
	}
}

func TestSweepAllClassesVisitsEveryRegisteredClass(t *testing.T) {
	r := NewClassRegistry()
	for i := 1; i <= 3; i++ {
		if err := r.Register(txn.ClassDescriptor{Index: i, Name: "C"}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	e := newGCTestEngine()

	var visited atomic.Int64
	results, err := SweepAllClasses(context.Background(), r, e, 2, func(node *txn.ClassNode, locker *txn.ClassLocker) SweepResult {
		visited.Add(1)
		return SweepResult{ClassIndex: node.Index}
	})
	if err != nil {
		t.Fatalf("SweepAllClasses: %v", err)
	}
	if visited.Load() != 3 {
		t.Fatalf("visited %d classes, want 3", visited.Load())
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
}

func TestSweepAllClassesEmptyRegistryReturnsNil(t *testing.T) {
	r := NewClassRegistry()
	e := newGCTestEngine()
	results, err := SweepAllClasses(context.Background(), r, e, 2, func(node *txn.ClassNode, locker *txn.ClassLocker) SweepResult {
		t.Fatalf("should not be called on an empty registry")
		return SweepResult{}
	})
	if err != nil {
		t.Fatalf("SweepAllClasses: %v", err)
	}
	if results != nil {
		t.Fatalf("results = %+v, want nil", results)
	}
}

func TestRestoreBatcherFlushesOnMaxSize(t *testing.T) {
	flushed := make(chan []txn.ObjectID, 4)
	b := NewRestoreBatcher(2, time.Hour, func(ids []txn.ObjectID) {
		cp := append([]txn.ObjectID(nil), ids...)
		flushed <- cp
	})
	defer b.Stop()

	if err := b.Add(txn.MakeID(1, 10)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := b.Add(txn.MakeID(1, 11)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	select {
	case ids := <-flushed:
		if len(ids) != 2 {
			t.Fatalf("flushed %d ids, want 2", len(ids))
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for max-size flush")
	}
}

func TestRestoreBatcherFlushesOnInterval(t *testing.T) {
	flushed := make(chan []txn.ObjectID, 4)
	b := NewRestoreBatcher(100, 20*time.Millisecond, func(ids []txn.ObjectID) {
		cp := append([]txn.ObjectID(nil), ids...)
		flushed <- cp
	})
	defer b.Stop()

	if err := b.Add(txn.MakeID(1, 5)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	select {
	case ids := <-flushed:
		if len(ids) != 1 {
			t.Fatalf("flushed %d ids, want 1", len(ids))
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for interval flush")
	}
}

func TestRestoreBatcherStopFlushesRemainder(t *testing.T) {
	flushed := make(chan []txn.ObjectID, 4)
	b := NewRestoreBatcher(100, time.Hour, func(ids []txn.ObjectID) {
		cp := append([]txn.ObjectID(nil), ids...)
		flushed <- cp
	})

	if err := b.Add(txn.MakeID(1, 1)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	b.Stop()

	select {
	case ids := <-flushed:
		if len(ids) != 1 {
			t.Fatalf("flushed %d ids, want 1", len(ids))
		}
	default:
		t.Fatalf("expected Stop to flush the buffered id")
	}
}
