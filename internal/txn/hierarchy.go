package txn

import "fmt"

// ClassNode is a node in the class hierarchy facade: either a concrete
// leaf (HasStorage=true, no descendants) or an abstract node that fans
// read-lock and scan operations out to its direct descendants. An
// abstract node may itself carry main storage (some object models let an
// abstract class hold directly-typed instances); HasStorage captures that
// independently of whether Descendants is empty.
type ClassNode struct {
	Index         int
	Name          string
	HasStorage    bool
	ScanInherited bool
	Descendants   []*ClassNode
}

// LockerResolver resolves a class index to its locker, used by the
// hierarchy facade when it needs a descendant's locker rather than its
// own.
type LockerResolver interface {
	ClassLocker(classIndex int) *ClassLocker
}

// TakeReadLock locks node's own main storage (if any) and then, depth
// first, every direct descendant's. The first descendant that fails
// aborts the traversal; locks already taken stay owned by tx and are
// released through its normal commit/rollback path, never unwound here.
func TakeReadLock(node *ClassNode, tx *Transaction, resolver LockerResolver) error {
	if node.HasStorage {
		locker := resolver.ClassLocker(node.Index)
		if locker == nil {
			return fmt.Errorf("txn: class %d has no locker: %w", node.Index, ErrInvalidArgument)
		}
		if !locker.TryTakeReadLock(tx, node.Index) {
			return fmt.Errorf("txn: class %d (%s): %w", node.Index, node.Name, ErrLockRefused)
		}
	}

	for _, d := range node.Descendants {
		if err := TakeReadLock(d, tx, resolver); err != nil {
			return err
		}
	}
	return nil
}

// ScanResult is the union of object ranges and total count Scan produces.
// Present reports whether any range was observed (an all-abstract subtree
// with ScanInherited=false yields Present=false).
type ScanResult struct {
	First, Last ObjectID
	Count       int64
	Present     bool
}

func (r *ScanResult) absorb(other ScanResult) {
	r.Count += other.Count
	if !other.Present {
		return
	}
	if !r.Present || other.First < r.First {
		r.First = other.First
	}
	if !r.Present || other.Last > r.Last {
		r.Last = other.Last
	}
	r.Present = true
}

// Scan enumerates node's own range (if it carries storage) unioned with
// its descendants' ranges when node.ScanInherited is set, summing a total
// object count across everything visited.
func Scan(node *ClassNode, store ObjectStore) ScanResult {
	var result ScanResult

	if node.HasStorage {
		first, last, count := store.ScanRange(node.Index)
		result.absorb(ScanResult{First: first, Last: last, Count: count, Present: count > 0})
	}

	if node.ScanInherited {
		for _, d := range node.Descendants {
			result.absorb(Scan(d, store))
		}
	}

	return result
}
