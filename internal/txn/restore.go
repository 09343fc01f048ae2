package txn

import (
	"fmt"
	"sync"
)

// RestoreNode is one pending log-replay operation awaiting its version
// predecessor. Primary nodes are threaded by primaryNext in ascending
// PrevVersion order; the later operations of a primary node's transaction
// (IsFirstInTransaction=false) are threaded by secondaryNext, preserving
// that transaction's write order.
type RestoreNode struct {
	Version              uint64
	PrevVersion          uint64
	IsDelete             bool
	IsFirstInTransaction bool
	IsLastInTransaction  bool

	primaryNext   *RestoreNode
	secondaryNext *RestoreNode
}

// PendingRestore linearizes concurrent log-replay operations into a
// single per-object version chain, so restore can apply them to live
// state in a strictly version-ordered sequence even though they may
// arrive out of order.
type PendingRestore struct {
	mu    sync.Mutex
	heads map[ObjectID]*RestoreNode
}

// NewPendingRestore returns an empty pending-restore coordinator.
func NewPendingRestore() *PendingRestore {
	return &PendingRestore{heads: make(map[ObjectID]*RestoreNode)}
}

// Add inserts node into id's chain. A first-in-transaction node is
// inserted into the primary list in ascending PrevVersion order (and may
// become the new head); a continuation node is appended to the secondary
// chain of the primary node sharing its Version.
func (p *PendingRestore) Add(id ObjectID, node *RestoreNode) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	head, exists := p.heads[id]
	if !exists {
		if !node.IsFirstInTransaction {
			return fmt.Errorf("txn: pending restore: object %d: continuation with no prior entry: %w", id, ErrInvalidArgument)
		}
		node.primaryNext = nil
		p.heads[id] = node
		return nil
	}

	if !node.IsFirstInTransaction {
		cur := head
		for cur != nil && cur.Version != node.Version {
			cur = cur.primaryNext
		}
		if cur == nil {
			return fmt.Errorf("txn: pending restore: object %d: no primary node for version %d: %w", id, node.Version, ErrCorruption)
		}
		tail := cur
		for tail.secondaryNext != nil {
			tail = tail.secondaryNext
		}
		tail.secondaryNext = node
		return nil
	}

	if node.PrevVersion < head.PrevVersion {
		node.primaryNext = head
		p.heads[id] = node
		return nil
	}

	cur := head
	for cur.primaryNext != nil && cur.primaryNext.PrevVersion <= node.PrevVersion {
		cur = cur.primaryNext
	}
	node.primaryNext = cur.primaryNext
	cur.primaryNext = node
	return nil
}

// RestoreAction is invoked once per operation popped by TryPrune, in
// transaction write order. moreInTransaction reports whether another
// operation from the same transaction is queued after this one in its
// secondary chain; the node's IsLastInTransaction field is not consulted.
type RestoreAction func(node *RestoreNode, param any, moreInTransaction bool)

// TryPrune pops and applies every transaction at the head of id's chain
// whose PrevVersion equals currentVersion, advancing currentVersion to
// each popped transaction's Version as it goes, until the new head no
// longer matches. It reports true if at least one transaction was
// applied. A currentVersion that does not match the head's PrevVersion
// is not an error: TryPrune returns false and leaves the chain untouched.
// An id with no pending entry at all is corruption: the caller is only
// meant to call TryPrune for objects it knows have pending operations.
func (p *PendingRestore) TryPrune(id ObjectID, currentVersion uint64, action RestoreAction, param any) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	head, ok := p.heads[id]
	if !ok {
		return false, fmt.Errorf("txn: pending restore: object %d has no pending entry: %w", id, ErrCorruption)
	}

	applied := false
	cur := currentVersion
	for head != nil && head.PrevVersion == cur {
		txVersion := head.Version
		for node := head; node != nil; {
			next := node.secondaryNext
			action(node, param, next != nil)
			node = next
		}
		head = head.primaryNext
		cur = txVersion
		applied = true
	}

	if head == nil {
		delete(p.heads, id)
	} else {
		p.heads[id] = head
	}

	return applied, nil
}

// Len reports how many distinct objects currently have pending entries.
func (p *PendingRestore) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.heads)
}
