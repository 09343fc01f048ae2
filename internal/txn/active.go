package txn

import (
	"fmt"
	"sync"
)

// ActiveSet is the indexed, order-preserving registry of in-flight
// transactions, implemented as an intrusive doubly linked list: prev/next
// live on the Transaction itself, so Add is an O(1) prepend and Complete
// an O(1) unlink.
type ActiveSet struct {
	mu         sync.Mutex
	head, tail *Transaction
	size       int
}

// NewActiveSet returns an empty active-transaction registry.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{}
}

// Add inserts tx at the head (newest) of the active set.
func (a *ActiveSet) Add(tx *Transaction) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx.prev = nil
	tx.next = a.head
	if a.head != nil {
		a.head.prev = tx
	}
	a.head = tx
	if a.tail == nil {
		a.tail = tx
	}
	tx.inActive = true
	a.size++
}

// Complete unlinks tx from the active set and returns its predecessor —
// the next-older transaction still active, used to advance the oldest-
// reader watermark. It is a no-op error if tx is not currently present.
func (a *ActiveSet) Complete(tx *Transaction) (*Transaction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !tx.inActive {
		return nil, fmt.Errorf("txn: transaction %d: %w", tx.ID, ErrNotActive)
	}

	predecessor := tx.next // older transactions sit toward tail/"next"

	if tx.prev != nil {
		tx.prev.next = tx.next
	} else {
		a.head = tx.next
	}
	if tx.next != nil {
		tx.next.prev = tx.prev
	} else {
		a.tail = tx.prev
	}

	tx.prev, tx.next, tx.inActive = nil, nil, false
	a.size--
	return predecessor, nil
}

// IsEmpty reports whether no transactions are currently active.
func (a *ActiveSet) IsEmpty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size == 0
}

// Len returns the number of active transactions.
func (a *ActiveSet) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// OldestReader returns the oldest (tail) active transaction, if any.
func (a *ActiveSet) OldestReader() (*Transaction, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tail == nil {
		return nil, false
	}
	return a.tail, true
}

// Each calls fn for every active transaction, newest first (insertion
// order), stopping early if fn returns false.
func (a *ActiveSet) Each(fn func(*Transaction) bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for t := a.head; t != nil; t = t.next {
		if !fn(t) {
			return
		}
	}
}
