package txn

import (
	"errors"
	"fmt"
)

// maxRangeCount is the 16 Mi ceiling placed on a single TakeIDRange
// request.
const maxRangeCount = 16 * 1024 * 1024

// idGeneratorStart is where the singleton counter begins the first time
// TakeIDRange runs against a fresh database.
const idGeneratorStart = 1024

// IDGeneratorStore is the downward collaborator backing the singleton
// IdGenerator record that TakeIDRange reads and advances through an
// ordinary transaction: a single row read-then-written inside one
// logical unit of work.
//
// StoreCounter is a compare-and-store: it must only apply newCounter if
// the record still matches (prevCounter, prevFound) as last loaded, and
// return ErrConflict otherwise. The class locker alone does not serialize
// concurrent writers to the same class — more than one writer may be in
// flight at once — so TakeIDRange's correctness under concurrent callers
// rests on this compare-and-store, with the retry loop around it
// absorbing the resulting ErrConflict.
type IDGeneratorStore interface {
	LoadCounter(tx *Transaction, id ObjectID) (counter uint64, found bool, err error)
	StoreCounter(tx *Transaction, id ObjectID, prevCounter uint64, prevFound bool, newCounter uint64) error
}

// TakeIDRange reserves [base, base+count) by advancing the singleton
// IdGenerator counter through an ordinary read-write transaction, built
// on the same transaction-lifecycle primitives (BeginTransaction, Commit,
// Rollback) as any other caller. It takes no class lock; concurrent
// callers are serialized by StoreCounter's compare-and-store. It retries
// internally on the
// transient error classes (ErrConflict, ErrNonUniqueID); every other
// error propagates to the caller. The ceiling is Config.MaxRangeCount
// (config.go), defaulting to maxRangeCount.
func (e *Engine) TakeIDRange(count uint64) (uint64, error) {
	ceiling := uint64(maxRangeCount)
	if e.config.MaxRangeCount > 0 {
		ceiling = e.config.MaxRangeCount
	}
	if count == 0 || count > ceiling {
		return 0, fmt.Errorf("txn: id range count %d: %w", count, ErrInvalidArgument)
	}

	for {
		base, err := e.tryTakeIDRange(count)
		if err == nil {
			return base, nil
		}
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNonUniqueID) {
			continue
		}
		return 0, err
	}
}

func (e *Engine) tryTakeIDRange(count uint64) (uint64, error) {
	tx := e.BeginTransaction(0, TxReadWrite, SourceInternal, true)

	loaded, found, err := e.idStore.LoadCounter(tx, IDGeneratorID)
	if err != nil {
		e.Rollback(tx)
		return 0, err
	}
	base := loaded
	if !found {
		base = idGeneratorStart
		if e.config.IDGeneratorStart > 0 {
			base = e.config.IDGeneratorStart
		}
	}

	if base+count > MaxCounter {
		e.Rollback(tx)
		return 0, fmt.Errorf("txn: id range [%d,%d) exceeds %d: %w", base, base+count, MaxCounter, ErrIDUnavailable)
	}

	if err := e.idStore.StoreCounter(tx, IDGeneratorID, loaded, found, base+count); err != nil {
		e.Rollback(tx)
		return 0, err
	}

	if err := e.Commit(tx); err != nil {
		return 0, err
	}
	return base, nil
}
