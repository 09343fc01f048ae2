package txn

// TxType distinguishes read-only from read-write transactions.
type TxType uint8

const (
	TxRead TxType = iota
	TxReadWrite
)

// TxSource identifies who opened a transaction.
type TxSource uint8

const (
	SourceClient TxSource = iota
	SourceReplication
	SourceInternal
)

// classMultiset is a counted set of class indices: a class is a member
// iff its count is > 0. Backs a transaction's locked/written class sets,
// which need idempotent "do I already hold this?" checks rather than
// plain set membership (a class could in principle be touched more than
// once per transaction through different code paths).
type classMultiset map[int]int

func (s classMultiset) Add(classIndex int) {
	s[classIndex]++
}

// Remove decrements the count for classIndex, deleting the entry once it
// reaches zero. It reports whether the class was a member before removal.
func (s classMultiset) Remove(classIndex int) bool {
	n, ok := s[classIndex]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(s, classIndex)
	} else {
		s[classIndex] = n - 1
	}
	return true
}

func (s classMultiset) Contains(classIndex int) bool {
	return s[classIndex] > 0
}

// Keys returns every class index currently a member, in no particular
// order. Used by the commit/rollback release walk.
func (s classMultiset) Keys() []int {
	keys := make([]int, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	return keys
}

// TransactionContext holds the per-transaction bookkeeping the engine
// needs to release resources on commit/rollback: which classes this
// transaction holds a read lock on, which classes it is writing, and its
// modification log.
type TransactionContext struct {
	LockedClasses  classMultiset
	WrittenClasses classMultiset
	Log            ModLog
}

func newTransactionContext(mm MemoryManager, cfg Config) *TransactionContext {
	ctx := &TransactionContext{
		LockedClasses:  make(classMultiset),
		WrittenClasses: make(classMultiset),
	}
	ctx.Log.InitWithConfig(mm, cfg)
	return ctx
}

// Transaction carries identity, snapshot/commit versions, type and
// source, an owned context, and the intrusive doubly-linked pointers the
// active set threads through it.
type Transaction struct {
	ID            uint64
	ReadVersion   uint64
	CommitVersion uint64
	Type          TxType
	Source        TxSource
	Core          int // the core this transaction began on; used for writer striping
	Ctx           *TransactionContext

	prev, next *Transaction
	inActive   bool
}

// IsReadWrite reports whether the transaction may take write locks.
func (t *Transaction) IsReadWrite() bool { return t.Type == TxReadWrite }

// HoldsWriteLock reports whether t is the writer of record for classIndex.
func (t *Transaction) HoldsWriteLock(classIndex int) bool {
	return t.Ctx.WrittenClasses.Contains(classIndex)
}

// HoldsReadLock reports whether t already holds classIndex's read lock.
func (t *Transaction) HoldsReadLock(classIndex int) bool {
	return t.Ctx.LockedClasses.Contains(classIndex)
}
