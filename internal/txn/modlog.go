package txn

import (
	"errors"
	"fmt"
)

// ModType identifies what kind of record a modification-log chunk holds.
// A chunk never mixes types; the caller picks the type on every Append
// and a mismatch forces a new chunk.
type ModType uint8

const (
	ModClass ModType = iota
	ModInverseReference
	ModObjectReadLock
	ModHashReadLock
)

func (t ModType) String() string {
	switch t {
	case ModClass:
		return "class"
	case ModInverseReference:
		return "inverse_reference"
	case ModObjectReadLock:
		return "object_read_lock"
	case ModHashReadLock:
		return "hash_read_lock"
	default:
		return "unknown"
	}
}

const (
	chunkStartSize = 1024             // 1 KiB
	chunkMaxSize   = 1 << 20          // 1 MiB
)

// ErrAllocationFailed is fatal: the injected MemoryManager could not
// satisfy a chunk allocation. Callers must abort, not retry.
var ErrAllocationFailed = errors.New("txn: modification log allocation failed")

// modChunk is one chunk of a ModLog: a header followed by a
// memory-manager-owned byte region used as entry storage.
type modChunk struct {
	handle       Handle
	data         []byte
	next         *modChunk
	capacity     uint32
	offset       uint32 // current write offset
	count        uint32 // entry count
	modType      ModType
	version      uint64 // GC version tag, set by TakeContent callers
	entryOffsets []uint32
}

// ModLog is the per-transaction chained byte log: a singly linked FIFO of
// same-typed chunks, growing geometrically from chunkStartSize to
// chunkMaxSize (or a deployment's Config override).
type ModLog struct {
	mm        MemoryManager
	head      *modChunk
	tail      *modChunk
	total     int
	startSize int // 0 means chunkStartSize
	maxSize   int // 0 means chunkMaxSize
}

// Init attaches a memory manager the log will allocate chunks through,
// using the built-in chunkStartSize/chunkMaxSize growth bounds.
func (l *ModLog) Init(mm MemoryManager) {
	l.mm = mm
	l.head, l.tail, l.total = nil, nil, 0
	l.startSize, l.maxSize = 0, 0
}

// InitWithConfig is Init with cfg's chunk sizing substituted for the
// built-in defaults, letting a deployment's Config (config.go) tune how
// aggressively a transaction's log grows.
func (l *ModLog) InitWithConfig(mm MemoryManager, cfg Config) {
	l.Init(mm)
	l.startSize, l.maxSize = cfg.ChunkStartSize, cfg.ChunkMaxSize
}

func (l *ModLog) chunkStart() int {
	if l.startSize > 0 {
		return l.startSize
	}
	return chunkStartSize
}

func (l *ModLog) chunkMax() int {
	if l.maxSize > 0 {
		return l.maxSize
	}
	return chunkMaxSize
}

// Empty reports whether the log holds no entries.
func (l *ModLog) Empty() bool { return l.head == nil }

// Count returns the total number of entries appended and not yet taken.
func (l *ModLog) Count() int { return l.total }

// Append reserves size bytes for an entry of the given type and returns a
// writable region backed by chunk storage. If the current tail chunk has
// the same type and room, the entry is appended there (the common,
// allocation-free path); otherwise a new chunk is allocated, doubled in
// capacity from the previous tail and capped at chunkMaxSize (enlarged
// further only if a single entry wouldn't otherwise fit).
func (l *ModLog) Append(modType ModType, size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("txn: negative append size %d: %w", size, ErrInvalidArgument)
	}

	if l.tail != nil && l.tail.modType == modType {
		remaining := int(l.tail.capacity) - int(l.tail.offset)
		if remaining >= size {
			start := l.tail.offset
			l.tail.offset += uint32(size)
			l.tail.entryOffsets = append(l.tail.entryOffsets, start)
			l.tail.count++
			l.total++
			return l.tail.data[start : start+uint32(size)], nil
		}
	}

	chunk, err := l.newChunk(modType, size)
	if err != nil {
		return nil, err
	}
	chunk.offset = uint32(size)
	chunk.count = 1
	chunk.entryOffsets = append(chunk.entryOffsets, 0)

	if l.tail != nil {
		l.tail.next = chunk
	}
	l.tail = chunk
	if l.head == nil {
		l.head = chunk
	}
	l.total++
	return chunk.data[0:size], nil
}

func (l *ModLog) newChunk(modType ModType, size int) (*modChunk, error) {
	capacity := l.chunkStart()
	if l.tail != nil {
		capacity = int(l.tail.capacity) * 2
		if capacity > l.chunkMax() {
			capacity = l.chunkMax()
		}
	}
	if size > capacity {
		capacity = size
	}

	h, err := l.mm.Allocate(capacity)
	if err != nil {
		return nil, fmt.Errorf("txn: allocate %d-byte chunk: %w: %w", capacity, err, ErrAllocationFailed)
	}
	return &modChunk{
		handle:   h,
		data:     l.mm.Buffer(h),
		capacity: uint32(capacity),
		modType:  modType,
	}, nil
}

// Merge adopts other's entries into l, preserving FIFO order (other's
// entries come after l's). Either side may be empty; a single-chunk
// source of the same type as l's tail whose payload fits in that tail is
// copied byte-for-byte (no extra
// allocation); otherwise the chain is linked by pointer. other is left
// empty either way — entries are never re-copied beyond that one
// small-chunk-coalesce case.
func (l *ModLog) Merge(other *ModLog) {
	if other.Empty() {
		return
	}
	if l.Empty() {
		l.head, l.tail, l.total = other.head, other.tail, other.total
		other.head, other.tail, other.total = nil, nil, 0
		return
	}

	if other.head == other.tail &&
		l.tail.modType == other.head.modType &&
		int(l.tail.capacity)-int(l.tail.offset) >= int(other.head.offset) {

		src := other.head
		dstStart := l.tail.offset
		copy(l.tail.data[dstStart:], src.data[:src.offset])
		for _, off := range src.entryOffsets {
			l.tail.entryOffsets = append(l.tail.entryOffsets, dstStart+off)
		}
		l.tail.offset += src.offset
		l.tail.count += src.count
		l.total += other.total

		other.mm.Free(src.handle)
		other.head, other.tail, other.total = nil, nil, 0
		return
	}

	l.tail.next = other.head
	l.tail = other.tail
	l.total += other.total
	other.head, other.tail, other.total = nil, nil, 0
}

// TakeContent atomically detaches the head chain, transferring ownership
// to the caller (typically a GC queue keyed by commit version). The log
// is empty afterward.
func (l *ModLog) TakeContent() *modChunk {
	head := l.head
	l.head, l.tail, l.total = nil, nil, 0
	return head
}

// Free releases every chunk's backing buffer back to the memory manager.
// Safe to call on an already-empty or already-freed log.
func (l *ModLog) Free() {
	for c := l.head; c != nil; {
		next := c.next
		l.mm.Free(c.handle)
		c = next
	}
	l.head, l.tail, l.total = nil, nil, 0
}

// FreeChain releases a detached chain previously returned by TakeContent.
// Used by GC once it has finished processing the chain's entries.
func FreeChain(mm MemoryManager, head *modChunk) {
	for c := head; c != nil; {
		next := c.next
		mm.Free(c.handle)
		c = next
	}
}

// ModLogCursor iterates a ModLog's (or a taken chain's) entries in FIFO
// order. It is not restartable after any further Append on the live log —
// callers should only iterate a log they own exclusively or a chain that
// has already been detached via TakeContent.
type ModLogCursor struct {
	chunk *modChunk
	idx   int
}

// Iterate returns a cursor over l's current entries.
func (l *ModLog) Iterate() *ModLogCursor {
	return &ModLogCursor{chunk: l.head}
}

// IterateChain returns a cursor over a detached chain (e.g. from
// TakeContent or a GC queue entry).
func IterateChain(head *modChunk) *ModLogCursor {
	return &ModLogCursor{chunk: head}
}

// Next advances the cursor and returns the next entry's type and bytes.
// ok is false once the chain is exhausted.
func (c *ModLogCursor) Next() (modType ModType, entry []byte, ok bool) {
	for c.chunk != nil && c.idx >= int(c.chunk.count) {
		c.chunk = c.chunk.next
		c.idx = 0
	}
	if c.chunk == nil {
		return 0, nil, false
	}

	start := c.chunk.entryOffsets[c.idx]
	var end uint32
	if c.idx+1 < int(c.chunk.count) {
		end = c.chunk.entryOffsets[c.idx+1]
	} else {
		end = c.chunk.offset
	}
	modType = c.chunk.modType
	entry = c.chunk.data[start:end]
	c.idx++
	return modType, entry, true
}
