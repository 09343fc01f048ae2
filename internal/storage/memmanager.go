// Package storage provides the downward collaborators the transactional
// core (internal/txn) is built against: memory allocation, the live
// object store, class metadata, and background GC scheduling.
//
// What: a bounded-memory allocator satisfying txn.MemoryManager, with a
// size-bucketed free list recycled across modification-log chunks.
// How: track live and pooled byte slices under one mutex; evict the
// oldest pooled (not live) buffers when policy limits are exceeded.
// Why: the modification log allocates and frees same-sized chunks
// constantly as transactions commit and roll back; recycling those
// buffers avoids handing the allocator back to the GC every time.
package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gridcask/classdb/internal/txn"
)

// MemoryPolicy configures MemManager's memory ceiling and free-list
// behavior.
type MemoryPolicy struct {
	// MaxMemoryBytes bounds live+pooled bytes combined; 0 means unlimited.
	MaxMemoryBytes int64

	// PoolFraction is the share of MaxMemoryBytes the free list may hold
	// before older pooled buffers are dropped to make room for live
	// growth. Ignored when MaxMemoryBytes is 0.
	PoolFraction float64

	// MaxPooledPerSize caps how many free buffers of one exact size are
	// kept for reuse; extras are dropped immediately on Free.
	MaxPooledPerSize int
}

// DefaultMemoryPolicy returns an unlimited policy with a small per-size
// free-list cap, suitable for tests and single-process deployments.
func DefaultMemoryPolicy() *MemoryPolicy {
	return &MemoryPolicy{
		MaxMemoryBytes:   0,
		PoolFraction:     0.25,
		MaxPooledPerSize: 8,
	}
}

// LimitedMemoryPolicy returns a policy bounding total memory to maxMB
// megabytes, evicting pooled buffers before ever refusing a live
// allocation that still fits under the ceiling. A maxMB of 0 yields
// MaxMemoryBytes 0, which leaves memory unlimited.
func LimitedMemoryPolicy(maxMB int64) *MemoryPolicy {
	return &MemoryPolicy{
		MaxMemoryBytes:   maxMB * 1024 * 1024,
		PoolFraction:     0.25,
		MaxPooledPerSize: 8,
	}
}

// AllocStats reports MemManager's current bookkeeping.
type AllocStats struct {
	LiveBytes     int64
	PooledBytes   int64
	PeakLiveBytes int64
	AllocCount    int64
	ReuseCount    int64
	FreeCount     int64
	EvictionCount int64
}

type pooledBuf struct {
	handle txn.Handle
	data   []byte
}

// MemManager implements txn.MemoryManager over plain Go byte slices,
// recycling same-sized buffers through a bounded free list instead of
// returning them to the garbage collector on every Free.
type MemManager struct {
	policy *MemoryPolicy

	mu       sync.Mutex
	live     map[txn.Handle][]byte
	nextID   uint64
	freeList map[int][]pooledBuf // size -> LIFO stack of reusable buffers
	freeFIFO []pooledBuf         // global eviction order, oldest first

	liveBytes   atomic.Int64
	pooledBytes atomic.Int64
	peakLive    atomic.Int64

	stats struct {
		sync.Mutex
		allocCount    int64
		reuseCount    int64
		freeCount     int64
		evictionCount int64
	}
}

// NewMemManager allocates a MemManager governed by policy. A nil policy
// falls back to DefaultMemoryPolicy.
func NewMemManager(policy *MemoryPolicy) *MemManager {
	if policy == nil {
		policy = DefaultMemoryPolicy()
	}
	return &MemManager{
		policy:   policy,
		live:     make(map[txn.Handle][]byte),
		freeList: make(map[int][]pooledBuf),
	}
}

// Allocate returns a handle to a size-byte buffer, preferring a pooled
// buffer of the exact size over a fresh allocation.
func (m *MemManager) Allocate(size int) (txn.Handle, error) {
	if size < 0 {
		return 0, fmt.Errorf("storage: negative allocation size %d", size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if bucket := m.freeList[size]; len(bucket) > 0 {
		buf := bucket[len(bucket)-1]
		m.freeList[size] = bucket[:len(bucket)-1]
		m.removeFromFIFOLocked(buf.handle)
		m.pooledBytes.Add(-int64(size))

		m.live[buf.handle] = buf.data
		m.liveBytes.Add(int64(size))
		m.bumpPeakLocked()

		m.stats.Lock()
		m.stats.allocCount++
		m.stats.reuseCount++
		m.stats.Unlock()
		return buf.handle, nil
	}

	if m.policy.MaxMemoryBytes > 0 {
		needed := m.liveBytes.Load() + int64(size)
		if needed+m.pooledBytes.Load() > m.policy.MaxMemoryBytes {
			m.trimPoolLocked(needed)
		}
		if needed+m.pooledBytes.Load() > m.policy.MaxMemoryBytes {
			return 0, fmt.Errorf("storage: memory limit exceeded: %d/%d bytes live",
				needed, m.policy.MaxMemoryBytes)
		}
	}

	m.nextID++
	h := txn.Handle(m.nextID)
	m.live[h] = make([]byte, size)
	m.liveBytes.Add(int64(size))
	m.bumpPeakLocked()

	m.stats.Lock()
	m.stats.allocCount++
	m.stats.Unlock()
	return h, nil
}

// Buffer returns the byte slice backing h. The zero value of a handle
// never appears live; an unknown handle returns nil.
func (m *MemManager) Buffer(h txn.Handle) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[h]
}

// Free releases h back to the pool. Pooling is capped per size
// (policy.MaxPooledPerSize); buffers beyond the cap are dropped for the
// garbage collector to reclaim, as are buffers from an unknown handle
// (a no-op, tolerating double frees).
func (m *MemManager) Free(h txn.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.live[h]
	if !ok {
		return
	}
	delete(m.live, h)
	size := len(data)
	m.liveBytes.Add(-int64(size))

	m.stats.Lock()
	m.stats.freeCount++
	m.stats.Unlock()

	if len(m.freeList[size]) >= m.policy.MaxPooledPerSize {
		return
	}
	buf := pooledBuf{handle: h, data: data}
	m.freeList[size] = append(m.freeList[size], buf)
	m.freeFIFO = append(m.freeFIFO, buf)
	m.pooledBytes.Add(int64(size))

	if m.policy.MaxMemoryBytes > 0 {
		poolBudget := int64(float64(m.policy.MaxMemoryBytes) * m.policy.PoolFraction)
		m.trimPoolLocked(m.liveBytes.Load() + poolBudget)
	}
}

// trimPoolLocked evicts the oldest pooled buffers until live+pooled fits
// under budget or the pool is empty. Called with m.mu held.
func (m *MemManager) trimPoolLocked(budget int64) {
	for m.liveBytes.Load()+m.pooledBytes.Load() > budget && len(m.freeFIFO) > 0 {
		oldest := m.freeFIFO[0]
		m.freeFIFO = m.freeFIFO[1:]

		size := len(oldest.data)
		bucket := m.freeList[size]
		for i, b := range bucket {
			if b.handle == oldest.handle {
				m.freeList[size] = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
		m.pooledBytes.Add(-int64(size))

		m.stats.Lock()
		m.stats.evictionCount++
		m.stats.Unlock()
	}
}

func (m *MemManager) removeFromFIFOLocked(h txn.Handle) {
	for i, b := range m.freeFIFO {
		if b.handle == h {
			m.freeFIFO = append(m.freeFIFO[:i], m.freeFIFO[i+1:]...)
			return
		}
	}
}

func (m *MemManager) bumpPeakLocked() {
	live := m.liveBytes.Load()
	for {
		peak := m.peakLive.Load()
		if live <= peak || m.peakLive.CompareAndSwap(peak, live) {
			return
		}
	}
}

// Stats returns a snapshot of the manager's current bookkeeping.
func (m *MemManager) Stats() AllocStats {
	m.stats.Lock()
	defer m.stats.Unlock()
	return AllocStats{
		LiveBytes:     m.liveBytes.Load(),
		PooledBytes:   m.pooledBytes.Load(),
		PeakLiveBytes: m.peakLive.Load(),
		AllocCount:    m.stats.allocCount,
		ReuseCount:    m.stats.reuseCount,
		FreeCount:     m.stats.freeCount,
		EvictionCount: m.stats.evictionCount,
	}
}
