package storage

// A bounded pool of goroutines runs background housekeeping tasks
// (class-locker rewinds, pending-restore drains, watermark reporting)
// against a *txn.Engine, off the request path, using a worker pool plus
// parallel fan-out/fan-in over a ClassRegistry.

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gridcask/classdb/internal/txn"
)

// SweepResult reports the outcome of one housekeeping task.
type SweepResult struct {
	ClassIndex int
	Rewound    bool
	Note       string
}

// SweepOutcome pairs a submitted task's id with its result or error.
type SweepOutcome struct {
	ID     uint64
	Result SweepResult
	Error  error
}

// SweepTask is a unit of housekeeping work submitted to a SweepPool.
type SweepTask struct {
	ID      uint64
	Context context.Context
	Run     func(ctx context.Context) (SweepResult, error)
	Result  chan SweepOutcome
}

// SweepPoolConfig configures worker count and timeouts.
type SweepPoolConfig struct {
	Workers      int
	QueueSize    int
	TaskTimeout  time.Duration
	QueueTimeout time.Duration
}

// DefaultSweepPoolConfig returns sensible small-scale defaults; a single
// background sweeper rarely needs to scale to one goroutine per core.
func DefaultSweepPoolConfig() SweepPoolConfig {
	return SweepPoolConfig{
		Workers:      2,
		QueueSize:    64,
		TaskTimeout:  5 * time.Second,
		QueueTimeout: time.Second,
	}
}

// SweepPool runs housekeeping tasks concurrently, bounded to cfg.Workers
// goroutines.
type SweepPool struct {
	cfg   SweepPoolConfig
	queue chan SweepTask

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	nextID    atomic.Uint64
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	timedOut  atomic.Uint64
}

// NewSweepPool starts cfg.Workers goroutines draining a bounded queue.
func NewSweepPool(cfg SweepPoolConfig) *SweepPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &SweepPool{
		cfg:    cfg,
		queue:  make(chan SweepTask, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *SweepPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.queue:
			p.run(task)
		}
	}
}

func (p *SweepPool) run(task SweepTask) {
	ctx := task.Context
	if p.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
		defer cancel()
	}

	resultCh := make(chan SweepOutcome, 1)
	go func() {
		result, err := task.Run(ctx)
		resultCh <- SweepOutcome{ID: task.ID, Result: result, Error: err}
	}()

	select {
	case outcome := <-resultCh:
		if outcome.Error != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
		task.Result <- outcome
	case <-ctx.Done():
		p.timedOut.Add(1)
		task.Result <- SweepOutcome{ID: task.ID, Error: fmt.Errorf("storage: sweep task timed out: %w", ctx.Err())}
	}
}

// Submit enqueues a task and returns a channel the caller can read the
// outcome from. Submission itself blocks up to QueueTimeout if the pool
// is saturated.
func (p *SweepPool) Submit(ctx context.Context, run func(ctx context.Context) (SweepResult, error)) <-chan SweepOutcome {
	id := p.nextID.Add(1)
	p.submitted.Add(1)
	resultCh := make(chan SweepOutcome, 1)
	task := SweepTask{ID: id, Context: ctx, Run: run, Result: resultCh}

	select {
	case p.queue <- task:
	case <-time.After(p.cfg.QueueTimeout):
		resultCh <- SweepOutcome{ID: id, Error: fmt.Errorf("storage: sweep queue full")}
	}
	return resultCh
}

// SweepStats is a point-in-time snapshot of a SweepPool's counters.
type SweepStats struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
	TimedOut  uint64
}

// Stats returns the pool's current counters.
func (p *SweepPool) Stats() SweepStats {
	return SweepStats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		TimedOut:  p.timedOut.Load(),
	}
}

// Shutdown cancels outstanding work and waits up to timeout for workers
// to drain.
func (p *SweepPool) Shutdown(timeout time.Duration) error {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("storage: sweep pool shutdown timed out after %s", timeout)
	}
}

// SweepAllClasses fans a rewind/inspection task out across every class
// node in registry concurrently (bounded by workers goroutines) and fans
// the per-class results back in, preserving registry order.
func SweepAllClasses(ctx context.Context, registry *ClassRegistry, engine *txn.Engine, workers int, fn func(node *txn.ClassNode, locker *txn.ClassLocker) SweepResult) ([]SweepResult, error) {
	classes := registry.AllClasses()
	if len(classes) == 0 {
		return nil, nil
	}
	if workers <= 0 {
		workers = 1
	}

	type indexed struct {
		idx  int
		node *txn.ClassNode
	}
	type outcome struct {
		idx    int
		result SweepResult
	}

	work := make(chan indexed, len(classes))
	out := make(chan outcome, len(classes))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				select {
				case <-ctx.Done():
					return
				default:
				}
				locker := engine.ClassLocker(item.node.Index)
				out <- outcome{idx: item.idx, result: fn(item.node, locker)}
			}
		}()
	}

	for i, desc := range classes {
		node, ok := registry.Node(desc.Index)
		if !ok {
			continue
		}
		work <- indexed{idx: i, node: node}
	}
	close(work)

	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]SweepResult, len(classes))
	for o := range out {
		results[o.idx] = o.result
	}

	select {
	case <-ctx.Done():
		return results, ctx.Err()
	default:
		return results, nil
	}
}

// RestoreBatcher buffers pending-restore drain requests and flushes them
// together, either when full or on a timer.
type RestoreBatcher struct {
	maxSize  int
	interval time.Duration
	handler  func(ids []txn.ObjectID)

	queue chan txn.ObjectID
	mu    sync.Mutex
	batch []txn.ObjectID

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewRestoreBatcher starts a batcher flushing to handler every interval
// or once maxSize ids have queued, whichever comes first.
func NewRestoreBatcher(maxSize int, interval time.Duration, handler func(ids []txn.ObjectID)) *RestoreBatcher {
	if maxSize <= 0 {
		maxSize = 1
	}
	b := &RestoreBatcher{
		maxSize:  maxSize,
		interval: interval,
		handler:  handler,
		queue:    make(chan txn.ObjectID, maxSize*2),
		batch:    make([]txn.ObjectID, 0, maxSize),
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go b.run(ctx)
	return b
}

// Add queues id for the next flush; returns an error if the queue is
// momentarily full rather than blocking the caller.
func (b *RestoreBatcher) Add(id txn.ObjectID) error {
	select {
	case b.queue <- id:
		return nil
	default:
		return fmt.Errorf("storage: restore batch queue full")
	}
}

func (b *RestoreBatcher) run(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for drained := false; !drained; {
				select {
				case id := <-b.queue:
					b.batch = append(b.batch, id)
				default:
					drained = true
				}
			}
			b.flushLocked()
			b.mu.Unlock()
			return
		case id := <-b.queue:
			b.mu.Lock()
			b.batch = append(b.batch, id)
			if len(b.batch) >= b.maxSize {
				b.flushLocked()
			}
			b.mu.Unlock()
		case <-ticker.C:
			b.flush()
		}
	}
}

func (b *RestoreBatcher) flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *RestoreBatcher) flushLocked() {
	if len(b.batch) == 0 {
		return
	}
	b.handler(b.batch)
	b.batch = b.batch[:0]
}

// Stop flushes any buffered ids and stops the background goroutine.
func (b *RestoreBatcher) Stop() {
	b.cancel()
	b.wg.Wait()
}
