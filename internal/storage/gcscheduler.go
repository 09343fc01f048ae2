package storage

// Recurring housekeeping jobs, CRON-scheduled or fixed-interval, run
// against a SweepPool off the request path: periodic watermark
// reporting and pending-restore draining need a home that isn't inline
// with a transaction. github.com/robfig/cron/v3 drives CRON jobs; a
// ticker goroutine drives INTERVAL jobs.

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleType selects how a SweepJob is dispatched: on a CRON
// expression or on a fixed interval.
type ScheduleType string

const (
	ScheduleCron     ScheduleType = "CRON"
	ScheduleInterval ScheduleType = "INTERVAL"
)

// SweepJob is one registered piece of recurring housekeeping work.
type SweepJob struct {
	Name         string
	Schedule     ScheduleType
	CronExpr     string        // required when Schedule == ScheduleCron
	Interval     time.Duration // required when Schedule == ScheduleInterval
	MaxRuntime   time.Duration // 0 defaults to 5 minutes
	NoOverlap    bool
	Task         func(ctx context.Context) (SweepResult, error)
	nextInterval time.Time
}

type jobExecution struct {
	startTime time.Time
	cancelFn  context.CancelFunc
}

// HousekeepingScheduler runs SweepJobs against a SweepPool on their
// configured cadence.
type HousekeepingScheduler struct {
	pool *SweepPool
	cron *cron.Cron

	mu      sync.Mutex
	jobs    map[string]*SweepJob
	running map[string]*jobExecution

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewHousekeepingScheduler wires a scheduler that dispatches onto pool.
func NewHousekeepingScheduler(pool *SweepPool) *HousekeepingScheduler {
	return &HousekeepingScheduler{
		pool:    pool,
		cron:    cron.New(cron.WithSeconds()),
		jobs:    make(map[string]*SweepJob),
		running: make(map[string]*jobExecution),
		stopCh:  make(chan struct{}),
	}
}

// AddJob registers job and, if the scheduler is already running, wires
// it immediately (cron jobs via the cron library, interval jobs via the
// shared ticker loop).
func (s *HousekeepingScheduler) AddJob(job *SweepJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.Name == "" {
		return fmt.Errorf("storage: job name cannot be empty")
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("storage: job %q already registered", job.Name)
	}
	s.jobs[job.Name] = job
	return s.scheduleLocked(job)
}

func (s *HousekeepingScheduler) scheduleLocked(job *SweepJob) error {
	switch job.Schedule {
	case ScheduleCron:
		if job.CronExpr == "" {
			return fmt.Errorf("storage: job %q: empty CRON expression", job.Name)
		}
		_, err := s.cron.AddFunc(job.CronExpr, func() { s.execute(job) })
		return err
	case ScheduleInterval:
		if job.Interval <= 0 {
			return fmt.Errorf("storage: job %q: interval must be positive", job.Name)
		}
		job.nextInterval = time.Now().Add(job.Interval)
		return nil
	default:
		return fmt.Errorf("storage: job %q: unknown schedule type %q", job.Name, job.Schedule)
	}
}

// Start launches the cron scheduler and the interval-checking loop.
func (s *HousekeepingScheduler) Start() {
	s.cron.Start()
	s.wg.Add(1)
	go s.runIntervalLoop()
	log.Printf("storage: housekeeping scheduler started with %d jobs", len(s.jobs))
}

// Stop halts both the cron scheduler and the interval loop, canceling
// any job in flight.
func (s *HousekeepingScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	close(s.stopCh)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, exec := range s.running {
		log.Printf("storage: canceling running job %q", name)
		exec.cancelFn()
	}
	log.Println("storage: housekeeping scheduler stopped")
}

func (s *HousekeepingScheduler) runIntervalLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.checkIntervalJobs(now)
		}
	}
}

func (s *HousekeepingScheduler) checkIntervalJobs(now time.Time) {
	s.mu.Lock()
	due := make([]*SweepJob, 0)
	for _, job := range s.jobs {
		if job.Schedule != ScheduleInterval {
			continue
		}
		if !job.nextInterval.IsZero() && !now.Before(job.nextInterval) {
			job.nextInterval = now.Add(job.Interval)
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.execute(job)
	}
}

func (s *HousekeepingScheduler) execute(job *SweepJob) {
	s.mu.Lock()
	if s.jobs[job.Name] != job {
		s.mu.Unlock()
		return
	}
	if job.NoOverlap {
		if _, running := s.running[job.Name]; running {
			s.mu.Unlock()
			log.Printf("storage: job %q already running, skipping", job.Name)
			return
		}
	}

	maxRuntime := job.MaxRuntime
	if maxRuntime == 0 {
		maxRuntime = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), maxRuntime)
	exec := &jobExecution{startTime: time.Now(), cancelFn: cancel}
	s.running[job.Name] = exec
	s.mu.Unlock()

	out := s.pool.Submit(ctx, job.Task)
	go func() {
		outcome := <-out
		cancel()

		s.mu.Lock()
		delete(s.running, job.Name)
		s.mu.Unlock()

		if outcome.Error != nil {
			log.Printf("storage: job %q failed: %v", job.Name, outcome.Error)
			return
		}
		log.Printf("storage: job %q completed: %+v", job.Name, outcome.Result)
	}()
}

// RemoveJob unregisters name, canceling it first if it is currently
// running. Future cron/interval firings for it are skipped.
func (s *HousekeepingScheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exec, ok := s.running[name]; ok {
		exec.cancelFn()
		delete(s.running, name)
	}
	delete(s.jobs, name)
}
