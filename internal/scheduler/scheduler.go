package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// RunStats is the observable outcome of one task invocation. Tasks report
// results explicitly instead of logging and vanishing.
type RunStats struct {
	Processed int
	Failed    int
	Err       error
}

// TaskFunc is one periodic task body.
type TaskFunc func(ctx context.Context) RunStats

// JobRun is the single-flight guard for one task name: at most one
// invocation runs at a time, process-wide. A tick that finds the guard held
// is skipped entirely - no queuing, no backlog.
type JobRun struct {
	mu        sync.Mutex
	running   bool
	LastStart time.Time
	LastStats RunStats
}

// TryAcquire attempts to claim the guard. Returns false when an invocation
// is already in flight.
func (j *JobRun) TryAcquire() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return false
	}
	j.running = true
	j.LastStart = time.Now()
	return true
}

// Release records the run's stats and frees the guard.
func (j *JobRun) Release(stats RunStats) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.running = false
	j.LastStats = stats
}

// Running reports whether an invocation is in flight.
func (j *JobRun) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

type task struct {
	name    string
	cadence time.Duration
	fn      TaskFunc
	guard   *JobRun
}

// Scheduler drives a fixed set of independent periodic tasks, each on its
// own timer with its own single-flight guard.
type Scheduler struct {
	mu       sync.Mutex
	tasks    []*task
	stopChan chan struct{}
	baseCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
}

// NewScheduler creates a new scheduler
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		stopChan: make(chan struct{}),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Register adds a periodic task. Must be called before Start.
func (s *Scheduler) Register(name string, cadence time.Duration, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task{
		name:    name,
		cadence: cadence,
		fn:      fn,
		guard:   &JobRun{},
	})
}

// Start launches one timer goroutine per registered task. Each task also
// runs once immediately on start.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.runLoop(t)
	}
	log.Printf("[Scheduler] Started %d periodic tasks", len(s.tasks))
}

// Stop cancels the context handed to task bodies, signals all task loops to
// exit and waits for in-flight runs.
func (s *Scheduler) Stop() {
	s.cancel()
	close(s.stopChan)
	s.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

func (s *Scheduler) runLoop(t *task) {
	defer s.wg.Done()

	s.tick(t)

	ticker := time.NewTicker(t.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(t)
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) tick(t *task) {
	if !t.guard.TryAcquire() {
		log.Printf("[Scheduler] Task %s still running, skipping tick", t.name)
		return
	}

	stats := t.fn(s.baseCtx)
	t.guard.Release(stats)

	if stats.Err != nil {
		log.Printf("[Scheduler] Task %s finished with error: %v (processed %d, failed %d)", t.name, stats.Err, stats.Processed, stats.Failed)
	} else if stats.Processed > 0 || stats.Failed > 0 {
		log.Printf("[Scheduler] Task %s: processed %d, failed %d", t.name, stats.Processed, stats.Failed)
	}
}

// Guard returns the JobRun for a task name, for introspection in handlers
// and tests. Returns nil for unknown names.
func (s *Scheduler) Guard(name string) *JobRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.name == name {
			return t.guard
		}
	}
	return nil
}
