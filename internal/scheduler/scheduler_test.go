package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRun_SingleFlight(t *testing.T) {
	guard := &JobRun{}

	require.True(t, guard.TryAcquire())
	assert.True(t, guard.Running())

	// A second tick while the first is in flight is refused.
	assert.False(t, guard.TryAcquire())

	guard.Release(RunStats{Processed: 3})
	assert.False(t, guard.Running())
	assert.Equal(t, 3, guard.LastStats.Processed)

	assert.True(t, guard.TryAcquire())
	guard.Release(RunStats{})
}

func TestJobRun_ConcurrentAcquire(t *testing.T) {
	guard := &JobRun{}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if guard.TryAcquire() {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestScheduler_RunsTaskImmediatelyAndOnCadence(t *testing.T) {
	var runs int32
	s := NewScheduler()
	s.Register("counter", 20*time.Millisecond, func(ctx context.Context) RunStats {
		atomic.AddInt32(&runs, 1)
		return RunStats{Processed: 1}
	})

	s.Start()
	time.Sleep(70 * time.Millisecond)
	s.Stop()

	// One immediate run plus at least two ticks.
	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(3))
}

func TestScheduler_SlowTaskSkipsOverlappingTicks(t *testing.T) {
	var runs int32
	release := make(chan struct{})

	s := NewScheduler()
	s.Register("slow", 10*time.Millisecond, func(ctx context.Context) RunStats {
		atomic.AddInt32(&runs, 1)
		<-release
		return RunStats{}
	})

	s.Start()
	time.Sleep(60 * time.Millisecond)

	// The first invocation is still blocked; every tick since was skipped.
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	assert.True(t, s.Guard("slow").Running())

	close(release)
	s.Stop()
}

func TestScheduler_TasksAreIndependent(t *testing.T) {
	var fastRuns int32
	block := make(chan struct{})

	s := NewScheduler()
	s.Register("blocked", 10*time.Millisecond, func(ctx context.Context) RunStats {
		<-block
		return RunStats{}
	})
	s.Register("fast", 10*time.Millisecond, func(ctx context.Context) RunStats {
		atomic.AddInt32(&fastRuns, 1)
		return RunStats{}
	})

	s.Start()
	time.Sleep(50 * time.Millisecond)

	// One stuck task never stalls the others.
	assert.GreaterOrEqual(t, atomic.LoadInt32(&fastRuns), int32(3))

	close(block)
	s.Stop()
}

func TestScheduler_StopCancelsTaskContext(t *testing.T) {
	started := make(chan struct{})

	s := NewScheduler()
	s.Register("waiter", time.Hour, func(ctx context.Context) RunStats {
		close(started)
		// A task body parked on its context must unblock on Stop; otherwise
		// Stop would wait on it forever.
		<-ctx.Done()
		return RunStats{Err: ctx.Err()}
	})

	s.Start()
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the in-flight task's context")
	}
}

func TestScheduler_GuardRecordsLastStats(t *testing.T) {
	s := NewScheduler()
	s.Register("stats", time.Hour, func(ctx context.Context) RunStats {
		return RunStats{Processed: 5, Failed: 2}
	})

	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	guard := s.Guard("stats")
	require.NotNil(t, guard)
	assert.Equal(t, 5, guard.LastStats.Processed)
	assert.Equal(t, 2, guard.LastStats.Failed)
	assert.False(t, guard.LastStart.IsZero())

	assert.Nil(t, s.Guard("unknown"))
}
