package workers_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atlas-desktop/fleet-orchestrator/internal/workers"
)

func testConfig() *workers.PoolConfig {
	return &workers.PoolConfig{
		Name: "test", NumWorkers: 2, QueueSize: 4,
		TaskTimeout: 200 * time.Millisecond, ShutdownTimeout: time.Second, PanicRecovery: true,
	}
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool := workers.NewPool(nil, testConfig())
	pool.Start()
	defer pool.Stop()

	var ran int64
	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		if err := pool.SubmitFunc(func() error {
			atomic.AddInt64(&ran, 1)
			done <- struct{}{}
			return nil
		}); err != nil {
			t.Fatalf("SubmitFunc: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		<-done
	}
	if atomic.LoadInt64(&ran) != 3 {
		t.Fatalf("expected 3 tasks run, got %d", ran)
	}
}

func TestPoolSubmitFailsWhenNotRunning(t *testing.T) {
	pool := workers.NewPool(nil, testConfig())
	if err := pool.Submit(workers.TaskFunc(func() error { return nil })); !errors.Is(err, workers.ErrPoolStopped) {
		t.Fatalf("expected ErrPoolStopped, got %v", err)
	}
}

func TestPoolSubmitFailsWhenQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.NumWorkers = 0
	cfg.QueueSize = 1
	pool := workers.NewPool(nil, cfg)
	pool.Start()
	defer pool.Stop()

	block := workers.TaskFunc(func() error { return nil })
	if err := pool.Submit(block); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := pool.Submit(block); !errors.Is(err, workers.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull with no workers draining, got %v", err)
	}
}

func TestPoolRecoversPanickingTask(t *testing.T) {
	pool := workers.NewPool(nil, testConfig())
	pool.Start()
	defer pool.Stop()

	done := make(chan struct{})
	if err := pool.SubmitFunc(func() error {
		defer close(done)
		panic("boom")
	}); err != nil {
		t.Fatalf("SubmitFunc: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panicking task never completed")
	}

	// Pool must still accept and run work after recovering from the panic.
	ran := make(chan struct{}, 1)
	if err := pool.SubmitFunc(func() error { ran <- struct{}{}; return nil }); err != nil {
		t.Fatalf("SubmitFunc after panic: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("pool stopped processing tasks after a panic")
	}
}

func TestPoolStopIsIdempotent(t *testing.T) {
	pool := workers.NewPool(nil, testConfig())
	pool.Start()
	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := pool.Stop(); err != nil {
		t.Fatalf("second Stop should be a noop, got %v", err)
	}
}
