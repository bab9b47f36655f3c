package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmit_Success(t *testing.T) {
	pool := NewPool(Config{Workers: 2, QueueSize: 10})
	defer pool.Close()

	var executed atomic.Bool
	job := JobFunc(func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	if err := pool.Submit(context.Background(), job); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	if !executed.Load() {
		t.Error("job was not executed")
	}

	stats := pool.GetStats()
	if stats.Completed != 1 {
		t.Errorf("completed = %d, want 1", stats.Completed)
	}
}

func TestSubmit_JobError(t *testing.T) {
	pool := NewPool(Config{Workers: 2, QueueSize: 10})
	defer pool.Close()

	expectedErr := errors.New("transfer aborted")
	job := JobFunc(func(ctx context.Context) error {
		return expectedErr
	})

	if err := pool.Submit(context.Background(), job); err != expectedErr {
		t.Errorf("Submit() error = %v, want %v", err, expectedErr)
	}

	stats := pool.GetStats()
	if stats.Failed != 1 {
		t.Errorf("failed = %d, want 1", stats.Failed)
	}
}

func TestSubmit_ContextCanceled(t *testing.T) {
	pool := NewPool(Config{Workers: 2, QueueSize: 10})
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := JobFunc(func(ctx context.Context) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})

	err := pool.Submit(ctx, job)
	if err != context.Canceled && err != ErrJobTimeout {
		t.Errorf("Submit() error = %v, want context.Canceled or ErrJobTimeout", err)
	}
}

func TestSubmit_Panic(t *testing.T) {
	var panicCaught atomic.Bool
	pool := NewPool(Config{
		Workers:   2,
		QueueSize: 10,
		PanicHandler: func(r interface{}) {
			panicCaught.Store(true)
		},
	})
	defer pool.Close()

	job := JobFunc(func(ctx context.Context) error {
		panic("test panic")
	})

	if err := pool.Submit(context.Background(), job); err == nil {
		t.Error("Submit() should return an error when the job panics")
	}

	if !panicCaught.Load() {
		t.Error("panic handler was not called")
	}

	stats := pool.GetStats()
	if stats.Failed != 1 {
		t.Errorf("failed = %d, want 1", stats.Failed)
	}
}

func TestQueueTimeout(t *testing.T) {
	pool := NewPool(Config{
		Workers:      1,
		QueueSize:    1,
		QueueTimeout: 50 * time.Millisecond,
	})
	defer pool.Close()

	block := JobFunc(func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	// Occupy the one worker and fill the one queue slot.
	go pool.Submit(context.Background(), block)
	go pool.Submit(context.Background(), block)
	time.Sleep(20 * time.Millisecond)

	err := pool.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
		return nil
	}))
	if err != ErrJobTimeout {
		t.Errorf("Submit() error = %v, want ErrJobTimeout", err)
	}

	stats := pool.GetStats()
	if stats.TimedOut == 0 {
		t.Error("timed out count should be non-zero")
	}
}

func TestClose(t *testing.T) {
	pool := NewPool(Config{Workers: 2, QueueSize: 10})

	var done atomic.Uint64
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
				time.Sleep(10 * time.Millisecond)
				done.Add(1)
				return nil
			}))
		}()
	}
	wg.Wait()

	if err := pool.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if done.Load() != 5 {
		t.Errorf("completed jobs = %d, want 5", done.Load())
	}

	err := pool.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
		return nil
	}))
	if err != ErrPoolClosed {
		t.Errorf("Submit after close error = %v, want ErrPoolClosed", err)
	}
}

func TestConcurrency(t *testing.T) {
	pool := NewPool(Config{Workers: 4, QueueSize: 100})
	defer pool.Close()

	const jobs = 100
	var completed atomic.Uint64

	var wg sync.WaitGroup
	wg.Add(jobs)
	for i := 0; i < jobs; i++ {
		go func() {
			defer wg.Done()
			err := pool.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
				time.Sleep(time.Millisecond)
				completed.Add(1)
				return nil
			}))
			if err != nil {
				t.Errorf("Submit() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if completed.Load() != jobs {
		t.Errorf("completed = %d, want %d", completed.Load(), jobs)
	}

	stats := pool.GetStats()
	if stats.Submitted != jobs {
		t.Errorf("submitted = %d, want %d", stats.Submitted, jobs)
	}
}

func BenchmarkSubmit(b *testing.B) {
	pool := NewPool(Config{Workers: 4, QueueSize: 1000})
	defer pool.Close()

	job := JobFunc(func(ctx context.Context) error {
		return nil
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.Submit(context.Background(), job)
	}
}
