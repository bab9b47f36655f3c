// Package worker provides the bounded job pool the transport layer runs
// zone transfers on. Streaming an AXFR can take seconds for a large zone;
// running each transfer as a pool job caps how many run at once and keeps
// a burst of transfer requests from exhausting goroutines, while ordinary
// queries keep flowing on the listener path.
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrPoolClosed indicates the pool has been shut down.
	ErrPoolClosed = errors.New("worker pool closed")

	// ErrJobTimeout indicates a job timed out waiting in the queue.
	ErrJobTimeout = errors.New("job timed out waiting in queue")
)

// Job is a unit of work, typically one zone transfer.
type Job interface {
	Execute(ctx context.Context) error
}

// JobFunc adapts a function to the Job interface.
type JobFunc func(ctx context.Context) error

func (f JobFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Config holds pool configuration.
type Config struct {
	// Number of workers (default: runtime.NumCPU()).
	Workers int

	// Job queue size (default: workers * 8).
	QueueSize int

	// Maximum time a job can wait in queue before rejection.
	// 0 = wait as long as the submit context allows.
	QueueTimeout time.Duration

	// PanicHandler is called when a job panics. The panic never escapes
	// the worker goroutine either way; the job's caller sees an error.
	PanicHandler func(interface{})
}

// Pool runs jobs on a fixed set of workers with a bounded queue.
type Pool struct {
	queue        chan *jobWrapper
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	closed       atomic.Bool
	queueTimeout time.Duration
	panicHandler func(interface{})

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	timedOut  atomic.Uint64
}

type jobWrapper struct {
	job      Job
	ctx      context.Context
	resultCh chan error
}

// NewPool starts a pool per cfg.
func NewPool(cfg Config) *Pool {
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = cfg.Workers * 8
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:        make(chan *jobWrapper, cfg.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
		queueTimeout: cfg.QueueTimeout,
		panicHandler: cfg.PanicHandler,
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case wrapper, ok := <-p.queue:
			if !ok {
				return
			}
			p.executeJob(wrapper)
		}
	}
}

func (p *Pool) executeJob(wrapper *jobWrapper) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			select {
			case wrapper.resultCh <- errors.New("job panicked"):
			default:
			}
			p.failed.Add(1)
		}
	}()

	err := wrapper.job.Execute(wrapper.ctx)

	select {
	case wrapper.resultCh <- err:
	default:
		// Caller gave up waiting.
	}

	if err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
}

// Submit queues job and blocks until it finishes, the queue wait exceeds
// the configured timeout, or ctx is cancelled. The returned error is the
// job's own error once it ran.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.submitted.Add(1)

	wrapper := &jobWrapper{
		job:      job,
		ctx:      ctx,
		resultCh: make(chan error, 1),
	}

	queueCtx := ctx
	if p.queueTimeout > 0 {
		var cancel context.CancelFunc
		queueCtx, cancel = context.WithTimeout(ctx, p.queueTimeout)
		defer cancel()
	}

	select {
	case p.queue <- wrapper:
		select {
		case err := <-wrapper.resultCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-queueCtx.Done():
		p.timedOut.Add(1)
		return ErrJobTimeout
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Close stops accepting jobs and waits for in-flight ones to finish.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return ErrPoolClosed
	}
	close(p.queue)
	p.wg.Wait()
	p.cancel()
	return nil
}

// Stats is a snapshot of the pool's counters.
type Stats struct {
	Submitted  uint64
	Completed  uint64
	Failed     uint64
	TimedOut   uint64
	QueueDepth int
}

// GetStats returns current counters.
func (p *Pool) GetStats() Stats {
	return Stats{
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
		TimedOut:   p.timedOut.Load(),
		QueueDepth: len(p.queue),
	}
}
