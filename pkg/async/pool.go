package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPoolClosed is returned when submitting to a shut down pool
var ErrPoolClosed = errors.New("worker pool shut down")

// ErrQueueFull is returned by TrySubmit when the queue has no free slot
var ErrQueueFull = errors.New("worker pool queue full")

// Task is a unit of work run by a WorkerPool
type Task func(context.Context) error

// PoolConfig sizes a WorkerPool
type PoolConfig struct {
	Name      string
	Workers   int
	QueueSize int
	Timeout   time.Duration // per task
}

// WorkerPool runs tasks on a fixed number of workers fed by a bounded queue.
// Panics in tasks are recovered and reported as errors.
type WorkerPool struct {
	cfg    PoolConfig
	log    *logrus.Logger
	workCh chan Task
	doneCh chan struct{}
	errCh  chan error
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts the workers
//
//	pool := async.NewWorkerPool(ctx, async.PoolConfig{Name: "email", Workers: 4, QueueSize: 100, Timeout: 30 * time.Second}, log)
//	defer pool.Shutdown(5 * time.Second)
func NewWorkerPool(ctx context.Context, cfg PoolConfig, log *logrus.Logger) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(ctx)
	pool := &WorkerPool{
		cfg:    cfg,
		log:    log,
		workCh: make(chan Task, cfg.QueueSize),
		doneCh: make(chan struct{}),
		errCh:  make(chan error, cfg.Workers*10),
		ctx:    ctx,
		cancel: cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < cfg.Workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit queues fn, blocking while the queue is full
func (p *WorkerPool) Submit(fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// TrySubmit queues fn without blocking
func (p *WorkerPool) TrySubmit(fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits up to timeout for queued tasks
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.workCh)
	p.mu.Unlock()

	select {
	case <-p.doneCh:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return fmt.Errorf("%s pool shutdown timed out after %v", p.cfg.Name, timeout)
	}
}

// Errors returns a channel that receives task errors
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) worker(id int) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.run(id, fn)
		}
	}
}

func (p *WorkerPool) run(id int, fn Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"pool":   p.cfg.Name,
				"worker": id,
				"stack":  string(debug.Stack()),
			}).Errorf("Panic in worker: %v", r)
			p.report(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := fn(ctx); err != nil {
		p.report(err)
	}
}

func (p *WorkerPool) report(err error) {
	select {
	case p.errCh <- err:
	default:
		p.log.WithError(err).WithField("pool", p.cfg.Name).Warn("Error channel full, dropping error")
	}
}

// SafeGo runs fn in a goroutine with a timeout, panic recovery and error
// logging. Use it for fire-and-forget work after a response is decided.
func SafeGo(parentCtx context.Context, log *logrus.Logger, timeout time.Duration, taskName string, fn Task) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					"task":  taskName,
					"stack": string(debug.Stack()),
				}).Errorf("Panic in background task: %v", r)
			}
		}()

		if err := fn(ctx); err != nil {
			log.WithError(err).WithField("task", taskName).Warn("Background task failed")
		}
	}()
}
