// Package dispatch runs inbound work serially per conversation and in
// parallel across conversations.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrClosed    = errors.New("dispatcher closed")
	ErrQueueFull = errors.New("conversation queue full")
)

const defaultQueueDepth = 32

// Job is one unit of work for a conversation.
type Job func(ctx context.Context)

type queue struct {
	jobs []Job
}

// Dispatcher keeps one FIFO per key, drained by a goroutine that exits once
// the FIFO is empty.
type Dispatcher struct {
	ctx    context.Context
	cancel context.CancelFunc
	depth  int
	logger *zap.Logger

	mu     sync.Mutex
	queues map[string]*queue
	closed bool
	wg     sync.WaitGroup
}

// New creates a Dispatcher whose jobs run under a context derived from
// parent. depth bounds the jobs waiting per key; non-positive means 32.
func New(parent context.Context, depth int, logger *zap.Logger) *Dispatcher {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Dispatcher{
		ctx:    ctx,
		cancel: cancel,
		depth:  depth,
		logger: logger,
		queues: make(map[string]*queue),
	}
}

// Submit enqueues job behind earlier jobs for key.
func (d *Dispatcher) Submit(key string, job Job) error {
	if job == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	q, running := d.queues[key]
	if !running {
		q = &queue{}
		d.queues[key] = q
	}
	if len(q.jobs) >= d.depth {
		return fmt.Errorf("%w: %d pending", ErrQueueFull, len(q.jobs))
	}
	q.jobs = append(q.jobs, job)
	if !running {
		d.wg.Add(1)
		go d.drain(key, q)
	}
	return nil
}

func (d *Dispatcher) drain(key string, q *queue) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(q.jobs) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		d.mu.Unlock()

		d.run(key, job)
	}
}

func (d *Dispatcher) run(key string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch_job_panic", zap.String("conversation", key), zap.Any("panic", r))
		}
	}()
	job(d.ctx)
}

// Pending reports the number of queued jobs across all keys.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.queues {
		n += len(q.jobs)
	}
	return n
}

// Close stops accepting work and waits for queued jobs until ctx is done,
// then cancels the jobs' context.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	defer d.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
