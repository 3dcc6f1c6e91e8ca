// Package workerpool implements the two bounded worker pools of §4.3/§5
// (timer pool, event pool): a fixed number of goroutines draining a job
// channel, with a graceful drain-with-timeout and a forced-interrupt kill
// path for shutdown(kill), mirroring the channel-plus-WaitGroup worker
// idiom the teacher's batch scheduler uses for its per-table worker
// queues.
package workerpool

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Job is a unit of work submitted to the pool. It receives a context that
// is cancelled when the pool is killed; a well-behaved job checks it
// between steps but is not required to — kill only stops picking up new
// jobs, it does not forcibly unwind a running one (Go has no thread
// interrupt).
type Job func(ctx context.Context)

// Pool is a fixed-size goroutine pool draining a buffered job channel.
type Pool struct {
	name string
	size int

	jobs   chan Job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex

	// closeMu guards jobs' close against a concurrent send: Submit/TrySubmit
	// hold the read side for the duration of their send, Drain takes the
	// write side (which waits for any send already in flight to finish)
	// before closing the channel, so a submitter already on its way in can
	// never race a close with a "send on closed channel" panic.
	closeMu sync.RWMutex
	closed  bool
}

// New starts a pool of size workers, each pulling from a channel buffered
// to queueSize.
func New(name string, size, queueSize int) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:   name,
		size:   size,
		jobs:   make(chan Job, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.spawn(size)
	return p
}

// Name returns the pool's label, used as the "pool" metrics tag.
func (p *Pool) Name() string { return p.name }

func (p *Pool) spawn(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			job(p.ctx)
		}
	}
}

// Submit enqueues job. It blocks if the pool's queue is full, exerting
// natural back-pressure on the scheduling agent that called it. A no-op
// once the pool has started draining (Drain has closed the queue).
func (p *Pool) Submit(job Job) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return
	}
	p.jobs <- job
}

// TrySubmit enqueues job without blocking, returning false if the queue is
// currently full or the pool has started draining.
func (p *Pool) TrySubmit(job Job) bool {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Resize changes the number of active workers. Growing spawns additional
// goroutines immediately; shrinking stops no worker — NiFi-style dynamic
// pool sizing has no hard upper bound to enforce here, so shrink is
// advisory: it only lowers the baseline a later Resize grows from.
func (p *Pool) Resize(newSize int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if newSize > p.size {
		p.spawn(newSize - p.size)
	}
	p.size = newSize
}

// Size returns the configured worker count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Drain stops accepting new jobs and waits up to timeout for all
// in-flight and queued jobs to finish (kill=false path of shutdown). It
// returns false if the timeout elapsed with workers still running.
func (p *Pool) Drain(timeout time.Duration) bool {
	p.closeMu.Lock()
	p.closed = true
	close(p.jobs)
	p.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.Warnf("[workerpool:%s] drain timed out after %s, %d workers still active", p.name, timeout, p.size)
		return false
	}
}

// Kill cancels the pool context immediately (kill=true path of shutdown):
// workers observing ctx.Done() between steps return promptly; a worker
// that never checks the context runs to completion of its current job,
// matching shutdown(kill=true)'s "controller reports not cleanly
// terminated" possibility.
func (p *Pool) Kill() {
	p.cancel()
}
