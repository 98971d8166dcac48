package worker // import "github.com/Xunop/celestial/internal/worker"

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Xunop/celestial/internal/log"
)

// ErrUnavailable is returned when a job cannot be handed to a pool: the pool
// is nil, closed, or the caller gave up before a worker accepted the job.
var ErrUnavailable = errors.New("worker pool unavailable")

type Job struct {
	Name string
	Run  func(ctx context.Context) error

	ctx  context.Context
	done chan error
}

type WorkPool interface {
	Push(job *Job) error
}

// Pool runs jobs on a fixed number of workers fed by one channel.
type Pool struct {
	name  string
	queue chan *Job

	mu     sync.RWMutex
	closed bool

	pendingMu sync.Mutex
	pending   int
	idle      *sync.Cond

	workers sync.WaitGroup
}

func NewPool(name string, size int) *Pool {
	if size < 1 {
		size = 1
	}
	pool := &Pool{
		name:  name,
		queue: make(chan *Job, size),
	}
	pool.idle = sync.NewCond(&pool.pendingMu)

	for i := 0; i < size; i++ {
		worker := &Worker{id: i, pool: name}
		pool.workers.Add(1)
		go func() {
			defer pool.workers.Done()
			worker.Run(pool.queue, pool.finish)
		}()
	}

	return pool
}

// Push implements WorkPool. It blocks until a worker slot is free.
func (p *Pool) Push(job *Job) error {
	if job.ctx == nil {
		job.ctx = context.Background()
	}
	return p.push(job.ctx, job)
}

func (p *Pool) push(ctx context.Context, job *Job) error {
	if p == nil {
		return ErrUnavailable
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrUnavailable
	}

	p.begin()
	select {
	case p.queue <- job:
		return nil
	case <-ctx.Done():
		p.finish()
		return errors.Wrap(ErrUnavailable, ctx.Err().Error())
	}
}

// Do runs fn on a worker and waits for its result.
func (p *Pool) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	job := &Job{Name: name, Run: fn, ctx: ctx, done: make(chan error, 1)}
	if err := p.push(ctx, job); err != nil {
		return err
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go queues fn without waiting for it. Failures are logged.
func (p *Pool) Go(name string, fn func(ctx context.Context) error) {
	if p == nil {
		log.Warn("Dropping job, no pool", zap.String("job", name))
		return
	}
	job := &Job{Name: name, Run: fn, ctx: context.Background()}
	// Hold a pending slot while the enqueue is in flight so Wait covers it.
	p.begin()
	go func() {
		defer p.finish()
		if err := p.push(job.ctx, job); err != nil {
			log.Warn("Dropping job", zap.String("pool", p.name), zap.String("job", name), zap.Error(err))
		}
	}()
}

// Wait blocks until every queued job has finished.
func (p *Pool) Wait() {
	if p == nil {
		return
	}
	p.pendingMu.Lock()
	for p.pending > 0 {
		p.idle.Wait()
	}
	p.pendingMu.Unlock()
}

// Close stops accepting jobs and waits for the workers to drain the queue.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.workers.Wait()
}

func (p *Pool) begin() {
	p.pendingMu.Lock()
	p.pending++
	p.pendingMu.Unlock()
}

func (p *Pool) finish() {
	p.pendingMu.Lock()
	p.pending--
	if p.pending == 0 {
		p.idle.Broadcast()
	}
	p.pendingMu.Unlock()
}

type Worker struct {
	id   int
	pool string
}

// Run executes jobs until the channel is closed.
func (w *Worker) Run(c <-chan *Job, finished func()) {
	log.Debug("Worker is running", zap.String("pool", w.pool), zap.Int("worker_id", w.id))

	for job := range c {
		log.Debug("Job received by worker",
			zap.String("pool", w.pool),
			zap.Int("worker_id", w.id),
			zap.String("job", job.Name))

		err := w.run(job)
		if err != nil {
			log.Debug("Job failed", zap.String("job", job.Name), zap.Error(err))
		}
		if job.done != nil {
			job.done <- err
		}
		finished()
	}
}

func (w *Worker) run(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.Run(job.ctx)
}
