// Package worker runs background jobs on a fixed number of goroutines.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/onepanelio/functionary/pkg/metrics"
	"github.com/onepanelio/functionary/pkg/util/retry"
	log "github.com/sirupsen/logrus"
)

// DefaultConcurrency is used when a pool is created with a concurrency below 1.
const DefaultConcurrency = 4

// ErrPoolStopped is returned by Submit after Stop has been called.
var ErrPoolStopped = errors.New("worker pool is stopped")

// Job is one unit of background work. A job is also the unit of retry.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
	// Backoff controls retries. The zero value runs the job once.
	Backoff retry.Backoff
	// Retryable decides whether an error is retried. Nil retries every error.
	Retryable func(error) bool
	// OnFailure is called with the last error when the job gives up.
	OnFailure func(err error)
}

// Submitter accepts jobs for background execution.
type Submitter interface {
	Submit(ctx context.Context, job Job) error
}

// Pool executes submitted jobs to completion on Concurrency goroutines.
type Pool struct {
	concurrency int
	jobs        chan Job
	wg          sync.WaitGroup
	mu          sync.RWMutex
	stopped     bool
	ctx         context.Context
	cancel      context.CancelFunc

	// queued pools keep jobs in backlog until a worker is free.
	queued  bool
	backlog []Job
	ready   *sync.Cond
}

// NewPool creates a pool. Submit blocks while every worker is busy.
func NewPool(concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}

	return &Pool{
		concurrency: concurrency,
		jobs:        make(chan Job),
	}
}

// NewQueuedPool creates a pool whose Submit never blocks, so jobs may submit more jobs.
// Jobs wait in an unbounded backlog and start in submission order.
func NewQueuedPool(concurrency int) *Pool {
	p := NewPool(concurrency)
	p.queued = true
	p.ready = sync.NewCond(&p.mu)

	return p
}

// Concurrency returns the number of workers.
func (p *Pool) Concurrency() int {
	return p.concurrency
}

// Start launches the workers. Jobs observe ctx.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	if p.queued {
		go p.feed()
	}
}

// feed hands the backlog to the workers. It closes jobs once the pool is stopped and the backlog is empty.
func (p *Pool) feed() {
	defer close(p.jobs)
	for {
		p.mu.Lock()
		for len(p.backlog) == 0 && !p.stopped {
			p.ready.Wait()
		}
		if len(p.backlog) == 0 {
			p.mu.Unlock()
			return
		}
		job := p.backlog[0]
		p.backlog[0] = Job{}
		p.backlog = p.backlog[1:]
		p.mu.Unlock()

		p.jobs <- job
	}
}

// Backlog returns the number of queued jobs no worker has taken yet.
func (p *Pool) Backlog() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.backlog)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.execute(id, job)
	}
}

func (p *Pool) execute(id int, job Job) {
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	retryable := job.Retryable
	if retryable == nil {
		retryable = retry.AlwaysError
	}

	attempt := 0
	err := retry.OnError(p.ctx, job.Backoff, retryable, func() error {
		attempt++
		err := job.Run(p.ctx)
		if err != nil {
			log.WithFields(log.Fields{
				"Job":     job.Name,
				"Worker":  id,
				"Attempt": attempt,
				"Error":   err.Error(),
			}).Warn("Job attempt failed.")
		}
		return err
	})
	if err == nil {
		return
	}

	log.WithFields(log.Fields{
		"Job":   job.Name,
		"Error": err.Error(),
	}).Error("Job failed.")
	if job.OnFailure != nil {
		job.OnFailure(err)
	}
}

// Submit hands job to a worker, blocking until one accepts it or ctx is done.
// Queued pools add job to the backlog and return immediately.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if p.queued {
		return p.enqueue(job)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped || p.ctx == nil {
		return ErrPoolStopped
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

func (p *Pool) enqueue(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.ctx == nil {
		return ErrPoolStopped
	}

	p.backlog = append(p.backlog, job)
	p.ready.Signal()

	return nil
}

// Stop stops accepting jobs and waits for running jobs to finish.
// Queued pools also run the jobs left in the backlog.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	if p.queued {
		if p.ctx == nil {
			close(p.jobs)
		}
		p.ready.Broadcast()
	} else {
		close(p.jobs)
	}
	p.mu.Unlock()

	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
}
