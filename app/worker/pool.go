// Package worker runs request-scoped follow-up work off the HTTP path
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull   = errors.New("worker queue is full")
	ErrPoolStopped = errors.New("worker pool is stopped")
)

const (
	DefaultWorkers      = 4
	DefaultQueueSize    = 256
	DefaultDrainTimeout = 10 * time.Second
)

var jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "worker_jobs_total",
	Help: "Background jobs by queue and outcome",
}, []string{"queue", "outcome"})

// Job is one unit of background work. Name is used for logging only.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

type Options struct {
	Workers      int
	QueueSize    int
	DrainTimeout time.Duration
}

// Pool is a bounded queue consumed by a fixed number of goroutines
type Pool struct {
	name   string
	opts   Options
	jobs   chan Job
	logger logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewPool(name string, opts Options, logger logrus.FieldLogger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	return &Pool{
		name:   name,
		opts:   opts,
		jobs:   make(chan Job, opts.QueueSize),
		logger: logger.WithField("queue", name),
	}
}

// Start launches the workers. Jobs run with a context derived from parent.
func (p *Pool) Start(parent context.Context) {
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(parent))
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.loop()
	}
	p.logger.WithField("workers", p.opts.Workers).Info("Worker pool started")
}

// Submit enqueues without blocking
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped || p.ctx == nil {
		jobsTotal.WithLabelValues(p.name, "rejected").Inc()
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		jobsTotal.WithLabelValues(p.name, "queue_full").Inc()
		return ErrQueueFull
	}
}

// Stop refuses new jobs and waits for queued ones until the drain deadline.
// Jobs still running at the deadline see their context cancelled.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped || p.ctx == nil {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool drained")
	case <-time.After(p.opts.DrainTimeout):
		p.logger.WithField("pending", len(p.jobs)).Warn("Worker pool drain deadline exceeded")
		p.cancel()
		<-done
	}
	p.cancel()
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			jobsTotal.WithLabelValues(p.name, "panic").Inc()
			p.logger.WithFields(logrus.Fields{"job": job.Name, "panic": r}).Error("Background job panicked")
		}
	}()

	if err := p.ctx.Err(); err != nil {
		jobsTotal.WithLabelValues(p.name, "cancelled").Inc()
		p.logger.WithField("job", job.Name).Warn("Background job dropped after drain deadline")
		return
	}
	if err := job.Run(p.ctx); err != nil {
		jobsTotal.WithLabelValues(p.name, "failed").Inc()
		p.logger.WithError(err).WithField("job", job.Name).Error("Background job failed")
		return
	}
	jobsTotal.WithLabelValues(p.name, "succeeded").Inc()
}
