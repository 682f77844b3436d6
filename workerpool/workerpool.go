// Package workerpool runs a fixed number of workers over a bounded queue.
// Submissions never block: when the queue is full one item is shed
// according to the configured Policy.
package workerpool

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// Policy selects which item is shed when the queue is full.
type Policy int

const (
	// DropCurrent discards the item being submitted.
	DropCurrent Policy = iota
	// DropOldest evicts the frontmost queued item to make room.
	DropOldest
)

func (p Policy) String() string {
	switch p {
	case DropCurrent:
		return "DropCurrent"
	case DropOldest:
		return "DropOldest"
	default:
		return "Unknown"
	}
}

const (
	logQueueFullDropOldest  = "Worker queue full, dropping the frontmost/oldest item"
	logQueueFullDropCurrent = "Worker queue full, dropping current item"
	logWorkerStarted        = "Worker started"
	logWorkerStopped        = "Worker stopped"
)

type config struct {
	workers   int
	queueSize int
	policy    Policy
	logger    *slog.Logger
}

type Option func(*config)

// WithWorkers sets the number of workers. Defaults to runtime.NumCPU()+1.
func WithWorkers(n int) Option {
	return func(c *config) {
		c.workers = n
	}
}

// WithQueueSize bounds the number of pending submissions. Defaults to 10240.
func WithQueueSize(n int) Option {
	return func(c *config) {
		c.queueSize = max(1, n)
	}
}

func WithPolicy(p Policy) Option {
	return func(c *config) {
		c.policy = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Pool executes work for every accepted item on one of its workers.
type Pool[T any] struct {
	config  config
	logger  *slog.Logger
	work    func(context.Context, T)
	release func(T)

	queue chan T
	wg    sync.WaitGroup
	mu    sync.Mutex // serialises DropOldest evictions

	submitted atomic.Int64
	dropped   atomic.Int64
}

// New creates a pool running work for each item with the context passed to
// Start. release, if not nil, is called for every item that is shed or left
// unprocessed at shutdown.
func New[T any](work func(context.Context, T), release func(T), opts ...Option) *Pool[T] {
	cfg := config{
		workers:   runtime.NumCPU() + 1,
		queueSize: 10240,
		policy:    DropCurrent,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.workers = max(1, cfg.workers)

	logger := slog.Default()
	if cfg.logger != nil {
		logger = cfg.logger
	}

	if release == nil {
		release = func(T) {}
	}

	return &Pool[T]{
		config:  cfg,
		logger:  logger,
		work:    work,
		release: release,
		queue:   make(chan T, cfg.queueSize),
	}
}

// Start launches the workers. They run until ctx is cancelled.
func (p *Pool[T]) Start(ctx context.Context) {
	p.wg.Add(p.config.workers)
	for i := 0; i < p.config.workers; i++ {
		go p.worker(ctx, i)
	}
}

func (p *Pool[T]) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With("worker", id)
	logger.Debug(logWorkerStarted)
	for {
		select {
		case <-ctx.Done():
			logger.Debug(logWorkerStopped)
			return
		case item := <-p.queue:
			p.work(ctx, item)
		}
	}
}

// Wait blocks until every worker has returned, then releases whatever is
// still queued.
func (p *Pool[T]) Wait() {
	p.wg.Wait()
	for {
		select {
		case item := <-p.queue:
			p.release(item)
		default:
			return
		}
	}
}

// Submit enqueues item without blocking and reports whether it was
// accepted. A false return means item itself was shed.
func (p *Pool[T]) Submit(item T) bool {
	p.submitted.Add(1)

	select {
	case p.queue <- item:
		return true
	default:
	}

	if p.config.policy == DropOldest {
		p.mu.Lock()
		defer p.mu.Unlock()
		select {
		case old := <-p.queue:
			p.logger.Debug(logQueueFullDropOldest)
			p.shed(old)
			select {
			case p.queue <- item:
				return true
			default:
			}
		default:
		}
	}

	p.logger.Debug(logQueueFullDropCurrent)
	p.shed(item)
	return false
}

func (p *Pool[T]) shed(item T) {
	p.dropped.Add(1)
	p.release(item)
}

// QueueLen is the number of accepted items not yet picked up by a worker.
func (p *Pool[T]) QueueLen() int {
	return len(p.queue)
}

func (p *Pool[T]) QueueCap() int {
	return cap(p.queue)
}

func (p *Pool[T]) Workers() int {
	return p.config.workers
}

func (p *Pool[T]) Policy() Policy {
	return p.config.policy
}

func (p *Pool[T]) Submitted() int64 {
	return p.submitted.Load()
}

// Dropped is the number of items shed so far, whichever end they came from.
func (p *Pool[T]) Dropped() int64 {
	return p.dropped.Load()
}
