// Package persist applies storage writes behind the in-memory model.
//
// Jobs sharing a key always land on the same worker and run in the order they
// were enqueued. A failed job is logged and counted; nothing is retried or
// rolled back.
//
// Callers enqueue while holding in-memory locks, so a full queue is waited on
// for at most the enqueue timeout. Past that the job is dropped and counted as
// "dropped" rather than stalling the caller behind slow storage.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Clark-Hu/tierlist/internal/metrics"
)

var (
	// ErrSinkClosed is returned by Enqueue after Close.
	ErrSinkClosed = errors.New("persist: sink closed")

	// ErrQueueFull is returned when a worker's queue stayed full for the
	// whole enqueue timeout.
	ErrQueueFull = errors.New("persist: queue full")
)

const (
	defaultWorkers    = 4
	defaultQueueSize  = 256
	defaultJobTimeout = 5 * time.Second

	defaultEnqueueTimeout = 250 * time.Millisecond
)

// Job kinds.
const (
	KindSaveTitle   = "save_title"
	KindDeleteTitle = "delete_title"
	KindSaveTier    = "save_tier"
	KindSaveRating  = "save_rating"
)

// Job is one storage write.
type Job struct {
	// Key orders jobs: equal keys run sequentially in enqueue order.
	Key  string
	Kind string
	Run  func(ctx context.Context) error
}

// Sink fans jobs out to sequential workers by key.
type Sink struct {
	workers        int
	queueSize      int
	jobTimeout     time.Duration
	enqueueTimeout time.Duration
	logger         *slog.Logger

	queues []chan Job
	wg     sync.WaitGroup

	// base outlives request contexts; Close cancels it only when draining times out.
	base   context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// New starts the workers.
func New(opts ...Option) *Sink {
	s := &Sink{
		workers:        defaultWorkers,
		queueSize:      defaultQueueSize,
		jobTimeout:     defaultJobTimeout,
		enqueueTimeout: defaultEnqueueTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.base, s.cancel = context.WithCancel(context.Background())

	s.queues = make([]chan Job, s.workers)
	for i := range s.queues {
		s.queues[i] = make(chan Job, s.queueSize)
		s.wg.Add(1)
		go s.run(i, s.queues[i])
	}
	s.logger.Info("persist: sink started",
		slog.Int("workers", s.workers),
		slog.Int("queue_size", s.queueSize))
	return s
}

// Enqueue hands job to its worker. A full queue is waited on until ctx is done
// or the enqueue timeout passes, whichever comes first.
func (s *Sink) Enqueue(ctx context.Context, job Job) error {
	if job.Run == nil {
		return fmt.Errorf("persist: job %q for %q has no Run", job.Kind, job.Key)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.PersistJobsTotal.WithLabelValues(job.Kind, "dropped").Inc()
		return ErrSinkClosed
	}

	q := s.queues[xxhash.Sum64String(job.Key)%uint64(len(s.queues))]
	metrics.PersistQueueDepth.Inc()
	select {
	case q <- job:
		return nil
	default:
	}

	timer := time.NewTimer(s.enqueueTimeout)
	defer timer.Stop()
	select {
	case q <- job:
		return nil
	case <-ctx.Done():
		s.drop(job)
		return fmt.Errorf("enqueue %s %s: %w", job.Kind, job.Key, ctx.Err())
	case <-timer.C:
		s.drop(job)
		s.logger.Warn("persist: queue full, write dropped",
			slog.String("kind", job.Kind),
			slog.String("key", job.Key),
			slog.Duration("waited", s.enqueueTimeout))
		return fmt.Errorf("enqueue %s %s: %w", job.Kind, job.Key, ErrQueueFull)
	}
}

func (s *Sink) drop(job Job) {
	metrics.PersistQueueDepth.Dec()
	metrics.PersistJobsTotal.WithLabelValues(job.Kind, "dropped").Inc()
}

// Close stops intake and waits for queued jobs to finish. If ctx expires first
// the remaining jobs run against a cancelled context.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, q := range s.queues {
		close(q)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("persist: sink drained")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		s.logger.Warn("persist: drain timed out, remaining jobs cancelled")
		return fmt.Errorf("persist: drain: %w", ctx.Err())
	}
}

func (s *Sink) run(id int, q <-chan Job) {
	defer s.wg.Done()
	for job := range q {
		metrics.PersistQueueDepth.Dec()
		s.apply(id, job)
	}
}

func (s *Sink) apply(worker int, job Job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(s.base, s.jobTimeout)
	defer cancel()

	err := safeRun(ctx, job)
	metrics.PersistDuration.WithLabelValues(job.Kind).Observe(time.Since(start).Seconds())
	if err == nil {
		metrics.PersistJobsTotal.WithLabelValues(job.Kind, "ok").Inc()
		return
	}

	metrics.PersistJobsTotal.WithLabelValues(job.Kind, "failed").Inc()
	s.logger.Error("persist: write failed",
		slog.Int("worker", worker),
		slog.String("kind", job.Kind),
		slog.String("key", job.Key),
		slog.Any("error", err))
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s job: %v", job.Kind, r)
		}
	}()
	return job.Run(ctx)
}
