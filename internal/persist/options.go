package persist

import (
	"log/slog"
	"time"
)

// Option configures a Sink.
type Option func(*Sink)

// WithWorkers sets how many sequential workers share the load.
func WithWorkers(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithQueueSize sets the per-worker buffer.
func WithQueueSize(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithJobTimeout bounds each write.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// WithLogger sets the logger for failed writes.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEnqueueTimeout bounds how long Enqueue waits on a full queue.
func WithEnqueueTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.enqueueTimeout = d
		}
	}
}
