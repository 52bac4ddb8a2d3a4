package community

import (
	"log/slog"
	"time"
)

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithOnChange registers the observer invoked after every committed mutation.
func WithOnChange(fn ChangeFunc) Option {
	return func(a *Aggregator) {
		a.onChange = fn
	}
}

// WithLogger sets the logger used for rejected updates.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock overrides the UpdatedAt source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithShards sets how many index stripes catalog ids hash into.
func WithShards(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.shardCount = n
		}
	}
}
