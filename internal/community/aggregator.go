// Package community folds personal scores from every user into one running
// mean per catalog id.
//
// Mutations for one catalog id are serialized by a lock owned by that id.
// Different ids never wait on each other beyond a short index lookup.
package community

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Clark-Hu/tierlist/internal/domain"
	"github.com/Clark-Hu/tierlist/internal/metrics"
)

const (
	defaultShards = 64
	// driftTolerance absorbs floating error when a mean lands a hair outside [0,10].
	driftTolerance = 1e-9
)

// Loader hydrates a stored aggregate. found=false means no aggregate exists yet.
type Loader func(ctx context.Context, catalogID string) (rating domain.GlobalRating, found bool, err error)

// ChangeFunc observes every committed mutation. It runs while the key's lock is
// held, so calls for one id arrive in mutation order. It must not call back
// into the Aggregator.
type ChangeFunc func(domain.GlobalRating)

type entry struct {
	mu     sync.Mutex
	loaded bool
	rating domain.GlobalRating
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Aggregator keeps a (count, mean) pair per catalog id.
type Aggregator struct {
	shardCount int
	shards     []shard
	onChange   ChangeFunc
	now        func() time.Time
	logger     *slog.Logger
}

// New returns an empty aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		shardCount: defaultShards,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.shards = make([]shard, a.shardCount)
	for i := range a.shards {
		a.shards[i].entries = make(map[string]*entry)
	}
	return a
}

func (a *Aggregator) entry(catalogID string) *entry {
	s := &a.shards[xxhash.Sum64String(catalogID)%uint64(len(a.shards))]
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[catalogID]
	if !ok {
		e = &entry{rating: domain.GlobalRating{CatalogID: catalogID}}
		s.entries[catalogID] = e
		metrics.AggregatesTracked.Inc()
	}
	return e
}

func (a *Aggregator) lookup(catalogID string) (*entry, bool) {
	s := &a.shards[xxhash.Sum64String(catalogID)%uint64(len(a.shards))]
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[catalogID]
	return e, ok
}

// Ensure hydrates catalogID from load the first time it is touched, ahead of a
// mutation. A failed load leaves the key unhydrated so a later call retries.
// Reads go through Snapshot, which never starts tracking a key.
func (a *Aggregator) Ensure(ctx context.Context, catalogID string, load Loader) error {
	e := a.entry(catalogID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded || load == nil {
		e.loaded = true
		return nil
	}

	stored, found, err := load(ctx, catalogID)
	if err != nil {
		return fmt.Errorf("hydrate aggregate %s: %w", catalogID, err)
	}
	if found {
		if err := checkStored(stored); err != nil {
			return err
		}
		stored.CatalogID = catalogID
		e.rating = stored
	}
	e.loaded = true
	return nil
}

// Annotate records descriptive fields carried along with the aggregate.
func (a *Aggregator) Annotate(catalogID, title string, mediaType domain.MediaType) {
	e := a.entry(catalogID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if title != "" {
		e.rating.Title = title
	}
	if mediaType != "" {
		e.rating.MediaType = mediaType
	}
}

// Contribute folds a new personal score into the mean.
func (a *Aggregator) Contribute(catalogID string, score float64) (domain.GlobalRating, error) {
	return a.mutate("contribute", catalogID, func(r *domain.GlobalRating) error {
		if err := checkScore(score); err != nil {
			return err
		}
		if r.NumberOfRatings == 0 {
			r.NumberOfRatings = 1
			r.AverageRating = score
			return nil
		}
		r.NumberOfRatings++
		r.AverageRating += (score - r.AverageRating) / float64(r.NumberOfRatings)
		return nil
	})
}

// Revise replaces one contributor's previous score without changing the count.
func (a *Aggregator) Revise(catalogID string, oldScore, newScore float64) (domain.GlobalRating, error) {
	return a.mutate("revise", catalogID, func(r *domain.GlobalRating) error {
		if err := checkScore(oldScore); err != nil {
			return err
		}
		if err := checkScore(newScore); err != nil {
			return err
		}
		if r.NumberOfRatings == 0 {
			return fmt.Errorf("%w: revise on empty aggregate %s", domain.ErrDegenerateAggregate, catalogID)
		}
		r.AverageRating += (newScore - oldScore) / float64(r.NumberOfRatings)
		return nil
	})
}

// Retract removes one contributor. The last retraction empties the aggregate
// and resets its mean to zero.
func (a *Aggregator) Retract(catalogID string, score float64) (domain.GlobalRating, error) {
	return a.mutate("retract", catalogID, func(r *domain.GlobalRating) error {
		if err := checkScore(score); err != nil {
			return err
		}
		if r.NumberOfRatings == 0 {
			return fmt.Errorf("%w: retract below zero for %s", domain.ErrDegenerateAggregate, catalogID)
		}
		r.NumberOfRatings--
		if r.NumberOfRatings == 0 {
			r.AverageRating = 0
			return nil
		}
		r.AverageRating += (r.AverageRating - score) / float64(r.NumberOfRatings)
		return nil
	})
}

// Rating returns a snapshot. ok is false for ids never touched.
func (a *Aggregator) Rating(catalogID string) (domain.GlobalRating, bool) {
	e, ok := a.lookup(catalogID)
	if !ok {
		return domain.GlobalRating{CatalogID: catalogID}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rating, true
}

// Snapshot reads catalogID for callers that will not mutate it. A hydrated key
// is served from memory; any other key is read through load and left
// untracked, so lookups of unknown ids retain nothing.
func (a *Aggregator) Snapshot(ctx context.Context, catalogID string, load Loader) (domain.GlobalRating, bool, error) {
	if e, ok := a.lookup(catalogID); ok {
		e.mu.Lock()
		loaded, rating := e.loaded, e.rating
		e.mu.Unlock()
		if loaded {
			return rating, true, nil
		}
	}
	if load == nil {
		return domain.GlobalRating{CatalogID: catalogID}, false, nil
	}

	stored, found, err := load(ctx, catalogID)
	if err != nil {
		return domain.GlobalRating{}, false, fmt.Errorf("read aggregate %s: %w", catalogID, err)
	}
	if !found {
		return domain.GlobalRating{CatalogID: catalogID}, false, nil
	}
	if err := checkStored(stored); err != nil {
		return domain.GlobalRating{}, false, err
	}
	stored.CatalogID = catalogID
	return stored, true, nil
}

// mutate applies fn to a scratch copy and commits only if the result is sane,
// so a rejected update leaves the previous aggregate unchanged.
func (a *Aggregator) mutate(op, catalogID string, fn func(*domain.GlobalRating) error) (domain.GlobalRating, error) {
	e := a.entry(catalogID)
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.rating
	if err := fn(&next); err != nil {
		metrics.AggregateUpdatesTotal.WithLabelValues(op, "rejected").Inc()
		return e.rating, err
	}
	mean, err := settle(next.AverageRating)
	if err != nil {
		metrics.AggregateUpdatesTotal.WithLabelValues(op, "rejected").Inc()
		a.logger.Warn("community: aggregate rejected",
			slog.String("op", op),
			slog.String("catalog_id", catalogID),
			slog.Any("error", err))
		return e.rating, fmt.Errorf("%s %s: %w", op, catalogID, err)
	}
	next.AverageRating = mean
	next.Version++
	next.UpdatedAt = a.now().UTC()
	e.rating = next
	e.loaded = true
	metrics.AggregateUpdatesTotal.WithLabelValues(op, "ok").Inc()

	if a.onChange != nil {
		a.onChange(next)
	}
	return next, nil
}

func checkScore(score float64) error {
	if math.IsNaN(score) || math.IsInf(score, 0) || score < domain.MinScore || score > domain.MaxScore {
		return fmt.Errorf("%w: score %v outside [%v,%v]", domain.ErrDegenerateAggregate, score, domain.MinScore, domain.MaxScore)
	}
	return nil
}

func checkStored(r domain.GlobalRating) error {
	if r.NumberOfRatings < 0 {
		return fmt.Errorf("%w: stored count %d for %s", domain.ErrDegenerateAggregate, r.NumberOfRatings, r.CatalogID)
	}
	if r.NumberOfRatings > 0 {
		if _, err := settle(r.AverageRating); err != nil {
			return err
		}
	}
	return nil
}

// settle snaps a mean that drifted by rounding noise back into range.
func settle(mean float64) (float64, error) {
	switch {
	case math.IsNaN(mean) || math.IsInf(mean, 0):
		return 0, fmt.Errorf("%w: mean is %v", domain.ErrDegenerateAggregate, mean)
	case mean < domain.MinScore-driftTolerance || mean > domain.MaxScore+driftTolerance:
		return 0, fmt.Errorf("%w: mean %v outside [%v,%v]", domain.ErrDegenerateAggregate, mean, domain.MinScore, domain.MaxScore)
	case mean < domain.MinScore:
		return domain.MinScore, nil
	case mean > domain.MaxScore:
		return domain.MaxScore, nil
	}
	return mean, nil
}
