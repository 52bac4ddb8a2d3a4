// Package cache keeps community aggregates in Redis in front of Postgres.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Clark-Hu/tierlist/internal/domain"
	"github.com/Clark-Hu/tierlist/internal/metrics"
)

const defaultTTL = 5 * time.Minute

// RatingStore is the durable source of community aggregates.
type RatingStore interface {
	Load(ctx context.Context, catalogID string) (domain.GlobalRating, error)
	Save(ctx context.Context, g domain.GlobalRating) (bool, error)
}

// Ratings is a read-through cache over a RatingStore. A nil Redis client
// turns it into a plain pass-through, and Redis failures only cost a lookup.
type Ratings struct {
	rdb    goredis.Cmdable
	store  RatingStore
	ttl    time.Duration
	logger *slog.Logger
}

// NewRatings wraps store with rdb. ttl <= 0 selects the default.
func NewRatings(rdb goredis.Cmdable, store RatingStore, ttl time.Duration, logger *slog.Logger) *Ratings {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ratings{rdb: rdb, store: store, ttl: ttl, logger: logger}
}

// Load returns the aggregate for catalogID, consulting Redis first.
func (r *Ratings) Load(ctx context.Context, catalogID string) (domain.GlobalRating, error) {
	if g, ok := r.getCached(ctx, catalogID); ok {
		return g, nil
	}

	g, err := r.store.Load(ctx, catalogID)
	if err != nil {
		return domain.GlobalRating{}, err
	}
	r.writeCache(ctx, g)
	return g, nil
}

// Save persists g and refreshes the cached copy when the write was applied.
// A stale snapshot drops the cached entry so the next read goes to Postgres.
func (r *Ratings) Save(ctx context.Context, g domain.GlobalRating) (bool, error) {
	applied, err := r.store.Save(ctx, g)
	if err != nil {
		return false, err
	}
	if applied {
		r.writeCache(ctx, g)
	} else {
		r.invalidate(ctx, g.CatalogID)
	}
	return applied, nil
}

func (r *Ratings) getCached(ctx context.Context, catalogID string) (domain.GlobalRating, bool) {
	if r.rdb == nil {
		return domain.GlobalRating{}, false
	}

	data, err := r.rdb.Get(ctx, ratingKey(catalogID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		} else {
			metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
			r.logger.Warn("rating cache GET failed", "catalog_id", catalogID, "error", err)
		}
		return domain.GlobalRating{}, false
	}

	var g domain.GlobalRating
	if err := json.Unmarshal(data, &g); err != nil {
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		r.logger.Warn("failed to decode cached rating", "catalog_id", catalogID, "error", err)
		return domain.GlobalRating{}, false
	}
	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	return g, true
}

func (r *Ratings) writeCache(ctx context.Context, g domain.GlobalRating) {
	if r.rdb == nil {
		return
	}
	encoded, err := json.Marshal(g)
	if err != nil {
		r.logger.Warn("failed to encode rating for cache", "catalog_id", g.CatalogID, "error", err)
		return
	}
	if err := r.rdb.Set(ctx, ratingKey(g.CatalogID), encoded, r.ttl).Err(); err != nil {
		r.logger.Warn("failed to populate rating cache", "catalog_id", g.CatalogID, "error", err)
	}
}

func (r *Ratings) invalidate(ctx context.Context, catalogID string) {
	if r.rdb == nil {
		return
	}
	if err := r.rdb.Del(ctx, ratingKey(catalogID)).Err(); err != nil {
		r.logger.Warn("failed to invalidate rating cache", "catalog_id", catalogID, "error", err)
	}
}

// NewClient parses a redis:// URL and verifies the connection.
func NewClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func ratingKey(catalogID string) string {
	return "global_rating:" + catalogID
}
