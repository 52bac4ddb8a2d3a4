package app

import (
	"context"
	"errors"

	"github.com/Clark-Hu/tierlist/internal/domain"
	"github.com/Clark-Hu/tierlist/internal/persist"
	"github.com/Clark-Hu/tierlist/internal/ranking"
)

// apply reports a committed list mutation to the aggregator and queues the
// affected tiers for storage. Neither step can undo the mutation; failures
// are logged and counted where they happen.
func (s *Service) apply(ctx context.Context, list *ranking.RankedList, m ranking.Mutation) {
	for _, change := range m.Changes {
		s.aggregate(ctx, change)
	}

	userID := list.UserID()
	for _, change := range m.Changes {
		if change.Kind != ranking.Removed {
			continue
		}
		id := change.Title.ID
		s.enqueue(ctx, persist.Job{
			Key:  userKey(userID),
			Kind: persist.KindDeleteTitle,
			Run: func(ctx context.Context) error {
				err := s.titles.Delete(ctx, id)
				if errors.Is(err, domain.ErrNotFound) {
					return nil
				}
				return err
			},
		})
	}
	for _, tier := range m.Tiers {
		tier := tier
		members := list.TierMembers(tier)
		if len(members) == 1 && added(m, members[0].ID) {
			// First title in a previously empty tier: nothing else to reorder.
			title := members[0]
			s.enqueue(ctx, persist.Job{
				Key:  userKey(userID),
				Kind: persist.KindSaveTitle,
				Run: func(ctx context.Context) error {
					return s.titles.Save(ctx, title, 0)
				},
			})
			continue
		}
		s.enqueue(ctx, persist.Job{
			Key:  userKey(userID),
			Kind: persist.KindSaveTier,
			Run: func(ctx context.Context) error {
				return s.titles.SaveTier(ctx, userID, tier, members)
			},
		})
	}
}

func (s *Service) aggregate(ctx context.Context, change ranking.ScoreChange) {
	t := change.Title
	if !t.Aggregatable() {
		return
	}
	if err := s.agg.Ensure(ctx, t.CatalogID, s.loadRating); err != nil {
		s.logger.Warn("skipping aggregation, hydrate failed",
			"catalog_id", t.CatalogID, "change", change.Kind.String(), "error", err)
		return
	}

	var err error
	switch change.Kind {
	case ranking.Added:
		s.agg.Annotate(t.CatalogID, t.DisplayTitle, t.MediaType)
		_, err = s.agg.Contribute(t.CatalogID, t.Score)
	case ranking.Updated:
		_, err = s.agg.Revise(t.CatalogID, change.OldScore, t.Score)
	case ranking.Removed:
		_, err = s.agg.Retract(t.CatalogID, change.OldScore)
	}
	if err != nil {
		s.logger.Warn("aggregate update rejected",
			"catalog_id", t.CatalogID, "change", change.Kind.String(), "error", err)
	}
}

// persistRating runs under the aggregator's per-key lock, so snapshots for one
// catalog id are queued in version order.
func (s *Service) persistRating(g domain.GlobalRating) {
	s.enqueue(context.Background(), persist.Job{
		Key:  ratingKey(g.CatalogID),
		Kind: persist.KindSaveRating,
		Run: func(ctx context.Context) error {
			applied, err := s.ratings.Save(ctx, g)
			if err != nil {
				return err
			}
			if !applied {
				s.logger.Debug("stale rating snapshot ignored", "catalog_id", g.CatalogID, "version", g.Version)
			}
			return nil
		},
	})
}

func (s *Service) enqueue(ctx context.Context, job persist.Job) {
	// Queued writes outlive the request that produced them.
	if err := s.sink.Enqueue(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Error("failed to queue write", "kind", job.Kind, "key", job.Key, "error", err)
	}
}

func added(m ranking.Mutation, id string) bool {
	for _, change := range m.Changes {
		if change.Kind == ranking.Added && change.Title.ID == id {
			return true
		}
	}
	return false
}

func userKey(userID string) string { return "user:" + userID }

func ratingKey(catalogID string) string { return "rating:" + catalogID }
