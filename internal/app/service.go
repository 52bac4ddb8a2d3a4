// Package app ties the ranking engine, the community aggregator and storage
// together. Operations on one user's list are serialized by a per-user lock;
// storage is written behind through a persist.Sink and never consulted for
// the correctness of a single mutation.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Clark-Hu/tierlist/internal/community"
	"github.com/Clark-Hu/tierlist/internal/domain"
	"github.com/Clark-Hu/tierlist/internal/persist"
	"github.com/Clark-Hu/tierlist/internal/ranking"
)

const defaultSessionTTL = 15 * time.Minute

// TitleStore is the durable home of ranked lists.
type TitleStore interface {
	LoadRankedList(ctx context.Context, userID string) ([]domain.Title, error)
	Save(ctx context.Context, t domain.Title, position int) error
	Delete(ctx context.Context, id string) error
	SaveTier(ctx context.Context, userID string, tier domain.Tier, members []domain.Title) error
}

// RatingStore is the durable home of community aggregates. Load reports a
// missing aggregate with an error matching domain.ErrNotFound.
type RatingStore interface {
	Load(ctx context.Context, catalogID string) (domain.GlobalRating, error)
	Save(ctx context.Context, g domain.GlobalRating) (bool, error)
}

// Enqueuer accepts write-behind jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job persist.Job) error
}

// TierList is one tier of a user's list, best first.
type TierList struct {
	Tier   domain.Tier
	Titles []domain.Title
}

type userState struct {
	mu   sync.Mutex
	list *ranking.RankedList
}

// Service is safe for concurrent use.
type Service struct {
	titles  TitleStore
	ratings RatingStore
	sink    Enqueuer
	agg     *community.Aggregator

	logger     *slog.Logger
	sessionTTL time.Duration
	now        func() time.Time
	newID      func() string

	users sync.Map // userID -> *userState

	mu       sync.Mutex
	sessions map[string]*openSession
}

// New builds a Service. The community aggregator is owned by the service and
// every committed aggregate change is queued for storage.
func New(titles TitleStore, ratings RatingStore, sink Enqueuer, opts ...Option) *Service {
	s := &Service{
		titles:     titles,
		ratings:    ratings,
		sink:       sink,
		logger:     slog.Default(),
		sessionTTL: defaultSessionTTL,
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
		sessions:   make(map[string]*openSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.agg = community.New(
		community.WithOnChange(s.persistRating),
		community.WithLogger(s.logger),
		community.WithClock(s.now),
	)
	return s
}

// List returns the user's tiers, best tier first.
func (s *Service) List(ctx context.Context, userID string) ([]TierList, error) {
	st, err := s.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer st.mu.Unlock()

	out := make([]TierList, 0, len(domain.Tiers))
	for _, tier := range domain.Tiers {
		out = append(out, TierList{Tier: tier, Titles: st.list.TierMembers(tier)})
	}
	return out, nil
}

// Remove deletes a title from the user's list and retracts its score.
func (s *Service) Remove(ctx context.Context, userID, titleID string) error {
	st, err := s.lockUser(ctx, userID)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()

	m, err := st.list.Remove(titleID)
	if err != nil {
		return err
	}
	s.apply(ctx, st.list, m)
	return nil
}

// CommunityRating returns the aggregate for catalogID. Ids this process has
// not aggregated are read from storage without being retained.
func (s *Service) CommunityRating(ctx context.Context, catalogID string) (domain.GlobalRating, error) {
	if catalogID == "" {
		return domain.GlobalRating{}, fmt.Errorf("%w: empty catalog id", domain.ErrNotFound)
	}
	g, ok, err := s.agg.Snapshot(ctx, catalogID, s.loadRating)
	if err != nil {
		return domain.GlobalRating{}, err
	}
	if !ok || g.Version == 0 {
		return domain.GlobalRating{}, fmt.Errorf("%w: community rating %s", domain.ErrNotFound, catalogID)
	}
	return g, nil
}

// lockUser returns the user's state with its lock held, restoring the list
// from storage on first use.
func (s *Service) lockUser(ctx context.Context, userID string) (*userState, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", domain.ErrNotFound)
	}
	v, _ := s.users.LoadOrStore(userID, &userState{})
	st := v.(*userState)
	st.mu.Lock()
	if st.list != nil {
		return st, nil
	}

	titles, err := s.titles.LoadRankedList(ctx, userID)
	if err != nil {
		st.mu.Unlock()
		return nil, fmt.Errorf("load ranked list for %s: %w", userID, err)
	}
	list, err := ranking.Restore(userID, titles)
	if err != nil {
		st.mu.Unlock()
		return nil, err
	}
	st.list = list
	s.logger.Debug("restored ranked list", "user_id", userID, "titles", list.Size())
	return st, nil
}

func (s *Service) loadRating(ctx context.Context, catalogID string) (domain.GlobalRating, bool, error) {
	g, err := s.ratings.Load(ctx, catalogID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.GlobalRating{}, false, nil
		}
		return domain.GlobalRating{}, false, err
	}
	return g, true, nil
}
