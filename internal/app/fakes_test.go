package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Clark-Hu/tierlist/internal/domain"
	"github.com/Clark-Hu/tierlist/internal/persist"
)

// memTitles mirrors the Postgres titles table closely enough for service tests.
type memTitles struct {
	mu      sync.Mutex
	rows    map[string]domain.Title
	pos     map[string]int
	loads   int
	loadErr error
}

func newMemTitles() *memTitles {
	return &memTitles{rows: make(map[string]domain.Title), pos: make(map[string]int)}
}

func (m *memTitles) seed(titles ...domain.Title) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make(map[domain.Tier]int)
	for _, t := range titles {
		m.rows[t.ID] = t
		m.pos[t.ID] = next[t.Tier]
		next[t.Tier]++
	}
}

func (m *memTitles) LoadRankedList(_ context.Context, userID string) ([]domain.Title, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	var out []domain.Title
	for _, t := range m.rows {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier.Rank() < out[j].Tier.Rank()
		}
		return m.pos[out[i].ID] < m.pos[out[j].ID]
	})
	return out, nil
}

func (m *memTitles) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return fmt.Errorf("title %s: %w", id, domain.ErrNotFound)
	}
	delete(m.rows, id)
	delete(m.pos, id)
	return nil
}

func (m *memTitles) SaveTier(_ context.Context, userID string, tier domain.Tier, members []domain.Title) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	keep := make(map[string]bool, len(members))
	for _, t := range members {
		keep[t.ID] = true
	}
	for id, t := range m.rows {
		if t.UserID == userID && t.Tier == tier && !keep[id] {
			delete(m.rows, id)
			delete(m.pos, id)
		}
	}
	for i, t := range members {
		if stored, ok := m.rows[t.ID]; ok {
			t.OriginalScore = stored.OriginalScore
		}
		m.rows[t.ID] = t
		m.pos[t.ID] = i
	}
	return nil
}

func (m *memTitles) Save(_ context.Context, t domain.Title, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.rows[t.ID]; ok {
		t.OriginalScore = stored.OriginalScore
	}
	m.rows[t.ID] = t
	m.pos[t.ID] = position
	return nil
}

func (m *memTitles) get(id string) (domain.Title, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	return t, m.pos[id], ok
}

func (m *memTitles) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// memRatings applies the same version guard as the global_ratings upsert.
type memRatings struct {
	mu   sync.Mutex
	rows map[string]domain.GlobalRating
}

func newMemRatings() *memRatings {
	return &memRatings{rows: make(map[string]domain.GlobalRating)}
}

func (m *memRatings) Load(_ context.Context, catalogID string) (domain.GlobalRating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.rows[catalogID]
	if !ok {
		return domain.GlobalRating{}, fmt.Errorf("global rating %s: %w", catalogID, domain.ErrNotFound)
	}
	return g, nil
}

func (m *memRatings) Save(_ context.Context, g domain.GlobalRating) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.rows[g.CatalogID]; ok && current.Version >= g.Version {
		return false, nil
	}
	m.rows[g.CatalogID] = g
	return true, nil
}

func (m *memRatings) get(catalogID string) (domain.GlobalRating, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.rows[catalogID]
	return g, ok
}

// inlineSink runs each job as soon as it is queued.
type inlineSink struct {
	mu    sync.Mutex
	kinds []string
}

func (s *inlineSink) Enqueue(ctx context.Context, job persist.Job) error {
	s.mu.Lock()
	s.kinds = append(s.kinds, job.Kind)
	s.mu.Unlock()
	return job.Run(ctx)
}

func (s *inlineSink) jobKinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.kinds...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *Service
	titles  *memTitles
	ratings *memRatings
	sink    *inlineSink
	clock   *fakeClock
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		titles:  newMemTitles(),
		ratings: newMemRatings(),
		sink:    &inlineSink{},
		clock:   &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	var seq atomic.Int64
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(f.clock.Now),
		WithSessionTTL(10 * time.Minute),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }),
	}
	f.svc = New(f.titles, f.ratings, f.sink, append(base, opts...)...)
	return f
}

func movie(catalogID, name string) domain.Title {
	return domain.Title{CatalogID: catalogID, DisplayTitle: name, MediaType: domain.MediaMovie}
}
