package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/tierlist/internal/app"
	"github.com/Clark-Hu/tierlist/internal/catalog"
	"github.com/Clark-Hu/tierlist/internal/config"
	"github.com/Clark-Hu/tierlist/internal/domain"
	"github.com/Clark-Hu/tierlist/internal/persist"
)

// memTitles keeps ranked titles in memory for handler tests.
type memTitles struct {
	mu   sync.Mutex
	rows map[string]domain.Title
	pos  map[string]int
}

func (m *memTitles) LoadRankedList(_ context.Context, userID string) ([]domain.Title, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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
	delete(m.rows, id)
	delete(m.pos, id)
	return nil
}

func (m *memTitles) Save(_ context.Context, t domain.Title, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[t.ID] = t
	m.pos[t.ID] = position
	return nil
}

func (m *memTitles) SaveTier(_ context.Context, userID string, tier domain.Tier, members []domain.Title) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.rows {
		if t.UserID == userID && t.Tier == tier {
			delete(m.rows, id)
		}
	}
	for i, t := range members {
		m.rows[t.ID] = t
		m.pos[t.ID] = i
	}
	return nil
}

type memRatings struct {
	mu   sync.Mutex
	rows map[string]domain.GlobalRating
}

func (m *memRatings) Load(_ context.Context, catalogID string) (domain.GlobalRating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.rows[catalogID]
	if !ok {
		return domain.GlobalRating{}, domain.ErrNotFound
	}
	return g, nil
}

func (m *memRatings) Save(_ context.Context, g domain.GlobalRating) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[g.CatalogID] = g
	return true, nil
}

type inlineSink struct{}

func (inlineSink) Enqueue(ctx context.Context, job persist.Job) error { return job.Run(ctx) }

// fakeCatalog serves metadata from a map.
type fakeCatalog struct {
	titles map[string]domain.Metadata
	err    error
}

func (f fakeCatalog) FetchTitle(_ context.Context, catalogID string, _ domain.MediaType) (*domain.Metadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	md, ok := f.titles[catalogID]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &md, nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Port = "0"
	cfg.CatalogTimeout = time.Second
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildTestServer(tb testing.TB, cat catalog.Client) *Server {
	tb.Helper()
	svc := app.New(
		&memTitles{rows: make(map[string]domain.Title), pos: make(map[string]int)},
		&memRatings{rows: make(map[string]domain.GlobalRating)},
		inlineSink{},
		app.WithLogger(quietLogger()),
	)
	return New(testConfig(), fakeHealth{}, svc, cat, quietLogger())
}

func doRequest(tb testing.TB, h http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	tb.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(v)
	default:
		payload, err := json.Marshal(v)
		require.NoError(tb, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set(headerUserID, userID)
		req.Header.Set(headerUsername, "name-"+userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](tb testing.TB, rec *httptest.ResponseRecorder) T {
	tb.Helper()
	var out T
	require.NoError(tb, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

var errUpstream = errors.New("catalog unavailable")
