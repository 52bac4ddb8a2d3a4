// Package catalog looks up title metadata from the remote catalog service.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/Clark-Hu/tierlist/internal/domain"
	"github.com/Clark-Hu/tierlist/internal/metrics"
)

// ErrNotFound is returned when the catalog does not know the requested title.
var ErrNotFound = errors.New("catalog: not found")

// Client fetches metadata for one catalog entry.
type Client interface {
	FetchTitle(ctx context.Context, catalogID string, mediaType domain.MediaType) (*domain.Metadata, error)
}

// Options tunes the HTTP client.
type Options struct {
	APIKey     string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	Logger     *slog.Logger
}

// HTTPClient implements Client over HTTP. Requests share one token bucket and
// concurrent lookups for the same title share one upstream call.
type HTTPClient struct {
	baseURL *url.URL
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	group   singleflight.Group
	logger  *slog.Logger
}

// NewHTTPClient constructs a catalog client rooted at baseURL.
func NewHTTPClient(baseURL string, opts Options) (*HTTPClient, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse catalog url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse catalog url: %q is not absolute", baseURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	return &HTTPClient{
		baseURL: parsed,
		apiKey:  opts.APIKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

// FetchTitle retrieves metadata for catalogID.
func (c *HTTPClient) FetchTitle(ctx context.Context, catalogID string, mediaType domain.MediaType) (*domain.Metadata, error) {
	if catalogID == "" {
		return nil, fmt.Errorf("catalog: empty id")
	}
	if mediaType == "" {
		mediaType = domain.MediaMovie
	}

	key := string(mediaType) + "/" + catalogID
	v, err, shared := c.group.Do(key, func() (any, error) {
		return c.fetch(ctx, catalogID, mediaType)
	})
	if shared {
		c.logger.Debug("catalog: coalesced lookup", slog.String("key", key))
	}
	if err != nil {
		return nil, err
	}
	md := *v.(*domain.Metadata)
	return &md, nil
}

func (c *HTTPClient) fetch(ctx context.Context, catalogID string, mediaType domain.MediaType) (*domain.Metadata, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("catalog: rate limit wait: %w", err)
	}

	endpoint := c.baseURL.JoinPath("titles", string(mediaType), catalogID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.CatalogRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var payload apiResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			metrics.CatalogRequestsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("decode catalog response: %w", err)
		}
		md, err := convertToMetadata(payload)
		if err != nil {
			metrics.CatalogRequestsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		metrics.CatalogRequestsTotal.WithLabelValues("ok").Inc()
		return md, nil
	case http.StatusNotFound:
		metrics.CatalogRequestsTotal.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	default:
		metrics.CatalogRequestsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("catalog: unexpected status",
			slog.Int("status", resp.StatusCode),
			slog.String("catalog_id", catalogID),
			slog.String("media_type", string(mediaType)))
		return nil, fmt.Errorf("catalog: upstream returned %d", resp.StatusCode)
	}
}

// apiResponse accepts both movie (title/releaseDate/runtime) and tv
// (name/firstAirDate/episodeRunTime) shaped payloads.
type apiResponse struct {
	Title          string   `json:"title"`
	Name           string   `json:"name"`
	PosterPath     *string  `json:"posterPath"`
	ReleaseDate    *string  `json:"releaseDate"`
	FirstAirDate   *string  `json:"firstAirDate"`
	Runtime        *int     `json:"runtime"`
	EpisodeRunTime []int    `json:"episodeRunTime"`
	VoteAverage    *float64 `json:"voteAverage"`
}

func convertToMetadata(payload apiResponse) (*domain.Metadata, error) {
	title := strings.TrimSpace(payload.Title)
	if title == "" {
		title = strings.TrimSpace(payload.Name)
	}
	if title == "" {
		return nil, fmt.Errorf("catalog: response has no title")
	}

	md := &domain.Metadata{DisplayTitle: title}
	if p := nonEmpty(payload.PosterPath); p != nil {
		md.PosterRef = p
	}
	if d := nonEmpty(payload.ReleaseDate); d != nil {
		md.ReleaseInfo = d
	} else if d := nonEmpty(payload.FirstAirDate); d != nil {
		md.ReleaseInfo = d
	}

	switch {
	case payload.Runtime != nil && *payload.Runtime > 0:
		runtime := *payload.Runtime
		md.RuntimeMinutes = &runtime
	case len(payload.EpisodeRunTime) > 0 && payload.EpisodeRunTime[0] > 0:
		runtime := payload.EpisodeRunTime[0]
		md.RuntimeMinutes = &runtime
	}

	if payload.VoteAverage != nil && *payload.VoteAverage > 0 && *payload.VoteAverage <= domain.MaxScore {
		rating := *payload.VoteAverage
		md.ExternalRating = &rating
	}
	return md, nil
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
