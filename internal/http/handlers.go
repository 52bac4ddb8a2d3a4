package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/tierlist/internal/app"
	"github.com/Clark-Hu/tierlist/internal/catalog"
	"github.com/Clark-Hu/tierlist/internal/domain"
	"github.com/Clark-Hu/tierlist/internal/ranking"
)

const (
	headerUserID   = "X-User-Id"
	headerUsername = "X-Username"
)

var errValidation = errors.New("validation")

type ratingRequest struct {
	CatalogID string `json:"catalogId"`
	MediaType string `json:"mediaType"`
	Title     string `json:"title"`
	Tier      string `json:"tier"`
}

type rerankRequest struct {
	Tier string `json:"tier"`
}

type answerRequest struct {
	Outcome string `json:"outcome"`
}

type titleResponse struct {
	ID               string   `json:"id"`
	CatalogID        string   `json:"catalogId,omitempty"`
	MediaType        string   `json:"mediaType"`
	Title            string   `json:"title"`
	Tier             string   `json:"tier"`
	Score            float64  `json:"score"`
	ExactScore       float64  `json:"exactScore"`
	OriginalScore    float64  `json:"originalScore"`
	ComparisonsCount int      `json:"comparisonsCount"`
	TiedWithPrevious bool     `json:"tiedWithPrevious,omitempty"`
	PosterRef        *string  `json:"posterRef,omitempty"`
	ReleaseInfo      *string  `json:"releaseInfo,omitempty"`
	RuntimeMinutes   *int     `json:"runtimeMinutes,omitempty"`
	ExternalRating   *float64 `json:"externalRating,omitempty"`
}

type comparisonResponse struct {
	Candidate titleResponse `json:"candidate"`
	Pivot     titleResponse `json:"pivot"`
	Step      int           `json:"step"`
	MaxSteps  int           `json:"maxSteps"`
}

type stepResponse struct {
	SessionID  string              `json:"sessionId"`
	State      string              `json:"state"`
	Comparison *comparisonResponse `json:"comparison,omitempty"`
	Title      *titleResponse      `json:"title,omitempty"`
}

type tierResponse struct {
	Tier   string          `json:"tier"`
	Titles []titleResponse `json:"titles"`
}

type listResponse struct {
	Tiers []tierResponse `json:"tiers"`
}

type communityResponse struct {
	CatalogID       string  `json:"catalogId"`
	Title           string  `json:"title,omitempty"`
	MediaType       string  `json:"mediaType,omitempty"`
	AverageRating   float64 `json:"averageRating"`
	NumberOfRatings int64   `json:"numberOfRatings"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	user, ok := s.identity(w, r)
	if !ok {
		return
	}

	tiers, err := s.svc.List(r.Context(), user.UserID)
	if err != nil {
		s.respondServiceError(w, r, err, "list titles")
		return
	}

	resp := listResponse{Tiers: make([]tierResponse, 0, len(tiers))}
	for _, tier := range tiers {
		titles := make([]titleResponse, 0, len(tier.Titles))
		for _, t := range tier.Titles {
			titles = append(titles, toTitleResponse(t))
		}
		resp.Tiers = append(resp.Tiers, tierResponse{Tier: string(tier.Tier), Titles: titles})
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStartRating(w http.ResponseWriter, r *http.Request) {
	user, ok := s.identity(w, r)
	if !ok {
		return
	}

	var req ratingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	candidate, tier, err := parseRatingRequest(req)
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return
	}

	candidate = s.enrichCandidate(r.Context(), candidate)
	if candidate.DisplayTitle == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required when the catalog does not know catalogId")
		return
	}

	step, err := s.svc.StartRating(r.Context(), user, candidate, tier)
	if err != nil {
		s.respondServiceError(w, r, err, "start rating")
		return
	}
	s.respondJSON(w, http.StatusCreated, toStepResponse(step))
}

func (s *Server) handleRerank(w http.ResponseWriter, r *http.Request) {
	user, ok := s.identity(w, r)
	if !ok {
		return
	}

	var req rerankRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	tier, err := domain.ParseTier(req.Tier)
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "tier must be one of liked, fine, disliked")
		return
	}

	step, err := s.svc.StartRerank(r.Context(), user, chi.URLParam(r, "titleID"), tier)
	if err != nil {
		s.respondServiceError(w, r, err, "start rerank")
		return
	}
	s.respondJSON(w, http.StatusCreated, toStepResponse(step))
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	user, ok := s.identity(w, r)
	if !ok {
		return
	}

	var req answerRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	outcome, err := parseOutcome(req.Outcome)
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return
	}

	step, err := s.svc.Answer(r.Context(), user.UserID, chi.URLParam(r, "sessionID"), outcome)
	if err != nil {
		s.respondServiceError(w, r, err, "answer comparison")
		return
	}
	s.respondJSON(w, http.StatusOK, toStepResponse(step))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	user, ok := s.identity(w, r)
	if !ok {
		return
	}
	if err := s.svc.Cancel(r.Context(), user.UserID, chi.URLParam(r, "sessionID")); err != nil {
		s.respondServiceError(w, r, err, "cancel session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	user, ok := s.identity(w, r)
	if !ok {
		return
	}
	if err := s.svc.Remove(r.Context(), user.UserID, chi.URLParam(r, "titleID")); err != nil {
		s.respondServiceError(w, r, err, "remove title")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCommunity(w http.ResponseWriter, r *http.Request) {
	catalogID := strings.TrimSpace(chi.URLParam(r, "catalogID"))
	if catalogID == "" {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "missing catalogId parameter")
		return
	}

	g, err := s.svc.CommunityRating(r.Context(), catalogID)
	if err != nil {
		s.respondServiceError(w, r, err, "fetch community rating")
		return
	}
	s.respondJSON(w, http.StatusOK, communityResponse{
		CatalogID:       g.CatalogID,
		Title:           g.Title,
		MediaType:       string(g.MediaType),
		AverageRating:   roundToOneDecimal(g.AverageRating),
		NumberOfRatings: g.NumberOfRatings,
	})
}

// identity reads the already-authenticated caller from the request headers.
func (s *Server) identity(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	userID := strings.TrimSpace(r.Header.Get(headerUserID))
	if userID == "" {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
		return domain.Identity{}, false
	}
	return domain.Identity{
		UserID:   userID,
		Username: strings.TrimSpace(r.Header.Get(headerUsername)),
	}, true
}

// enrichCandidate fills metadata from the catalog. Lookup failures never block
// a rating.
func (s *Server) enrichCandidate(ctx context.Context, candidate domain.Title) domain.Title {
	if s.catalog == nil || candidate.CatalogID == "" {
		return candidate
	}
	timeout := s.cfg.CatalogTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	md, err := s.catalog.FetchTitle(ctx, candidate.CatalogID, candidate.MediaType)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			s.logger.Warn("catalog lookup failed",
				"catalog_id", candidate.CatalogID,
				"media_type", string(candidate.MediaType),
				"error", err)
		}
		return candidate
	}
	candidate.Metadata = md
	if candidate.DisplayTitle == "" {
		candidate.DisplayTitle = md.DisplayTitle
	}
	return candidate
}

func parseRatingRequest(req ratingRequest) (domain.Title, domain.Tier, error) {
	tier, err := domain.ParseTier(req.Tier)
	if err != nil {
		return domain.Title{}, "", fmt.Errorf("%w: tier must be one of liked, fine, disliked", errValidation)
	}

	mediaType := domain.MediaType(strings.ToLower(strings.TrimSpace(req.MediaType)))
	switch mediaType {
	case "":
		mediaType = domain.MediaMovie
	case domain.MediaMovie, domain.MediaTV:
	default:
		return domain.Title{}, "", fmt.Errorf("%w: mediaType must be movie or tv", errValidation)
	}

	candidate := domain.Title{
		CatalogID:    strings.TrimSpace(req.CatalogID),
		MediaType:    mediaType,
		DisplayTitle: strings.TrimSpace(req.Title),
	}
	if candidate.CatalogID == "" && candidate.DisplayTitle == "" {
		return domain.Title{}, "", fmt.Errorf("%w: catalogId or title is required", errValidation)
	}
	return candidate, tier, nil
}

func parseOutcome(raw string) (domain.Outcome, error) {
	outcome := domain.Outcome(strings.TrimSpace(raw))
	if !outcome.Valid() {
		return "", fmt.Errorf("%w: outcome must be one of preferCandidate, preferPivot, equivalent", errValidation)
	}
	return outcome, nil
}

func toTitleResponse(t domain.Title) titleResponse {
	resp := titleResponse{
		ID:               t.ID,
		CatalogID:        t.CatalogID,
		MediaType:        string(t.MediaType),
		Title:            t.DisplayTitle,
		Tier:             string(t.Tier),
		Score:            ranking.DisplayScore(t.Score),
		ExactScore:       t.Score,
		OriginalScore:    t.OriginalScore,
		ComparisonsCount: t.ComparisonsCount,
		TiedWithPrevious: t.TiedWithPrevious,
	}
	if md := t.Metadata; md != nil {
		resp.PosterRef = md.PosterRef
		resp.ReleaseInfo = md.ReleaseInfo
		resp.RuntimeMinutes = md.RuntimeMinutes
		resp.ExternalRating = md.ExternalRating
	}
	return resp
}

func toStepResponse(step app.Step) stepResponse {
	resp := stepResponse{SessionID: step.SessionID, State: step.State.String()}
	if step.Prompt != nil {
		resp.Comparison = &comparisonResponse{
			Candidate: toTitleResponse(step.Prompt.Candidate),
			Pivot:     toTitleResponse(step.Prompt.Pivot),
			Step:      step.Prompt.Step,
			MaxSteps:  step.Prompt.MaxSteps,
		}
	}
	if step.Title != nil {
		title := toTitleResponse(*step.Title)
		resp.Title = &title
	}
	return resp
}
