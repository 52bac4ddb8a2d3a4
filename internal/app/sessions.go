package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Clark-Hu/tierlist/internal/domain"
	"github.com/Clark-Hu/tierlist/internal/metrics"
	"github.com/Clark-Hu/tierlist/internal/ranking"
)

// Step is what a rating operation returns: either the next comparison to
// answer or, once the session finished, the placed title.
type Step struct {
	SessionID string
	State     ranking.State
	Prompt    *ranking.Prompt
	Title     *domain.Title
}

// Done reports whether the session reached its final state.
func (s Step) Done() bool { return s.Title != nil }

type openSession struct {
	id       string
	userID   string
	session  *ranking.Session
	lastSeen time.Time
}

// StartRating opens a session placing candidate into tier of the user's list.
// An empty tier places the title at once and the returned Step is Done.
func (s *Service) StartRating(ctx context.Context, user domain.Identity, candidate domain.Title, tier domain.Tier) (Step, error) {
	if !tier.Valid() {
		return Step{}, fmt.Errorf("%w: %q", domain.ErrInvalidTier, tier)
	}
	st, err := s.lockUser(ctx, user.UserID)
	if err != nil {
		return Step{}, err
	}
	defer st.mu.Unlock()

	if existing, ok := st.list.FindByCatalogID(candidate.CatalogID); ok {
		return Step{}, fmt.Errorf("%w: %s is already ranked as %s", domain.ErrAlreadyRanked, candidate.CatalogID, existing.ID)
	}

	candidate.ID = s.newID()
	candidate.UserID = user.UserID
	candidate.Username = user.Username
	candidate.Tier = tier
	if candidate.MediaType == "" {
		candidate.MediaType = domain.MediaMovie
	}
	if candidate.DisplayTitle == "" && candidate.Metadata != nil {
		candidate.DisplayTitle = candidate.Metadata.DisplayTitle
	}

	sess := ranking.NewSession(st.list, candidate)
	return s.begin(ctx, st, user.UserID, sess, tier)
}

// StartRerank opens a session re-comparing an existing title, possibly into a
// different tier.
func (s *Service) StartRerank(ctx context.Context, user domain.Identity, titleID string, tier domain.Tier) (Step, error) {
	if !tier.Valid() {
		return Step{}, fmt.Errorf("%w: %q", domain.ErrInvalidTier, tier)
	}
	st, err := s.lockUser(ctx, user.UserID)
	if err != nil {
		return Step{}, err
	}
	defer st.mu.Unlock()

	sess, err := ranking.NewRerankSession(st.list, titleID)
	if err != nil {
		return Step{}, err
	}
	return s.begin(ctx, st, user.UserID, sess, tier)
}

// Answer feeds the outcome of the pending comparison to the session.
func (s *Service) Answer(ctx context.Context, userID, sessionID string, outcome domain.Outcome) (Step, error) {
	open, err := s.session(userID, sessionID)
	if err != nil {
		return Step{}, err
	}
	st, err := s.lockUser(ctx, userID)
	if err != nil {
		return Step{}, err
	}
	defer st.mu.Unlock()

	sess := open.session
	if sess.State().Terminal() {
		return Step{}, fmt.Errorf("%w: session %s is %s", domain.ErrSessionClosed, sessionID, sess.State())
	}

	if err := sess.Answer(outcome); err != nil {
		if sess.State() == ranking.Failed {
			s.close(open, "failed")
		}
		return Step{}, err
	}
	metrics.ComparisonsTotal.Inc()
	s.touch(open)

	if sess.State() == ranking.FinalInsertion {
		return s.commit(ctx, st, open)
	}
	return s.step(open), nil
}

// Cancel abandons an open session. The list is left as it was.
func (s *Service) Cancel(ctx context.Context, userID, sessionID string) error {
	open, err := s.session(userID, sessionID)
	if err != nil {
		return err
	}
	st, err := s.lockUser(ctx, userID)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()

	if open.session.State().Terminal() {
		return fmt.Errorf("%w: session %s is %s", domain.ErrSessionClosed, sessionID, open.session.State())
	}
	open.session.Cancel()
	s.close(open, "cancelled")
	return nil
}

// RunJanitor cancels sessions idle for longer than the session TTL until ctx
// is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.sessionTTL / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.ExpireSessions(ctx); n > 0 {
				s.logger.Info("expired idle rating sessions", "count", n)
			}
		}
	}
}

// ExpireSessions cancels every session idle past the TTL and reports how many
// it closed.
func (s *Service) ExpireSessions(ctx context.Context) int {
	cutoff := s.now().Add(-s.sessionTTL)

	s.mu.Lock()
	var stale []*openSession
	for _, open := range s.sessions {
		if open.lastSeen.Before(cutoff) {
			stale = append(stale, open)
		}
	}
	s.mu.Unlock()

	expired := 0
	for _, open := range stale {
		st, err := s.lockUser(ctx, open.userID)
		if err != nil {
			s.logger.Warn("cannot expire session", "session_id", open.id, "error", err)
			continue
		}
		if !open.session.State().Terminal() && s.idle(open, cutoff) {
			open.session.Cancel()
			s.close(open, "expired")
			expired++
		}
		st.mu.Unlock()
	}
	return expired
}

// OpenSessions returns how many sessions await an answer.
func (s *Service) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) begin(ctx context.Context, st *userState, userID string, sess *ranking.Session, tier domain.Tier) (Step, error) {
	if err := sess.Begin(tier); err != nil {
		return Step{}, err
	}
	open := &openSession{id: s.newID(), userID: userID, session: sess, lastSeen: s.now()}
	s.mu.Lock()
	s.sessions[open.id] = open
	s.mu.Unlock()
	metrics.SessionsOpen.Inc()

	if sess.State() == ranking.FinalInsertion {
		return s.commit(ctx, st, open)
	}
	return s.step(open), nil
}

// commit runs with the user's lock held.
func (s *Service) commit(ctx context.Context, st *userState, open *openSession) (Step, error) {
	sess := open.session
	if candidate := sess.Candidate(); !sess.Rerank() {
		if existing, dup := st.list.FindByCatalogID(candidate.CatalogID); dup {
			sess.Cancel()
			s.close(open, "failed")
			return Step{}, fmt.Errorf("%w: %s is already ranked as %s", domain.ErrAlreadyRanked, candidate.CatalogID, existing.ID)
		}
	}

	m, err := sess.Commit()
	if err != nil {
		s.close(open, "failed")
		return Step{}, err
	}
	s.close(open, "completed")
	s.apply(ctx, st.list, m)

	title, _ := sess.Result()
	s.logger.Info("title placed",
		"user_id", open.userID,
		"title_id", title.ID,
		"tier", string(title.Tier),
		"score", title.Score,
		"comparisons", sess.Comparisons(),
		"rerank", sess.Rerank())
	return Step{SessionID: open.id, State: sess.State(), Title: &title}, nil
}

func (s *Service) step(open *openSession) Step {
	out := Step{SessionID: open.id, State: open.session.State()}
	if p, ok := open.session.Prompt(); ok {
		out.Prompt = &p
	}
	return out
}

func (s *Service) session(userID, sessionID string) (*openSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	open, ok := s.sessions[sessionID]
	if !ok || open.userID != userID {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	return open, nil
}

// close forgets a session that reached a terminal state.
func (s *Service) close(open *openSession, result string) {
	s.mu.Lock()
	_, ok := s.sessions[open.id]
	delete(s.sessions, open.id)
	s.mu.Unlock()
	if !ok {
		return
	}
	metrics.SessionsOpen.Dec()
	metrics.SessionsTotal.WithLabelValues(result).Inc()
}

// touch and idle guard lastSeen, which the janitor reads without the user lock.
func (s *Service) touch(open *openSession) {
	s.mu.Lock()
	open.lastSeen = s.now()
	s.mu.Unlock()
}

func (s *Service) idle(open *openSession, cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return open.lastSeen.Before(cutoff)
}
