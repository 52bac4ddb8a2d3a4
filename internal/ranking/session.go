package ranking

import (
	"fmt"
	"math/bits"

	"github.com/Clark-Hu/tierlist/internal/domain"
)

// State is the lifecycle position of a single rating operation.
type State int

const (
	InitialSentiment State = iota
	Comparing
	FinalInsertion
	ScoreUpdate
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case InitialSentiment:
		return "initialSentiment"
	case Comparing:
		return "comparing"
	case FinalInsertion:
		return "finalInsertion"
	case ScoreUpdate:
		return "scoreUpdate"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == ScoreUpdate || s == Cancelled || s == Failed
}

// MaxComparisons is the most prompts binary insertion issues for a tier of n
// members: ceil(log2(n+1)).
func MaxComparisons(n int) int {
	if n <= 0 {
		return 0
	}
	return bits.Len(uint(n))
}

// Prompt asks the caller to compare the candidate against a pivot.
type Prompt struct {
	Candidate  domain.Title
	Pivot      domain.Title
	PivotIndex int
	Step       int
	MaxSteps   int
}

// Session drives binary insertion of one candidate into one tier of a list.
// Nothing touches the list until Commit, so a session can be abandoned at any
// point before that without side effects.
type Session struct {
	list      *RankedList
	candidate domain.Title
	rerank    bool

	state   State
	tier    domain.Tier
	members []domain.Title
	version uint64

	low, high, mid int
	asked          int
	placement      Placement

	result   domain.Title
	mutation Mutation
	err      error
}

// NewSession starts rating a title that is not yet in list.
func NewSession(list *RankedList, candidate domain.Title) *Session {
	candidate.ComparisonsCount = 0
	return &Session{list: list, candidate: candidate, state: InitialSentiment}
}

// NewRerankSession starts re-comparing a title already in list.
func NewRerankSession(list *RankedList, titleID string) (*Session, error) {
	existing, ok := list.Get(titleID)
	if !ok {
		return nil, fmt.Errorf("%w: title %s", domain.ErrNotFound, titleID)
	}
	return &Session{list: list, candidate: existing, rerank: true, state: InitialSentiment}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Tier returns the chosen tier, empty before Begin.
func (s *Session) Tier() domain.Tier { return s.tier }

// Candidate returns the candidate as currently known to the session.
func (s *Session) Candidate() domain.Title { return s.candidate }

// Rerank reports whether the session repositions an existing title.
func (s *Session) Rerank() bool { return s.rerank }

// Comparisons returns how many prompts have been answered.
func (s *Session) Comparisons() int { return s.asked }

// Result returns the placed title once the session reached ScoreUpdate.
func (s *Session) Result() (domain.Title, bool) {
	return s.result, s.state == ScoreUpdate
}

// Mutation returns the list change applied by Commit.
func (s *Session) Mutation() Mutation { return s.mutation }

// Err returns the failure that moved the session to Failed.
func (s *Session) Err() error { return s.err }

// Begin records the chosen tier and moves to Comparing, or straight to
// FinalInsertion when there is nothing to compare against.
func (s *Session) Begin(tier domain.Tier) error {
	if s.state != InitialSentiment {
		return fmt.Errorf("%w: begin in state %s", domain.ErrSessionClosed, s.state)
	}
	if !tier.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidTier, tier)
	}

	s.tier = tier
	s.candidate.Tier = tier
	s.members = s.list.TierMembers(tier)
	if s.rerank {
		s.members = withoutID(s.members, s.candidate.ID)
	}
	s.version = s.list.Version(tier)
	s.low, s.high = 0, len(s.members)

	if len(s.members) == 0 {
		s.placement = Placement{Index: 0}
		s.state = FinalInsertion
		return nil
	}
	s.state = Comparing
	s.mid = (s.low + s.high) / 2
	return nil
}

// Prompt returns the pending comparison while the session is Comparing.
func (s *Session) Prompt() (Prompt, bool) {
	if s.state != Comparing {
		return Prompt{}, false
	}
	return Prompt{
		Candidate:  s.candidate,
		Pivot:      s.members[s.mid],
		PivotIndex: s.mid,
		Step:       s.asked + 1,
		MaxSteps:   MaxComparisons(len(s.members)),
	}, true
}

// Answer consumes the caller's outcome for the pending prompt.
func (s *Session) Answer(outcome domain.Outcome) error {
	if s.state != Comparing {
		return fmt.Errorf("%w: answer in state %s", domain.ErrSessionClosed, s.state)
	}
	if !outcome.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidOutcome, outcome)
	}
	if err := s.checkFresh(); err != nil {
		return err
	}

	s.asked++
	s.candidate.ComparisonsCount++

	switch outcome {
	case domain.PreferCandidate:
		s.high = s.mid
	case domain.PreferPivot:
		s.low = s.mid + 1
	case domain.Equivalent:
		s.placement = Placement{Index: s.mid + 1, Tied: true}
		s.state = FinalInsertion
		return nil
	}

	if s.low >= s.high {
		s.placement = Placement{Index: s.low}
		s.state = FinalInsertion
		return nil
	}
	s.mid = (s.low + s.high) / 2
	return nil
}

// Commit hands the resolved placement to the list and moves to ScoreUpdate.
func (s *Session) Commit() (Mutation, error) {
	if s.state != FinalInsertion {
		return Mutation{}, fmt.Errorf("%w: commit in state %s", domain.ErrSessionClosed, s.state)
	}

	resolve := func(members []domain.Title) (Placement, error) {
		if err := s.checkFresh(); err != nil {
			return Placement{}, err
		}
		return s.placement, nil
	}

	var (
		m   Mutation
		err error
	)
	if s.rerank {
		m, err = s.list.Reposition(s.candidate, s.tier, resolve)
	} else {
		m, err = s.list.Insert(s.candidate, s.tier, resolve)
	}
	if err != nil {
		s.fail(err)
		return Mutation{}, err
	}

	s.mutation = m
	s.result, _ = s.list.Get(s.candidate.ID)
	s.state = ScoreUpdate
	return m, nil
}

// Cancel abandons the session. It is a no-op once terminal.
func (s *Session) Cancel() {
	if s.state.Terminal() {
		return
	}
	s.state = Cancelled
}

func (s *Session) checkFresh() error {
	if s.list.Version(s.tier) != s.version {
		err := fmt.Errorf("%w: tier %s changed during comparison", domain.ErrConcurrentModification, s.tier)
		s.fail(err)
		return err
	}
	return nil
}

func (s *Session) fail(err error) {
	s.err = err
	s.state = Failed
}
