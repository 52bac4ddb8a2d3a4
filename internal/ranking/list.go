package ranking

import (
	"fmt"

	"github.com/Clark-Hu/tierlist/internal/domain"
)

// Placement is where a candidate lands inside a tier.
type Placement struct {
	Index int
	// Tied places the candidate directly after the member at Index-1 sharing its score.
	Tied bool
}

// ResolveFunc picks a placement given the tier's current members, best first.
type ResolveFunc func(members []domain.Title) (Placement, error)

// At returns a ResolveFunc that always answers p.
func At(p Placement) ResolveFunc {
	return func([]domain.Title) (Placement, error) { return p, nil }
}

// ChangeKind describes what happened to a title's personal score.
type ChangeKind int

const (
	Added ChangeKind = iota
	Updated
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// ScoreChange reports one title whose personal score moved.
type ScoreChange struct {
	Kind     ChangeKind
	Title    domain.Title
	OldScore float64
}

// Mutation summarizes one structural change to a RankedList.
type Mutation struct {
	// Tiers lists affected tiers; the tier that received a title comes first.
	Tiers   []domain.Tier
	Changes []ScoreChange
}

// RankedList is one user's titles grouped by tier, each tier ordered best first.
type RankedList struct {
	userID   string
	tiers    map[domain.Tier][]domain.Title
	where    map[string]domain.Tier
	versions map[domain.Tier]uint64
}

// NewRankedList returns an empty list for userID.
func NewRankedList(userID string) *RankedList {
	return &RankedList{
		userID:   userID,
		tiers:    make(map[domain.Tier][]domain.Title, len(domain.Tiers)),
		where:    make(map[string]domain.Tier),
		versions: make(map[domain.Tier]uint64, len(domain.Tiers)),
	}
}

// Restore rebuilds a list from stored titles already ordered by tier then position.
// Scores are recomputed from order.
func Restore(userID string, titles []domain.Title) (*RankedList, error) {
	l := NewRankedList(userID)
	for _, t := range titles {
		if !t.Tier.Valid() {
			return nil, fmt.Errorf("%w: stored title %s has tier %q", domain.ErrInvalidTier, t.ID, t.Tier)
		}
		if _, dup := l.where[t.ID]; dup {
			return nil, fmt.Errorf("%w: stored title %s appears twice", domain.ErrAlreadyRanked, t.ID)
		}
		if len(l.tiers[t.Tier]) == 0 {
			t.TiedWithPrevious = false
		}
		l.tiers[t.Tier] = append(l.tiers[t.Tier], t)
		l.where[t.ID] = t.Tier
	}
	for _, tier := range domain.Tiers {
		AssignScores(l.tiers[tier], tier.Range())
	}
	return l, nil
}

// UserID returns the owner of the list.
func (l *RankedList) UserID() string { return l.userID }

// TierMembers returns a copy of the tier's members, best first.
func (l *RankedList) TierMembers(tier domain.Tier) []domain.Title {
	members := l.tiers[tier]
	out := make([]domain.Title, len(members))
	copy(out, members)
	return out
}

// Len returns the number of titles in tier.
func (l *RankedList) Len(tier domain.Tier) int { return len(l.tiers[tier]) }

// Size returns the number of titles across all tiers.
func (l *RankedList) Size() int { return len(l.where) }

// Version changes whenever tier is structurally mutated.
func (l *RankedList) Version(tier domain.Tier) uint64 { return l.versions[tier] }

// Get looks a title up by id.
func (l *RankedList) Get(id string) (domain.Title, bool) {
	tier, ok := l.where[id]
	if !ok {
		return domain.Title{}, false
	}
	idx := l.indexOf(tier, id)
	return l.tiers[tier][idx], true
}

// FindByCatalogID returns the title referencing catalogID, if any.
func (l *RankedList) FindByCatalogID(catalogID string) (domain.Title, bool) {
	if catalogID == "" {
		return domain.Title{}, false
	}
	for _, tier := range domain.Tiers {
		for _, t := range l.tiers[tier] {
			if t.CatalogID == catalogID {
				return t, true
			}
		}
	}
	return domain.Title{}, false
}

// Insert places candidate into tier at the position chosen by resolve, then
// recomputes the tier's scores. The candidate's OriginalScore is fixed to the
// score it receives here.
func (l *RankedList) Insert(candidate domain.Title, tier domain.Tier, resolve ResolveFunc) (Mutation, error) {
	if !tier.Valid() || candidate.Tier != tier {
		return Mutation{}, fmt.Errorf("%w: candidate declares %q, target is %q", domain.ErrInvalidTier, candidate.Tier, tier)
	}
	if _, exists := l.where[candidate.ID]; exists {
		return Mutation{}, fmt.Errorf("%w: title %s", domain.ErrAlreadyRanked, candidate.ID)
	}

	p, err := l.resolve(tier, resolve)
	if err != nil {
		return Mutation{}, err
	}

	before := l.snapshot(tier)
	l.splice(tier, candidate, p)
	AssignScores(l.tiers[tier], tier.Range())

	idx := l.indexOf(tier, candidate.ID)
	l.tiers[tier][idx].OriginalScore = l.tiers[tier][idx].Score
	l.versions[tier]++

	if err := CheckTier(l.tiers[tier], tier); err != nil {
		return Mutation{}, err
	}

	m := Mutation{Tiers: []domain.Tier{tier}}
	m.Changes = append(m.Changes, ScoreChange{Kind: Added, Title: l.tiers[tier][idx]})
	m.Changes = append(m.Changes, l.diff(tier, before, candidate.ID)...)
	return m, nil
}

// Remove deletes a title from whichever tier holds it and recomputes that tier.
func (l *RankedList) Remove(id string) (Mutation, error) {
	tier, ok := l.where[id]
	if !ok {
		return Mutation{}, fmt.Errorf("%w: title %s", domain.ErrNotFound, id)
	}

	before := l.snapshot(tier)
	removed := l.cut(tier, id)
	AssignScores(l.tiers[tier], tier.Range())
	l.versions[tier]++

	if err := CheckTier(l.tiers[tier], tier); err != nil {
		return Mutation{}, err
	}

	m := Mutation{Tiers: []domain.Tier{tier}}
	m.Changes = append(m.Changes, ScoreChange{Kind: Removed, Title: removed, OldScore: removed.Score})
	m.Changes = append(m.Changes, l.diff(tier, before, id)...)
	return m, nil
}

// Reposition moves an existing title to the placement chosen by resolve inside
// tier, which may differ from its current tier. resolve sees the target tier
// without the title itself. OriginalScore is left untouched.
func (l *RankedList) Reposition(title domain.Title, tier domain.Tier, resolve ResolveFunc) (Mutation, error) {
	from, ok := l.where[title.ID]
	if !ok {
		return Mutation{}, fmt.Errorf("%w: title %s", domain.ErrNotFound, title.ID)
	}
	if !tier.Valid() || title.Tier != tier {
		return Mutation{}, fmt.Errorf("%w: title declares %q, target is %q", domain.ErrInvalidTier, title.Tier, tier)
	}

	members := l.TierMembers(tier)
	if from == tier {
		members = withoutID(members, title.ID)
	}
	p, err := resolve(members)
	if err != nil {
		return Mutation{}, err
	}
	if err := validPlacement(p, len(members)); err != nil {
		return Mutation{}, err
	}

	beforeFrom := l.snapshot(from)
	beforeTo := l.snapshot(tier)

	old := l.cut(from, title.ID)
	title.OriginalScore = old.OriginalScore
	l.splice(tier, title, p)

	AssignScores(l.tiers[tier], tier.Range())
	l.versions[tier]++
	if from != tier {
		AssignScores(l.tiers[from], from.Range())
		l.versions[from]++
	}

	for _, t := range []domain.Tier{tier, from} {
		if err := CheckTier(l.tiers[t], t); err != nil {
			return Mutation{}, err
		}
	}

	moved, _ := l.Get(title.ID)
	m := Mutation{Tiers: []domain.Tier{tier}}
	if moved.Score != old.Score {
		m.Changes = append(m.Changes, ScoreChange{Kind: Updated, Title: moved, OldScore: old.Score})
	}
	m.Changes = append(m.Changes, l.diff(tier, beforeTo, title.ID)...)
	if from != tier {
		m.Tiers = append(m.Tiers, from)
		m.Changes = append(m.Changes, l.diff(from, beforeFrom, title.ID)...)
	}
	return m, nil
}

func (l *RankedList) resolve(tier domain.Tier, resolve ResolveFunc) (Placement, error) {
	members := l.TierMembers(tier)
	p, err := resolve(members)
	if err != nil {
		return Placement{}, err
	}
	if err := validPlacement(p, len(members)); err != nil {
		return Placement{}, err
	}
	return p, nil
}

func validPlacement(p Placement, n int) error {
	if p.Index < 0 || p.Index > n {
		return fmt.Errorf("placement index %d outside [0,%d]", p.Index, n)
	}
	if p.Tied && p.Index == 0 {
		return fmt.Errorf("tied placement needs a member above index 0")
	}
	return nil
}

// splice inserts t at p.Index, maintaining tie flags around it.
func (l *RankedList) splice(tier domain.Tier, t domain.Title, p Placement) {
	members := l.tiers[tier]
	t.Tier = tier
	t.TiedWithPrevious = p.Tied

	members = append(members, domain.Title{})
	copy(members[p.Index+1:], members[p.Index:])
	members[p.Index] = t
	if !p.Tied && p.Index+1 < len(members) {
		// A strictly placed title splits any tie group it lands inside.
		members[p.Index+1].TiedWithPrevious = false
	}
	l.tiers[tier] = members
	l.where[t.ID] = tier
}

// cut removes id from tier and returns the removed title.
func (l *RankedList) cut(tier domain.Tier, id string) domain.Title {
	members := l.tiers[tier]
	idx := l.indexOf(tier, id)
	removed := members[idx]
	if idx+1 < len(members) {
		members[idx+1].TiedWithPrevious = members[idx+1].TiedWithPrevious && removed.TiedWithPrevious
	}
	l.tiers[tier] = append(members[:idx], members[idx+1:]...)
	delete(l.where, id)
	return removed
}

func (l *RankedList) indexOf(tier domain.Tier, id string) int {
	for i, t := range l.tiers[tier] {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (l *RankedList) snapshot(tier domain.Tier) map[string]float64 {
	scores := make(map[string]float64, len(l.tiers[tier]))
	for _, t := range l.tiers[tier] {
		scores[t.ID] = t.Score
	}
	return scores
}

// diff reports members of tier (other than skip) whose score moved since before.
func (l *RankedList) diff(tier domain.Tier, before map[string]float64, skip string) []ScoreChange {
	var changes []ScoreChange
	for _, t := range l.tiers[tier] {
		if t.ID == skip {
			continue
		}
		old, ok := before[t.ID]
		if !ok || old == t.Score {
			continue
		}
		changes = append(changes, ScoreChange{Kind: Updated, Title: t, OldScore: old})
	}
	return changes
}

func withoutID(members []domain.Title, id string) []domain.Title {
	out := members[:0]
	for _, m := range members {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}
