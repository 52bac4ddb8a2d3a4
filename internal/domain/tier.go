package domain

import (
	"fmt"
	"strings"
)

// Tier is one of the three sentiment bands partitioning the score axis.
type Tier string

const (
	TierLiked    Tier = "liked"
	TierFine     Tier = "fine"
	TierDisliked Tier = "disliked"
)

// Score axis boundaries. Liked is (6.9,10], Fine is [4.0,6.9], Disliked is [0,4.0).
const (
	MinScore     = 0.0
	MaxScore     = 10.0
	LikedFloor   = 6.9
	DislikedCeil = 4.0
	// ScoreEpsilon is the stored score resolution.
	ScoreEpsilon = 0.01
)

// Tiers lists every tier from best to worst.
var Tiers = []Tier{TierLiked, TierFine, TierDisliked}

// Range is a tier's sub-range of the score axis. An open end excludes its bound.
type Range struct {
	Floor       float64
	Ceiling     float64
	FloorOpen   bool
	CeilingOpen bool
}

var tierRanges = map[Tier]Range{
	TierLiked:    {Floor: LikedFloor, Ceiling: MaxScore, FloorOpen: true},
	TierFine:     {Floor: DislikedCeil, Ceiling: LikedFloor},
	TierDisliked: {Floor: MinScore, Ceiling: DislikedCeil, CeilingOpen: true},
}

// ParseTier normalizes user input into a Tier.
func ParseTier(raw string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown tier %q", ErrInvalidTier, raw)
	}
	return t, nil
}

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool {
	_, ok := tierRanges[t]
	return ok
}

// Range returns the tier's score range. Unknown tiers return the zero Range.
func (t Tier) Range() Range {
	return tierRanges[t]
}

// Rank orders tiers: 0 is best.
func (t Tier) Rank() int {
	for i, candidate := range Tiers {
		if candidate == t {
			return i
		}
	}
	return len(Tiers)
}

// Midpoint is the score a lone member of the tier receives.
func (r Range) Midpoint() float64 {
	return (r.Floor + r.Ceiling) / 2
}

// EffectiveFloor is the lowest score a member may actually hold.
func (r Range) EffectiveFloor() float64 {
	if r.FloorOpen {
		return r.Floor + ScoreEpsilon
	}
	return r.Floor
}

// EffectiveCeiling is the highest score a member may actually hold.
func (r Range) EffectiveCeiling() float64 {
	if r.CeilingOpen {
		return r.Ceiling - ScoreEpsilon
	}
	return r.Ceiling
}

// Contains reports whether score lies inside the range, honouring open ends.
func (r Range) Contains(score float64) bool {
	if r.FloorOpen && score <= r.Floor || score < r.Floor {
		return false
	}
	if r.CeilingOpen && score >= r.Ceiling || score > r.Ceiling {
		return false
	}
	return true
}
