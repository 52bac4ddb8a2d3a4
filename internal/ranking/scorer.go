// Package ranking holds the per-user ranked list, the binary-insertion
// comparison session and the score assignment that keeps list order and
// score order in agreement.
//
// A RankedList and its sessions are not safe for concurrent use. Callers must
// serialize rating operations per user.
package ranking

import (
	"fmt"
	"math"

	"github.com/Clark-Hu/tierlist/internal/domain"
)

// AssignScores recomputes every member's score from its position, best first.
// Members are spread evenly over the tier's range; a lone member (or a single
// group of tied members) receives the range midpoint. Members flagged
// TiedWithPrevious share the score of the member above them.
func AssignScores(members []domain.Title, r domain.Range) {
	if len(members) == 0 {
		return
	}

	slots := make([]int, len(members))
	for i := 1; i < len(members); i++ {
		slots[i] = slots[i-1]
		if !members[i].TiedWithPrevious {
			slots[i]++
		}
	}
	groups := slots[len(slots)-1] + 1

	if groups == 1 {
		mid := roundScore(r.Midpoint())
		for i := range members {
			members[i].Score = mid
		}
		return
	}

	ceiling := r.EffectiveCeiling()
	floor := r.EffectiveFloor()
	step := (ceiling - floor) / float64(groups-1)
	for i := range members {
		raw := ceiling - float64(slots[i])*step
		members[i].Score = roundScore(clamp(raw, floor, ceiling))
	}
}

// CheckTier verifies the ordering invariant for one tier: scores are
// non-increasing in list order and lie inside the tier's range.
func CheckTier(members []domain.Title, tier domain.Tier) error {
	r := tier.Range()
	for i, m := range members {
		if m.Tier != tier {
			return fmt.Errorf("%w: title %s declares %s inside %s", domain.ErrInvalidTier, m.ID, m.Tier, tier)
		}
		if !r.Contains(m.Score) {
			return fmt.Errorf("title %s score %.2f outside %s range", m.ID, m.Score, tier)
		}
		if i > 0 && m.Score > members[i-1].Score {
			return fmt.Errorf("title %s score %.2f above predecessor %.2f", m.ID, m.Score, members[i-1].Score)
		}
	}
	return nil
}

// DisplayScore rounds a stored score to one decimal place.
func DisplayScore(score float64) float64 {
	return math.Round(score*10) / 10
}

const scoreScale = 1 / domain.ScoreEpsilon

func roundScore(v float64) float64 {
	return math.Round(v*scoreScale) / scoreScale
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
