package domain

import "time"

// GlobalRating is the community aggregate for one catalog id.
type GlobalRating struct {
	CatalogID       string
	Title           string
	MediaType       MediaType
	AverageRating   float64
	NumberOfRatings int64
	// Version increases with every mutation so stale snapshots can be discarded.
	Version   int64
	UpdatedAt time.Time
}

// Empty reports whether every contributor has retracted.
func (g GlobalRating) Empty() bool {
	return g.NumberOfRatings == 0
}

// Outcome is the caller's answer to a comparison prompt.
type Outcome string

const (
	PreferCandidate Outcome = "preferCandidate"
	PreferPivot     Outcome = "preferPivot"
	Equivalent      Outcome = "equivalent"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case PreferCandidate, PreferPivot, Equivalent:
		return true
	}
	return false
}

// Identity is the already-authenticated caller.
type Identity struct {
	UserID   string
	Username string
}
