package domain

import "time"

// MediaType distinguishes catalog entries.
type MediaType string

const (
	MediaMovie MediaType = "movie"
	MediaTV    MediaType = "tv"
)

// Metadata mirrors what the remote catalog knows about a title.
type Metadata struct {
	DisplayTitle   string   `json:"displayTitle"`
	PosterRef      *string  `json:"posterRef,omitempty"`
	ReleaseInfo    *string  `json:"releaseInfo,omitempty"`
	RuntimeMinutes *int     `json:"runtimeMinutes,omitempty"`
	ExternalRating *float64 `json:"externalRating,omitempty"`
}

// Title is one rated entry in a user's ranked list.
type Title struct {
	ID               string
	UserID           string
	Username         string
	CatalogID        string
	MediaType        MediaType
	DisplayTitle     string
	Tier             Tier
	Score            float64
	OriginalScore    float64
	ComparisonsCount int
	// TiedWithPrevious marks a title judged equivalent to the one directly above it.
	TiedWithPrevious bool
	Metadata         *Metadata
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Aggregatable reports whether the title contributes to a community rating.
func (t Title) Aggregatable() bool {
	return t.CatalogID != ""
}
