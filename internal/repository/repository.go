package repository

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/tierlist/internal/domain"
	"github.com/Clark-Hu/tierlist/internal/store"
)

// ErrNotFound indicates the requested entity does not exist. It matches
// domain.ErrNotFound under errors.Is.
var ErrNotFound = fmt.Errorf("repository: %w", domain.ErrNotFound)

// Repository aggregates all domain-specific repositories.
type Repository struct {
	Titles        *TitlesRepository
	GlobalRatings *GlobalRatingsRepository
}

// New constructs a Repository backed by the provided store.
func New(st *store.Store) *Repository {
	return NewWithPool(st.Pool())
}

// NewWithPool allows constructing repositories directly from a pgx pool.
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{
		Titles:        &TitlesRepository{pool: pool},
		GlobalRatings: &GlobalRatingsRepository{pool: pool},
	}
}
