package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/tierlist/internal/domain"
)

// GlobalRatingsRepository persists community aggregates.
type GlobalRatingsRepository struct {
	pool *pgxpool.Pool
}

// Save upserts an aggregate snapshot. A snapshot whose version is not newer
// than the stored one is ignored and reported with applied=false.
func (r *GlobalRatingsRepository) Save(ctx context.Context, g domain.GlobalRating) (bool, error) {
	const query = `
        INSERT INTO global_ratings (catalog_id, title, media_type, average_rating, number_of_ratings, version, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (catalog_id)
        DO UPDATE SET title = CASE WHEN EXCLUDED.title <> '' THEN EXCLUDED.title ELSE global_ratings.title END,
                      media_type = CASE WHEN EXCLUDED.media_type <> '' THEN EXCLUDED.media_type ELSE global_ratings.media_type END,
                      average_rating = EXCLUDED.average_rating,
                      number_of_ratings = EXCLUDED.number_of_ratings,
                      version = EXCLUDED.version,
                      updated_at = EXCLUDED.updated_at
        WHERE global_ratings.version < EXCLUDED.version
        RETURNING version
    `

	var stored int64
	err := r.pool.QueryRow(ctx, query,
		g.CatalogID,
		g.Title,
		string(g.MediaType),
		g.AverageRating,
		g.NumberOfRatings,
		g.Version,
		g.UpdatedAt,
	).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("save global rating %s: %w", g.CatalogID, err)
	}
	return true, nil
}

// Load returns the stored aggregate for catalogID.
func (r *GlobalRatingsRepository) Load(ctx context.Context, catalogID string) (domain.GlobalRating, error) {
	const query = `
        SELECT catalog_id, title, media_type, average_rating, number_of_ratings, version, updated_at
        FROM global_ratings
        WHERE catalog_id = $1
    `

	var (
		g         domain.GlobalRating
		mediaType string
	)
	err := r.pool.QueryRow(ctx, query, catalogID).Scan(
		&g.CatalogID,
		&g.Title,
		&mediaType,
		&g.AverageRating,
		&g.NumberOfRatings,
		&g.Version,
		&g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GlobalRating{}, ErrNotFound
		}
		return domain.GlobalRating{}, fmt.Errorf("load global rating %s: %w", catalogID, err)
	}
	g.MediaType = domain.MediaType(mediaType)
	return g, nil
}
