package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/tierlist/internal/domain"
)

// TitlesRepository persists users' ranked titles.
type TitlesRepository struct {
	pool *pgxpool.Pool
}

const titleColumns = `
    id,
    user_id,
    username,
    catalog_id,
    media_type,
    display_title,
    tier,
    position,
    score,
    original_score,
    comparisons_count,
    tied_with_previous,
    metadata,
    created_at,
    updated_at
`

const upsertTitle = `
    INSERT INTO titles (id, user_id, username, catalog_id, media_type, display_title, tier, position,
                        score, original_score, comparisons_count, tied_with_previous, metadata)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
    ON CONFLICT (id)
    DO UPDATE SET username = EXCLUDED.username,
                  display_title = EXCLUDED.display_title,
                  tier = EXCLUDED.tier,
                  position = EXCLUDED.position,
                  score = EXCLUDED.score,
                  comparisons_count = EXCLUDED.comparisons_count,
                  tied_with_previous = EXCLUDED.tied_with_previous,
                  metadata = COALESCE(EXCLUDED.metadata, titles.metadata),
                  updated_at = now()
`

// Save upserts one title at the given position within its tier. The stored
// original_score is written once and never overwritten.
func (r *TitlesRepository) Save(ctx context.Context, t domain.Title, position int) error {
	args, err := titleArgs(t, position)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, upsertTitle, args...); err != nil {
		return fmt.Errorf("save title %s: %w", t.ID, err)
	}
	return nil
}

// Delete removes a title by id.
func (r *TitlesRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM titles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete title %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadRankedList returns a user's titles ordered best tier first, then by position.
func (r *TitlesRepository) LoadRankedList(ctx context.Context, userID string) ([]domain.Title, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM titles
        WHERE user_id = $1
        ORDER BY CASE tier WHEN 'liked' THEN 0 WHEN 'fine' THEN 1 ELSE 2 END, position
    `, titleColumns)

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("load ranked list: %w", err)
	}
	defer rows.Close()

	titles := make([]domain.Title, 0)
	for rows.Next() {
		t, _, err := scanTitle(rows)
		if err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return titles, nil
}

// SaveTier rewrites a tier after a recompute: every member is upserted at its
// index and rows left behind in the tier are removed, all in one transaction.
// A title that moved here from another tier is carried over by its id.
func (r *TitlesRepository) SaveTier(ctx context.Context, userID string, tier domain.Tier, members []domain.Title) error {
	if !tier.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidTier, tier)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save tier: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]string, len(members))
	batch := &pgx.Batch{}
	for i, m := range members {
		if m.UserID != userID || m.Tier != tier {
			return fmt.Errorf("%w: title %s belongs to %s/%s, not %s/%s",
				domain.ErrInvalidTier, m.ID, m.UserID, m.Tier, userID, tier)
		}
		args, err := titleArgs(m, i)
		if err != nil {
			return err
		}
		batch.Queue(upsertTitle, args...)
		ids[i] = m.ID
	}

	if _, err := tx.Exec(ctx, `
        DELETE FROM titles
        WHERE user_id = $1 AND tier = $2 AND NOT (id::text = ANY($3::text[]))
    `, userID, string(tier), ids); err != nil {
		return fmt.Errorf("prune tier %s: %w", tier, err)
	}

	if batch.Len() > 0 {
		results := tx.SendBatch(ctx, batch)
		for range members {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("save tier %s: %w", tier, err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("save tier %s: %w", tier, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tier %s: %w", tier, err)
	}
	return nil
}

func titleArgs(t domain.Title, position int) ([]any, error) {
	if !t.Tier.Valid() {
		return nil, fmt.Errorf("%w: title %s has tier %q", domain.ErrInvalidTier, t.ID, t.Tier)
	}
	metadataJSON, err := marshalMetadata(t.Metadata)
	if err != nil {
		return nil, err
	}
	mediaType := t.MediaType
	if mediaType == "" {
		mediaType = domain.MediaMovie
	}
	return []any{
		t.ID,
		t.UserID,
		t.Username,
		nullable(t.CatalogID),
		string(mediaType),
		t.DisplayTitle,
		string(t.Tier),
		position,
		t.Score,
		t.OriginalScore,
		t.ComparisonsCount,
		t.TiedWithPrevious,
		metadataJSON,
	}, nil
}

func scanTitle(row pgx.Row) (domain.Title, int, error) {
	var (
		t            domain.Title
		catalogID    *string
		mediaType    string
		tier         string
		position     int
		metadataJSON []byte
	)

	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Username,
		&catalogID,
		&mediaType,
		&t.DisplayTitle,
		&tier,
		&position,
		&t.Score,
		&t.OriginalScore,
		&t.ComparisonsCount,
		&t.TiedWithPrevious,
		&metadataJSON,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return domain.Title{}, 0, err
	}

	if catalogID != nil {
		t.CatalogID = *catalogID
	}
	t.MediaType = domain.MediaType(mediaType)
	t.Tier = domain.Tier(tier)

	if len(metadataJSON) > 0 {
		var md domain.Metadata
		if err := json.Unmarshal(metadataJSON, &md); err != nil {
			return domain.Title{}, 0, fmt.Errorf("decode metadata for %s: %w", t.ID, err)
		}
		t.Metadata = &md
	}
	return t, position, nil
}

func marshalMetadata(md *domain.Metadata) ([]byte, error) {
	if md == nil {
		return nil, nil
	}
	return json.Marshal(md)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
