package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clipsmith/clipsmith/internal/models"
)

func (db *DB) CreateGeneration(ctx context.Context, gen *models.Generation) error {
	query := `
		INSERT INTO generations (
			id, user_id, prompt, model, clip_count, clip_urls, stitched, duration_sec, video_url, credits_charged
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		gen.ID, gen.UserID, gen.Prompt, gen.Model, gen.ClipCount,
		gen.ClipURLs, gen.Stitched, gen.DurationSec, gen.VideoURL, gen.CreditsCharged,
	).Scan(&gen.CreatedAt)
}

func (db *DB) GetUserGenerations(ctx context.Context, userID uuid.UUID, limit int) ([]models.Generation, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT id, user_id, prompt, model, clip_count, clip_urls, stitched, duration_sec, video_url, credits_charged, created_at
		FROM generations
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()

	var gens []models.Generation
	for rows.Next() {
		var gen models.Generation
		err := rows.Scan(
			&gen.ID, &gen.UserID, &gen.Prompt, &gen.Model, &gen.ClipCount,
			&gen.ClipURLs, &gen.Stitched, &gen.DurationSec, &gen.VideoURL, &gen.CreditsCharged, &gen.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		gens = append(gens, gen)
	}

	return gens, nil
}
