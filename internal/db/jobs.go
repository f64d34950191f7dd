package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clipsmith/clipsmith/internal/models"
)

func (db *DB) CreateGenerationJob(ctx context.Context, job *models.GenerationJob) error {
	query := `
		INSERT INTO generation_jobs (id, user_id, status, clip_count, prompt)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		job.ID, job.UserID, job.Status, job.ClipCount, job.Prompt,
	).Scan(&job.CreatedAt)
}

func (db *DB) GetGenerationJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	query := `
		SELECT id, user_id, status, clip_count, prompt, video_url, error_message,
			started_at, finished_at, created_at
		FROM generation_jobs
		WHERE id = $1
	`

	job := &models.GenerationJob{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.UserID, &job.Status, &job.ClipCount, &job.Prompt,
		&job.VideoURL, &job.ErrorMessage, &job.StartedAt, &job.FinishedAt, &job.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("generation job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get generation job: %w", err)
	}

	return job, nil
}

func (db *DB) UpdateGenerationJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	now := time.Now()
	query := `UPDATE generation_jobs SET status = $1, started_at = $2 WHERE id = $3`

	if status == models.JobStatusSucceeded || status == models.JobStatusFailed {
		query = `UPDATE generation_jobs SET status = $1, finished_at = $2 WHERE id = $3`
	}

	_, err := db.ExecContext(ctx, query, status, now, id)
	return err
}

func (db *DB) UpdateGenerationJobError(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE generation_jobs
		SET status = $1, error_message = $2, finished_at = $3
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, models.JobStatusFailed, errorMessage, time.Now(), id)
	return err
}

func (db *DB) SetGenerationJobResult(ctx context.Context, id uuid.UUID, videoURL string) error {
	query := `
		UPDATE generation_jobs
		SET status = $1, video_url = $2, finished_at = $3
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, models.JobStatusSucceeded, videoURL, time.Now(), id)
	return err
}
