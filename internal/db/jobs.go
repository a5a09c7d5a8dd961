package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bobarin/captionreel/internal/models"
)

// ErrNotFound is returned when a ledger row does not exist.
var ErrNotFound = errors.New("render job not found")

// RecordQueued inserts a ledger row for a job that was just enqueued or
// dispatched. Re-recording the same id is a no-op.
func (db *DB) RecordQueued(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO render_jobs (
			id, chat_id, media_kind, apply_fade, status, messages_to_delete
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := db.ExecContext(ctx, query,
		job.JobID, job.ChatID, job.MediaKind, job.ApplyFade, models.JobStatusQueued, job.MessagesToDelete,
	)
	if err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}
	return nil
}

// MarkRunning moves a job to running, creating the row if the job was
// produced by something that did not record it.
func (db *DB) MarkRunning(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO render_jobs (
			id, chat_id, media_kind, apply_fade, status, messages_to_delete, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, started_at = EXCLUDED.started_at
	`
	_, err := db.ExecContext(ctx, query,
		job.JobID, job.ChatID, job.MediaKind, job.ApplyFade, models.JobStatusRunning, job.MessagesToDelete, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	return nil
}

func (db *DB) MarkSucceeded(ctx context.Context, jobID string) error {
	query := `UPDATE render_jobs SET status = $1, finished_at = $2 WHERE id = $3`
	_, err := db.ExecContext(ctx, query, models.JobStatusSucceeded, time.Now(), jobID)
	return err
}

func (db *DB) MarkFailed(ctx context.Context, jobID, errorKind, errorMessage string) error {
	query := `
		UPDATE render_jobs
		SET status = $1, error_kind = $2, error_message = $3, finished_at = $4
		WHERE id = $5
	`
	_, err := db.ExecContext(ctx, query, models.JobStatusFailed, errorKind, truncate(errorMessage, 2000), time.Now(), jobID)
	return err
}

func (db *DB) GetRenderJob(ctx context.Context, id string) (*models.RenderRecord, error) {
	query := `
		SELECT
			id, chat_id, media_kind, apply_fade, status, error_kind, error_message,
			messages_to_delete, started_at, finished_at, created_at
		FROM render_jobs
		WHERE id = $1
	`

	rec := &models.RenderRecord{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.ChatID, &rec.MediaKind, &rec.ApplyFade, &rec.Status, &rec.ErrorKind,
		&rec.ErrorMessage, &rec.MessagesToDelete, &rec.StartedAt, &rec.FinishedAt, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render job: %w", err)
	}
	return rec, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
