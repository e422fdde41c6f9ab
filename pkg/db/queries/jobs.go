package queries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const jobColumns = `id, project_id, type, status, input, output, error, provider, created_at, updated_at`

func CreateJob(ctx context.Context, job *db.AIProcessingJob) (*db.AIProcessingJob, error) {
	if job.Status == "" {
		job.Status = db.JobStatusPending
	}

	query := `
		INSERT INTO ai_processing_jobs (project_id, type, status, input, provider)
		VALUES (:project_id, :type, :status, :input, :provider)
		RETURNING id, created_at, updated_at`

	rows, err := db.DB.NamedQueryContext(ctx, query, job)
	if err != nil {
		log.Errorf("Error creating %s job for project '%s': %v", job.Type, job.ProjectID.String(), err)
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, errors.New("no rows returned after job creation")
	}
	if err := rows.StructScan(job); err != nil {
		return nil, fmt.Errorf("error scanning job after creation: %w", err)
	}
	log.Infof("Queued %s job %s for project %s", job.Type, job.ID.String(), job.ProjectID.String())
	return job, nil
}

// FindLatestJob returns the newest job of the given type for a project, or nil, nil.
func FindLatestJob(ctx context.Context, projectID uuid.UUID, jobType string) (*db.AIProcessingJob, error) {
	job := &db.AIProcessingJob{}
	query := `SELECT ` + jobColumns + ` FROM ai_processing_jobs WHERE project_id = $1 AND type = $2 ORDER BY created_at DESC LIMIT 1`
	if err := db.DB.GetContext(ctx, job, query, projectID, jobType); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Errorf("Error finding %s job for project '%s': %v", jobType, projectID.String(), err)
		return nil, fmt.Errorf("error finding job: %w", err)
	}
	return job, nil
}

// ClaimPendingJob moves the oldest pending job of the type to running and
// returns it. Concurrent claimers never get the same row. Returns nil, nil
// when the queue is empty.
func ClaimPendingJob(ctx context.Context, jobType string) (*db.AIProcessingJob, error) {
	job := &db.AIProcessingJob{}
	query := `
		UPDATE ai_processing_jobs
		SET status = 'running', updated_at = NOW()
		WHERE id = (
			SELECT id FROM ai_processing_jobs
			WHERE status = 'pending' AND type = $1
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns
	if err := db.DB.GetContext(ctx, job, query, jobType); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim %s job: %w", jobType, err)
	}
	return job, nil
}

func CompleteJob(ctx context.Context, jobID uuid.UUID, output db.JSONB) error {
	_, err := db.DB.ExecContext(ctx,
		`UPDATE ai_processing_jobs SET status = 'completed', output = $2, error = NULL, updated_at = NOW() WHERE id = $1`,
		jobID, output)
	if err != nil {
		log.Errorf("Error completing job '%s': %v", jobID.String(), err)
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

func FailJob(ctx context.Context, jobID uuid.UUID, message string) error {
	_, err := db.DB.ExecContext(ctx,
		`UPDATE ai_processing_jobs SET status = 'failed', error = $2, updated_at = NOW() WHERE id = $1`,
		jobID, message)
	if err != nil {
		log.Errorf("Error failing job '%s': %v", jobID.String(), err)
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// ReleaseJob returns a running job to pending so another worker picks it up.
func ReleaseJob(ctx context.Context, jobID uuid.UUID) error {
	_, err := db.DB.ExecContext(ctx,
		`UPDATE ai_processing_jobs SET status = 'pending', updated_at = NOW() WHERE id = $1 AND status = 'running'`,
		jobID)
	if err != nil {
		log.Errorf("Error releasing job '%s': %v", jobID.String(), err)
		return fmt.Errorf("failed to release job: %w", err)
	}
	return nil
}

// ReclaimStaleJobs returns jobs of the type that have been running for longer
// than staleAfter to pending, and reports how many were reclaimed.
func ReclaimStaleJobs(ctx context.Context, jobType string, staleAfter time.Duration) (int64, error) {
	result, err := db.DB.ExecContext(ctx, `
		UPDATE ai_processing_jobs SET status = 'pending', updated_at = NOW()
		WHERE type = $1 AND status = 'running' AND updated_at < NOW() - make_interval(secs => $2)`,
		jobType, staleAfter.Seconds())
	if err != nil {
		log.Errorf("Error reclaiming stale %s jobs: %v", jobType, err)
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}
	return result.RowsAffected()
}
