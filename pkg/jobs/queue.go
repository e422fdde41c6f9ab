package jobs

import (
	"context"
	"time"

	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/animagenius/animagenius-api/pkg/db/queries"
)

// Queue hands out extraction jobs and records their outcome.
type Queue interface {
	Claim(ctx context.Context) (*db.AIProcessingJob, error)
	Complete(ctx context.Context, job *db.AIProcessingJob, output db.JSONB) error
	Fail(ctx context.Context, job *db.AIProcessingJob, message string) error
	// Release puts a job interrupted by shutdown back in the queue.
	Release(ctx context.Context, job *db.AIProcessingJob) error
	// ReclaimStale requeues jobs left running longer than staleAfter.
	ReclaimStale(ctx context.Context, staleAfter time.Duration) (int64, error)
}

// PostgresQueue is the ai_processing_jobs table.
type PostgresQueue struct{}

func (PostgresQueue) Claim(ctx context.Context) (*db.AIProcessingJob, error) {
	return queries.ClaimPendingJob(ctx, db.JobTypeExtractContent)
}

// Complete stores the output and returns the project to draft so it can be generated.
func (PostgresQueue) Complete(ctx context.Context, job *db.AIProcessingJob, output db.JSONB) error {
	if err := queries.CompleteJob(ctx, job.ID, output); err != nil {
		return err
	}
	return queries.SetProjectStatus(ctx, job.ProjectID, db.ProjectStatusDraft, nil)
}

func (PostgresQueue) Fail(ctx context.Context, job *db.AIProcessingJob, message string) error {
	if err := queries.FailJob(ctx, job.ID, message); err != nil {
		return err
	}
	logs, err := db.NewJSONB(map[string]string{
		"error":     message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return queries.SetProjectStatus(ctx, job.ProjectID, db.ProjectStatusFailed, logs)
}

func (PostgresQueue) Release(ctx context.Context, job *db.AIProcessingJob) error {
	return queries.ReleaseJob(ctx, job.ID)
}

func (PostgresQueue) ReclaimStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	return queries.ReclaimStaleJobs(ctx, db.JobTypeExtractContent, staleAfter)
}
