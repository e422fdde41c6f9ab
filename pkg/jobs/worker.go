package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/animagenius/animagenius-api/pkg/storage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// staleJobAfter is how long a job may stay running before a starting worker
// assumes its owner died and requeues it.
const staleJobAfter = 15 * time.Minute

// Worker polls the queue with a fixed number of goroutines.
type Worker struct {
	queue        Queue
	store        storage.ObjectStore
	extractor    Extractor
	workers      int
	pollInterval time.Duration
	staleAfter   time.Duration
}

func NewWorker(queue Queue, store storage.ObjectStore, extractor Extractor, workers int, pollInterval time.Duration) *Worker {
	if workers < 1 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Worker{
		queue:        queue,
		store:        store,
		extractor:    extractor,
		workers:      workers,
		pollInterval: pollInterval,
		staleAfter:   staleJobAfter,
	}
}

// Run requeues stale jobs, then blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if n, err := w.queue.ReclaimStale(ctx, w.staleAfter); err != nil {
		log.Warnf("Worker.Run: could not reclaim stale jobs: %v", err)
	} else if n > 0 {
		log.Infof("Worker.Run: requeued %d stale extraction jobs", n)
	}

	log.Infof("Worker.Run: starting %d extraction workers", w.workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		id := i
		g.Go(func() error {
			w.loop(gctx, id)
			return nil
		})
	}
	err := g.Wait()
	log.Info("Worker.Run: extraction workers stopped")
	return err
}

func (w *Worker) loop(ctx context.Context, id int) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		worked, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			log.Errorf("Worker.loop[%d]: %v", id, err)
		}
		if worked {
			timer.Reset(0)
		} else {
			timer.Reset(w.pollInterval)
		}
	}
}

// RunOnce claims and processes at most one job. It reports whether a job was found.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.Claim(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	log.Infof("Worker.RunOnce: extracting content for project %s (job %s)", job.ProjectID.String(), job.ID.String())
	output, procErr := w.process(ctx, job)
	if procErr != nil {
		if ctx.Err() != nil {
			log.Infof("Worker.RunOnce: job %s interrupted, returning it to the queue", job.ID.String())
			if err := w.queue.Release(context.WithoutCancel(ctx), job); err != nil {
				return true, fmt.Errorf("release job %s: %w", job.ID.String(), err)
			}
			return true, nil
		}
		log.Warnf("Worker.RunOnce: job %s failed: %v", job.ID.String(), procErr)
		if err := w.queue.Fail(context.WithoutCancel(ctx), job, procErr.Error()); err != nil {
			return true, fmt.Errorf("record failure of job %s: %w", job.ID.String(), err)
		}
		return true, nil
	}

	if err := w.queue.Complete(context.WithoutCancel(ctx), job, output); err != nil {
		return true, fmt.Errorf("record completion of job %s: %w", job.ID.String(), err)
	}
	log.Infof("Worker.RunOnce: job %s completed", job.ID.String())
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *db.AIProcessingJob) (db.JSONB, error) {
	var input ExtractionInput
	if err := job.Input.Decode(&input); err != nil {
		return nil, fmt.Errorf("decode job input: %w", err)
	}
	if input.ObjectKey == "" {
		return nil, errors.New("job input has no object key")
	}

	extraction, err := ExtractFromStore(ctx, w.store, w.extractor, input)
	if err != nil {
		return nil, err
	}
	return db.NewJSONB(extraction)
}
