package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/animagenius/animagenius-api/pkg/services"
	"github.com/animagenius/animagenius-api/pkg/storage"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// genai pulls in opencensus, whose view worker is started by an init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type fakeQueue struct {
	mu        sync.Mutex
	pending   []*db.AIProcessingJob
	completed map[uuid.UUID]db.JSONB
	failed    map[uuid.UUID]string
	released  []uuid.UUID
	reclaims  []time.Duration
	claimErr  error
}

func newFakeQueue(jobs ...*db.AIProcessingJob) *fakeQueue {
	return &fakeQueue{pending: jobs, completed: map[uuid.UUID]db.JSONB{}, failed: map[uuid.UUID]string{}}
}

func (q *fakeQueue) Claim(ctx context.Context) (*db.AIProcessingJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	if len(q.pending) == 0 {
		return nil, nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	return job, nil
}

func (q *fakeQueue) Complete(ctx context.Context, job *db.AIProcessingJob, output db.JSONB) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed[job.ID] = output
	return nil
}

func (q *fakeQueue) Fail(ctx context.Context, job *db.AIProcessingJob, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[job.ID] = message
	return nil
}

func (q *fakeQueue) Release(ctx context.Context, job *db.AIProcessingJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = append(q.released, job.ID)
	return nil
}

func (q *fakeQueue) ReclaimStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reclaims = append(q.reclaims, staleAfter)
	return 0, nil
}

func (q *fakeQueue) done() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.completed) + len(q.failed)
}

type fakeExtractor struct {
	err error
	// cancel, when set, is called before the extractor returns.
	cancel context.CancelFunc
}

func (f *fakeExtractor) ExtractContent(ctx context.Context, file services.UploadedFile) (*services.ContentExtraction, error) {
	if f.cancel != nil {
		f.cancel()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &services.ContentExtraction{Text: string(file.Data), Metadata: services.ExtractionMetadata{Language: "en"}}, nil
}

func newJob(t *testing.T, key string) *db.AIProcessingJob {
	t.Helper()
	input, err := db.NewJSONB(ExtractionInput{FileName: "a.txt", FileType: "text/plain", FileSize: 5, ObjectKey: key})
	require.NoError(t, err)
	return &db.AIProcessingJob{ID: uuid.New(), ProjectID: uuid.New(), Type: db.JobTypeExtractContent, Input: input}
}

func newStore(t *testing.T) *storage.LocalStore {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir(), "https://files.test")
	require.NoError(t, err)
	_, err = store.Put(context.Background(), "uploads/p/a.txt", strings.NewReader("hello"), 5, "text/plain")
	require.NoError(t, err)
	return store
}

func TestRunOnceCompletesJob(t *testing.T) {
	job := newJob(t, "uploads/p/a.txt")
	queue := newFakeQueue(job)
	w := NewWorker(queue, newStore(t), &fakeExtractor{}, 1, time.Millisecond)

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)

	var out services.ContentExtraction
	require.NoError(t, queue.completed[job.ID].Decode(&out))
	assert.Equal(t, "hello", out.Text)
}

func TestRunOnceEmptyQueue(t *testing.T) {
	w := NewWorker(newFakeQueue(), newStore(t), &fakeExtractor{}, 1, time.Millisecond)
	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestRunOnceRecordsFailures(t *testing.T) {
	missing := newJob(t, "uploads/p/missing.txt")
	broken := newJob(t, "uploads/p/a.txt")
	queue := newFakeQueue(missing, broken)
	w := NewWorker(queue, newStore(t), &fakeExtractor{err: services.ErrExtractionFailed}, 1, time.Millisecond)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Contains(t, queue.failed[missing.ID], "object not found")

	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Contains(t, queue.failed[broken.ID], "Failed to extract content with AI")
}

func TestRunOnceCompletesJobFinishedDuringShutdown(t *testing.T) {
	job := newJob(t, "uploads/p/a.txt")
	queue := newFakeQueue(job)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWorker(queue, newStore(t), &fakeExtractor{cancel: cancel}, 1, time.Millisecond)

	worked, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Contains(t, queue.completed, job.ID)
	assert.Empty(t, queue.failed)
}

func TestRunOnceReleasesInterruptedJob(t *testing.T) {
	job := newJob(t, "uploads/p/a.txt")
	queue := newFakeQueue(job)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWorker(queue, newStore(t), &fakeExtractor{cancel: cancel, err: context.Canceled}, 1, time.Millisecond)

	worked, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Equal(t, []uuid.UUID{job.ID}, queue.released)
	assert.Empty(t, queue.failed)
	assert.Empty(t, queue.completed)
}

func TestRunReclaimsStaleJobsBeforePolling(t *testing.T) {
	queue := newFakeQueue()
	w := NewWorker(queue, newStore(t), &fakeExtractor{}, 2, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx))

	assert.Equal(t, []time.Duration{staleJobAfter}, queue.reclaims)
}

func TestRunOnceClaimError(t *testing.T) {
	queue := newFakeQueue()
	queue.claimErr = errors.New("db down")
	w := NewWorker(queue, newStore(t), &fakeExtractor{}, 1, time.Millisecond)

	_, err := w.RunOnce(context.Background())
	assert.EqualError(t, err, "db down")
}

func TestRunDrainsQueueAndStops(t *testing.T) {
	jobs := make([]*db.AIProcessingJob, 6)
	for i := range jobs {
		jobs[i] = newJob(t, "uploads/p/a.txt")
	}
	queue := newFakeQueue(jobs...)
	w := NewWorker(queue, newStore(t), &fakeExtractor{}, 3, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return queue.done() == len(jobs) }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Len(t, queue.completed, len(jobs))
}

func TestPostgresQueueFailMarksProject(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	previous := db.DB
	db.DB = sqlx.NewDb(mockDB, "postgres")
	defer func() {
		db.DB = previous
		mockDB.Close()
	}()

	job := newJob(t, "uploads/p/a.txt")
	mock.ExpectExec("UPDATE ai_processing_jobs SET status = 'failed'").
		WithArgs(job.ID, "boom").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE projects SET status = \\$2, processing_logs = \\$3").
		WithArgs(job.ProjectID, db.ProjectStatusFailed, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, PostgresQueue{}.Fail(context.Background(), job, "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueCompleteReturnsProjectToDraft(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	previous := db.DB
	db.DB = sqlx.NewDb(mockDB, "postgres")
	defer func() {
		db.DB = previous
		mockDB.Close()
	}()

	job := newJob(t, "uploads/p/a.txt")
	mock.ExpectExec("UPDATE ai_processing_jobs SET status = 'completed'").
		WithArgs(job.ID, `{"text":"x"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE projects SET status = \\$2, updated_at").
		WithArgs(job.ProjectID, db.ProjectStatusDraft).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, PostgresQueue{}.Complete(context.Background(), job, db.JSONB(`{"text":"x"}`)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueReleaseAndReclaim(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	previous := db.DB
	db.DB = sqlx.NewDb(mockDB, "postgres")
	defer func() {
		db.DB = previous
		mockDB.Close()
	}()

	job := newJob(t, "uploads/p/a.txt")
	mock.ExpectExec("UPDATE ai_processing_jobs SET status = 'pending'.* WHERE id = \\$1 AND status = 'running'").
		WithArgs(job.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE ai_processing_jobs SET status = 'pending'.*\\s+WHERE type = \\$1 AND status = 'running' AND updated_at < NOW\\(\\) - make_interval").
		WithArgs(db.JobTypeExtractContent, float64(900)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, PostgresQueue{}.Release(context.Background(), job))
	n, err := PostgresQueue{}.ReclaimStale(context.Background(), 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
