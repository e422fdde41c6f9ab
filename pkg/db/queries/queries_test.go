package queries

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	previous := db.DB
	db.DB = sqlx.NewDb(mockDB, "postgres")
	t.Cleanup(func() {
		db.DB = previous
		mockDB.Close()
	})
	return mock
}

func TestCreateUserScansGeneratedFields(t *testing.T) {
	mock := setupMockDB(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery("INSERT INTO users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(id.String(), now, now))

	user, err := CreateUser(context.Background(), &db.User{
		Name:               "Ada",
		Email:              "ada@example.com",
		PasswordHash:       "hash",
		SubscriptionTier:   "FREE",
		SubscriptionStatus: db.SubscriptionStatusActive,
		UsageLimits:        db.UsageQuota{Videos: 5, Duration: 120, FileSize: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindUserByEmailNotFound(t *testing.T) {
	mock := setupMockDB(t)
	mock.ExpectQuery("FROM users WHERE email = \\$1").
		WithArgs("ghost@example.com").
		WillReturnError(sql.ErrNoRows)

	user, err := FindUserByEmail(context.Background(), "ghost@example.com")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestFindUserByIDDecodesQuotas(t *testing.T) {
	mock := setupMockDB(t)
	id := uuid.New()
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "subscription_tier", "subscription_status",
		"usage_limits", "current_usage", "trial_ends_at", "last_login_at", "created_at", "updated_at"}).
		AddRow(id.String(), "Ada", "ada@example.com", "hash", "PRO", "active",
			[]byte(`{"videos":100,"duration":1800,"fileSize":2048}`), []byte(`{"videos":3,"duration":0,"fileSize":0}`),
			nil, nil, now, now)
	mock.ExpectQuery("FROM users WHERE id = \\$1").WithArgs(id).WillReturnRows(rows)

	user, err := FindUserByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, 100, user.UsageLimits.Videos)
	assert.Equal(t, 3, user.CurrentUsage.Videos)
	assert.True(t, user.CanCreateVideo())
}

func TestUpdateUserReportsMissingRow(t *testing.T) {
	mock := setupMockDB(t)
	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 0))

	err := UpdateUser(context.Background(), &db.User{ID: uuid.New()})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListUsersPassesSearchAndPage(t *testing.T) {
	mock := setupMockDB(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "name", "email", "subscription_tier", "subscription_status",
		"usage_limits", "current_usage", "trial_ends_at", "last_login_at", "created_at", "updated_at", "project_count"}).
		AddRow(uuid.New().String(), "Ada", "ada@example.com", "FREE", "active", []byte(`{}`), []byte(`{}`), nil, nil, now, now, 4)
	mock.ExpectQuery("SELECT u.id").WithArgs("%ada%", 10, 10).WillReturnRows(rows)

	users, err := ListUsers(context.Background(), "ada", 10, 10)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, 4, users[0].ProjectCount)
	assert.Equal(t, "Ada", users[0].Name)
}

func TestContainsPatternEscapesWildcards(t *testing.T) {
	tests := []struct {
		search string
		want   string
	}{
		{"", ""},
		{"ada", "%ada%"},
		{"50%", `%50\%%`},
		{"a_b", `%a\_b%`},
		{`c:\x`, `%c:\\x%`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, containsPattern(tt.search), "search %q", tt.search)
	}
}

func TestCountUsersMatchesLiteralPercent(t *testing.T) {
	mock := setupMockDB(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM users WHERE .* ESCAPE").
		WithArgs(`%100\%%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	count, err := CountUsers(context.Background(), "100%")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProjectNotOwned(t *testing.T) {
	mock := setupMockDB(t)
	projectID, userID := uuid.New(), uuid.New()
	mock.ExpectQuery("DELETE FROM projects").WithArgs(projectID, userID).WillReturnRows(sqlmock.NewRows([]string{"file_name"}))

	_, err := DeleteProject(context.Background(), projectID, userID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCreateProjectDefaultsToDraft(t *testing.T) {
	mock := setupMockDB(t)
	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery("INSERT INTO projects").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(id.String(), now, now))

	project, err := CreateProject(context.Background(), &db.Project{UserID: uuid.New(), Title: "Demo"})
	require.NoError(t, err)
	assert.Equal(t, db.ProjectStatusDraft, project.Status)
	assert.Equal(t, `{}`, string(project.Settings))
	assert.Equal(t, id, project.ID)
}

func TestSetProjectStatusWithLogs(t *testing.T) {
	mock := setupMockDB(t)
	id := uuid.New()
	mock.ExpectExec("UPDATE projects SET status = \\$2, processing_logs = \\$3").
		WithArgs(id, db.ProjectStatusFailed, `{"error":"boom"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, SetProjectStatus(context.Background(), id, db.ProjectStatusFailed, db.JSONB(`{"error":"boom"}`)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPendingJobEmptyQueue(t *testing.T) {
	mock := setupMockDB(t)
	mock.ExpectQuery("UPDATE ai_processing_jobs").WithArgs(db.JobTypeExtractContent).WillReturnError(sql.ErrNoRows)

	job, err := ClaimPendingJob(context.Background(), db.JobTypeExtractContent)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClaimPendingJobReturnsRunningJob(t *testing.T) {
	mock := setupMockDB(t)
	jobID, projectID := uuid.New(), uuid.New()
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "project_id", "type", "status", "input", "output", "error", "provider", "created_at", "updated_at"}).
		AddRow(jobID.String(), projectID.String(), db.JobTypeExtractContent, db.JobStatusRunning, []byte(`{"objectKey":"uploads/x/a.txt"}`), nil, nil, "openai", now, now)
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").WithArgs(db.JobTypeExtractContent).WillReturnRows(rows)

	job, err := ClaimPendingJob(context.Background(), db.JobTypeExtractContent)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, db.JobStatusRunning, job.Status)
	assert.Empty(t, job.Output)
}

func TestSetSubscriptionStatusUnknown(t *testing.T) {
	mock := setupMockDB(t)
	mock.ExpectQuery("UPDATE subscriptions").
		WithArgs("I-MISSING", db.SubscriptionStatusCancelled, true).
		WillReturnError(sql.ErrNoRows)

	_, err := SetSubscriptionStatus(context.Background(), "I-MISSING", db.SubscriptionStatusCancelled, true)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCreatePaymentIgnoresReplay(t *testing.T) {
	mock := setupMockDB(t)
	mock.ExpectExec("INSERT INTO payments").WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := CreatePayment(context.Background(), &db.Payment{
		SubscriptionID:  "I-123",
		PaypalPaymentID: "PAY-1",
		Amount:          25,
		Currency:        "USD",
		Status:          db.PaymentStatusCompleted,
		PaymentDate:     time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestSumCompletedPaymentsSince(t *testing.T) {
	mock := setupMockDB(t)
	since := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\)").
		WithArgs(db.PaymentStatusCompleted, since).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(95.5))

	total, err := SumCompletedPaymentsSince(context.Background(), since)
	require.NoError(t, err)
	assert.InDelta(t, 95.5, total, 0.001)
}

func TestMarkNotificationReadOtherUser(t *testing.T) {
	mock := setupMockDB(t)
	mock.ExpectExec("UPDATE notifications SET read = TRUE").WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := MarkNotificationRead(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordUsageEncodesMetadata(t *testing.T) {
	mock := setupMockDB(t)
	userID := uuid.New()
	mock.ExpectExec("INSERT INTO usage_analytics").
		WithArgs(userID, "project_created", `{"hasFile":true}`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, RecordUsage(context.Background(), userID, "project_created", map[string]bool{"hasFile": true}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
