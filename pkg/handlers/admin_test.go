package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/animagenius/animagenius-api/pkg/idempotency"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "ak_test_123"

var adminID = uuid.MustParse("8d7f2a5e-1111-4c3b-9a77-5f0e2b6c9d01")

func (e *testEnv) expectAdminKey() {
	e.mock.ExpectQuery("FROM admin_users WHERE api_key = \\$1").
		WithArgs(testAPIKey).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "api_key", "role", "last_login_at", "created_at"}).
			AddRow(adminID.String(), "ops@animagenius.com", "Ops", testAPIKey, "admin", nil, fixedNow))
	e.mock.ExpectExec("UPDATE admin_users SET last_login_at").WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestUserGrowth(t *testing.T) {
	assert.Equal(t, 0, userGrowth(10, 0))
	assert.Equal(t, 50, userGrowth(30, 20))
	assert.Equal(t, 33, userGrowth(4, 3))
	assert.Equal(t, -50, userGrowth(5, 10))
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil), "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Admin access required", decode(t, w, nil).Message)
}

func TestAdminStats(t *testing.T) {
	env := newTestEnv(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	env.handlers.Redis = idempotency.NewRedisStoreWithClient(client)

	env.mock.MatchExpectationsInOrder(false)
	env.expectAdminKey()
	env.mock.ExpectQuery("FROM users WHERE \\(\\$1::text").WithArgs("").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(30))
	env.mock.ExpectQuery("FROM subscriptions WHERE status = \\$1").WithArgs(db.SubscriptionStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	env.mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM projects").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(120))
	env.mock.ExpectQuery("FROM payments WHERE status = \\$1 AND payment_date >= \\$2").
		WithArgs(db.PaymentStatusCompleted, time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(195.0))
	env.mock.ExpectQuery("FROM users WHERE created_at >= \\$1 AND created_at <= \\$2").
		WithArgs(time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(20))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	w := env.do(t, req, testAPIKey)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var stats AdminStats
	decode(t, w, &stats)
	assert.Equal(t, 30, stats.TotalUsers)
	assert.Equal(t, 7, stats.ActiveSubscriptions)
	assert.Equal(t, 120, stats.TotalProjects)
	assert.InDelta(t, 195.0, stats.MonthlyRevenue, 0.001)
	assert.Equal(t, 50, stats.UserGrowth)
	assert.Equal(t, SystemHealth{Database: "healthy", Redis: "healthy", AIServices: "healthy"}, stats.SystemHealth)
	assert.True(t, stats.Timestamp.Equal(fixedNow))
	assert.NoError(t, env.mock.ExpectationsWereMet())

	mr.Close()
	assert.Equal(t, "degraded", env.handlers.systemHealth(req.Context()).Redis)
}

func TestAdminListUsersPaginates(t *testing.T) {
	env := newTestEnv(t)
	env.expectAdminKey()
	user := newTestUser()
	limits, _ := user.UsageLimits.Value()
	usage, _ := user.CurrentUsage.Value()

	env.mock.ExpectQuery("FROM users u").
		WithArgs("%ada%", 10, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "subscription_tier", "subscription_status",
			"usage_limits", "current_usage", "trial_ends_at", "last_login_at", "created_at", "updated_at", "project_count"}).
			AddRow(user.ID.String(), user.Name, user.Email, user.SubscriptionTier, user.SubscriptionStatus,
				limits, usage, nil, nil, fixedNow, fixedNow, 4))
	env.mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM users WHERE").WithArgs("%ada%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/admin/users?page=2&limit=10&search=ada", nil), testAPIKey)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		Users      []AdminUserResponse `json:"users"`
		Pagination Pagination          `json:"pagination"`
	}
	decode(t, w, &data)
	require.Len(t, data.Users, 1)
	assert.Equal(t, 4, data.Users[0].ProjectCount)
	assert.Equal(t, Pagination{Page: 2, Limit: 10, TotalCount: 11, TotalPages: 2, HasMore: false}, data.Pagination)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestAdminUpdateUser(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing user id", func(t *testing.T) {
		env.expectAdminKey()
		w := env.do(t, jsonRequest(http.MethodPut, "/api/admin/users", gin.H{"updates": gin.H{"name": "X"}}), testAPIKey)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "User ID is required", decode(t, w, nil).Message)
	})

	t.Run("invalid status", func(t *testing.T) {
		env.expectAdminKey()
		w := env.do(t, jsonRequest(http.MethodPut, "/api/admin/users", gin.H{
			"userId": uuid.NewString(), "updates": gin.H{"subscriptionStatus": "vip"},
		}), testAPIKey)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("tier change applies tier limits and is audited", func(t *testing.T) {
		user := newTestUser()
		env.expectAdminKey()
		env.mock.ExpectQuery("FROM users WHERE id = \\$1").WithArgs(user.ID.String()).WillReturnRows(userRows(user))
		env.mock.ExpectExec("UPDATE users\\s+SET name").WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectExec("INSERT INTO admin_audit_logs").
			WithArgs(adminID.String(), "user_updated", "user", user.ID.String(), `{"updates":{"subscriptionTier":"PRO"}}`).
			WillReturnResult(sqlmock.NewResult(1, 1))

		w := env.do(t, jsonRequest(http.MethodPut, "/api/admin/users", gin.H{
			"userId":  user.ID.String(),
			"updates": gin.H{"subscriptionTier": "PRO", "email": "ignored@example.com"},
		}), testAPIKey)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var data struct {
			User UserResponse `json:"user"`
		}
		resp := decode(t, w, &data)
		assert.Equal(t, "User updated successfully", resp.Message)
		assert.Equal(t, "PRO", data.User.SubscriptionTier)
		assert.Equal(t, db.UsageQuota{Videos: 100, Duration: 1800, FileSize: 2048}, data.User.UsageLimits)
		assert.Equal(t, user.Email, data.User.Email)
	})
	assert.NoError(t, env.mock.ExpectationsWereMet())
}
