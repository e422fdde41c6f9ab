package handlers

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/animagenius/animagenius-api/pkg/db/queries"
	"github.com/animagenius/animagenius-api/pkg/middleware"
	"github.com/animagenius/animagenius-api/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	healthHealthy      = "healthy"
	healthDegraded     = "degraded"
	healthUnconfigured = "unconfigured"

	defaultPageSize = 10
	maxPageSize     = 100
	healthTimeout   = 2 * time.Second
)

type SystemHealth struct {
	Database   string `json:"database"`
	Redis      string `json:"redis"`
	AIServices string `json:"aiServices"`
}

type AdminStats struct {
	TotalUsers          int          `json:"totalUsers"`
	ActiveSubscriptions int          `json:"activeSubscriptions"`
	TotalProjects       int          `json:"totalProjects"`
	MonthlyRevenue      float64      `json:"monthlyRevenue"`
	UserGrowth          int          `json:"userGrowth"`
	SystemHealth        SystemHealth `json:"systemHealth"`
	Timestamp           time.Time    `json:"timestamp"`
}

// AdminStats aggregates platform counters concurrently.
func (h *Handlers) AdminStats(c *gin.Context) {
	now := h.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	lastMonthStart := monthStart.AddDate(0, -1, 0)

	stats := AdminStats{Timestamp: now}
	var lastMonthUsers int

	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() (err error) {
		stats.TotalUsers, err = queries.CountUsers(ctx, "")
		return err
	})
	g.Go(func() (err error) {
		stats.ActiveSubscriptions, err = queries.CountSubscriptionsByStatus(ctx, db.SubscriptionStatusActive)
		return err
	})
	g.Go(func() (err error) {
		stats.TotalProjects, err = queries.CountProjects(ctx)
		return err
	})
	g.Go(func() (err error) {
		stats.MonthlyRevenue, err = queries.SumCompletedPaymentsSince(ctx, monthStart)
		return err
	})
	g.Go(func() (err error) {
		lastMonthUsers, err = queries.CountUsersCreatedBetween(ctx, lastMonthStart, monthStart.Add(-time.Nanosecond))
		return err
	})
	if err := g.Wait(); err != nil {
		log.Errorf("AdminStats: %v", err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Failed to fetch admin stats", nil)
		return
	}

	stats.UserGrowth = userGrowth(stats.TotalUsers, lastMonthUsers)
	stats.SystemHealth = h.systemHealth(c.Request.Context())
	utils.ResponseWithSuccess(c, http.StatusOK, "Admin stats retrieved successfully", stats)
}

// userGrowth is the percentage change of total users over last month's signups.
func userGrowth(total, lastMonth int) int {
	if lastMonth <= 0 {
		return 0
	}
	return int(math.Round(float64(total-lastMonth) / float64(lastMonth) * 100))
}

func (h *Handlers) systemHealth(ctx context.Context) SystemHealth {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	health := SystemHealth{Database: healthHealthy, Redis: healthUnconfigured, AIServices: healthUnconfigured}
	if err := db.Ping(ctx); err != nil {
		log.Warnf("systemHealth: database ping failed: %v", err)
		health.Database = healthDegraded
	}
	if h.Redis != nil {
		health.Redis = healthHealthy
		if err := h.Redis.Ping(ctx); err != nil {
			log.Warnf("systemHealth: redis ping failed: %v", err)
			health.Redis = healthDegraded
		}
	}
	if h.AI != nil && h.AI.ProviderName() != "" {
		health.AIServices = healthHealthy
	}
	return health
}

type AdminUserResponse struct {
	UserResponse
	ProjectCount int `json:"projectCount"`
}

type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalCount int  `json:"totalCount"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

func (h *Handlers) AdminListUsers(c *gin.Context) {
	ctx := c.Request.Context()
	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := queryInt(c, "limit", defaultPageSize)
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	search := strings.TrimSpace(c.Query("search"))

	users, err := queries.ListUsers(ctx, search, (page-1)*limit, limit)
	if err != nil {
		log.Errorf("AdminListUsers: %v", err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Failed to fetch users", nil)
		return
	}
	total, err := queries.CountUsers(ctx, search)
	if err != nil {
		log.Errorf("AdminListUsers: %v", err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Failed to fetch users", nil)
		return
	}

	resp := make([]AdminUserResponse, 0, len(users))
	for i := range users {
		resp = append(resp, AdminUserResponse{
			UserResponse: newUserResponse(&users[i].User),
			ProjectCount: users[i].ProjectCount,
		})
	}
	totalPages := int(math.Ceil(float64(total) / float64(limit)))
	utils.ResponseWithSuccess(c, http.StatusOK, "Users retrieved successfully", gin.H{
		"users": resp,
		"pagination": Pagination{
			Page:       page,
			Limit:      limit,
			TotalCount: total,
			TotalPages: totalPages,
			HasMore:    page < totalPages,
		},
	})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// AdminUserUpdates lists the fields an admin may change on a user.
type AdminUserUpdates struct {
	Name               *string        `json:"name,omitempty" binding:"omitempty,min=2"`
	SubscriptionTier   *string        `json:"subscriptionTier,omitempty"`
	SubscriptionStatus *string        `json:"subscriptionStatus,omitempty" binding:"omitempty,oneof=active trialing cancelled suspended inactive"`
	UsageLimits        *db.UsageQuota `json:"usageLimits,omitempty"`
	CurrentUsage       *db.UsageQuota `json:"currentUsage,omitempty"`
}

type AdminUpdateUserRequest struct {
	UserID  string           `json:"userId"`
	Updates AdminUserUpdates `json:"updates"`
}

func (h *Handlers) AdminUpdateUser(c *gin.Context) {
	ctx := c.Request.Context()
	admin, ok := middleware.CurrentAdmin(c)
	if !ok {
		log.Error("AdminUpdateUser: admin not found in context.")
		utils.ResponseWithError(c, http.StatusInternalServerError, "Authentication error: admin session missing", nil)
		return
	}

	var req AdminUpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debugf("AdminUpdateUser: Invalid request body: %v", err)
		utils.ResponseWithError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.UserID == "" {
		utils.ResponseWithError(c, http.StatusBadRequest, "User ID is required", nil)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		utils.ResponseWithError(c, http.StatusBadRequest, "Invalid ID format", nil)
		return
	}

	user, err := queries.FindUserByID(ctx, userID)
	if err != nil {
		log.Errorf("AdminUpdateUser: %v", err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Failed to update user", nil)
		return
	}
	if user == nil {
		utils.ResponseWithError(c, http.StatusNotFound, "User not found", nil)
		return
	}

	if msg := h.applyUserUpdates(user, req.Updates); msg != "" {
		utils.ResponseWithError(c, http.StatusBadRequest, msg, nil)
		return
	}
	if err := queries.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			utils.ResponseWithError(c, http.StatusNotFound, "User not found", nil)
			return
		}
		log.Errorf("AdminUpdateUser: %v", err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Failed to update user", nil)
		return
	}

	metadata, err := db.NewJSONB(gin.H{"updates": req.Updates})
	if err == nil {
		err = queries.CreateAuditLog(ctx, &db.AdminAuditLog{
			AdminUserID: admin.ID,
			Action:      "user_updated",
			TargetType:  "user",
			TargetID:    user.ID.String(),
			Metadata:    metadata,
		})
	}
	if err != nil {
		log.Warnf("AdminUpdateUser: audit log for %s: %v", user.ID.String(), err)
	}

	log.Infof("AdminUpdateUser: %s updated user %s", admin.Email, user.ID.String())
	utils.ResponseWithSuccess(c, http.StatusOK, "User updated successfully", gin.H{"user": newUserResponse(user)})
}

// applyUserUpdates returns a client error message, or "" on success. A tier
// change without explicit limits applies the tier's limits.
func (h *Handlers) applyUserUpdates(user *db.User, updates AdminUserUpdates) string {
	if updates.Name != nil {
		user.Name = strings.TrimSpace(*updates.Name)
	}
	if updates.SubscriptionTier != nil {
		tier := strings.ToUpper(*updates.SubscriptionTier)
		if !h.Plans.ValidTier(tier) {
			return "Invalid subscription tier, expected one of " + strings.Join(h.Plans.TierNames(), ", ")
		}
		if tier != user.SubscriptionTier && updates.UsageLimits == nil {
			user.UsageLimits = h.Plans.LimitsForTier(tier)
		}
		user.SubscriptionTier = tier
	}
	if updates.SubscriptionStatus != nil {
		user.SubscriptionStatus = *updates.SubscriptionStatus
	}
	if updates.UsageLimits != nil {
		user.UsageLimits = *updates.UsageLimits
	}
	if updates.CurrentUsage != nil {
		user.CurrentUsage = *updates.CurrentUsage
	}
	return ""
}
