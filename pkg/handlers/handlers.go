package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/animagenius/animagenius-api/pkg/config"
	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/animagenius/animagenius-api/pkg/middleware"
	"github.com/animagenius/animagenius-api/pkg/services"
	"github.com/animagenius/animagenius-api/pkg/storage"
	"github.com/animagenius/animagenius-api/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Pinger is a dependency that can report its health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the dependencies shared by the route handlers.
type Handlers struct {
	Config *config.Config
	JWT    *services.JWTService
	Plans  *services.PlanCatalog
	AI     *services.AIService
	PayPal *services.PayPalService
	Store  storage.ObjectStore
	// Redis is nil when REDIS_URL is not configured.
	Redis Pinger

	now func() time.Time
}

func NewHandlers(cfg *config.Config, jwt *services.JWTService, plans *services.PlanCatalog, ai *services.AIService,
	paypal *services.PayPalService, store storage.ObjectStore, redis Pinger) *Handlers {
	return &Handlers{
		Config: cfg,
		JWT:    jwt,
		Plans:  plans,
		AI:     ai,
		PayPal: paypal,
		Store:  store,
		Redis:  redis,
		now:    time.Now,
	}
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID                 uuid.UUID     `json:"id"`
	Name               string        `json:"name"`
	Email              string        `json:"email"`
	SubscriptionTier   string        `json:"subscriptionTier"`
	SubscriptionStatus string        `json:"subscriptionStatus"`
	UsageLimits        db.UsageQuota `json:"usageLimits"`
	CurrentUsage       db.UsageQuota `json:"currentUsage"`
	TrialEndsAt        *time.Time    `json:"trialEndsAt"`
	LastLoginAt        *time.Time    `json:"lastLoginAt,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
}

func newUserResponse(user *db.User) UserResponse {
	return UserResponse{
		ID:                 user.ID,
		Name:               user.Name,
		Email:              user.Email,
		SubscriptionTier:   user.SubscriptionTier,
		SubscriptionStatus: user.SubscriptionStatus,
		UsageLimits:        user.UsageLimits,
		CurrentUsage:       user.CurrentUsage,
		TrialEndsAt:        nullTime(user.TrialEndsAt.Time, user.TrialEndsAt.Valid),
		LastLoginAt:        nullTime(user.LastLoginAt.Time, user.LastLoginAt.Valid),
		CreatedAt:          user.CreatedAt,
	}
}

func nullTime(t time.Time, valid bool) *time.Time {
	if !valid {
		return nil
	}
	return &t
}

// requireUser returns the authenticated user or writes a 500 when the
// middleware did not run.
func requireUser(c *gin.Context, caller string) (*db.User, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		log.Errorf("%s: current user not found in context.", caller)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Authentication error: user session missing", nil)
		return nil, false
	}
	return user, true
}

func parseIDParam(c *gin.Context, caller string) (uuid.UUID, bool) {
	raw := c.Param("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		log.Debugf("%s: invalid ID format '%s': %v", caller, raw, err)
		utils.ResponseWithError(c, http.StatusBadRequest, "Invalid ID format", nil)
		return uuid.Nil, false
	}
	return id, true
}
