package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/animagenius/animagenius-api/pkg/db/queries"
	"github.com/animagenius/animagenius-api/pkg/services"
	"github.com/animagenius/animagenius-api/pkg/utils"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost  = 12
	trialPeriod = 7 * 24 * time.Hour
)

type SignupRequest struct {
	Name     string `json:"name" binding:"required,min=2"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Plan     string `json:"plan" binding:"omitempty,oneof=FREE STARTER PRO ENTERPRISE"`
}

type SigninRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type authResponse struct {
	User  UserResponse `json:"user"`
	Token string       `json:"token"`
}

func (h *Handlers) Signup(c *gin.Context) {
	ctx := c.Request.Context()
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debugf("Signup: Invalid request body: %v", err)
		utils.ResponseWithError(c, http.StatusBadRequest, "Invalid input data", err.Error())
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Plan == "" {
		req.Plan = services.TierFree
	}

	existing, err := queries.FindUserByEmail(ctx, req.Email)
	if err != nil {
		log.Errorf("Signup: Error finding user by email '%s': %v", req.Email, err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Internal server error", nil)
		return
	}
	if existing != nil {
		log.Debugf("Signup: User with email '%s' already exists.", req.Email)
		utils.ResponseWithError(c, http.StatusBadRequest, "User with this email already exists", nil)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		log.Errorf("Signup: Error hashing password: %v", err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Internal server error", nil)
		return
	}

	user := &db.User{
		Name:               strings.TrimSpace(req.Name),
		Email:              req.Email,
		PasswordHash:       string(hashedPassword),
		SubscriptionTier:   req.Plan,
		SubscriptionStatus: db.SubscriptionStatusActive,
		UsageLimits:        h.Plans.LimitsForTier(req.Plan),
	}
	if req.Plan != services.TierFree {
		user.SubscriptionStatus = db.SubscriptionStatusTrialing
		user.TrialEndsAt = sql.NullTime{Time: h.now().Add(trialPeriod).UTC(), Valid: true}
	}

	if _, err := queries.CreateUser(ctx, user); err != nil {
		if errors.Is(err, queries.ErrDuplicateEmail) {
			utils.ResponseWithError(c, http.StatusBadRequest, "User with this email already exists", nil)
			return
		}
		log.Errorf("Signup: Error creating user: %v", err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Internal server error", nil)
		return
	}

	token, err := h.JWT.GenerateToken(user.ID, user.Email, services.RoleUser)
	if err != nil {
		log.Errorf("Signup: Failed to generate JWT token for user %s: %v", user.Email, err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Failed to generate authentication token", nil)
		return
	}

	if err := queries.RecordUsage(ctx, user.ID, "user_signup", gin.H{"plan": req.Plan}); err != nil {
		log.Warnf("Signup: %v", err)
	}
	if err := queries.CreateNotification(ctx, user.ID, "success", "Welcome to AnimaGenius!", welcomeMessage(req.Plan)); err != nil {
		log.Warnf("Signup: %v", err)
	}

	log.Infof("Signup: user %s registered on %s", user.Email, req.Plan)
	utils.ResponseWithSuccess(c, http.StatusCreated, "User created successfully", authResponse{
		User:  newUserResponse(user),
		Token: token,
	})
}

func welcomeMessage(plan string) string {
	msg := fmt.Sprintf("Your %s account has been created successfully.", plan)
	if plan != services.TierFree {
		msg += " Your 7-day trial starts now."
	}
	return msg
}

func (h *Handlers) Signin(c *gin.Context) {
	ctx := c.Request.Context()
	var req SigninRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debugf("Signin: Invalid request body: %v", err)
		utils.ResponseWithError(c, http.StatusBadRequest, "Invalid input data", err.Error())
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	user, err := queries.FindUserByEmail(ctx, req.Email)
	if err != nil {
		log.Errorf("Signin: Error finding user by email: %v", err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Login failed", nil)
		return
	}
	if user == nil {
		log.Debugf("Signin: User with email '%s' not found.", req.Email)
		utils.ResponseWithError(c, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		log.Debugf("Signin: Invalid password for user '%s'.", req.Email)
		utils.ResponseWithError(c, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	token, err := h.JWT.GenerateToken(user.ID, user.Email, services.RoleUser)
	if err != nil {
		log.Errorf("Signin: Failed to generate JWT token for user %s: %v", user.Email, err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Failed to generate authentication token", nil)
		return
	}

	if err := queries.TouchUserLogin(ctx, user.ID); err != nil {
		log.Warnf("Signin: %v", err)
	} else {
		user.LastLoginAt = sql.NullTime{Time: h.now().UTC(), Valid: true}
	}

	log.Infof("Signin: User %s logged in successfully.", user.Email)
	utils.ResponseWithSuccess(c, http.StatusOK, "Login successful", authResponse{
		User:  newUserResponse(user),
		Token: token,
	})
}

func (h *Handlers) GetProfile(c *gin.Context) {
	user, ok := requireUser(c, "GetProfile")
	if !ok {
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Profile retrieved successfully", newUserResponse(user))
}

type notificationResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handlers) ListNotifications(c *gin.Context) {
	user, ok := requireUser(c, "ListNotifications")
	if !ok {
		return
	}
	notifications, err := queries.ListNotifications(c.Request.Context(), user.ID)
	if err != nil {
		log.Errorf("ListNotifications: %v", err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Failed to retrieve notifications", nil)
		return
	}

	resp := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		resp = append(resp, notificationResponse{
			ID:        n.ID.String(),
			Type:      n.Type,
			Title:     n.Title,
			Message:   n.Message,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
		})
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Notifications retrieved successfully", resp)
}

func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	user, ok := requireUser(c, "MarkNotificationRead")
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "MarkNotificationRead")
	if !ok {
		return
	}

	found, err := queries.MarkNotificationRead(c.Request.Context(), id, user.ID)
	if err != nil {
		log.Errorf("MarkNotificationRead: %v", err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Failed to update notification", nil)
		return
	}
	if !found {
		utils.ResponseWithError(c, http.StatusNotFound, "Notification not found", nil)
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Notification marked as read", nil)
}
