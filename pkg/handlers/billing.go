package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/animagenius/animagenius-api/pkg/db/queries"
	"github.com/animagenius/animagenius-api/pkg/services"
	"github.com/animagenius/animagenius-api/pkg/utils"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type SubscribeRequest struct {
	PlanID string `json:"planId" binding:"required"`
}

type CancelRequest struct {
	Reason string `json:"reason" binding:"max=128"`
}

func (h *Handlers) GetPlans(c *gin.Context) {
	utils.ResponseWithSuccess(c, http.StatusOK, "Plans retrieved successfully", gin.H{
		"plans":    h.PayPal.GetPlans(),
		"demoMode": h.PayPal.DemoMode(),
	})
}

func (h *Handlers) Subscribe(c *gin.Context) {
	user, ok := requireUser(c, "Subscribe")
	if !ok {
		return
	}
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debugf("Subscribe: Invalid request body: %v", err)
		utils.ResponseWithError(c, http.StatusBadRequest, "Plan ID is required", err.Error())
		return
	}

	result, err := h.PayPal.CreateSubscription(c.Request.Context(), req.PlanID, user.ID, user.Email)
	if err != nil {
		if errors.Is(err, services.ErrUnknownPlan) {
			utils.ResponseWithError(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		log.Errorf("Subscribe: %s on %s: %v", user.Email, req.PlanID, err)
		utils.ResponseWithError(c, http.StatusBadGateway, "Failed to create subscription", nil)
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Subscription created, awaiting approval", result)
}

// activeSubscription returns the user's newest subscription when it is still
// billing, else nil.
func activeSubscription(c *gin.Context, user *db.User) (*db.Subscription, error) {
	sub, err := queries.FindCurrentSubscription(c.Request.Context(), user.ID)
	if err != nil || sub == nil {
		return nil, err
	}
	if sub.Status != db.SubscriptionStatusActive && sub.Status != db.SubscriptionStatusTrialing {
		return nil, nil
	}
	return sub, nil
}

func (h *Handlers) CancelSubscription(c *gin.Context) {
	ctx := c.Request.Context()
	user, ok := requireUser(c, "CancelSubscription")
	if !ok {
		return
	}
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.ResponseWithError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	sub, err := activeSubscription(c, user)
	if err != nil {
		log.Errorf("CancelSubscription: %v", err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Failed to cancel subscription", nil)
		return
	}
	if sub == nil {
		utils.ResponseWithError(c, http.StatusNotFound, "No active subscription", nil)
		return
	}

	if err := h.PayPal.CancelSubscription(ctx, sub.PaypalSubscriptionID, req.Reason); err != nil {
		log.Errorf("CancelSubscription: %s: %v", sub.PaypalSubscriptionID, err)
		utils.ResponseWithError(c, http.StatusBadGateway, "Failed to cancel subscription", nil)
		return
	}
	if _, err := queries.SetSubscriptionStatus(ctx, sub.PaypalSubscriptionID, db.SubscriptionStatusCancelled, true); err != nil {
		log.Errorf("CancelSubscription: %v", err)
	}
	if err := queries.UpdateUserSubscription(ctx, user.ID, "", nil, db.SubscriptionStatusCancelled); err != nil {
		log.Errorf("CancelSubscription: %v", err)
	}

	log.Infof("CancelSubscription: %s cancelled %s", user.Email, sub.PaypalSubscriptionID)
	utils.ResponseWithSuccess(c, http.StatusOK, "Subscription cancelled", gin.H{"subscriptionId": sub.PaypalSubscriptionID})
}

func (h *Handlers) ChangePlan(c *gin.Context) {
	ctx := c.Request.Context()
	user, ok := requireUser(c, "ChangePlan")
	if !ok {
		return
	}
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ResponseWithError(c, http.StatusBadRequest, "Plan ID is required", err.Error())
		return
	}

	sub, err := activeSubscription(c, user)
	if err != nil {
		log.Errorf("ChangePlan: %v", err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Failed to change plan", nil)
		return
	}
	currentID := ""
	if sub != nil {
		if sub.PlanID == req.PlanID {
			utils.ResponseWithError(c, http.StatusBadRequest, "Already subscribed to this plan", nil)
			return
		}
		currentID = sub.PaypalSubscriptionID
	}

	result, err := h.PayPal.ChangePlan(ctx, currentID, req.PlanID, user.ID, user.Email)
	if err != nil {
		if errors.Is(err, services.ErrUnknownPlan) {
			utils.ResponseWithError(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		log.Errorf("ChangePlan: %s to %s: %v", user.Email, req.PlanID, err)
		utils.ResponseWithError(c, http.StatusBadGateway, "Failed to change plan", nil)
		return
	}
	if currentID != "" {
		if _, err := queries.SetSubscriptionStatus(ctx, currentID, db.SubscriptionStatusCancelled, false); err != nil {
			log.Errorf("ChangePlan: %v", err)
		}
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Plan change started, awaiting approval", result)
}

func (h *Handlers) BillingStatus(c *gin.Context) {
	ctx := c.Request.Context()
	user, ok := requireUser(c, "BillingStatus")
	if !ok {
		return
	}

	sub, err := queries.FindCurrentSubscription(ctx, user.ID)
	if err != nil {
		log.Errorf("BillingStatus: %v", err)
		utils.ResponseWithError(c, http.StatusInternalServerError, "Failed to retrieve billing status", nil)
		return
	}

	resp := gin.H{
		"subscriptionTier":   user.SubscriptionTier,
		"subscriptionStatus": user.SubscriptionStatus,
		"usageLimits":        user.UsageLimits,
		"currentUsage":       user.CurrentUsage,
		"subscription":       nil,
	}
	if sub != nil {
		details := gin.H{
			"id":                 sub.PaypalSubscriptionID,
			"planId":             sub.PlanID,
			"status":             sub.Status,
			"currentPeriodStart": sub.CurrentPeriodStart,
			"currentPeriodEnd":   sub.CurrentPeriodEnd,
			"cancelAtPeriodEnd":  sub.CancelAtPeriodEnd,
		}
		if sub.Status == db.SubscriptionStatusActive {
			remote, err := h.PayPal.GetSubscriptionStatus(ctx, sub.PaypalSubscriptionID)
			if err != nil {
				log.Warnf("BillingStatus: PayPal status of %s unavailable: %v", sub.PaypalSubscriptionID, err)
			} else {
				details["paypalStatus"] = remote.Status
				details["nextBillingTime"] = remote.NextBillingTime
			}
		}
		resp["subscription"] = details
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Billing status retrieved successfully", resp)
}
