package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animagenius/animagenius-api/pkg/config"
	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/animagenius/animagenius-api/pkg/db/queries"
	"github.com/google/uuid"
	"github.com/plutov/paypal/v4"
	log "github.com/sirupsen/logrus"
)

const (
	EventSubscriptionActivated = "BILLING.SUBSCRIPTION.ACTIVATED"
	EventSubscriptionCancelled = "BILLING.SUBSCRIPTION.CANCELLED"
	EventSubscriptionSuspended = "BILLING.SUBSCRIPTION.SUSPENDED"
	EventPaymentSaleCompleted  = "PAYMENT.SALE.COMPLETED"

	webhookEventTTL = 72 * time.Hour
	billingPeriod   = 30 * 24 * time.Hour
	brandName       = "AnimaGenius"
)

var (
	ErrUnknownPlan             = errors.New("Invalid plan ID")
	ErrInvalidWebhookSignature = errors.New("Invalid webhook signature")
	ErrMalformedWebhook        = errors.New("Malformed webhook event")
)

// paypalAPI is the subset of the PayPal SDK client used here.
type paypalAPI interface {
	CreateSubscription(ctx context.Context, newSubscription paypal.SubscriptionBase) (*paypal.SubscriptionDetailResp, error)
	CancelSubscription(ctx context.Context, subscriptionID, cancelReason string) error
	GetSubscriptionDetails(ctx context.Context, subscriptionID string) (*paypal.SubscriptionDetailResp, error)
	VerifyWebhookSignature(ctx context.Context, httpReq *http.Request, webhookID string) (*paypal.VerifyWebhookResponse, error)
}

// EventClaimer deduplicates webhook deliveries.
type EventClaimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type SubscriptionResult struct {
	SubscriptionID string `json:"subscriptionId"`
	ApprovalURL    string `json:"approvalUrl"`
}

type SubscriptionStatus struct {
	Status          string    `json:"status"`
	NextBillingTime time.Time `json:"nextBillingTime"`
}

type WebhookResult struct {
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
	Processed bool   `json:"processed"`
}

type webhookEvent struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime string          `json:"create_time"`
	Resource   json.RawMessage `json:"resource"`
}

type subscriptionResource struct {
	ID       string `json:"id"`
	PlanID   string `json:"plan_id"`
	CustomID string `json:"custom_id"`
	Status   string `json:"status"`
}

type saleResource struct {
	ID                 string `json:"id"`
	BillingAgreementID string `json:"billing_agreement_id"`
	CreateTime         string `json:"create_time"`
	Amount             struct {
		Total    string `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
	Payer struct {
		PayerInfo struct {
			Email string `json:"email"`
		} `json:"payer_info"`
	} `json:"payer"`
}

// PayPalService manages subscriptions. Without API credentials it runs in
// demo mode and fabricates subscription IDs.
type PayPalService struct {
	api         paypalAPI
	environment string
	webhookID   string
	returnURL   string
	cancelURL   string
	catalog     *PlanCatalog
	events      EventClaimer
	now         func() time.Time
}

func NewPayPalService(cfg *config.Config, catalog *PlanCatalog, events EventClaimer) (*PayPalService, error) {
	svc := &PayPalService{
		environment: cfg.PayPalEnvironment,
		webhookID:   cfg.PayPalWebhookID,
		returnURL:   cfg.PayPalReturnURL,
		cancelURL:   cfg.PayPalCancelURL,
		catalog:     catalog,
		events:      events,
		now:         time.Now,
	}
	if !cfg.PayPalLive() {
		log.Warn("NewPayPalService: PayPal credentials not set, running in demo mode")
		return svc, nil
	}

	apiBase := paypal.APIBaseSandBox
	if cfg.PayPalEnvironment == "production" {
		apiBase = paypal.APIBaseLive
	}
	client, err := paypal.NewClient(cfg.PayPalClientID, cfg.PayPalClientSecret, apiBase)
	if err != nil {
		return nil, fmt.Errorf("failed to create PayPal client: %w", err)
	}
	svc.api = client
	log.Infof("NewPayPalService: using PayPal %s API", cfg.PayPalEnvironment)
	return svc, nil
}

// DemoMode reports whether PayPal calls are simulated.
func (s *PayPalService) DemoMode() bool { return s.api == nil }

func (s *PayPalService) GetPlans() []Plan { return s.catalog.Plans }

func (s *PayPalService) CreateSubscription(ctx context.Context, planID string, userID uuid.UUID, email string) (*SubscriptionResult, error) {
	if s.catalog.FindPlan(planID) == nil {
		return nil, ErrUnknownPlan
	}

	if s.DemoMode() {
		id := "I-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
		log.Infof("CreateSubscription: demo subscription %s for %s on %s", id, email, planID)
		return &SubscriptionResult{SubscriptionID: id, ApprovalURL: s.approvalURL(id)}, nil
	}

	resp, err := s.api.CreateSubscription(ctx, paypal.SubscriptionBase{
		PlanID:   planID,
		CustomID: userID.String(),
		ApplicationContext: &paypal.ApplicationContext{
			BrandName: brandName,
			ReturnURL: s.returnURL,
			CancelURL: s.cancelURL,
		},
	})
	if err != nil {
		log.Errorf("CreateSubscription: PayPal rejected %s for %s: %v", planID, email, err)
		return nil, fmt.Errorf("subscription creation failed: %w", err)
	}

	result := &SubscriptionResult{SubscriptionID: resp.ID}
	for _, link := range resp.Links {
		if link.Rel == "approve" {
			result.ApprovalURL = link.Href
		}
	}
	if result.ApprovalURL == "" {
		result.ApprovalURL = s.approvalURL(resp.ID)
	}
	log.Infof("CreateSubscription: PayPal subscription %s created for %s", resp.ID, email)
	return result, nil
}

func (s *PayPalService) CancelSubscription(ctx context.Context, subscriptionID, reason string) error {
	if s.DemoMode() {
		log.Infof("CancelSubscription: demo cancel of %s", subscriptionID)
		return nil
	}
	if reason == "" {
		reason = "Cancelled by customer"
	}
	if err := s.api.CancelSubscription(ctx, subscriptionID, reason); err != nil {
		log.Errorf("CancelSubscription: %s: %v", subscriptionID, err)
		return fmt.Errorf("cancellation failed: %w", err)
	}
	return nil
}

// ChangePlan cancels the current subscription and starts one on newPlanID.
func (s *PayPalService) ChangePlan(ctx context.Context, subscriptionID, newPlanID string, userID uuid.UUID, email string) (*SubscriptionResult, error) {
	if s.catalog.FindPlan(newPlanID) == nil {
		return nil, ErrUnknownPlan
	}
	if subscriptionID != "" {
		if err := s.CancelSubscription(ctx, subscriptionID, "Plan change"); err != nil {
			return nil, err
		}
	}
	return s.CreateSubscription(ctx, newPlanID, userID, email)
}

func (s *PayPalService) GetSubscriptionStatus(ctx context.Context, subscriptionID string) (*SubscriptionStatus, error) {
	if s.DemoMode() {
		return &SubscriptionStatus{Status: db.SubscriptionStatusActive, NextBillingTime: s.now().Add(billingPeriod).UTC()}, nil
	}
	resp, err := s.api.GetSubscriptionDetails(ctx, subscriptionID)
	if err != nil {
		log.Errorf("GetSubscriptionStatus: %s: %v", subscriptionID, err)
		return nil, fmt.Errorf("status check failed: %w", err)
	}
	return &SubscriptionStatus{
		Status:          strings.ToLower(string(resp.SubscriptionStatus)),
		NextBillingTime: resp.BillingInfo.NextBillingTime,
	}, nil
}

// ProcessWebhook verifies and applies one PayPal webhook delivery. Replayed
// event IDs and unhandled event types return Processed false. When applying
// the event fails the claim is released so PayPal's retry is processed.
func (s *PayPalService) ProcessWebhook(ctx context.Context, r *http.Request, body []byte) (*WebhookResult, error) {
	if err := s.verifySignature(ctx, r, body); err != nil {
		return nil, err
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil || event.EventType == "" {
		log.Debugf("ProcessWebhook: unparseable event: %v", err)
		return nil, ErrMalformedWebhook
	}
	result := &WebhookResult{EventID: event.ID, EventType: event.EventType}

	switch event.EventType {
	case EventSubscriptionActivated, EventSubscriptionCancelled, EventSubscriptionSuspended, EventPaymentSaleCompleted:
	default:
		log.Infof("ProcessWebhook: unhandled event type %s", event.EventType)
		return result, nil
	}

	claimKey := "paypal:webhook:" + event.ID
	if s.events != nil && event.ID != "" {
		claimed, err := s.events.Claim(ctx, claimKey, webhookEventTTL)
		if err != nil {
			log.Warnf("ProcessWebhook: idempotency store unavailable, processing %s anyway: %v", event.ID, err)
		} else if !claimed {
			log.Infof("ProcessWebhook: duplicate delivery of %s ignored", event.ID)
			return result, nil
		}
	}

	processed, err := s.dispatch(ctx, event)
	if err != nil {
		if s.events != nil && event.ID != "" {
			if relErr := s.events.Release(context.WithoutCancel(ctx), claimKey); relErr != nil {
				log.Warnf("ProcessWebhook: failed to release claim on %s: %v", event.ID, relErr)
			}
		}
		return nil, err
	}
	result.Processed = processed
	return result, nil
}

func (s *PayPalService) verifySignature(ctx context.Context, r *http.Request, body []byte) error {
	if s.DemoMode() || s.webhookID == "" {
		return nil
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	resp, err := s.api.VerifyWebhookSignature(ctx, r, s.webhookID)
	if err != nil {
		log.Warnf("verifySignature: PayPal verification call failed: %v", err)
		return ErrInvalidWebhookSignature
	}
	if resp.VerificationStatus != "SUCCESS" {
		log.Warnf("verifySignature: verification status %q", resp.VerificationStatus)
		return ErrInvalidWebhookSignature
	}
	return nil
}

func (s *PayPalService) dispatch(ctx context.Context, event webhookEvent) (bool, error) {
	switch event.EventType {
	case EventPaymentSaleCompleted:
		var sale saleResource
		if err := json.Unmarshal(event.Resource, &sale); err != nil || sale.ID == "" {
			return false, ErrMalformedWebhook
		}
		return s.handlePaymentCompleted(ctx, sale)
	default:
		var sub subscriptionResource
		if err := json.Unmarshal(event.Resource, &sub); err != nil || sub.ID == "" {
			return false, ErrMalformedWebhook
		}
		switch event.EventType {
		case EventSubscriptionActivated:
			return s.handleSubscriptionActivated(ctx, sub)
		case EventSubscriptionCancelled:
			return s.handleSubscriptionEnded(ctx, sub, db.SubscriptionStatusCancelled, true)
		default:
			return s.handleSubscriptionEnded(ctx, sub, db.SubscriptionStatusSuspended, false)
		}
	}
}

// handleSubscriptionActivated stores the subscription and upgrades its owner.
// custom_id names the owner of a new subscription. Without it only a known
// subscription can be reactivated, and the owner comes from the stored row.
func (s *PayPalService) handleSubscriptionActivated(ctx context.Context, resource subscriptionResource) (bool, error) {
	now := s.now().UTC()
	sub := &db.Subscription{
		PaypalSubscriptionID: resource.ID,
		PlanID:               resource.PlanID,
		PaypalPlanID:         resource.PlanID,
		Status:               db.SubscriptionStatusActive,
		CurrentPeriodStart:   now,
		CurrentPeriodEnd:     now.Add(billingPeriod),
	}

	if userID, err := uuid.Parse(resource.CustomID); err == nil {
		sub.UserID = userID
		if _, err := queries.UpsertSubscription(ctx, sub); err != nil {
			return false, err
		}
	} else {
		err := queries.RenewSubscription(ctx, sub)
		if errors.Is(err, sql.ErrNoRows) {
			log.Warnf("handleSubscriptionActivated: unknown subscription %s has no usable custom_id %q", resource.ID, resource.CustomID)
			return false, fmt.Errorf("%w: unknown subscription without a user id", ErrMalformedWebhook)
		}
		if err != nil {
			return false, err
		}
	}

	tier := ""
	var limits *db.UsageQuota
	if plan := s.catalog.FindPlan(sub.PlanID); plan != nil {
		tier = plan.Tier
		quota := s.catalog.LimitsForTier(tier)
		limits = &quota
	} else {
		log.Warnf("handleSubscriptionActivated: unknown plan %s, keeping user tier", sub.PlanID)
	}
	if err := queries.UpdateUserSubscription(ctx, sub.UserID, tier, limits, db.SubscriptionStatusActive); err != nil {
		return false, err
	}
	notify(ctx, sub.UserID, "billing", "Subscription activated", "Your subscription is now active. Enjoy your new plan!")

	log.Infof("handleSubscriptionActivated: %s active for user %s", resource.ID, sub.UserID.String())
	return true, nil
}

func (s *PayPalService) handleSubscriptionEnded(ctx context.Context, resource subscriptionResource, status string, cancelAtPeriodEnd bool) (bool, error) {
	userID, err := queries.SetSubscriptionStatus(ctx, resource.ID, status, cancelAtPeriodEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := queries.UpdateUserSubscription(ctx, userID, "", nil, status); err != nil {
		return false, err
	}
	notify(ctx, userID, "billing", "Subscription "+status, fmt.Sprintf("Your subscription %s is now %s.", resource.ID, status))

	log.Infof("handleSubscriptionEnded: %s is %s", resource.ID, status)
	return true, nil
}

func (s *PayPalService) handlePaymentCompleted(ctx context.Context, sale saleResource) (bool, error) {
	amount, err := strconv.ParseFloat(sale.Amount.Total, 64)
	if err != nil {
		return false, fmt.Errorf("%w: amount %q", ErrMalformedWebhook, sale.Amount.Total)
	}
	paidAt, err := time.Parse(time.RFC3339, sale.CreateTime)
	if err != nil {
		paidAt = s.now().UTC()
	}
	metadata, err := db.NewJSONB(map[string]string{
		"transactionId": sale.ID,
		"payerEmail":    sale.Payer.PayerInfo.Email,
	})
	if err != nil {
		return false, err
	}

	inserted, err := queries.CreatePayment(ctx, &db.Payment{
		SubscriptionID:  sale.BillingAgreementID,
		PaypalPaymentID: sale.ID,
		Amount:          amount,
		Currency:        sale.Amount.Currency,
		Status:          db.PaymentStatusCompleted,
		PaymentDate:     paidAt,
		Metadata:        metadata,
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (s *PayPalService) approvalURL(subscriptionID string) string {
	host := "www.paypal.com"
	if s.environment != "production" {
		host = "www.sandbox.paypal.com"
	}
	return fmt.Sprintf("https://%s/webapps/billing/subscriptions/subscribe?subscription_id=%s", host, subscriptionID)
}

// notify writes a user notification; failures are logged only.
func notify(ctx context.Context, userID uuid.UUID, kind, title, message string) {
	if err := queries.CreateNotification(ctx, userID, kind, title, message); err != nil {
		log.Warnf("notify: %v", err)
	}
}
