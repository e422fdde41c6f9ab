package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/plutov/paypal/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryClaimer struct {
	claimed  map[string]bool
	released []string
}

func newMemoryClaimer() *memoryClaimer { return &memoryClaimer{claimed: map[string]bool{}} }

func (m *memoryClaimer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if m.claimed[key] {
		return false, nil
	}
	m.claimed[key] = true
	return true, nil
}

func (m *memoryClaimer) Release(ctx context.Context, key string) error {
	delete(m.claimed, key)
	m.released = append(m.released, key)
	return nil
}

type fakePayPalAPI struct {
	created      []paypal.SubscriptionBase
	cancelled    []string
	verifyStatus string
	verifiedBody string
}

func (f *fakePayPalAPI) CreateSubscription(ctx context.Context, sub paypal.SubscriptionBase) (*paypal.SubscriptionDetailResp, error) {
	f.created = append(f.created, sub)
	resp := &paypal.SubscriptionDetailResp{}
	resp.ID = "I-LIVE123"
	resp.Links = []paypal.Link{
		{Rel: "self", Href: "https://api.paypal.com/self"},
		{Rel: "approve", Href: "https://www.paypal.com/approve?token=abc"},
	}
	return resp, nil
}

func (f *fakePayPalAPI) CancelSubscription(ctx context.Context, id, reason string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakePayPalAPI) GetSubscriptionDetails(ctx context.Context, id string) (*paypal.SubscriptionDetailResp, error) {
	return nil, errors.New("not used")
}

func (f *fakePayPalAPI) VerifyWebhookSignature(ctx context.Context, r *http.Request, webhookID string) (*paypal.VerifyWebhookResponse, error) {
	body, _ := io.ReadAll(r.Body)
	f.verifiedBody = string(body)
	return &paypal.VerifyWebhookResponse{VerificationStatus: f.verifyStatus}, nil
}

func newTestPayPalService(t *testing.T, api paypalAPI, events EventClaimer) *PayPalService {
	t.Helper()
	catalog, err := LoadPlanCatalog()
	require.NoError(t, err)
	return &PayPalService{
		api:         api,
		environment: "sandbox",
		catalog:     catalog,
		events:      events,
		now:         func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) },
	}
}

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

func TestDemoCreateSubscription(t *testing.T) {
	svc := newTestPayPalService(t, nil, nil)

	res, err := svc.CreateSubscription(context.Background(), "P-PRO-MONTHLY-001", uuid.New(), "a@b.c")
	require.NoError(t, err)
	assert.Regexp(t, `^I-[0-9A-F]{12}$`, res.SubscriptionID)
	assert.Equal(t, "https://www.sandbox.paypal.com/webapps/billing/subscriptions/subscribe?subscription_id="+res.SubscriptionID, res.ApprovalURL)

	_, err = svc.CreateSubscription(context.Background(), "P-GOLD", uuid.New(), "a@b.c")
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func TestDemoSubscriptionStatus(t *testing.T) {
	svc := newTestPayPalService(t, nil, nil)
	status, err := svc.GetSubscriptionStatus(context.Background(), "I-X")
	require.NoError(t, err)
	assert.Equal(t, "active", status.Status)
	assert.Equal(t, time.Date(2026, 11, 16, 12, 0, 0, 0, time.UTC), status.NextBillingTime)
}

func TestLiveCreateUsesApproveLink(t *testing.T) {
	api := &fakePayPalAPI{}
	svc := newTestPayPalService(t, api, nil)
	userID := uuid.New()

	res, err := svc.CreateSubscription(context.Background(), "P-STARTER-MONTHLY-001", userID, "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, "I-LIVE123", res.SubscriptionID)
	assert.Equal(t, "https://www.paypal.com/approve?token=abc", res.ApprovalURL)
	require.Len(t, api.created, 1)
	assert.Equal(t, userID.String(), api.created[0].CustomID)
	assert.Equal(t, "P-STARTER-MONTHLY-001", api.created[0].PlanID)
}

func TestChangePlanCancelsThenCreates(t *testing.T) {
	api := &fakePayPalAPI{}
	svc := newTestPayPalService(t, api, nil)

	res, err := svc.ChangePlan(context.Background(), "I-OLD", "P-PRO-MONTHLY-001", uuid.New(), "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, []string{"I-OLD"}, api.cancelled)
	assert.Equal(t, "I-LIVE123", res.SubscriptionID)

	_, err = svc.ChangePlan(context.Background(), "I-OLD", "P-NOPE", uuid.New(), "a@b.c")
	assert.ErrorIs(t, err, ErrUnknownPlan)
	assert.Len(t, api.cancelled, 1)
}

func TestWebhookSignatureRejected(t *testing.T) {
	api := &fakePayPalAPI{verifyStatus: "FAILURE"}
	svc := newTestPayPalService(t, api, nil)
	svc.webhookID = "WH-1"
	body := []byte(`{"id":"WH-EVT","event_type":"BILLING.SUBSCRIPTION.CANCELLED","resource":{"id":"I-1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/paypal", nil)

	_, err := svc.ProcessWebhook(context.Background(), req, body)
	assert.ErrorIs(t, err, ErrInvalidWebhookSignature)
	assert.Equal(t, string(body), api.verifiedBody)
}

func TestWebhookUnhandledEvent(t *testing.T) {
	svc := newTestPayPalService(t, nil, newMemoryClaimer())
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	res, err := svc.ProcessWebhook(context.Background(), req, []byte(`{"id":"E1","event_type":"CUSTOMER.DISPUTE.CREATED","resource":{}}`))
	require.NoError(t, err)
	assert.False(t, res.Processed)

	_, err = svc.ProcessWebhook(context.Background(), req, []byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedWebhook)
}

func TestWebhookActivatedUpdatesSubscriptionAndUser(t *testing.T) {
	mock := setupMockDB(t)
	claimer := newMemoryClaimer()
	svc := newTestPayPalService(t, nil, claimer)
	userID := uuid.New()
	now := time.Now()

	mock.ExpectQuery("INSERT INTO subscriptions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "created_at", "updated_at"}).AddRow(uuid.NewString(), userID.String(), now, now))
	mock.ExpectExec("UPDATE users SET subscription_tier").
		WithArgs(userID, TierPro, `{"videos":100,"duration":1800,"fileSize":2048}`, db.SubscriptionStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))

	body := []byte(`{"id":"WH-1","event_type":"BILLING.SUBSCRIPTION.ACTIVATED","resource":{"id":"I-ABC","plan_id":"P-PRO-MONTHLY-001","custom_id":"` + userID.String() + `"}}`)
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	res, err := svc.ProcessWebhook(context.Background(), req, body)
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.NoError(t, mock.ExpectationsWereMet())

	dup, err := svc.ProcessWebhook(context.Background(), req, body)
	require.NoError(t, err)
	assert.False(t, dup.Processed)
}

func TestWebhookActivatedExistingRowKeepsOwner(t *testing.T) {
	mock := setupMockDB(t)
	svc := newTestPayPalService(t, nil, nil)
	owner := uuid.New()
	now := time.Now()

	mock.ExpectQuery("INSERT INTO subscriptions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "created_at", "updated_at"}).AddRow(uuid.NewString(), owner.String(), now, now))
	mock.ExpectExec("UPDATE users SET subscription_tier").
		WithArgs(owner, TierStarter, sqlmock.AnyArg(), db.SubscriptionStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))

	body := []byte(`{"id":"WH-5","event_type":"BILLING.SUBSCRIPTION.ACTIVATED","resource":{"id":"I-ABC","plan_id":"P-STARTER-MONTHLY-001","custom_id":"` + uuid.NewString() + `"}}`)
	res, err := svc.ProcessWebhook(context.Background(), httptest.NewRequest(http.MethodPost, "/", nil), body)
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookActivatedWithoutCustomID(t *testing.T) {
	tests := []struct {
		name      string
		rows      *sqlmock.Rows
		processed bool
		wantErr   error
	}{
		{
			name: "known subscription is renewed",
			rows: sqlmock.NewRows([]string{"id", "user_id", "plan_id", "paypal_plan_id", "created_at", "updated_at"}).
				AddRow(uuid.NewString(), "7b0f8a4e-2f59-4d1c-9a57-0b1c2d3e4f50", "P-PRO-MONTHLY-001", "P-PRO-MONTHLY-001", time.Now(), time.Now()),
			processed: true,
		},
		{
			name:    "unknown subscription is rejected",
			rows:    sqlmock.NewRows([]string{"id", "user_id", "plan_id", "paypal_plan_id", "created_at", "updated_at"}),
			wantErr: ErrMalformedWebhook,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := setupMockDB(t)
			svc := newTestPayPalService(t, nil, nil)

			mock.ExpectQuery("UPDATE subscriptions\\s+SET status").
				WithArgs(db.SubscriptionStatusActive, "", "", sqlmock.AnyArg(), sqlmock.AnyArg(), "I-EXISTING").
				WillReturnRows(tt.rows)
			if tt.processed {
				mock.ExpectExec("UPDATE users SET subscription_tier").
					WithArgs("7b0f8a4e-2f59-4d1c-9a57-0b1c2d3e4f50", TierPro, sqlmock.AnyArg(), db.SubscriptionStatusActive).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))
			}

			body := []byte(`{"id":"WH-6","event_type":"BILLING.SUBSCRIPTION.ACTIVATED","resource":{"id":"I-EXISTING"}}`)
			res, err := svc.ProcessWebhook(context.Background(), httptest.NewRequest(http.MethodPost, "/", nil), body)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.processed, res.Processed)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestWebhookSuspendedMarksSubscriptionAndUser(t *testing.T) {
	mock := setupMockDB(t)
	svc := newTestPayPalService(t, nil, newMemoryClaimer())
	userID := uuid.New()

	mock.ExpectQuery("UPDATE subscriptions").
		WithArgs("I-ABC", db.SubscriptionStatusSuspended, false).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(userID.String()))
	mock.ExpectExec("UPDATE users SET subscription_status = \\$2").
		WithArgs(userID, db.SubscriptionStatusSuspended).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO notifications").
		WithArgs(userID, "billing", "Subscription suspended", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	body := []byte(`{"id":"WH-7","event_type":"BILLING.SUBSCRIPTION.SUSPENDED","resource":{"id":"I-ABC"}}`)
	res, err := svc.ProcessWebhook(context.Background(), httptest.NewRequest(http.MethodPost, "/", nil), body)
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookFailureReleasesClaim(t *testing.T) {
	mock := setupMockDB(t)
	claimer := newMemoryClaimer()
	svc := newTestPayPalService(t, nil, claimer)

	mock.ExpectQuery("UPDATE subscriptions").WillReturnError(errors.New("connection reset"))

	body := []byte(`{"id":"WH-2","event_type":"BILLING.SUBSCRIPTION.SUSPENDED","resource":{"id":"I-ABC"}}`)
	_, err := svc.ProcessWebhook(context.Background(), httptest.NewRequest(http.MethodPost, "/", nil), body)
	require.Error(t, err)
	assert.Equal(t, []string{"paypal:webhook:WH-2"}, claimer.released)
	assert.False(t, claimer.claimed["paypal:webhook:WH-2"])
}

func TestWebhookCancelledUnknownSubscription(t *testing.T) {
	mock := setupMockDB(t)
	svc := newTestPayPalService(t, nil, nil)
	mock.ExpectQuery("UPDATE subscriptions").
		WithArgs("I-GONE", db.SubscriptionStatusCancelled, true).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	body := []byte(`{"id":"WH-3","event_type":"BILLING.SUBSCRIPTION.CANCELLED","resource":{"id":"I-GONE"}}`)
	res, err := svc.ProcessWebhook(context.Background(), httptest.NewRequest(http.MethodPost, "/", nil), body)
	require.NoError(t, err)
	assert.False(t, res.Processed)
}

func TestWebhookPaymentCompleted(t *testing.T) {
	mock := setupMockDB(t)
	svc := newTestPayPalService(t, nil, nil)
	mock.ExpectExec("INSERT INTO payments").
		WithArgs("I-ABC", "PAY-9", 45.0, "USD", db.PaymentStatusCompleted,
			time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC), `{"payerEmail":"payer@example.com","transactionId":"PAY-9"}`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	body := []byte(`{"id":"WH-4","event_type":"PAYMENT.SALE.COMPLETED","resource":{"id":"PAY-9","billing_agreement_id":"I-ABC","create_time":"2026-10-01T08:30:00Z","amount":{"total":"45.00","currency":"USD"},"payer":{"payer_info":{"email":"payer@example.com"}}}}`)
	res, err := svc.ProcessWebhook(context.Background(), httptest.NewRequest(http.MethodPost, "/", nil), body)
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
