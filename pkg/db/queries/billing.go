package queries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const subscriptionColumns = `id, user_id, paypal_subscription_id, plan_id, paypal_plan_id, status,
	current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at`

// UpsertSubscription records an activated PayPal subscription. A repeated
// activation for the same PayPal ID refreshes the existing row and keeps its
// owner, which is scanned back into sub.UserID.
func UpsertSubscription(ctx context.Context, sub *db.Subscription) (*db.Subscription, error) {
	query := `
		INSERT INTO subscriptions (user_id, paypal_subscription_id, plan_id, paypal_plan_id, status,
		                           current_period_start, current_period_end, cancel_at_period_end)
		VALUES (:user_id, :paypal_subscription_id, :plan_id, :paypal_plan_id, :status,
		        :current_period_start, :current_period_end, :cancel_at_period_end)
		ON CONFLICT (paypal_subscription_id) DO UPDATE
		SET status = EXCLUDED.status, plan_id = EXCLUDED.plan_id, paypal_plan_id = EXCLUDED.paypal_plan_id,
		    current_period_start = EXCLUDED.current_period_start, current_period_end = EXCLUDED.current_period_end,
		    cancel_at_period_end = FALSE, updated_at = NOW()
		RETURNING id, user_id, created_at, updated_at`

	rows, err := db.DB.NamedQueryContext(ctx, query, sub)
	if err != nil {
		log.Errorf("Error upserting subscription '%s': %v", sub.PaypalSubscriptionID, err)
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, errors.New("no rows returned after subscription upsert")
	}
	if err := rows.StructScan(sub); err != nil {
		return nil, fmt.Errorf("error scanning subscription after upsert: %w", err)
	}
	log.Infof("Subscription %s stored for user %s (plan %s)", sub.PaypalSubscriptionID, sub.UserID.String(), sub.PlanID)
	return sub, nil
}

// RenewSubscription reactivates a known subscription by PayPal ID for a new
// period. An empty plan keeps the stored one. sql.ErrNoRows means the
// subscription is unknown.
func RenewSubscription(ctx context.Context, sub *db.Subscription) error {
	query := `
		UPDATE subscriptions
		SET status = :status,
		    plan_id = COALESCE(NULLIF(:plan_id, ''), plan_id),
		    paypal_plan_id = COALESCE(NULLIF(:paypal_plan_id, ''), paypal_plan_id),
		    current_period_start = :current_period_start, current_period_end = :current_period_end,
		    cancel_at_period_end = FALSE, updated_at = NOW()
		WHERE paypal_subscription_id = :paypal_subscription_id
		RETURNING id, user_id, plan_id, paypal_plan_id, created_at, updated_at`

	rows, err := db.DB.NamedQueryContext(ctx, query, sub)
	if err != nil {
		log.Errorf("Error renewing subscription '%s': %v", sub.PaypalSubscriptionID, err)
		return fmt.Errorf("failed to renew subscription: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		log.Warnf("No subscription with PayPal ID '%s' to renew.", sub.PaypalSubscriptionID)
		return sql.ErrNoRows
	}
	if err := rows.StructScan(sub); err != nil {
		return fmt.Errorf("error scanning subscription after renewal: %w", err)
	}
	log.Infof("Subscription %s renewed for user %s", sub.PaypalSubscriptionID, sub.UserID.String())
	return nil
}

// SetSubscriptionStatus updates a subscription by PayPal ID and returns the
// owning user. sql.ErrNoRows means the subscription is unknown.
func SetSubscriptionStatus(ctx context.Context, paypalID, status string, cancelAtPeriodEnd bool) (uuid.UUID, error) {
	var userID uuid.UUID
	query := `
		UPDATE subscriptions
		SET status = $2, cancel_at_period_end = $3, updated_at = NOW()
		WHERE paypal_subscription_id = $1
		RETURNING user_id`
	if err := db.DB.GetContext(ctx, &userID, query, paypalID, status, cancelAtPeriodEnd); err != nil {
		if err == sql.ErrNoRows {
			log.Warnf("No subscription with PayPal ID '%s' to mark %s.", paypalID, status)
			return uuid.Nil, err
		}
		log.Errorf("Error updating subscription '%s': %v", paypalID, err)
		return uuid.Nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	return userID, nil
}

// FindCurrentSubscription returns the newest subscription of a user, or nil, nil.
func FindCurrentSubscription(ctx context.Context, userID uuid.UUID) (*db.Subscription, error) {
	sub := &db.Subscription{}
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`
	if err := db.DB.GetContext(ctx, sub, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Errorf("Error finding subscription for user '%s': %v", userID.String(), err)
		return nil, fmt.Errorf("error finding subscription: %w", err)
	}
	return sub, nil
}

func CountSubscriptionsByStatus(ctx context.Context, status string) (int, error) {
	var count int
	if err := db.DB.GetContext(ctx, &count, `SELECT COUNT(*) FROM subscriptions WHERE status = $1`, status); err != nil {
		return 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	return count, nil
}

// CreatePayment stores a completed sale. A replayed PayPal payment ID is ignored
// and reported as inserted=false.
func CreatePayment(ctx context.Context, payment *db.Payment) (bool, error) {
	query := `
		INSERT INTO payments (subscription_id, paypal_payment_id, amount, currency, status, payment_date, metadata)
		VALUES (:subscription_id, :paypal_payment_id, :amount, :currency, :status, :payment_date, :metadata)
		ON CONFLICT (paypal_payment_id) DO NOTHING`
	result, err := db.DB.NamedExecContext(ctx, query, payment)
	if err != nil {
		log.Errorf("Error recording payment '%s': %v", payment.PaypalPaymentID, err)
		return false, fmt.Errorf("failed to record payment: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		log.Infof("Payment %s already recorded.", payment.PaypalPaymentID)
		return false, nil
	}
	log.Infof("Payment %s recorded: %.2f %s", payment.PaypalPaymentID, payment.Amount, payment.Currency)
	return true, nil
}

// SumCompletedPaymentsSince totals completed payment amounts on or after since.
func SumCompletedPaymentsSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	query := `SELECT COALESCE(SUM(amount), 0)::float8 FROM payments WHERE status = $1 AND payment_date >= $2`
	if err := db.DB.GetContext(ctx, &total, query, db.PaymentStatusCompleted, since); err != nil {
		return 0, fmt.Errorf("failed to sum payments: %w", err)
	}
	return total, nil
}
