package queries

import (
	"context"
	"fmt"

	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RecordUsage appends a usage analytics event. metadata may be nil.
func RecordUsage(ctx context.Context, userID uuid.UUID, action string, metadata interface{}) error {
	var payload db.JSONB
	if metadata != nil {
		var err error
		if payload, err = db.NewJSONB(metadata); err != nil {
			return fmt.Errorf("failed to encode usage metadata: %w", err)
		}
	}
	_, err := db.DB.ExecContext(ctx,
		`INSERT INTO usage_analytics (user_id, action, metadata) VALUES ($1, $2, $3)`,
		userID, action, payload)
	if err != nil {
		log.Errorf("Error recording usage '%s' for user '%s': %v", action, userID.String(), err)
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

func CreateNotification(ctx context.Context, userID uuid.UUID, kind, title, message string) error {
	_, err := db.DB.ExecContext(ctx,
		`INSERT INTO notifications (user_id, type, title, message) VALUES ($1, $2, $3, $4)`,
		userID, kind, title, message)
	if err != nil {
		log.Errorf("Error creating notification for user '%s': %v", userID.String(), err)
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListNotifications returns the 50 newest notifications of a user.
func ListNotifications(ctx context.Context, userID uuid.UUID) ([]db.Notification, error) {
	notifications := []db.Notification{}
	query := `
		SELECT id, user_id, type, title, message, read, created_at
		FROM notifications WHERE user_id = $1
		ORDER BY created_at DESC LIMIT 50`
	if err := db.DB.SelectContext(ctx, &notifications, query, userID); err != nil {
		log.Errorf("Error listing notifications for user '%s': %v", userID.String(), err)
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

// MarkNotificationRead reports false when no notification of the user has the ID.
func MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	result, err := db.DB.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	return rowsAffected > 0, nil
}
