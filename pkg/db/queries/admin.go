package queries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const adminColumns = `id, email, name, api_key, role, last_login_at, created_at`

// FindAdminByAPIKey returns nil, nil when the key is unknown.
func FindAdminByAPIKey(ctx context.Context, apiKey string) (*db.AdminUser, error) {
	admin := &db.AdminUser{}
	err := db.DB.GetContext(ctx, admin, `SELECT `+adminColumns+` FROM admin_users WHERE api_key = $1`, apiKey)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Errorf("Error finding admin by API key: %v", err)
		return nil, err
	}
	return admin, nil
}

// FindAdminByEmail returns nil, nil when no admin has the email.
func FindAdminByEmail(ctx context.Context, email string) (*db.AdminUser, error) {
	admin := &db.AdminUser{}
	err := db.DB.GetContext(ctx, admin, `SELECT `+adminColumns+` FROM admin_users WHERE email = $1`, email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Errorf("Error finding admin by email '%s': %v", email, err)
		return nil, err
	}
	return admin, nil
}

func TouchAdminLogin(ctx context.Context, id uuid.UUID) error {
	_, err := db.DB.ExecContext(ctx, `UPDATE admin_users SET last_login_at = NOW() WHERE id = $1`, id)
	if err != nil {
		log.Errorf("Error updating last login for admin '%s': %v", id.String(), err)
	}
	return err
}

func CreateAdminUser(ctx context.Context, admin *db.AdminUser) (*db.AdminUser, error) {
	query := `
		INSERT INTO admin_users (email, name, api_key, role)
		VALUES (:email, :name, :api_key, :role)
		RETURNING id, created_at`

	rows, err := db.DB.NamedQueryContext(ctx, query, admin)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin user: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, errors.New("no rows returned after admin creation")
	}
	if err := rows.StructScan(admin); err != nil {
		return nil, fmt.Errorf("error scanning admin after creation: %w", err)
	}
	log.Infof("Admin user %s created with ID: %s", admin.Email, admin.ID.String())
	return admin, nil
}

func CreateAuditLog(ctx context.Context, entry *db.AdminAuditLog) error {
	query := `
		INSERT INTO admin_audit_logs (admin_user_id, action, target_type, target_id, metadata)
		VALUES (:admin_user_id, :action, :target_type, :target_id, :metadata)`
	if _, err := db.DB.NamedExecContext(ctx, query, entry); err != nil {
		log.Errorf("Error writing audit log (%s on %s %s): %v", entry.Action, entry.TargetType, entry.TargetID, err)
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}
