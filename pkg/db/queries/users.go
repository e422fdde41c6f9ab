package queries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/google/uuid"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// ErrDuplicateEmail is returned by CreateUser when the email is taken.
var ErrDuplicateEmail = errors.New("user with this email already exists")

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

const userColumns = `id, name, email, password_hash, subscription_tier, subscription_status,
	usage_limits, current_usage, trial_ends_at, last_login_at, created_at, updated_at`

// CreateUser inserts a new user and fills in the generated fields.
func CreateUser(ctx context.Context, user *db.User) (*db.User, error) {
	query := `
		INSERT INTO users (name, email, password_hash, subscription_tier, subscription_status, usage_limits, current_usage, trial_ends_at)
		VALUES (:name, :email, :password_hash, :subscription_tier, :subscription_status, :usage_limits, :current_usage, :trial_ends_at)
		RETURNING id, created_at, updated_at`

	rows, err := db.DB.NamedQueryContext(ctx, query, user)
	if err != nil {
		if isUniqueViolation(err) {
			log.Debugf("User %s already exists.", user.Email)
			return nil, ErrDuplicateEmail
		}
		log.Errorf("Error creating user: %v", err)
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			if isUniqueViolation(err) {
				log.Debugf("User %s already exists.", user.Email)
				return nil, ErrDuplicateEmail
			}
			log.Errorf("Error creating user: %v", err)
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		log.Error("No rows returned after user creation.")
		return nil, errors.New("no rows returned after user creation")
	}
	if err := rows.StructScan(user); err != nil {
		log.Errorf("Error scanning user data after creation: %v", err)
		return nil, fmt.Errorf("error scanning user after creation: %w", err)
	}

	log.Infof("User %s created with ID: %s", user.Email, user.ID.String())
	return user, nil
}

// FindUserByEmail returns nil, nil when no user has the email.
func FindUserByEmail(ctx context.Context, email string) (*db.User, error) {
	user := &db.User{}
	err := db.DB.GetContext(ctx, user, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Debugf("User with email '%s' not found.", email)
			return nil, nil
		}
		log.Errorf("Error finding user by email '%s': %v", email, err)
		return nil, err
	}
	return user, nil
}

// FindUserByID returns nil, nil when the user does not exist.
func FindUserByID(ctx context.Context, id uuid.UUID) (*db.User, error) {
	user := &db.User{}
	err := db.DB.GetContext(ctx, user, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Debugf("User with ID '%s' not found.", id.String())
			return nil, nil
		}
		log.Errorf("Error finding user by ID '%s': %v", id.String(), err)
		return nil, err
	}
	return user, nil
}

func TouchUserLogin(ctx context.Context, id uuid.UUID) error {
	_, err := db.DB.ExecContext(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, id)
	if err != nil {
		log.Errorf("Error updating last login for user '%s': %v", id.String(), err)
	}
	return err
}

// UpdateUser saves the mutable profile and billing fields of a user.
func UpdateUser(ctx context.Context, user *db.User) error {
	user.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users
		SET name = :name, subscription_tier = :subscription_tier, subscription_status = :subscription_status,
		    usage_limits = :usage_limits, current_usage = :current_usage, trial_ends_at = :trial_ends_at,
		    updated_at = :updated_at
		WHERE id = :id`

	result, err := db.DB.NamedExecContext(ctx, query, user)
	if err != nil {
		log.Errorf("Error updating user with ID '%s': %v", user.ID.String(), err)
		return fmt.Errorf("failed to update user: %w", err)
	}
	if rowsAffected, _ := result.RowsAffected(); rowsAffected == 0 {
		log.Warnf("No user found with ID '%s' for update.", user.ID.String())
		return sql.ErrNoRows
	}

	log.Infof("User with ID '%s' updated.", user.ID.String())
	return nil
}

// IncrementVideoUsage bumps current_usage.videos in place.
func IncrementVideoUsage(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET current_usage = jsonb_set(current_usage, '{videos}', to_jsonb(COALESCE((current_usage->>'videos')::int, 0) + 1)),
		    updated_at = NOW()
		WHERE id = $1`
	if _, err := db.DB.ExecContext(ctx, query, id); err != nil {
		log.Errorf("Error incrementing video usage for user '%s': %v", id.String(), err)
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	return nil
}

// UpdateUserSubscription sets the tier (and its limits) and the billing status.
// An empty tier leaves tier and limits unchanged.
func UpdateUserSubscription(ctx context.Context, id uuid.UUID, tier string, limits *db.UsageQuota, status string) error {
	var err error
	if tier == "" || limits == nil {
		_, err = db.DB.ExecContext(ctx,
			`UPDATE users SET subscription_status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	} else {
		_, err = db.DB.ExecContext(ctx,
			`UPDATE users SET subscription_tier = $2, usage_limits = $3, subscription_status = $4, trial_ends_at = NULL, updated_at = NOW() WHERE id = $1`,
			id, tier, *limits, status)
	}
	if err != nil {
		log.Errorf("Error updating subscription of user '%s': %v", id.String(), err)
		return fmt.Errorf("failed to update user subscription: %w", err)
	}
	return nil
}

// ListUsers returns one page of users, newest first, optionally filtered by a
// case-insensitive match on name or email.
func ListUsers(ctx context.Context, search string, offset, limit int) ([]db.UserWithProjectCount, error) {
	users := []db.UserWithProjectCount{}
	query := `
		SELECT u.id, u.name, u.email, u.subscription_tier, u.subscription_status, u.usage_limits, u.current_usage,
		       u.trial_ends_at, u.last_login_at, u.created_at, u.updated_at,
		       (SELECT COUNT(*) FROM projects p WHERE p.user_id = u.id) AS project_count
		FROM users u
		WHERE ($1::text = '' OR u.name ILIKE $1 ESCAPE '\' OR u.email ILIKE $1 ESCAPE '\')
		ORDER BY u.created_at DESC
		OFFSET $2 LIMIT $3`
	if err := db.DB.SelectContext(ctx, &users, query, containsPattern(search), offset, limit); err != nil {
		log.Errorf("Error listing users (search=%q): %v", search, err)
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func CountUsers(ctx context.Context, search string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM users WHERE ($1::text = '' OR name ILIKE $1 ESCAPE '\' OR email ILIKE $1 ESCAPE '\')`
	if err := db.DB.GetContext(ctx, &count, query, containsPattern(search)); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// likeEscaper escapes the LIKE wildcards, with backslash as the escape character.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern turns a search term into an ILIKE substring pattern. An
// empty term stays empty and matches everything.
func containsPattern(search string) string {
	if search == "" {
		return ""
	}
	return "%" + likeEscaper.Replace(search) + "%"
}

// CountUsersCreatedBetween counts users created in [from, to].
func CountUsersCreatedBetween(ctx context.Context, from, to time.Time) (int, error) {
	var count int
	if err := db.DB.GetContext(ctx, &count, `SELECT COUNT(*) FROM users WHERE created_at >= $1 AND created_at <= $2`, from, to); err != nil {
		return 0, fmt.Errorf("failed to count users by creation date: %w", err)
	}
	return count, nil
}
