package db

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotInitialized = errors.New("database not initialized")

const (
	ProjectStatusDraft      = "draft"
	ProjectStatusProcessing = "processing"
	ProjectStatusRendering  = "rendering"
	ProjectStatusCompleted  = "completed"
	ProjectStatusFailed     = "failed"

	JobTypeExtractContent = "extract_content"
	JobStatusPending      = "pending"
	JobStatusRunning      = "running"
	JobStatusCompleted    = "completed"
	JobStatusFailed       = "failed"

	SubscriptionStatusActive    = "active"
	SubscriptionStatusTrialing  = "trialing"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusSuspended = "suspended"
	SubscriptionStatusInactive  = "inactive"

	PaymentStatusCompleted = "completed"
)

// Unlimited marks a quota dimension without a cap.
const Unlimited = -1

// UsageQuota is stored as JSONB in users.usage_limits and users.current_usage.
// FileSize is in megabytes, Duration in seconds.
type UsageQuota struct {
	Videos   int `json:"videos" yaml:"videos"`
	Duration int `json:"duration" yaml:"duration"`
	FileSize int `json:"fileSize" yaml:"fileSize"`
}

func (q UsageQuota) Value() (driver.Value, error) {
	b, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (q *UsageQuota) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*q = UsageQuota{}
		return nil
	case []byte:
		return json.Unmarshal(v, q)
	case string:
		return json.Unmarshal([]byte(v), q)
	default:
		return fmt.Errorf("usage quota: unsupported scan type %T", src)
	}
}

// JSONB is a raw JSON column value. The empty value maps to SQL NULL.
type JSONB []byte

// NewJSONB marshals v into a JSONB value.
func NewJSONB(v interface{}) (JSONB, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSONB(b), nil
}

func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSONB) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = JSONB(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", src)
	}
	return nil
}

func (j JSONB) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// Decode unmarshals the column into v. An empty value leaves v untouched.
func (j JSONB) Decode(v interface{}) error {
	if len(j) == 0 {
		return nil
	}
	return json.Unmarshal(j, v)
}

type User struct {
	ID                 uuid.UUID    `db:"id"`
	Name               string       `db:"name"`
	Email              string       `db:"email"`
	PasswordHash       string       `db:"password_hash"`
	SubscriptionTier   string       `db:"subscription_tier"`
	SubscriptionStatus string       `db:"subscription_status"`
	UsageLimits        UsageQuota   `db:"usage_limits"`
	CurrentUsage       UsageQuota   `db:"current_usage"`
	TrialEndsAt        sql.NullTime `db:"trial_ends_at"`
	LastLoginAt        sql.NullTime `db:"last_login_at"`
	CreatedAt          time.Time    `db:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at"`
}

// CanCreateVideo reports whether the monthly video quota has room left.
func (u *User) CanCreateVideo() bool {
	if u.UsageLimits.Videos == Unlimited {
		return true
	}
	return u.CurrentUsage.Videos < u.UsageLimits.Videos
}

// UserWithProjectCount is the admin listing row.
type UserWithProjectCount struct {
	User
	ProjectCount int `db:"project_count"`
}

type AdminUser struct {
	ID          uuid.UUID    `db:"id"`
	Email       string       `db:"email"`
	Name        string       `db:"name"`
	APIKey      string       `db:"api_key"`
	Role        string       `db:"role"`
	LastLoginAt sql.NullTime `db:"last_login_at"`
	CreatedAt   time.Time    `db:"created_at"`
}

type Project struct {
	ID             uuid.UUID      `db:"id"`
	UserID         uuid.UUID      `db:"user_id"`
	Title          string         `db:"title"`
	Description    sql.NullString `db:"description"`
	Status         string         `db:"status"`
	Settings       JSONB          `db:"settings"`
	FileURL        sql.NullString `db:"file_url"`
	FileName       sql.NullString `db:"file_name"`
	FileType       sql.NullString `db:"file_type"`
	FileSize       sql.NullInt64  `db:"file_size"`
	AIBlueprint    JSONB          `db:"ai_blueprint"`
	Script         JSONB          `db:"script"`
	VideoURL       sql.NullString `db:"video_url"`
	ThumbnailURL   sql.NullString `db:"thumbnail_url"`
	Duration       sql.NullInt32  `db:"duration"`
	ProcessingLogs JSONB          `db:"processing_logs"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// IsBusy reports whether a pipeline step is already running for the project.
func (p *Project) IsBusy() bool {
	return p.Status == ProjectStatusProcessing || p.Status == ProjectStatusRendering
}

type AIProcessingJob struct {
	ID        uuid.UUID      `db:"id"`
	ProjectID uuid.UUID      `db:"project_id"`
	Type      string         `db:"type"`
	Status    string         `db:"status"`
	Input     JSONB          `db:"input"`
	Output    JSONB          `db:"output"`
	Error     sql.NullString `db:"error"`
	Provider  string         `db:"provider"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

type Subscription struct {
	ID                   uuid.UUID `db:"id"`
	UserID               uuid.UUID `db:"user_id"`
	PaypalSubscriptionID string    `db:"paypal_subscription_id"`
	PlanID               string    `db:"plan_id"`
	PaypalPlanID         string    `db:"paypal_plan_id"`
	Status               string    `db:"status"`
	CurrentPeriodStart   time.Time `db:"current_period_start"`
	CurrentPeriodEnd     time.Time `db:"current_period_end"`
	CancelAtPeriodEnd    bool      `db:"cancel_at_period_end"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

type Payment struct {
	ID              uuid.UUID `db:"id"`
	SubscriptionID  string    `db:"subscription_id"`
	PaypalPaymentID string    `db:"paypal_payment_id"`
	Amount          float64   `db:"amount"`
	Currency        string    `db:"currency"`
	Status          string    `db:"status"`
	PaymentDate     time.Time `db:"payment_date"`
	Metadata        JSONB     `db:"metadata"`
	CreatedAt       time.Time `db:"created_at"`
}

type UsageAnalytic struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	Action    string    `db:"action"`
	Metadata  JSONB     `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}

type Notification struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	Type      string    `db:"type"`
	Title     string    `db:"title"`
	Message   string    `db:"message"`
	Read      bool      `db:"read"`
	CreatedAt time.Time `db:"created_at"`
}

type AdminAuditLog struct {
	ID          uuid.UUID `db:"id"`
	AdminUserID uuid.UUID `db:"admin_user_id"`
	Action      string    `db:"action"`
	TargetType  string    `db:"target_type"`
	TargetID    string    `db:"target_id"`
	Metadata    JSONB     `db:"metadata"`
	CreatedAt   time.Time `db:"created_at"`
}
