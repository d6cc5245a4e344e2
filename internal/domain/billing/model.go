package billing

import (
	"time"

	"analysis-app/internal/domain/plans"
	"analysis-app/internal/domain/users"
)

// Recognized subscription statuses. The column itself is an open string:
// whatever Stripe sends is stored verbatim so new statuses survive a round trip.
const (
	StatusPending  = "pending"
	StatusTrialing = "trialing"
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
	StatusUnpaid   = "unpaid"
)

// IsEntitledStatus reports whether a status counts as a live subscription.
func IsEntitledStatus(status string) bool {
	return status == StatusActive || status == StatusTrialing
}

// IsTrialStatus reports whether the subscription is inside its trial period.
func IsTrialStatus(status string) bool {
	return status == StatusTrialing
}

type Subscription struct {
	ID     uint `gorm:"primaryKey"`
	UserID uint `gorm:"not null;index:idx_subscriptions_user_id"`
	User   users.User

	// Plan survives catalog deletion; rows are never removed, only re-statused.
	PlanID *uint
	Plan   *plans.Plan

	StripeCustomerID     *string `gorm:"column:stripe_customer_id"`
	StripeSubscriptionID *string `gorm:"column:stripe_subscription_id;uniqueIndex:idx_subscriptions_stripe_subscription_id"`

	Status string `gorm:"type:varchar(50);not null;default:'pending'"`

	TrialEnd         *time.Time
	CurrentPeriodEnd *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive mirrors the entitled-status check on a loaded row.
func (s *Subscription) IsActive() bool {
	return IsEntitledStatus(s.Status)
}

// WebhookEvent is the append-only audit trail of processor notifications.
// EventID is the processor's unique event id and doubles as the idempotency key.
type WebhookEvent struct {
	ID         uint      `gorm:"primaryKey"`
	EventID    string    `gorm:"column:event_id;not null;uniqueIndex:idx_webhook_events_event_id"`
	Type       string    `gorm:"not null"`
	Payload    string    `gorm:"type:jsonb"`
	ReceivedAt time.Time `gorm:"autoCreateTime"`
}
