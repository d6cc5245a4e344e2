package billing

import (
	"errors"

	"analysis-app/internal/domain/plans"
	"analysis-app/internal/domain/users"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the checkout orchestrator and
// the webhook reconciler. Handlers never touch GORM for subscriptions directly.
type Repository interface {
	Create(sub *Subscription) error

	// FindActiveForUser returns the most recent subscription with an entitled
	// status, or nil when the user has none.
	FindActiveForUser(userID uint) (*Subscription, error)

	// FindLatestForUser returns the user's most recent subscription row
	// regardless of status, or nil. Used to reuse the Stripe customer id.
	FindLatestForUser(userID uint) (*Subscription, error)

	// FindCheckoutTarget locates the local row a completed checkout should
	// populate: the most recent pending row, else the most recent row still
	// missing an external subscription id, else nil.
	FindCheckoutTarget(userID uint) (*Subscription, error)

	GetByStripeID(stripeSubID string) (*Subscription, error)

	// UpdateSubscription applies snapshot fields to one local row by id.
	UpdateSubscription(subID uint, fields map[string]interface{}) error

	// UpsertSnapshot inserts or updates the row keyed by the snapshot's
	// external subscription id. Both reconciliation paths funnel through this
	// so concurrent deliveries converge instead of interleaving field sets.
	UpsertSnapshot(snap SubscriptionSnapshot, userID uint, planID *uint) (*Subscription, error)

	// UpdateByStripeID updates matching rows; zero matches is not an error.
	UpdateByStripeID(stripeSubID string, fields map[string]interface{}) (int64, error)

	// LogEventIfNew appends to the webhook audit log, reporting false when the
	// event id was already recorded.
	LogEventIfNew(ev *WebhookEvent) (bool, error)

	UserByID(id uint) (*users.User, error)
	PlanByID(id uint) (*plans.Plan, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(sub *Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) FindActiveForUser(userID uint) (*Subscription, error) {
	var sub Subscription
	err := r.db.Preload("Plan").
		Where("user_id = ? AND status IN ?", userID, []string{StatusActive, StatusTrialing}).
		Order("id DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindLatestForUser(userID uint) (*Subscription, error) {
	var sub Subscription
	err := r.db.Where("user_id = ?", userID).Order("id DESC").First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindCheckoutTarget(userID uint) (*Subscription, error) {
	var sub Subscription
	err := r.db.Preload("Plan").
		Where("user_id = ? AND status = ?", userID, StatusPending).
		Order("id DESC").
		First(&sub).Error
	if err == nil {
		return &sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = r.db.Preload("Plan").
		Where("user_id = ? AND stripe_subscription_id IS NULL", userID).
		Order("id DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetByStripeID(stripeSubID string) (*Subscription, error) {
	var sub Subscription
	err := r.db.Preload("Plan").
		Where("stripe_subscription_id = ?", stripeSubID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpdateSubscription(subID uint, fields map[string]interface{}) error {
	return r.db.Model(&Subscription{}).Where("id = ?", subID).Updates(fields).Error
}

func (r *gormRepository) UpsertSnapshot(snap SubscriptionSnapshot, userID uint, planID *uint) (*Subscription, error) {
	stripeSubID := snap.StripeSubscriptionID
	sub := Subscription{
		UserID:               userID,
		PlanID:               planID,
		StripeSubscriptionID: &stripeSubID,
		Status:               snap.Status,
		TrialEnd:             snap.TrialEnd,
		CurrentPeriodEnd:     snap.CurrentPeriodEnd,
	}
	if snap.StripeCustomerID != "" {
		customerID := snap.StripeCustomerID
		sub.StripeCustomerID = &customerID
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "stripe_subscription_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"trial_end",
			"current_period_end",
			"updated_at",
		}),
	}).Create(&sub).Error
	if err != nil {
		return nil, err
	}
	return r.GetByStripeID(stripeSubID)
}

func (r *gormRepository) UpdateByStripeID(stripeSubID string, fields map[string]interface{}) (int64, error) {
	res := r.db.Model(&Subscription{}).
		Where("stripe_subscription_id = ?", stripeSubID).
		Updates(fields)
	return res.RowsAffected, res.Error
}

func (r *gormRepository) LogEventIfNew(ev *WebhookEvent) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(ev)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) UserByID(id uint) (*users.User, error) {
	var user users.User
	if err := r.db.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) PlanByID(id uint) (*plans.Plan, error) {
	var plan plans.Plan
	if err := r.db.Where("id = ?", id).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}
