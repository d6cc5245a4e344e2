package referrals

import (
	"errors"
	"fmt"
	"time"

	"analysis-app/internal/domain/billing"
	"analysis-app/internal/domain/users"

	"gorm.io/gorm"
)

const (
	// ReferrerBonusDays is the unlimited window granted to the referrer.
	ReferrerBonusDays = 30
	// RefereeBonusDays is the unlimited window granted to the purchaser.
	RefereeBonusDays = 7
)

// ErrReferrerNotFound means the purchaser's referred_by code resolves to no
// user. Webhook callers log and swallow it; it never fails event processing.
var ErrReferrerNotFound = errors.New("referrals: referrer not found")

// UserStore is the narrow slice of user persistence the grantor needs.
type UserStore interface {
	ByReferralCode(code string) (*users.User, error)
	Save(u *users.User) error
}

type gormUserStore struct {
	db *gorm.DB
}

// NewUserStore creates a user store backed by GORM.
func NewUserStore(db *gorm.DB) UserStore {
	return &gormUserStore{db: db}
}

func (s *gormUserStore) ByReferralCode(code string) (*users.User, error) {
	var user users.User
	err := s.db.Where("referral_code = ?", code).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReferrerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *gormUserStore) Save(u *users.User) error {
	return s.db.Save(u).Error
}

// Grantor applies referral bonuses when a referred user's subscription event
// lands.
type Grantor struct {
	store UserStore
	now   func() time.Time
}

// NewGrantor creates a grantor from an injected user store.
func NewGrantor(store UserStore) *Grantor {
	return &Grantor{store: store, now: time.Now}
}

// NewGrantorFromDB creates a grantor from a GORM DB handle.
func NewGrantorFromDB(db *gorm.DB) *Grantor {
	return NewGrantor(NewUserStore(db))
}

// Grant gives the referrer a 30-day and the purchaser a 7-day unlimited
// window, both anchored at the subscription's current_period_end (or now when
// absent). The expiries are recomputed absolutely, so redelivered events do
// not stack bonuses. A user without a referred_by code is a no-op.
//
// The referrer write is not rolled back if the referee write fails; the next
// redelivery re-applies both from the same base time.
func (g *Grantor) Grant(user *users.User, sub *billing.Subscription) error {
	if user.ReferredBy == nil || *user.ReferredBy == "" {
		return nil
	}

	referrer, err := g.store.ByReferralCode(*user.ReferredBy)
	if err != nil {
		return err
	}

	baseTime := g.now()
	if sub != nil && sub.CurrentPeriodEnd != nil {
		baseTime = *sub.CurrentPeriodEnd
	}

	referrerExpiry := baseTime.AddDate(0, 0, ReferrerBonusDays)
	referrer.IsUnlimited = true
	referrer.PackageExpiry = &referrerExpiry
	if err := g.store.Save(referrer); err != nil {
		return fmt.Errorf("failed to grant referrer bonus: %w", err)
	}

	refereeExpiry := baseTime.AddDate(0, 0, RefereeBonusDays)
	user.IsUnlimited = true
	user.PackageExpiry = &refereeExpiry
	if err := g.store.Save(user); err != nil {
		return fmt.Errorf("failed to grant referee bonus: %w", err)
	}

	return nil
}
