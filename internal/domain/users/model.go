package users

import (
	"time"
)

type User struct {
	ID       uint `gorm:"primaryKey"`
	Name     string
	Email    string  `gorm:"not null;uniqueIndex:idx_users_email"`
	Password *string `gorm:""`
	Role     string  `gorm:"type:varchar(20);not null;default:'user'"`

	// Referral program
	ReferralCode string  `gorm:"column:referral_code;uniqueIndex:idx_users_referral_code"`
	ReferredBy   *string `gorm:"column:referred_by"`

	// Time-boxed unlimited entitlement granted through referrals.
	// PackageExpiry is advisory only; nothing in this service sweeps it.
	IsUnlimited   bool       `gorm:"column:is_unlimited;not null;default:false"`
	PackageExpiry *time.Time `gorm:"column:package_expiry"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
