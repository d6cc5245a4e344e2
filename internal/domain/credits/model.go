package credits

import (
	"time"

	"analysis-app/internal/domain/users"
)

// UnlimitedBalance is the reserved sentinel for unmetered entitlement.
// Callers must treat any balance at or above it as unlimited.
const UnlimitedBalance = 999999

type AnalysisBalance struct {
	ID      uint `gorm:"primaryKey"`
	UserID  uint `gorm:"not null;uniqueIndex:idx_analysis_balances_user_id"`
	User    users.User
	Balance int `gorm:"not null;default:0"`

	UpdatedAt time.Time
}

// IsUnlimited reports whether the row denotes unmetered entitlement.
func (b *AnalysisBalance) IsUnlimited() bool {
	return b.Balance >= UnlimitedBalance
}
