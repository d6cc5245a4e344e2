package plans

// UnlimitedPerInterval marks a plan whose interval grant is unmetered.
const UnlimitedPerInterval = -1

type Plan struct {
	ID              uint   `gorm:"primaryKey"`
	Name            string `gorm:"not null"`
	StripeProductID *string
	StripePriceID   string `gorm:"column:stripe_price_id;not null;uniqueIndex:idx_plans_stripe_price_id"`
	AmountCents     int64  `gorm:"column:amount_cents;not null;default:0"` // minor units
	Interval        string // "month" | "year"
	TrialDays       int    `gorm:"not null;default:0"`
	Active          bool   `gorm:"not null;default:true"`

	// Analysis credits granted per billing interval.
	// -1 = unlimited | 0 = none | N = exact count
	AnalysesPerInterval int `gorm:"column:analyses_per_interval;not null;default:0"`
}
