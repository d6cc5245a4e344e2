package billing

import (
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v82"
)

// SubscriptionSnapshot is the provider-neutral view of a Stripe subscription
// that both reconciliation paths (webhook and synchronous poll) persist from.
// Keeping a single extraction point guarantees the two paths converge on the
// same stored state for the same external subscription.
type SubscriptionSnapshot struct {
	StripeSubscriptionID string
	StripeCustomerID     string
	Status               string
	TrialEnd             *time.Time
	CurrentPeriodEnd     *time.Time
	Metadata             map[string]string
}

// SnapshotFromSubscription builds a snapshot from a subscription fetched via
// the Stripe API. trial_end lives at subscription level; current_period_end
// lives on the first billing item. The two must not be conflated.
func SnapshotFromSubscription(sub *stripe.Subscription) SubscriptionSnapshot {
	snap := SubscriptionSnapshot{
		StripeSubscriptionID: sub.ID,
		Status:               string(sub.Status),
		Metadata:             sub.Metadata,
	}
	if sub.Customer != nil {
		snap.StripeCustomerID = sub.Customer.ID
	}
	if sub.TrialEnd > 0 {
		snap.TrialEnd = unixTime(sub.TrialEnd)
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		if end := sub.Items.Data[0].CurrentPeriodEnd; end > 0 {
			snap.CurrentPeriodEnd = unixTime(end)
		}
	}
	return snap
}

// rawSubscription matches the subscription object shape inside webhook event
// payloads. Older API versions carry current_period_end at the top level,
// newer ones on the first item; both are accepted here.
type rawSubscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
	TrialEnd int64  `json:"trial_end"`

	CurrentPeriodEnd int64 `json:"current_period_end"`

	Items struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`

	Metadata map[string]string `json:"metadata"`
}

// SnapshotFromRaw builds a snapshot from the raw subscription object of a
// customer.subscription.* event.
func SnapshotFromRaw(raw json.RawMessage) (SubscriptionSnapshot, error) {
	var obj rawSubscription
	if err := json.Unmarshal(raw, &obj); err != nil {
		return SubscriptionSnapshot{}, err
	}

	snap := SubscriptionSnapshot{
		StripeSubscriptionID: obj.ID,
		StripeCustomerID:     obj.Customer,
		Status:               obj.Status,
		Metadata:             obj.Metadata,
	}
	if obj.TrialEnd > 0 {
		snap.TrialEnd = unixTime(obj.TrialEnd)
	}
	if obj.CurrentPeriodEnd > 0 {
		snap.CurrentPeriodEnd = unixTime(obj.CurrentPeriodEnd)
	} else if len(obj.Items.Data) > 0 && obj.Items.Data[0].CurrentPeriodEnd > 0 {
		snap.CurrentPeriodEnd = unixTime(obj.Items.Data[0].CurrentPeriodEnd)
	}
	return snap, nil
}

// Fields returns the column assignments shared by every reconciliation write.
func (s SubscriptionSnapshot) Fields() map[string]interface{} {
	return map[string]interface{}{
		"stripe_subscription_id": s.StripeSubscriptionID,
		"status":                 s.Status,
		"trial_end":              s.TrialEnd,
		"current_period_end":     s.CurrentPeriodEnd,
	}
}

func unixTime(ts int64) *time.Time {
	t := time.Unix(ts, 0).UTC()
	return &t
}
