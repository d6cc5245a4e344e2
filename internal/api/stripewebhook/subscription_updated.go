package stripewebhooks

import (
	"analysis-app/internal/domain/billing"

	"go.uber.org/zap"
)

// HandleSubscriptionUpdated detects renewal boundaries (a strictly later
// current_period_end than the one stored) and re-grants interval credits
// before applying the field update. Updating zero rows is not an error: the
// event may precede any local knowledge of the subscription.
func (r *Reconciler) HandleSubscriptionUpdated(snap billing.SubscriptionSnapshot) error {
	if snap.StripeSubscriptionID == "" {
		return nil
	}

	existing, err := r.repo.GetByStripeID(snap.StripeSubscriptionID)
	if err != nil {
		return err
	}

	if existing != nil && existing.CurrentPeriodEnd != nil && snap.CurrentPeriodEnd != nil &&
		snap.CurrentPeriodEnd.After(*existing.CurrentPeriodEnd) {
		r.log.Info("new billing period detected, resetting analysis balance",
			zap.String("stripe_subscription_id", snap.StripeSubscriptionID))
		r.regrantCredits(existing)
	}

	count, err := r.repo.UpdateByStripeID(snap.StripeSubscriptionID, map[string]interface{}{
		"status":             snap.Status,
		"trial_end":          snap.TrialEnd,
		"current_period_end": snap.CurrentPeriodEnd,
	})
	if err != nil {
		return err
	}
	r.log.Info("subscription updated",
		zap.String("stripe_subscription_id", snap.StripeSubscriptionID),
		zap.String("status", snap.Status),
		zap.Int64("rows", count))
	return nil
}
