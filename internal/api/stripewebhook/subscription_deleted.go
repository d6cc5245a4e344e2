package stripewebhooks

import (
	"analysis-app/internal/domain/billing"

	"go.uber.org/zap"
)

// HandleSubscriptionDeleted cancels the matching local row. Zero matches is
// not an error.
func (r *Reconciler) HandleSubscriptionDeleted(snap billing.SubscriptionSnapshot) error {
	if snap.StripeSubscriptionID == "" {
		return nil
	}
	count, err := r.repo.UpdateByStripeID(snap.StripeSubscriptionID, map[string]interface{}{
		"status": billing.StatusCanceled,
	})
	if err != nil {
		return err
	}
	r.log.Info("subscription canceled",
		zap.String("stripe_subscription_id", snap.StripeSubscriptionID),
		zap.Int64("rows", count))
	return nil
}
