package stripewebhooks

import (
	"analysis-app/internal/domain/billing"

	"go.uber.org/zap"
)

// HandleSubscriptionCreated upserts the local row keyed by the external
// subscription id, then applies the same grant fan-out as checkout. The event
// may arrive before checkout.session.completed; with no local row and no
// user_id metadata there is nothing to attach to yet, so it is skipped and
// the checkout delivery establishes the linkage.
func (r *Reconciler) HandleSubscriptionCreated(snap billing.SubscriptionSnapshot) error {
	if snap.StripeSubscriptionID == "" {
		return nil
	}

	existing, err := r.repo.GetByStripeID(snap.StripeSubscriptionID)
	if err != nil {
		return err
	}

	userID := userIDFromMetadata(snap.Metadata)
	planID := planIDFromMetadata(snap.Metadata)
	if existing != nil {
		userID = existing.UserID
		if planID == nil {
			planID = existing.PlanID
		}
	}
	if userID == 0 {
		r.log.Warn("subscription.created with no local row and no user_id metadata",
			zap.String("stripe_subscription_id", snap.StripeSubscriptionID))
		return nil
	}

	// This event may beat checkout.session.completed; claim the orchestrator's
	// pending row when one exists so both deliveries land on the same record.
	if existing == nil {
		target, err := r.repo.FindCheckoutTarget(userID)
		if err != nil {
			return err
		}
		if target != nil {
			fields := snap.Fields()
			if snap.StripeCustomerID != "" {
				fields["stripe_customer_id"] = snap.StripeCustomerID
			}
			if err := r.repo.UpdateSubscription(target.ID, fields); err != nil {
				return err
			}
			sub, err := r.repo.GetByStripeID(snap.StripeSubscriptionID)
			if err != nil || sub == nil {
				return err
			}
			r.fanOut(sub)
			return nil
		}
	}

	sub, err := r.repo.UpsertSnapshot(snap, userID, planID)
	if err != nil {
		return err
	}
	r.fanOut(sub)
	return nil
}
