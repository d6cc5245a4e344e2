package stripewebhooks

import (
	"analysis-app/internal/domain/billing"

	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

// ReconcileCheckoutSession maps a paid checkout session onto the local
// subscription row and persists the processor snapshot. Shared by the
// checkout.session.completed handler and the synchronous status poll so both
// paths converge on identical stored state.
func (r *Reconciler) ReconcileCheckoutSession(session *stripe.CheckoutSession) (*billing.Subscription, error) {
	userID := userIDFromMetadata(session.Metadata)
	if userID == 0 {
		r.log.Warn("checkout session missing user_id metadata", zap.String("session_id", session.ID))
		return nil, nil
	}
	if session.Subscription == nil || session.Subscription.ID == "" {
		r.log.Warn("checkout session missing subscription", zap.String("session_id", session.ID))
		return nil, nil
	}

	subData, err := r.stripe.GetSubscription(session.Subscription.ID)
	if err != nil {
		return nil, err
	}

	snap := billing.SnapshotFromSubscription(subData)
	if snap.StripeCustomerID == "" && session.Customer != nil {
		snap.StripeCustomerID = session.Customer.ID
	}

	// customer.subscription.created may land first and claim the external id;
	// converge on that row instead of stamping the id onto a second one.
	existing, err := r.repo.GetByStripeID(snap.StripeSubscriptionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := r.repo.UpdateSubscription(existing.ID, snap.Fields()); err != nil {
			return nil, err
		}
		return r.repo.GetByStripeID(snap.StripeSubscriptionID)
	}

	target, err := r.repo.FindCheckoutTarget(userID)
	if err != nil {
		return nil, err
	}

	if target != nil {
		fields := snap.Fields()
		if snap.StripeCustomerID != "" {
			fields["stripe_customer_id"] = snap.StripeCustomerID
		}
		if err := r.repo.UpdateSubscription(target.ID, fields); err != nil {
			return nil, err
		}
		return r.repo.GetByStripeID(snap.StripeSubscriptionID)
	}

	// No pending row to populate: build one from the session metadata.
	planID := planIDFromMetadata(session.Metadata)
	if planID == nil {
		planID = planIDFromMetadata(snap.Metadata)
	}
	return r.repo.UpsertSnapshot(snap, userID, planID)
}

// HandleCheckoutCompleted reconciles the checkout, then fans out to the
// referral grantor and the credit ledger. Both side effects are best-effort:
// their failures are logged and the event is still acknowledged.
func (r *Reconciler) HandleCheckoutCompleted(session *stripe.CheckoutSession) error {
	sub, err := r.ReconcileCheckoutSession(session)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}
	r.fanOut(sub)
	return nil
}
