package stripewebhooks

import (
	"strconv"

	"analysis-app/internal/domain/billing"
	"analysis-app/internal/domain/plans"
	"analysis-app/internal/domain/users"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"
	"go.uber.org/zap"
)

// StripeClient abstracts the follow-up API calls the reconciler makes.
type StripeClient interface {
	GetSubscription(id string) (*stripe.Subscription, error)
}

type liveStripeClient struct{}

func (liveStripeClient) GetSubscription(id string) (*stripe.Subscription, error) {
	return subscription.Get(id, nil)
}

// CreditLedger is the slice of the credit ledger the reconciler drives.
type CreditLedger interface {
	GrantIntervalCredits(userID uint, plan *plans.Plan) (int, error)
}

// BenefitGrantor is the slice of the referral grantor the reconciler drives.
type BenefitGrantor interface {
	Grant(user *users.User, sub *billing.Subscription) error
}

// Reconciler applies processor events to local state. Every handler is
// idempotent: Stripe redelivers events, possibly out of order, and both the
// webhook and the synchronous status poll may race on the same subscription.
type Reconciler struct {
	repo    billing.Repository
	ledger  CreditLedger
	grantor BenefitGrantor
	stripe  StripeClient
	log     *zap.Logger
}

func NewReconciler(repo billing.Repository, ledger CreditLedger, grantor BenefitGrantor, client StripeClient, log *zap.Logger) *Reconciler {
	return &Reconciler{repo: repo, ledger: ledger, grantor: grantor, stripe: client, log: log}
}

// fanOut runs the post-reconciliation side effects: referral benefits first,
// then the interval credit grant. Failures are logged, never propagated — the
// subscription state transition has already committed.
func (r *Reconciler) fanOut(sub *billing.Subscription) {
	user, err := r.repo.UserByID(sub.UserID)
	if err != nil {
		r.log.Error("failed to load user for grant fan-out",
			zap.Uint("user_id", sub.UserID), zap.Error(err))
		return
	}

	if err := r.grantor.Grant(user, sub); err != nil {
		r.log.Error("referral benefit grant failed",
			zap.Uint("user_id", sub.UserID), zap.Error(err))
	}

	r.regrantCredits(sub)
}

func (r *Reconciler) regrantCredits(sub *billing.Subscription) {
	if sub.PlanID == nil {
		r.log.Warn("subscription has no plan, skipping credit grant", zap.Uint("subscription_id", sub.ID))
		return
	}
	plan := sub.Plan
	if plan == nil {
		var err error
		plan, err = r.repo.PlanByID(*sub.PlanID)
		if err != nil {
			r.log.Error("failed to load plan for credit grant",
				zap.Uint("plan_id", *sub.PlanID), zap.Error(err))
			return
		}
	}
	balance, err := r.ledger.GrantIntervalCredits(sub.UserID, plan)
	if err != nil {
		r.log.Error("credit grant failed", zap.Uint("user_id", sub.UserID), zap.Error(err))
		return
	}
	r.log.Info("interval credits granted",
		zap.Uint("user_id", sub.UserID),
		zap.String("plan", plan.Name),
		zap.Int("balance", balance))
}

func userIDFromMetadata(md map[string]string) uint {
	if md == nil {
		return 0
	}
	s := md["user_id"]
	if s == "" {
		return 0
	}
	uid, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return uint(uid)
}

func planIDFromMetadata(md map[string]string) *uint {
	if md == nil {
		return nil
	}
	s := md["plan_id"]
	if s == "" {
		return nil
	}
	pid, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil
	}
	id := uint(pid)
	return &id
}
