package stripewebhooks

import (
	"testing"
	"time"

	"analysis-app/internal/domain/billing"
	"analysis-app/internal/domain/plans"
	"analysis-app/internal/domain/users"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeRepo struct {
	subs     []*billing.Subscription
	users    map[uint]*users.User
	plans    map[uint]*plans.Plan
	nextID   uint
	eventIDs map[string]bool

	getByStripeIDErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:    map[uint]*users.User{},
		plans:    map[uint]*plans.Plan{},
		nextID:   1,
		eventIDs: map[string]bool{},
	}
}

func (r *fakeRepo) Create(sub *billing.Subscription) error {
	sub.ID = r.nextID
	r.nextID++
	r.subs = append(r.subs, sub)
	return nil
}

func (r *fakeRepo) FindActiveForUser(userID uint) (*billing.Subscription, error) {
	for i := len(r.subs) - 1; i >= 0; i-- {
		if r.subs[i].UserID == userID && billing.IsEntitledStatus(r.subs[i].Status) {
			return r.subs[i], nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) FindLatestForUser(userID uint) (*billing.Subscription, error) {
	for i := len(r.subs) - 1; i >= 0; i-- {
		if r.subs[i].UserID == userID {
			return r.subs[i], nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) FindCheckoutTarget(userID uint) (*billing.Subscription, error) {
	for i := len(r.subs) - 1; i >= 0; i-- {
		if r.subs[i].UserID == userID && r.subs[i].Status == billing.StatusPending {
			return r.subs[i], nil
		}
	}
	for i := len(r.subs) - 1; i >= 0; i-- {
		if r.subs[i].UserID == userID && r.subs[i].StripeSubscriptionID == nil {
			return r.subs[i], nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) GetByStripeID(stripeSubID string) (*billing.Subscription, error) {
	if r.getByStripeIDErr != nil {
		return nil, r.getByStripeIDErr
	}
	for _, sub := range r.subs {
		if sub.StripeSubscriptionID != nil && *sub.StripeSubscriptionID == stripeSubID {
			return sub, nil
		}
	}
	return nil, nil
}

func applyFields(sub *billing.Subscription, fields map[string]interface{}) {
	if v, ok := fields["status"]; ok {
		sub.Status = v.(string)
	}
	if v, ok := fields["trial_end"]; ok {
		sub.TrialEnd, _ = v.(*time.Time)
	}
	if v, ok := fields["current_period_end"]; ok {
		sub.CurrentPeriodEnd, _ = v.(*time.Time)
	}
	if v, ok := fields["stripe_subscription_id"]; ok {
		id := v.(string)
		sub.StripeSubscriptionID = &id
	}
	if v, ok := fields["stripe_customer_id"]; ok {
		id := v.(string)
		sub.StripeCustomerID = &id
	}
}

func (r *fakeRepo) UpdateSubscription(subID uint, fields map[string]interface{}) error {
	for _, sub := range r.subs {
		if sub.ID == subID {
			applyFields(sub, fields)
		}
	}
	return nil
}

func (r *fakeRepo) UpsertSnapshot(snap billing.SubscriptionSnapshot, userID uint, planID *uint) (*billing.Subscription, error) {
	existing, _ := r.GetByStripeID(snap.StripeSubscriptionID)
	if existing != nil {
		existing.Status = snap.Status
		existing.TrialEnd = snap.TrialEnd
		existing.CurrentPeriodEnd = snap.CurrentPeriodEnd
		return existing, nil
	}
	stripeSubID := snap.StripeSubscriptionID
	sub := &billing.Subscription{
		UserID:               userID,
		PlanID:               planID,
		StripeSubscriptionID: &stripeSubID,
		Status:               snap.Status,
		TrialEnd:             snap.TrialEnd,
		CurrentPeriodEnd:     snap.CurrentPeriodEnd,
	}
	if snap.StripeCustomerID != "" {
		customerID := snap.StripeCustomerID
		sub.StripeCustomerID = &customerID
	}
	if err := r.Create(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *fakeRepo) UpdateByStripeID(stripeSubID string, fields map[string]interface{}) (int64, error) {
	var count int64
	for _, sub := range r.subs {
		if sub.StripeSubscriptionID != nil && *sub.StripeSubscriptionID == stripeSubID {
			applyFields(sub, fields)
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) LogEventIfNew(ev *billing.WebhookEvent) (bool, error) {
	if r.eventIDs[ev.EventID] {
		return false, nil
	}
	r.eventIDs[ev.EventID] = true
	return true, nil
}

func (r *fakeRepo) UserByID(id uint) (*users.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (r *fakeRepo) PlanByID(id uint) (*plans.Plan, error) {
	p, ok := r.plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

type fakeLedger struct {
	grants []uint
}

func (l *fakeLedger) GrantIntervalCredits(userID uint, plan *plans.Plan) (int, error) {
	l.grants = append(l.grants, userID)
	return plan.AnalysesPerInterval, nil
}

type fakeGrantor struct {
	calls int
}

func (g *fakeGrantor) Grant(user *users.User, sub *billing.Subscription) error {
	g.calls++
	return nil
}

type fakeStripe struct {
	sub *stripe.Subscription
}

func (s *fakeStripe) GetSubscription(id string) (*stripe.Subscription, error) {
	return s.sub, nil
}

func uintPtr(v uint) *uint { return &v }

func newTestReconciler(repo *fakeRepo, client StripeClient) (*Reconciler, *fakeLedger, *fakeGrantor) {
	ledger := &fakeLedger{}
	grantor := &fakeGrantor{}
	return NewReconciler(repo, ledger, grantor, client, zap.NewNop()), ledger, grantor
}

func stripeSub(id string, status stripe.SubscriptionStatus, periodEnd int64) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       id,
		Status:   status,
		Customer: &stripe.Customer{ID: "cus_1"},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{CurrentPeriodEnd: periodEnd}},
		},
	}
}

func TestCheckoutCompletedPopulatesPendingRow(t *testing.T) {
	repo := newFakeRepo()
	repo.users[7] = &users.User{ID: 7}
	repo.plans[2] = &plans.Plan{ID: 2, Name: "standard", AnalysesPerInterval: 5}
	require.NoError(t, repo.Create(&billing.Subscription{
		UserID: 7,
		PlanID: uintPtr(2),
		Status: billing.StatusPending,
	}))

	client := &fakeStripe{sub: stripeSub("sub_1", stripe.SubscriptionStatusActive, 1769904000)}
	r, ledger, grantor := newTestReconciler(repo, client)

	session := &stripe.CheckoutSession{
		ID:           "cs_1",
		Metadata:     map[string]string{"user_id": "7", "plan_id": "2"},
		Subscription: &stripe.Subscription{ID: "sub_1"},
		Customer:     &stripe.Customer{ID: "cus_1"},
	}
	require.NoError(t, r.HandleCheckoutCompleted(session))

	require.Len(t, repo.subs, 1, "must populate the pending row, not create a second one")
	sub := repo.subs[0]
	require.Equal(t, billing.StatusActive, sub.Status)
	require.NotNil(t, sub.StripeSubscriptionID)
	require.Equal(t, "sub_1", *sub.StripeSubscriptionID)
	require.NotNil(t, sub.StripeCustomerID)
	require.Equal(t, []uint{7}, ledger.grants)
	require.Equal(t, 1, grantor.calls)
}

func TestCheckoutCompletedRedeliveryIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	repo.users[7] = &users.User{ID: 7}
	repo.plans[2] = &plans.Plan{ID: 2, Name: "standard", AnalysesPerInterval: 5}
	require.NoError(t, repo.Create(&billing.Subscription{
		UserID: 7,
		PlanID: uintPtr(2),
		Status: billing.StatusPending,
	}))

	client := &fakeStripe{sub: stripeSub("sub_1", stripe.SubscriptionStatusActive, 1769904000)}
	r, _, _ := newTestReconciler(repo, client)

	session := &stripe.CheckoutSession{
		ID:           "cs_1",
		Metadata:     map[string]string{"user_id": "7", "plan_id": "2"},
		Subscription: &stripe.Subscription{ID: "sub_1"},
	}
	require.NoError(t, r.HandleCheckoutCompleted(session))
	require.NoError(t, r.HandleCheckoutCompleted(session))

	require.Len(t, repo.subs, 1, "redelivery must converge on one row")
	require.Equal(t, billing.StatusActive, repo.subs[0].Status)
}

func TestCheckoutCompletedWithoutPendingRowUpserts(t *testing.T) {
	repo := newFakeRepo()
	repo.users[7] = &users.User{ID: 7}
	repo.plans[2] = &plans.Plan{ID: 2, Name: "standard", AnalysesPerInterval: 5}

	client := &fakeStripe{sub: stripeSub("sub_1", stripe.SubscriptionStatusTrialing, 1769904000)}
	r, _, _ := newTestReconciler(repo, client)

	session := &stripe.CheckoutSession{
		ID:           "cs_1",
		Metadata:     map[string]string{"user_id": "7", "plan_id": "2"},
		Subscription: &stripe.Subscription{ID: "sub_1"},
	}
	require.NoError(t, r.HandleCheckoutCompleted(session))

	require.Len(t, repo.subs, 1)
	require.Equal(t, uint(7), repo.subs[0].UserID)
	require.NotNil(t, repo.subs[0].PlanID)
	require.Equal(t, uint(2), *repo.subs[0].PlanID)
	require.Equal(t, billing.StatusTrialing, repo.subs[0].Status)
}

func TestCheckoutCompletedMissingMetadataIsSkipped(t *testing.T) {
	repo := newFakeRepo()
	client := &fakeStripe{sub: stripeSub("sub_1", stripe.SubscriptionStatusActive, 1769904000)}
	r, ledger, _ := newTestReconciler(repo, client)

	session := &stripe.CheckoutSession{
		ID:           "cs_1",
		Subscription: &stripe.Subscription{ID: "sub_1"},
	}
	require.NoError(t, r.HandleCheckoutCompleted(session))
	require.Empty(t, repo.subs)
	require.Empty(t, ledger.grants)
}

func TestCreatedBeforeCheckoutConvergesOnPendingRow(t *testing.T) {
	repo := newFakeRepo()
	repo.users[7] = &users.User{ID: 7}
	repo.plans[2] = &plans.Plan{ID: 2, Name: "standard", AnalysesPerInterval: 5}
	require.NoError(t, repo.Create(&billing.Subscription{
		UserID: 7,
		PlanID: uintPtr(2),
		Status: billing.StatusPending,
	}))

	client := &fakeStripe{sub: stripeSub("sub_1", stripe.SubscriptionStatusTrialing, 1769904000)}
	r, _, _ := newTestReconciler(repo, client)

	end := time.Unix(1769904000, 0)
	snap := billing.SubscriptionSnapshot{
		StripeSubscriptionID: "sub_1",
		StripeCustomerID:     "cus_1",
		Status:               billing.StatusTrialing,
		CurrentPeriodEnd:     &end,
		Metadata:             map[string]string{"user_id": "7", "plan_id": "2"},
	}
	require.NoError(t, r.HandleSubscriptionCreated(snap))

	require.Len(t, repo.subs, 1, "created event must claim the pending row")
	require.NotNil(t, repo.subs[0].StripeSubscriptionID)
	require.Equal(t, "sub_1", *repo.subs[0].StripeSubscriptionID)

	session := &stripe.CheckoutSession{
		ID:           "cs_1",
		Metadata:     map[string]string{"user_id": "7", "plan_id": "2"},
		Subscription: &stripe.Subscription{ID: "sub_1"},
	}
	require.NoError(t, r.HandleCheckoutCompleted(session))

	require.Len(t, repo.subs, 1, "both paths must converge on one local row")
	require.Equal(t, billing.StatusTrialing, repo.subs[0].Status)
	require.Equal(t, uint(7), repo.subs[0].UserID)
}

func TestCheckoutConvergesOnRowCreatedByEvent(t *testing.T) {
	repo := newFakeRepo()
	repo.users[7] = &users.User{ID: 7}
	repo.plans[2] = &plans.Plan{ID: 2, Name: "standard", AnalysesPerInterval: 5}

	client := &fakeStripe{sub: stripeSub("sub_1", stripe.SubscriptionStatusActive, 1769904000)}
	r, _, _ := newTestReconciler(repo, client)

	// No pending row at all: the created event upserts a fresh row, then the
	// checkout delivery must update that row rather than add a second one.
	snap := billing.SubscriptionSnapshot{
		StripeSubscriptionID: "sub_1",
		Status:               billing.StatusActive,
		Metadata:             map[string]string{"user_id": "7", "plan_id": "2"},
	}
	require.NoError(t, r.HandleSubscriptionCreated(snap))
	require.Len(t, repo.subs, 1)

	session := &stripe.CheckoutSession{
		ID:           "cs_1",
		Metadata:     map[string]string{"user_id": "7", "plan_id": "2"},
		Subscription: &stripe.Subscription{ID: "sub_1"},
	}
	require.NoError(t, r.HandleCheckoutCompleted(session))
	require.Len(t, repo.subs, 1)
}

func TestSubscriptionCreatedBeforeCheckoutUsesMetadata(t *testing.T) {
	repo := newFakeRepo()
	repo.users[7] = &users.User{ID: 7}
	repo.plans[2] = &plans.Plan{ID: 2, Name: "standard", AnalysesPerInterval: 5}

	r, ledger, _ := newTestReconciler(repo, &fakeStripe{})

	end := time.Unix(1769904000, 0)
	snap := billing.SubscriptionSnapshot{
		StripeSubscriptionID: "sub_1",
		Status:               billing.StatusTrialing,
		CurrentPeriodEnd:     &end,
		Metadata:             map[string]string{"user_id": "7", "plan_id": "2"},
	}
	require.NoError(t, r.HandleSubscriptionCreated(snap))

	require.Len(t, repo.subs, 1)
	require.Equal(t, uint(7), repo.subs[0].UserID)
	require.Equal(t, []uint{7}, ledger.grants)
}

func TestSubscriptionCreatedWithoutLinkageIsSkipped(t *testing.T) {
	repo := newFakeRepo()
	r, ledger, _ := newTestReconciler(repo, &fakeStripe{})

	snap := billing.SubscriptionSnapshot{
		StripeSubscriptionID: "sub_orphan",
		Status:               billing.StatusActive,
	}
	require.NoError(t, r.HandleSubscriptionCreated(snap))
	require.Empty(t, repo.subs)
	require.Empty(t, ledger.grants)
}

func TestSubscriptionUpdatedRegrantsOnRenewal(t *testing.T) {
	repo := newFakeRepo()
	repo.users[7] = &users.User{ID: 7}
	repo.plans[2] = &plans.Plan{ID: 2, Name: "standard", AnalysesPerInterval: 5}

	oldEnd := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	subID := "sub_1"
	require.NoError(t, repo.Create(&billing.Subscription{
		UserID:               7,
		PlanID:               uintPtr(2),
		StripeSubscriptionID: &subID,
		Status:               billing.StatusActive,
		CurrentPeriodEnd:     &oldEnd,
	}))

	r, ledger, _ := newTestReconciler(repo, &fakeStripe{})

	newEnd := oldEnd.AddDate(0, 1, 0)
	snap := billing.SubscriptionSnapshot{
		StripeSubscriptionID: subID,
		Status:               billing.StatusActive,
		CurrentPeriodEnd:     &newEnd,
	}
	require.NoError(t, r.HandleSubscriptionUpdated(snap))

	require.Equal(t, []uint{7}, ledger.grants, "later period end must re-grant once")
	require.Equal(t, newEnd, *repo.subs[0].CurrentPeriodEnd)

	// Redelivery of the same period end must not grant again.
	require.NoError(t, r.HandleSubscriptionUpdated(snap))
	require.Equal(t, []uint{7}, ledger.grants)
}

func TestSubscriptionUpdatedEarlierPeriodEndDoesNotRegrant(t *testing.T) {
	repo := newFakeRepo()
	repo.plans[2] = &plans.Plan{ID: 2, Name: "standard", AnalysesPerInterval: 5}

	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	subID := "sub_1"
	require.NoError(t, repo.Create(&billing.Subscription{
		UserID:               7,
		PlanID:               uintPtr(2),
		StripeSubscriptionID: &subID,
		Status:               billing.StatusActive,
		CurrentPeriodEnd:     &end,
	}))

	r, ledger, _ := newTestReconciler(repo, &fakeStripe{})

	earlier := end.AddDate(0, -1, 0)
	snap := billing.SubscriptionSnapshot{
		StripeSubscriptionID: subID,
		Status:               billing.StatusPastDue,
		CurrentPeriodEnd:     &earlier,
	}
	require.NoError(t, r.HandleSubscriptionUpdated(snap))

	require.Empty(t, ledger.grants, "out-of-order older event must not re-grant")
	require.Equal(t, billing.StatusPastDue, repo.subs[0].Status)
}

func TestSubscriptionUpdatedUnknownRowIsNoop(t *testing.T) {
	repo := newFakeRepo()
	r, ledger, _ := newTestReconciler(repo, &fakeStripe{})

	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	snap := billing.SubscriptionSnapshot{
		StripeSubscriptionID: "sub_unknown",
		Status:               billing.StatusActive,
		CurrentPeriodEnd:     &end,
	}
	require.NoError(t, r.HandleSubscriptionUpdated(snap))
	require.Empty(t, repo.subs)
	require.Empty(t, ledger.grants)
}

func TestSubscriptionUpdatedStoresUnknownStatusVerbatim(t *testing.T) {
	repo := newFakeRepo()
	subID := "sub_1"
	require.NoError(t, repo.Create(&billing.Subscription{
		UserID:               7,
		StripeSubscriptionID: &subID,
		Status:               billing.StatusActive,
	}))

	r, _, _ := newTestReconciler(repo, &fakeStripe{})

	snap := billing.SubscriptionSnapshot{
		StripeSubscriptionID: subID,
		Status:               "paused",
	}
	require.NoError(t, r.HandleSubscriptionUpdated(snap))
	require.Equal(t, "paused", repo.subs[0].Status)
}

func TestSubscriptionDeletedCancelsRow(t *testing.T) {
	repo := newFakeRepo()
	subID := "sub_1"
	require.NoError(t, repo.Create(&billing.Subscription{
		UserID:               7,
		StripeSubscriptionID: &subID,
		Status:               billing.StatusActive,
	}))

	r, _, _ := newTestReconciler(repo, &fakeStripe{})

	snap := billing.SubscriptionSnapshot{StripeSubscriptionID: subID}
	require.NoError(t, r.HandleSubscriptionDeleted(snap))
	require.Equal(t, billing.StatusCanceled, repo.subs[0].Status)

	// Unknown id is acknowledged without error.
	require.NoError(t, r.HandleSubscriptionDeleted(billing.SubscriptionSnapshot{
		StripeSubscriptionID: "sub_unknown",
	}))
}
