package billing

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"analysis-app/config"
	"analysis-app/database"
	"analysis-app/internal/domain/billing"
	"analysis-app/internal/domain/credits"
	"analysis-app/internal/domain/plans"
	"analysis-app/internal/domain/users"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
)

// CreateSubscription starts a checkout: it gates on remaining entitlement,
// reuses or creates the Stripe customer, opens a checkout session tagged with
// the local identity, and records the pending subscription row the webhook
// will later populate.
func CreateSubscription(c *gin.Context) {
	var body struct {
		PlanID uint `json:"plan_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.PlanID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid plan_id"})
		return
	}

	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
	if stripe.Key == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Stripe key not configured"})
		return
	}

	userID := c.GetUint("user_id")
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not identified"})
		return
	}

	repo := billing.NewRepository(database.DB)

	var plan plans.Plan
	if err := database.DB.Where("id = ? AND active = ?", body.PlanID, true).First(&plan).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Plan not found"})
		return
	}

	var user users.User
	if err := database.DB.Where("id = ?", userID).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}

	// Entitlement gate: a second paid subscription is blocked while credits
	// remain, whether or not an active subscription row exists.
	row, err := credits.NewLedgerFromDB(database.DB).Balance(userID)
	balance, isUnlimited, err := balanceGate(row, err)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load balance"})
		return
	}
	if balance > 0 || isUnlimited {
		active, _ := repo.FindActiveForUser(userID)
		c.JSON(http.StatusBadRequest, alreadyEntitledPayload(balance, isUnlimited, active))
		return
	}

	// Reuse the customer from the user's most recent subscription row,
	// regardless of its status; otherwise create one.
	customerID := ""
	if latest, err := repo.FindLatestForUser(userID); err == nil && latest != nil &&
		latest.StripeCustomerID != nil && *latest.StripeCustomerID != "" {
		cus, err := customer.Get(*latest.StripeCustomerID, nil)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Stripe error: %v", err)})
			return
		}
		customerID = cus.ID
	} else {
		cus, err := customer.New(&stripe.CustomerParams{
			Email: stripe.String(user.Email),
			Name:  stripe.String(user.Name),
			Metadata: map[string]string{
				"user_id": fmt.Sprint(user.ID),
				"plan_id": fmt.Sprint(plan.ID),
			},
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Stripe error: %v", err)})
			return
		}
		customerID = cus.ID
	}

	successURL := config.BASE_URL_FRONTEND
	if successURL == "" {
		successURL = "http://localhost:3000"
	}

	// user_id/plan_id metadata on both the session and the subscription-to-be
	// is the only correlation key the webhook has back to local identity.
	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:         stripe.String(successURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:          stripe.String(successURL),

		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(plan.StripePriceID), Quantity: stripe.Int64(1)},
		},

		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"user_id": fmt.Sprint(user.ID),
				"plan_id": fmt.Sprint(plan.ID),
			},
		},

		AllowPromotionCodes: stripe.Bool(true),
	}
	params.AddMetadata("user_id", fmt.Sprint(user.ID))
	params.AddMetadata("plan_id", fmt.Sprint(plan.ID))

	s, err := checkoutsession.New(params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Stripe error: %v", err)})
		return
	}

	// Pending row; the webhook (or the status poll) fills in the rest.
	planID := plan.ID
	sub := billing.Subscription{
		UserID:           user.ID,
		PlanID:           &planID,
		StripeCustomerID: &customerID,
		Status:           billing.StatusPending,
	}
	if err := repo.Create(&sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create subscription record"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"checkout_url":        s.URL,
		"checkout_session_id": s.ID,
		"subscription_id":     sub.ID,
		"plan":                plan.Name,
		"trial_days":          plan.TrialDays,
		"message":             fmt.Sprintf("Redirecting to Stripe checkout with %d days trial period", plan.TrialDays),
	})
}

// balanceGate folds the balance lookup into gate inputs. A missing row means
// zero entitlement and the checkout proceeds; any other lookup failure aborts
// it rather than letting a transient fault bypass the gate.
func balanceGate(row *credits.AnalysisBalance, err error) (int, bool, error) {
	if err != nil {
		if errors.Is(err, credits.ErrNoBalance) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return row.Balance, row.IsUnlimited(), nil
}

func alreadyEntitledPayload(balance int, isUnlimited bool, active *billing.Subscription) gin.H {
	payload := gin.H{
		"error":        "You already have an active subscription",
		"message":      "You cannot create a new subscription while you have an active plan",
		"balance":      balance,
		"is_unlimited": isUnlimited,
	}
	if active != nil {
		planName := "Unknown"
		if active.Plan != nil {
			planName = active.Plan.Name
		}
		payload["current_plan"] = planName
		payload["status"] = active.Status
		payload["subscription_id"] = active.ID
		payload["current_period_end"] = active.CurrentPeriodEnd
	}
	return payload
}
