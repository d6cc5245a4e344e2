package billing

import (
	"fmt"
	"net/http"
	"os"

	"analysis-app/database"
	stripewebhooks "analysis-app/internal/api/stripewebhook"
	"analysis-app/internal/domain/billing"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
)

// CheckoutSessionStatus is the synchronous reconciliation path: the frontend
// polls it after redirect. A paid session goes through the same snapshot
// apply as the checkout.session.completed webhook, so the two racing paths
// converge on identical stored state.
func CheckoutSessionStatus(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
	if stripe.Key == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Stripe key not configured"})
		return
	}

	session, err := checkoutsession.Get(sessionID, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Stripe error: %v", err)})
		return
	}

	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid && session.Subscription != nil {
		sub, err := stripewebhooks.DefaultReconciler().ReconcileCheckoutSession(session)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Stripe error: %v", err)})
			return
		}
		if sub != nil {
			planName := "Unknown"
			if sub.Plan != nil {
				planName = sub.Plan.Name
			}
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"subscription": gin.H{
					"id":                 sub.ID,
					"status":             sub.Status,
					"trial_end":          sub.TrialEnd,
					"current_period_end": sub.CurrentPeriodEnd,
					"plan_name":          planName,
				},
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        false,
		"payment_status": session.PaymentStatus,
		"session_status": session.Status,
	})
}

// UserSubscriptionStatus returns the caller's active subscription summary.
func UserSubscriptionStatus(c *gin.Context) {
	userID := c.GetUint("user_id")
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not identified"})
		return
	}

	active, err := billing.NewRepository(database.DB).FindActiveForUser(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load subscription"})
		return
	}
	if active == nil {
		c.JSON(http.StatusOK, gin.H{
			"has_subscription": false,
			"message":          "No active subscription found",
		})
		return
	}

	planName := "Unknown"
	if active.Plan != nil {
		planName = active.Plan.Name
	}
	c.JSON(http.StatusOK, gin.H{
		"has_subscription": true,
		"subscription": gin.H{
			"id":                 active.ID,
			"plan_name":          planName,
			"status":             active.Status,
			"is_trial":           billing.IsTrialStatus(active.Status),
			"is_paid_active":     active.Status == billing.StatusActive,
			"trial_end":          active.TrialEnd,
			"current_period_end": active.CurrentPeriodEnd,
			"created_at":         active.CreatedAt,
		},
	})
}
