package plans

import (
	"fmt"
	"net/http"
	"os"

	"analysis-app/database"
	"analysis-app/internal/domain/plans"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/product"
)

// ListPlans returns the active catalog, newest first.
func ListPlans(c *gin.Context) {
	var plansList []plans.Plan
	if err := database.DB.
		Where("active = ?", true).
		Order("id DESC").
		Find(&plansList).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load plans"})
		return
	}
	c.JSON(http.StatusOK, plansList)
}

// CreatePlan creates the Stripe product and recurring price for a new catalog
// entry, then persists the local row. Amounts are minor units throughout.
func CreatePlan(c *gin.Context) {
	var body struct {
		Name                string `json:"name" binding:"required"`
		Interval            string `json:"interval" binding:"required"`
		AmountCents         int64  `json:"amount" binding:"required"`
		TrialDays           int    `json:"trial_days"`
		AnalysesPerInterval int    `json:"analyses_per_interval"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, interval, amount required"})
		return
	}
	if body.Interval != "month" && body.Interval != "year" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval must be month or year"})
		return
	}

	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
	if stripe.Key == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Stripe key not configured"})
		return
	}

	prod, err := product.New(&stripe.ProductParams{
		Name: stripe.String(body.Name),
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Stripe error: %v", err)})
		return
	}

	pr, err := price.New(&stripe.PriceParams{
		Product:    stripe.String(prod.ID),
		UnitAmount: stripe.Int64(body.AmountCents),
		Currency:   stripe.String("eur"),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(body.Interval),
		},
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Stripe error: %v", err)})
		return
	}

	plan := plans.Plan{
		Name:                body.Name,
		StripeProductID:     stripe.String(prod.ID),
		StripePriceID:       pr.ID,
		AmountCents:         body.AmountCents,
		Interval:            body.Interval,
		TrialDays:           body.TrialDays,
		Active:              true,
		AnalysesPerInterval: body.AnalysesPerInterval,
	}
	if err := database.DB.Create(&plan).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create plan", "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, plan)
}

// UpdatePlan renames the Stripe product to match and, when the amount
// changes, mints a new Stripe price and repoints the plan (Stripe prices are
// immutable). Stripe failures on rename are logged into the response details
// but do not block the local update.
func UpdatePlan(c *gin.Context) {
	var body struct {
		Name                *string `json:"name"`
		AmountCents         *int64  `json:"amount"`
		TrialDays           *int    `json:"trial_days"`
		AnalysesPerInterval *int    `json:"analyses_per_interval"`
		Active              *bool   `json:"active"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var plan plans.Plan
	if err := database.DB.Where("id = ?", c.Param("id")).First(&plan).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Plan not found"})
		return
	}

	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
	if stripe.Key == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Stripe key not configured"})
		return
	}

	if body.Name != nil && *body.Name != "" {
		plan.Name = *body.Name
		if plan.StripeProductID != nil {
			if _, err := product.Update(*plan.StripeProductID, &stripe.ProductParams{
				Name: stripe.String(plan.Name),
			}); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Stripe error: %v", err)})
				return
			}
		}
	}

	if body.AmountCents != nil && *body.AmountCents != plan.AmountCents {
		if plan.StripeProductID == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Plan has no Stripe product"})
			return
		}
		newPrice, err := price.New(&stripe.PriceParams{
			Product:    stripe.String(*plan.StripeProductID),
			UnitAmount: stripe.Int64(*body.AmountCents),
			Currency:   stripe.String("eur"),
			Recurring: &stripe.PriceRecurringParams{
				Interval: stripe.String(plan.Interval),
			},
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Stripe error: %v", err)})
			return
		}
		plan.AmountCents = *body.AmountCents
		plan.StripePriceID = newPrice.ID
	}

	if body.TrialDays != nil {
		plan.TrialDays = *body.TrialDays
	}
	if body.AnalysesPerInterval != nil {
		plan.AnalysesPerInterval = *body.AnalysesPerInterval
	}
	if body.Active != nil {
		plan.Active = *body.Active
	}

	if err := database.DB.Save(&plan).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update plan", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, plan)
}
