package routes

import (
	analysisapi "analysis-app/internal/api/analysis"
	authapi "analysis-app/internal/api/auth"
	"analysis-app/internal/api/billing"
	"analysis-app/internal/api/plans"
	referralsapi "analysis-app/internal/api/referrals"
	stripewebhooks "analysis-app/internal/api/stripewebhook"
	"analysis-app/internal/app/http/middleware"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine) {
	// Raw body required for signature verification: no sanitization here.
	r.POST("/webhook", stripewebhooks.StripeWebhook)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	public := r.Group("/")
	public.Use(middleware.SanitizeAndCleanInputMiddleware())

	public.POST("/register", authapi.Register)
	public.POST("/login", authapi.Login)
	public.GET("/plans", plans.ListPlans)

	// Authenticated
	auth := r.Group("/")
	auth.Use(middleware.AuthMiddleware())
	auth.POST("/create-subscription", billing.CreateSubscription)
	auth.GET("/checkout-status", billing.CheckoutSessionStatus)
	auth.GET("/subscription-status", billing.UserSubscriptionStatus)
	auth.GET("/analysis-balance", billing.UserAnalysisBalance)
	auth.GET("/referral-status", referralsapi.ReferralStatus)
	auth.POST("/analyze", analysisapi.RequestAnalysis)

	// Admin routes
	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(), middleware.RequireRole("admin"))
	admin.POST("/plans", plans.CreatePlan)
	admin.PUT("/plans/:id", plans.UpdatePlan)
}
