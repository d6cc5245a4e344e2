package stripewebhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sync"

	"analysis-app/database"
	"analysis-app/internal/domain/billing"
	"analysis-app/internal/domain/credits"
	"analysis-app/internal/domain/referrals"
	"analysis-app/logger"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

var (
	defaultReconciler *Reconciler
	reconcilerOnce    sync.Once
)

// DefaultReconciler wires the reconciler against the global DB. The status
// poll handler shares it so both reconciliation paths run the same code.
func DefaultReconciler() *Reconciler {
	reconcilerOnce.Do(func() {
		defaultReconciler = NewReconciler(
			billing.NewRepository(database.DB),
			credits.NewLedgerFromDB(database.DB),
			referrals.NewGrantorFromDB(database.DB),
			liveStripeClient{},
			logger.Get(),
		)
	})
	return defaultReconciler
}

func StripeWebhook(c *gin.Context) {
	log := logger.Get()

	// Stripe key is required for any follow-up API calls (subscription.Get etc.)
	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
	if stripe.Key == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "STRIPE_SECRET_KEY not configured"})
		return
	}

	endpointSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if endpointSecret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "STRIPE_WEBHOOK_SECRET not configured"})
		return
	}

	payload, err := readStripeBody(c, 65536)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Error reading request body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		payload,
		c.GetHeader("Stripe-Signature"),
		endpointSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		log.Error("stripe signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Signature verification failed"})
		return
	}

	r := DefaultReconciler()

	// Audit trail, keyed by the event id. Best-effort: a failed write must
	// not block reconciliation, and a duplicate delivery is still processed
	// because every handler is idempotent.
	created, logErr := r.repo.LogEventIfNew(&billing.WebhookEvent{
		EventID: event.ID,
		Type:    string(event.Type),
		Payload: string(event.Data.Raw),
	})
	if logErr != nil {
		log.Warn("failed to persist webhook event", zap.String("event_id", event.ID), zap.Error(logErr))
	} else if !created {
		log.Info("duplicate webhook delivery", zap.String("event_id", event.ID), zap.String("type", string(event.Type)))
	}

	// Inner handler failures are logged and the event is acknowledged anyway;
	// a later delivery or the status poll reconciles the record.
	var handlerErr error
	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse session"})
			return
		}
		handlerErr = r.HandleCheckoutCompleted(&session)

	case "customer.subscription.created":
		snap, err := billing.SnapshotFromRaw(event.Data.Raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse subscription"})
			return
		}
		handlerErr = r.HandleSubscriptionCreated(snap)

	case "customer.subscription.updated":
		snap, err := billing.SnapshotFromRaw(event.Data.Raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse subscription"})
			return
		}
		handlerErr = r.HandleSubscriptionUpdated(snap)

	case "customer.subscription.deleted":
		snap, err := billing.SnapshotFromRaw(event.Data.Raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse subscription"})
			return
		}
		handlerErr = r.HandleSubscriptionDeleted(snap)

	default:
		// Acknowledge unknown events to avoid retries
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if handlerErr != nil {
		log.Error("webhook handler failed",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(handlerErr))
	}
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

func readStripeBody(c *gin.Context, maxBytes int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	return io.ReadAll(c.Request.Body)
}
