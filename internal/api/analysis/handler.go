package analysis

import (
	"net/http"

	"analysis-app/database"
	"analysis-app/internal/domain/credits"
	"analysis-app/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestAnalysis consumes one analysis credit before the request is handed
// to the analysis backend. The debit is atomic against concurrent renewal
// grants, so a grant landing mid-request is never silently overwritten.
func RequestAnalysis(c *gin.Context) {
	userID := c.GetUint("user_id")
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not identified"})
		return
	}

	ledger := credits.NewLedgerFromDB(database.DB)
	ok, remaining, err := ledger.TryDebit(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to debit analysis credit"})
		return
	}
	if !ok {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "No analysis credits remaining",
			"balance": 0,
			"message": "Subscribe or renew your plan to run more analyses",
		})
		return
	}

	logger.Get().Info("analysis credit debited",
		zap.Uint("user_id", userID),
		zap.Int("remaining", remaining))

	if remaining >= credits.UnlimitedBalance {
		c.JSON(http.StatusOK, gin.H{"accepted": true, "balance": "unlimited"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true, "balance": remaining})
}
