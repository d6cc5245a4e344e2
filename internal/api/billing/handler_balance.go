package billing

import (
	"errors"
	"net/http"

	"analysis-app/database"
	"analysis-app/internal/domain/credits"

	"github.com/gin-gonic/gin"
)

// UserAnalysisBalance returns the caller's remaining analysis credits.
func UserAnalysisBalance(c *gin.Context) {
	userID := c.GetUint("user_id")
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not identified"})
		return
	}

	row, err := credits.NewLedgerFromDB(database.DB).Balance(userID)
	if err != nil {
		if errors.Is(err, credits.ErrNoBalance) {
			c.JSON(http.StatusOK, gin.H{
				"balance":      0,
				"is_unlimited": false,
				"message":      "No active subscription",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load balance"})
		return
	}

	if row.IsUnlimited() {
		c.JSON(http.StatusOK, gin.H{
			"balance":      "unlimited",
			"is_unlimited": true,
			"updated_at":   row.UpdatedAt,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":      row.Balance,
		"is_unlimited": false,
		"updated_at":   row.UpdatedAt,
	})
}
