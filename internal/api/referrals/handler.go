package referrals

import (
	"net/http"

	"analysis-app/database"
	"analysis-app/internal/domain/users"

	"github.com/gin-gonic/gin"
)

// ReferralStatus reports the caller's referral code, who referred them, the
// users they referred, and the state of their referral bonus.
func ReferralStatus(c *gin.Context) {
	userID := c.GetUint("user_id")
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not identified"})
		return
	}

	var user users.User
	if err := database.DB.Where("id = ?", userID).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}

	var referredUsers []users.User
	if err := database.DB.Where("referred_by = ?", user.ReferralCode).Find(&referredUsers).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load referrals"})
		return
	}

	referred := make([]gin.H, 0, len(referredUsers))
	for _, ref := range referredUsers {
		referred = append(referred, gin.H{
			"id":    ref.ID,
			"email": ref.Email,
		})
	}

	payload := gin.H{
		"user": gin.H{
			"id":             user.ID,
			"email":          user.Email,
			"referral_code":  user.ReferralCode,
			"referred_by":    user.ReferredBy,
			"is_unlimited":   user.IsUnlimited,
			"package_expiry": user.PackageExpiry,
			"referral_count": len(referredUsers),
		},
		"referred_users": referred,
	}

	if user.ReferredBy != nil && *user.ReferredBy != "" {
		var referrer users.User
		if err := database.DB.Where("referral_code = ?", *user.ReferredBy).First(&referrer).Error; err == nil {
			payload["referrer"] = gin.H{
				"id":            referrer.ID,
				"email":         referrer.Email,
				"referral_code": referrer.ReferralCode,
			}
		}
	}

	c.JSON(http.StatusOK, payload)
}
