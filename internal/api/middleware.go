package api

import (
	"errors"
	"net/http"

	"loyalty-service/internal/models"
	"loyalty-service/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	apiKeyHeader   = "X-API-Key"
	merchantCtxKey = "merchant"
)

// merchantAuth resolves the calling merchant from its API key
func (h *Handler) merchantAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(apiKeyHeader)
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status":  "ERROR",
				"error":   "UNAUTHORIZED",
				"message": "API Key required",
			})
			return
		}

		merchant, err := h.merchants.GetMerchantByAPIKey(c.Request.Context(), apiKey)
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"status":  "ERROR",
				"error":   "FORBIDDEN",
				"message": "Invalid API key",
			})
			return
		}
		if err != nil {
			h.logger.Error("Merchant lookup failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"status":  "ERROR",
				"error":   "STORAGE_FAILURE",
				"message": "Internal server error",
			})
			return
		}

		c.Set(merchantCtxKey, merchant)
		c.Next()
	}
}

func merchantFrom(c *gin.Context) *models.Merchant {
	return c.MustGet(merchantCtxKey).(*models.Merchant)
}

func merchantSummary(m *models.Merchant) gin.H {
	return gin.H{
		"id":   m.ID,
		"code": m.Code,
		"name": m.Name,
	}
}

func enrollmentMerchant(e *models.Enrollment) gin.H {
	return gin.H{
		"id":   e.MerchantID,
		"code": e.MerchantCode,
		"name": e.MerchantName,
	}
}
