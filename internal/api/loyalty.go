package api

import (
	"net/http"
	"strconv"

	"loyalty-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type linkPurchaseRequest struct {
	CustomerMerchantID int64           `json:"customerMerchantId" binding:"required,gt=0"`
	Amount             decimal.Decimal `json:"amount"`
}

type linkRedeemRequest struct {
	CustomerMerchantID int64           `json:"customerMerchantId" binding:"required,gt=0"`
	Points             int64           `json:"points" binding:"gt=0"`
	Amount             decimal.Decimal `json:"amount"`
}

// applyTransaction exposes the raw ledger applier for links the merchant owns
func (h *Handler) applyTransaction(c *gin.Context) {
	var req service.ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	merchant := merchantFrom(c)
	result, err := h.ledger.ApplyForMerchant(c.Request.Context(), merchant.ID, req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "OK",
		"merchant":    merchantSummary(merchant),
		"transaction": result.Transaction,
		"balance":     result.Balance,
	})
}

func (h *Handler) loyaltyPurchase(c *gin.Context) {
	var req linkPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	ref := service.CustomerRef{CustomerMerchantID: req.CustomerMerchantID}
	result, err := h.ledger.Purchase(c.Request.Context(), merchantFrom(c), ref, req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.writeOperation(c, result)
}

func (h *Handler) loyaltyRedeem(c *gin.Context) {
	var req linkRedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	ref := service.CustomerRef{CustomerMerchantID: req.CustomerMerchantID}
	result, err := h.ledger.Redeem(c.Request.Context(), merchantFrom(c), ref, req.Points, req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.writeOperation(c, result)
}

func (h *Handler) loyaltyBalance(c *gin.Context) {
	customerMerchantID, ok := linkIDParam(c)
	if !ok {
		return
	}

	merchant := merchantFrom(c)
	balance, err := h.ledger.GetBalance(c.Request.Context(), merchant.ID, customerMerchantID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "OK",
		"merchant": merchantSummary(merchant),
		"balance":  balance,
	})
}

func (h *Handler) loyaltyTransactions(c *gin.Context) {
	customerMerchantID, ok := linkIDParam(c)
	if !ok {
		return
	}

	merchant := merchantFrom(c)
	txns, err := h.ledger.History(c.Request.Context(), merchant.ID, customerMerchantID, queryLimit(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "OK",
		"merchant":     merchantSummary(merchant),
		"transactions": txns,
	})
}

func linkIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("customerMerchantId"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "ERROR",
			"error":   service.KindValidation.String(),
			"message": "Invalid customerMerchantId",
		})
		return 0, false
	}
	return id, true
}

// queryLimit parses ?limit=; the ledger clamps it
func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return limit
}
