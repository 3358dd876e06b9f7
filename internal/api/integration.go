package api

import (
	"net/http"

	"loyalty-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type lookupRequest struct {
	SessionCode flexString `json:"sessionCode" binding:"required"`
}

type checkoutRequest struct {
	SessionCode  flexString      `json:"sessionCode" binding:"required"`
	Amount       decimal.Decimal `json:"amount"`
	RedeemPoints int64           `json:"redeemPoints" binding:"gte=0"`
	ReceiptID    flexString      `json:"receiptId"`
}

type customerPurchaseRequest struct {
	ExternalCustomerID flexString      `json:"externalCustomerId" binding:"required"`
	Phone              *string         `json:"phone"`
	Amount             decimal.Decimal `json:"amount"`
}

type customerRedeemRequest struct {
	ExternalCustomerID flexString      `json:"externalCustomerId" binding:"required"`
	Phone              *string         `json:"phone"`
	Points             int64           `json:"points" binding:"gt=0"`
	Amount             decimal.Decimal `json:"amount"`
}

// lookup resolves the customer behind a session code without consuming it
func (h *Handler) lookup(c *gin.Context) {
	var req lookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	merchant := merchantFrom(c)
	result, err := h.checkouts.Lookup(c.Request.Context(), merchant, string(req.SessionCode))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":             "OK",
		"merchant":           merchant,
		"customer":           result.Customer,
		"balance":            result.Balance,
		"maxRedeemByBalance": result.MaxRedeemByBalance,
		"expiresAt":          result.ExpiresAt,
	})
}

// checkout closes a receipt against a session code
func (h *Handler) checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	merchant := merchantFrom(c)
	result, err := h.checkouts.Checkout(c.Request.Context(), service.CheckoutRequest{
		Merchant:      merchant,
		SessionCode:   string(req.SessionCode),
		ReceiptAmount: req.Amount,
		RedeemPoints:  req.RedeemPoints,
		ReceiptID:     string(req.ReceiptID),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "OK",
		"merchant":     merchant,
		"customer":     result.Customer,
		"transactions": result.Transactions,
		"balance":      result.Balance,
		"receiptId":    result.ReceiptID,
		"summary":      result.Summary,
		"replayed":     result.Replayed,
	})
}

// integrationPurchase earns points for an externally identified customer
func (h *Handler) integrationPurchase(c *gin.Context) {
	var req customerPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	merchant := merchantFrom(c)
	ref := service.CustomerRef{ExternalID: string(req.ExternalCustomerID), Phone: req.Phone}
	result, err := h.ledger.Purchase(c.Request.Context(), merchant, ref, req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.writeOperation(c, result)
}

// integrationRedeem debits points for an externally identified customer
func (h *Handler) integrationRedeem(c *gin.Context) {
	var req customerRedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	merchant := merchantFrom(c)
	ref := service.CustomerRef{ExternalID: string(req.ExternalCustomerID), Phone: req.Phone}
	result, err := h.ledger.Redeem(c.Request.Context(), merchant, ref, req.Points, req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.writeOperation(c, result)
}

func (h *Handler) writeOperation(c *gin.Context, result *service.OperationResult) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "OK",
		"merchant":    merchantSummary(merchantFrom(c)),
		"customer":    result.Enrollment,
		"transaction": result.Transaction,
		"balance":     result.Balance,
	})
}
