package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type sessionCodeRequest struct {
	TelegramUserID flexString `json:"telegramUserId" binding:"required"`
	QR             bool       `json:"qr"`
}

// issueSessionCode issues a code for the user's most recently joined program
func (h *Handler) issueSessionCode(c *gin.Context) {
	var req sessionCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	issued, err := h.codes.IssueForSubject(c.Request.Context(), string(req.TelegramUserID))
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := gin.H{
		"status":           "OK",
		"merchant":         enrollmentMerchant(&issued.Enrollment),
		"customer":         issued.Enrollment,
		"sessionCode":      issued.SessionCode.Code,
		"expiresAt":        issued.SessionCode.ExpiresAt,
		"expiresInSeconds": int(h.codes.TTL().Seconds()),
	}

	if req.QR && h.qr != nil {
		png, err := h.qr.Base64PNG(issued.SessionCode.Code)
		if err != nil {
			h.logger.Warn("Failed to render session code QR", zap.Error(err))
		} else {
			resp["qrPng"] = png
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) botBalance(c *gin.Context) {
	enrollment, balance, err := h.ledger.SubjectBalance(c.Request.Context(), c.Query("telegram_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "OK",
		"merchant": enrollmentMerchant(enrollment),
		"customer": enrollment,
		"balance":  balance,
	})
}

func (h *Handler) botHistory(c *gin.Context) {
	enrollment, txns, err := h.ledger.SubjectHistory(c.Request.Context(), c.Query("telegram_id"), queryLimit(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "OK",
		"merchant":     enrollmentMerchant(enrollment),
		"customer":     enrollment,
		"transactions": txns,
	})
}
