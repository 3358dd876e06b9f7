package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"loyalty-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func statusFor(kind service.ErrorKind) int {
	switch kind {
	case service.KindValidation,
		service.KindRuleViolation,
		service.KindInsufficientPoints,
		service.KindCodeUsedOrExpired:
		return http.StatusBadRequest
	case service.KindCodeNotFound, service.KindNotEnrolled:
		return http.StatusNotFound
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindThrottled:
		return http.StatusTooManyRequests
	case service.KindCodeGenerationExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a service error; storage details never leave the process
func (h *Handler) writeError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	body := gin.H{
		"status": "ERROR",
		"error":  kind.String(),
	}

	var (
		validation   *service.ValidationError
		rule         *service.RuleViolation
		insufficient *service.InsufficientPointsError
	)

	switch {
	case errors.As(err, &validation):
		body["message"] = err.Error()
		body["field"] = validation.Field
	case errors.As(err, &rule):
		body["message"] = err.Error()
		body["rule"] = rule.Kind
		body["limit"] = rule.Limit
		body["requested"] = rule.Requested
	case errors.As(err, &insufficient):
		body["message"] = "Insufficient points"
		body["currentPoints"] = insufficient.Current
		body["requested"] = insufficient.Requested
	case kind == service.KindStorage:
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		body["message"] = "Internal server error"
	default:
		body["message"] = err.Error()
	}

	if kind == service.KindCodeGenerationExhausted {
		c.Header("Retry-After", "1")
	}
	c.JSON(statusFor(kind), body)
}

func writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"status":  "ERROR",
		"error":   service.KindValidation.String(),
		"message": "Invalid request body",
		"details": err.Error(),
	})
}

// flexString accepts a JSON string or a bare number, since POS systems send
// session codes and ids either way
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
