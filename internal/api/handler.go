package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"loyalty-service/internal/models"
	"loyalty-service/internal/service"
	"loyalty-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MerchantStore resolves merchants by API key
type MerchantStore interface {
	GetMerchantByAPIKey(ctx context.Context, apiKey string) (*models.Merchant, error)
}

// Ledger is the ledger surface used by the HTTP layer
type Ledger interface {
	ApplyForMerchant(ctx context.Context, merchantID int64, req service.ApplyRequest) (*service.ApplyResult, error)
	Purchase(ctx context.Context, merchant *models.Merchant, ref service.CustomerRef, amount decimal.Decimal) (*service.OperationResult, error)
	Redeem(ctx context.Context, merchant *models.Merchant, ref service.CustomerRef, points int64, amount decimal.Decimal) (*service.OperationResult, error)
	GetBalance(ctx context.Context, merchantID, customerMerchantID int64) (*models.Balance, error)
	History(ctx context.Context, merchantID, customerMerchantID int64, limit int) ([]models.Transaction, error)
	SubjectBalance(ctx context.Context, telegramID string) (*models.Enrollment, *models.Balance, error)
	SubjectHistory(ctx context.Context, telegramID string, limit int) (*models.Enrollment, []models.Transaction, error)
}

// Checkouts runs POS checkouts
type Checkouts interface {
	Checkout(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
	Lookup(ctx context.Context, merchant *models.Merchant, code string) (*service.LookupResult, error)
}

// SessionCodes issues session codes for bot users
type SessionCodes interface {
	IssueForSubject(ctx context.Context, telegramID string) (*service.IssuedCode, error)
	TTL() time.Duration
}

// QRRenderer renders a session code as a base64 PNG
type QRRenderer interface {
	Base64PNG(code string) (string, error)
}

// Pinger is a dependency checked by /ready
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	_ Ledger       = (*service.LedgerService)(nil)
	_ Checkouts    = (*service.CheckoutOrchestrator)(nil)
	_ SessionCodes = (*service.SessionCodeIssuer)(nil)
)

// Deps are the collaborators of the HTTP handler
type Deps struct {
	Merchants    MerchantStore
	Ledger       Ledger
	Checkouts    Checkouts
	SessionCodes SessionCodes
	QR           QRRenderer
	Readiness    map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	merchants MerchantStore
	ledger    Ledger
	checkouts Checkouts
	codes     SessionCodes
	qr        QRRenderer
	readiness map[string]Pinger
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	return &Handler{
		merchants: deps.Merchants,
		ledger:    deps.Ledger,
		checkouts: deps.Checkouts,
		codes:     deps.SessionCodes,
		qr:        deps.QR,
		readiness: deps.Readiness,
		logger:    util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	integration := v1.Group("/integration", h.merchantAuth())
	{
		integration.POST("/lookup", h.lookup)
		integration.POST("/checkout", h.checkout)
		integration.POST("/purchase", h.integrationPurchase)
		integration.POST("/redeem", h.integrationRedeem)
	}

	loyalty := v1.Group("/loyalty", h.merchantAuth())
	{
		loyalty.POST("/transactions", h.applyTransaction)
		loyalty.POST("/purchase", h.loyaltyPurchase)
		loyalty.POST("/redeem", h.loyaltyRedeem)
		loyalty.GET("/balance/:customerMerchantId", h.loyaltyBalance)
		loyalty.GET("/transactions/:customerMerchantId", h.loyaltyTransactions)
	}

	bot := v1.Group("/bot")
	{
		bot.POST("/session-code", h.issueSessionCode)
		bot.GET("/balance", h.botBalance)
		bot.GET("/history", h.botHistory)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(gin.H, len(h.readiness))
	ready := true
	for name, dep := range h.readiness {
		if err := dep.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = "unavailable"
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
