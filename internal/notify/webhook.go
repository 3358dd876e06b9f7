package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"loyalty-service/internal/models"
	"loyalty-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const webhookSink = "webhook"

// CheckoutMessage is the body the bot's internal notify endpoint accepts
type CheckoutMessage struct {
	TelegramID         string          `json:"telegram_id"`
	MerchantName       string          `json:"merchant_name,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	PointsEarned       int64           `json:"points_earned"`
	PointsSpent        int64           `json:"points_spent"`
	Balance            int64           `json:"balance"`
	CustomerMerchantID int64           `json:"customer_merchant_id"`
	ReceiptID          string          `json:"receipt_id,omitempty"`
}

// NewCheckoutMessage flattens a notification into the bot payload
func NewCheckoutMessage(n *models.CheckoutNotification) CheckoutMessage {
	return CheckoutMessage{
		TelegramID:         n.SubjectID,
		MerchantName:       n.MerchantName,
		Amount:             n.Summary.Amount,
		PointsEarned:       n.Summary.PointsEarned,
		PointsSpent:        n.Summary.PointsSpent,
		Balance:            n.Balance.Points,
		CustomerMerchantID: n.CustomerMerchantID,
		ReceiptID:          n.ReceiptID,
	}
}

// WebhookNotifier posts checkout notifications to the Telegram bot
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWebhookNotifier creates a notifier posting to url
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.GetLogger(),
	}
}

// NotifyCheckout delivers one notification; non-2xx responses are errors
func (w *WebhookNotifier) NotifyCheckout(ctx context.Context, n *models.CheckoutNotification) error {
	if err := w.post(ctx, NewCheckoutMessage(n)); err != nil {
		util.NotificationsFailedTotal.WithLabelValues(webhookSink).Inc()
		return err
	}
	util.NotificationsSentTotal.WithLabelValues(webhookSink).Inc()
	return nil
}

func (w *WebhookNotifier) post(ctx context.Context, msg CheckoutMessage) error {
	if w.url == "" {
		return fmt.Errorf("bot notify url is not configured")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bot returned non-success status: %d", resp.StatusCode)
	}

	w.logger.Debug("Checkout notification delivered",
		zap.String("telegram_id", msg.TelegramID),
		zap.Int64("customer_merchant_id", msg.CustomerMerchantID))
	return nil
}

// Discard drops notifications; used when delivery is switched off
type Discard struct{}

// NotifyCheckout implements service.Notifier
func (Discard) NotifyCheckout(ctx context.Context, n *models.CheckoutNotification) error {
	return nil
}
