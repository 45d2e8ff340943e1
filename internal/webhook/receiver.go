// Package webhook authenticates provider callbacks and turns them into
// settlement calls.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"materials-backend/internal/gateway"
	"materials-backend/internal/metrics"
	"materials-backend/internal/notify"
	"materials-backend/internal/settlement"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	ProviderPaystack = "paystack"
	ProviderMidtrans = "midtrans"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMissingSecret    = errors.New("webhook secret not configured")
	ErrUnknownProvider  = errors.New("unknown webhook provider")
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

var validate = validator.New()

// Settler is the part of the settlement engine the receiver drives.
type Settler interface {
	CompletePurchase(ctx context.Context, reference, externalID string) (*settlement.PurchaseResult, error)
	ProcessRefund(ctx context.Context, reference, reason string) error
	CompleteWithdrawal(ctx context.Context, reference, externalID string) error
}

// SecretFunc returns the signing secret for a provider, or "".
type SecretFunc func(provider string) string

type Receiver struct {
	settler Settler
	bus     notify.Bus
	secret  SecretFunc
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewReceiver(settler Settler, bus notify.Bus, secret SecretFunc, m *metrics.Metrics, logger *zap.Logger) *Receiver {
	return &Receiver{settler: settler, bus: bus, secret: secret, metrics: m, logger: logger}
}

type paystackEvent struct {
	Event string       `json:"event" validate:"required"`
	Data  paystackData `json:"data"`
}

type paystackData struct {
	ID              json.Number `json:"id"`
	Reference       string      `json:"reference" validate:"required"`
	Status          string      `json:"status"`
	TransferCode    string      `json:"transfer_code"`
	GatewayResponse string      `json:"gateway_response"`
	Reason          string      `json:"reason"`
}

type midtransNotification struct {
	OrderID           string `json:"order_id" validate:"required"`
	StatusCode        string `json:"status_code" validate:"required"`
	GrossAmount       string `json:"gross_amount" validate:"required"`
	SignatureKey      string `json:"signature_key" validate:"required"`
	TransactionStatus string `json:"transaction_status" validate:"required"`
	FraudStatus       string `json:"fraud_status"`
	TransactionID     string `json:"transaction_id"`
}

// Handle verifies a callback and dispatches it. Only authentication and
// configuration problems are returned; once a callback is authentic the
// provider is always acknowledged and downstream failures are logged.
func (r *Receiver) Handle(ctx context.Context, provider string, body []byte, signature string) error {
	secret := ""
	switch provider {
	case ProviderPaystack, ProviderMidtrans:
		secret = r.secret(provider)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	if secret == "" {
		r.logger.Error("Webhook secret missing", zap.String("provider", provider))
		return ErrMissingSecret
	}

	// settlement must not be cut short by the provider hanging up
	ctx = context.WithoutCancel(ctx)

	if provider == ProviderMidtrans {
		return r.handleMidtrans(ctx, body, secret)
	}
	return r.handlePaystack(ctx, body, signature, secret)
}

// SignPaystack returns the hex HMAC-SHA512 of body keyed on secret.
func SignPaystack(body []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignMidtrans returns Midtrans' signature_key for a notification.
func SignMidtrans(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func validSignature(expected, given string) bool {
	given = strings.ToLower(strings.TrimSpace(given))
	if given == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(given))
}

func (r *Receiver) handlePaystack(ctx context.Context, body []byte, signature, secret string) error {
	if !validSignature(SignPaystack(body, secret), signature) {
		r.metrics.WebhookEvent(ProviderPaystack, "unknown", "rejected")
		r.logger.Warn("Rejected webhook with invalid signature", zap.String("provider", ProviderPaystack))
		return ErrInvalidSignature
	}

	var evt paystackEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		r.malformed(ProviderPaystack, err)
		return nil
	}
	if err := validate.Struct(evt); err != nil {
		r.malformed(ProviderPaystack, err)
		return nil
	}

	log := r.logger.With(
		zap.String("provider", ProviderPaystack),
		zap.String("event", evt.Event),
		zap.String("reference", evt.Data.Reference))

	var err error
	switch evt.Event {
	case "charge.success":
		err = r.settlePurchase(ctx, evt.Data.Reference, evt.Data.ID.String())
	case "transfer.success":
		err = r.settler.CompleteWithdrawal(ctx, evt.Data.Reference, evt.Data.TransferCode)
	case "transfer.failed", "transfer.reversed":
		err = r.settler.ProcessRefund(ctx, evt.Data.Reference, transferFailureReason(evt))
	default:
		log.Debug("Ignoring webhook event")
		r.metrics.WebhookEvent(ProviderPaystack, evt.Event, "ignored")
		return nil
	}

	r.finish(log, ProviderPaystack, evt.Event, err)
	return nil
}

func transferFailureReason(evt paystackEvent) string {
	reason := strings.TrimPrefix(evt.Event, "transfer.")
	if evt.Data.GatewayResponse != "" {
		return fmt.Sprintf("transfer %s: %s", reason, evt.Data.GatewayResponse)
	}
	return "transfer " + reason
}

func (r *Receiver) handleMidtrans(ctx context.Context, body []byte, serverKey string) error {
	var n midtransNotification
	if err := json.Unmarshal(body, &n); err != nil || n.SignatureKey == "" {
		// without a signature_key there is nothing to authenticate
		r.metrics.WebhookEvent(ProviderMidtrans, "unknown", "rejected")
		return ErrInvalidSignature
	}
	if !validSignature(SignMidtrans(n.OrderID, n.StatusCode, n.GrossAmount, serverKey), n.SignatureKey) {
		r.metrics.WebhookEvent(ProviderMidtrans, n.TransactionStatus, "rejected")
		r.logger.Warn("Rejected webhook with invalid signature", zap.String("provider", ProviderMidtrans))
		return ErrInvalidSignature
	}
	if err := validate.Struct(n); err != nil {
		r.malformed(ProviderMidtrans, err)
		return nil
	}

	log := r.logger.With(
		zap.String("provider", ProviderMidtrans),
		zap.String("event", n.TransactionStatus),
		zap.String("reference", n.OrderID))

	var err error
	switch gateway.NormalizeMidtransStatus(n.TransactionStatus, n.FraudStatus) {
	case gateway.StatusSuccess:
		err = r.settlePurchase(ctx, n.OrderID, n.TransactionID)
	case "failed":
		r.publish(ctx, n.OrderID, notify.Status{Success: false, Message: "Payment " + n.TransactionStatus})
	default:
		log.Debug("Ignoring pending notification")
		r.metrics.WebhookEvent(ProviderMidtrans, n.TransactionStatus, "ignored")
		return nil
	}

	r.finish(log, ProviderMidtrans, n.TransactionStatus, err)
	return nil
}

// settlePurchase completes the purchase and tells any waiting client.
func (r *Receiver) settlePurchase(ctx context.Context, reference, externalID string) error {
	res, err := r.settler.CompletePurchase(ctx, reference, externalID)
	if err != nil {
		r.publish(ctx, reference, notify.Status{Success: false, Message: "Payment could not be confirmed"})
		return err
	}
	r.publish(ctx, reference, notify.Status{Success: true, Message: "Payment successful", OrderID: res.OrderID})
	return nil
}

func (r *Receiver) publish(ctx context.Context, reference string, st notify.Status) {
	if err := r.bus.Publish(ctx, reference, st); err != nil {
		r.logger.Warn("Failed to publish payment status", zap.String("reference", reference), zap.Error(err))
	}
}

func (r *Receiver) finish(log *zap.Logger, provider, event string, err error) {
	if err != nil {
		log.Error("Webhook dispatch failed", zap.Error(err))
		r.metrics.WebhookEvent(provider, event, "failed")
		return
	}
	log.Info("Webhook processed")
	r.metrics.WebhookEvent(provider, event, "processed")
}

func (r *Receiver) malformed(provider string, err error) {
	r.logger.Warn("Authentic webhook with malformed payload acknowledged",
		zap.String("provider", provider), zap.Error(fmt.Errorf("%w: %v", ErrMalformedPayload, err)))
	r.metrics.WebhookEvent(provider, "unknown", "malformed")
}
