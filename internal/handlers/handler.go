package handlers

import (
	"errors"
	"net/http"
	"time"

	"materials-backend/internal/middleware"
	"materials-backend/internal/notify"
	"materials-backend/internal/settlement"
	"materials-backend/internal/webhook"
	"materials-backend/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler holds the services the HTTP layer talks to.
type Handler struct {
	db          *gorm.DB
	engine      *settlement.Engine
	withdrawals *settlement.WithdrawalManager
	checkouts   *settlement.Checkouts
	webhooks    *webhook.Receiver
	bus         notify.Bus
	logger      *zap.Logger

	maxWebhookBody int64
}

type Deps struct {
	DB          *gorm.DB
	Engine      *settlement.Engine
	Withdrawals *settlement.WithdrawalManager
	Checkouts   *settlement.Checkouts
	Webhooks    *webhook.Receiver
	Bus         notify.Bus
	Logger      *zap.Logger
}

func New(d Deps) *Handler {
	return &Handler{
		db:             d.DB,
		engine:         d.Engine,
		withdrawals:    d.Withdrawals,
		checkouts:      d.Checkouts,
		webhooks:       d.Webhooks,
		bus:            d.Bus,
		logger:         d.Logger,
		maxWebhookBody: 1 << 20,
	}
}

// currentUserID is set by AuthMiddleware.
func currentUserID(c *gin.Context) uint64 {
	return c.GetUint64(middleware.ContextUserID)
}

// respondError maps service errors onto HTTP statuses. Unknown errors are
// logged and hidden from the client.
func (h *Handler) respondError(c *gin.Context, err error) {
	code, message := http.StatusInternalServerError, "Internal server error"

	switch {
	case errors.Is(err, webhook.ErrInvalidSignature):
		code, message = http.StatusUnauthorized, "Invalid signature"
	case errors.Is(err, webhook.ErrMissingSecret):
		code, message = http.StatusInternalServerError, "Webhook not configured"
	case errors.Is(err, webhook.ErrUnknownProvider):
		code, message = http.StatusNotFound, "Unknown provider"
	case errors.Is(err, settlement.ErrNotFound):
		code, message = http.StatusNotFound, "Not found"
	case errors.Is(err, settlement.ErrStateConflict):
		code, message = http.StatusConflict, "Request conflicts with the current state"
	case errors.Is(err, settlement.ErrAlreadyOwned):
		code, message = http.StatusConflict, "You already own this material"
	case errors.Is(err, settlement.ErrInsufficientBalance):
		code, message = http.StatusUnprocessableEntity, "Insufficient balance"
	case errors.Is(err, settlement.ErrBelowMinimum):
		code, message = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, settlement.ErrInvalidBankAccount):
		code, message = http.StatusUnprocessableEntity, "Bank account could not be verified"
	case errors.Is(err, settlement.ErrInvalidReferral):
		code, message = http.StatusUnprocessableEntity, "Invalid referral code"
	case errors.Is(err, settlement.ErrVerificationFailed):
		code, message = http.StatusUnprocessableEntity, "Payment not confirmed"
	case errors.Is(err, settlement.ErrInvalidMetadata):
		code, message = http.StatusUnprocessableEntity, "Payment metadata is invalid"
	case errors.Is(err, settlement.ErrPayoutFailed):
		code, message = http.StatusBadGateway, "Payout failed, funds returned to wallet"
	case errors.Is(err, settlement.ErrPayoutsUnavailable):
		code, message = http.StatusServiceUnavailable, "Payouts unavailable"
	case errors.Is(err, notify.ErrClosed):
		code, message = http.StatusServiceUnavailable, "Shutting down"
	}

	if code >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	utils.APIResponse(c, code, false, message, nil)
}

// Ping is the liveness probe.
func (h *Handler) Ping(c *gin.Context) {
	utils.APIResponse(c, http.StatusOK, true, "Server OK", gin.H{"time": time.Now().UTC()})
}
