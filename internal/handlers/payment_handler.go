package handlers

import (
	"errors"
	"io"
	"net/http"

	"materials-backend/internal/notify"
	"materials-backend/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HandleWebhook receives provider callbacks on /webhooks/:provider. The
// signature is checked over the raw body, so nothing may parse it first.
func (h *Handler) HandleWebhook(c *gin.Context) {
	provider := c.Param("provider")

	// 1. Raw body
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.APIResponse(c, http.StatusRequestEntityTooLarge, false, "Payload too large", nil)
			return
		}
		utils.APIResponse(c, http.StatusBadRequest, false, "Unreadable body", nil)
		return
	}

	// 2. Signature header
	signature := c.GetHeader("X-Signature")
	if signature == "" {
		signature = c.GetHeader("X-Paystack-Signature")
	}

	// 3. Verify and dispatch
	if err := h.webhooks.Handle(c.Request.Context(), provider, body, signature); err != nil {
		h.respondError(c, err)
		return
	}

	// 4. Acknowledge, or the provider keeps retrying
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// VerifyPayment lets the client ask for settlement when it returns from the
// gateway before the webhook arrives. Settlement is idempotent.
func (h *Handler) VerifyPayment(c *gin.Context) {
	userID := currentUserID(c)
	reference := c.Param("reference")

	// 1. Only the buyer who started the checkout
	if _, err := h.checkouts.Get(c.Request.Context(), userID, reference); err != nil {
		h.respondError(c, err)
		return
	}

	// 2. Settle
	res, err := h.engine.CompletePurchase(c.Request.Context(), reference, "")
	if err != nil {
		h.respondError(c, err)
		return
	}

	// 3. Wake any stream waiting on this reference
	if err := h.bus.Publish(c.Request.Context(), reference,
		notify.Status{Success: true, Message: "Payment successful", OrderID: res.OrderID}); err != nil {
		h.logger.Warn("Failed to publish payment status", zap.String("reference", reference), zap.Error(err))
	}

	utils.APIResponse(c, http.StatusOK, true, "Payment confirmed", res)
}
