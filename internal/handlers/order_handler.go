package handlers

import (
	"net/http"

	"materials-backend/internal/models"
	"materials-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// CreateCheckout opens a charge for a material and returns where to pay.
func (h *Handler) CreateCheckout(c *gin.Context) {
	var input models.CreateCheckoutInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.APIResponse(c, http.StatusBadRequest, false, "Invalid checkout input", err.Error())
		return
	}

	checkout, err := h.checkouts.Create(c.Request.Context(), currentUserID(c), input)
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.APIResponse(c, http.StatusCreated, true, "Checkout created", gin.H{
		"reference":         checkout.Reference,
		"authorization_url": checkout.AuthorizationURL,
		"amount":            checkout.Amount,
		"provider":          checkout.Provider,
	})
}

func (h *Handler) GetMyOrders(c *gin.Context) {
	orders, err := h.engine.Orders(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "My orders", orders)
}

// GetOrderDetail looks an order up by its payment reference.
func (h *Handler) GetOrderDetail(c *gin.Context) {
	order, err := h.engine.Order(c.Request.Context(), currentUserID(c), c.Param("reference"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Order detail", order)
}
