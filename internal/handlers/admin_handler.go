package handlers

import (
	"errors"
	"net/http"

	"materials-backend/internal/models"
	"materials-backend/internal/settlement"
	"materials-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// ListWithdrawals is the finance queue. ?status=PENDING filters.
func (h *Handler) ListWithdrawals(c *gin.Context) {
	list, err := h.withdrawals.ListWithdrawals(c.Request.Context(), c.Query("status"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Withdrawals", list)
}

func (h *Handler) ApproveWithdrawal(c *gin.Context) {
	id := utils.StringToUint64(c.Param("id"))
	if id == 0 {
		utils.APIResponse(c, http.StatusBadRequest, false, "Invalid withdrawal id", nil)
		return
	}

	w, err := h.withdrawals.ApproveWithdrawal(c.Request.Context(), id, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Withdrawal approved", w)
}

func (h *Handler) RejectWithdrawal(c *gin.Context) {
	id := utils.StringToUint64(c.Param("id"))
	if id == 0 {
		utils.APIResponse(c, http.StatusBadRequest, false, "Invalid withdrawal id", nil)
		return
	}

	var input models.RejectWithdrawalInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.APIResponse(c, http.StatusBadRequest, false, "A reason is required", err.Error())
		return
	}

	w, err := h.withdrawals.RejectWithdrawal(c.Request.Context(), id, currentUserID(c), input.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Withdrawal rejected", w)
}

// PayWithdrawal approves if needed and starts the bank transfer.
func (h *Handler) PayWithdrawal(c *gin.Context) {
	id := utils.StringToUint64(c.Param("id"))
	if id == 0 {
		utils.APIResponse(c, http.StatusBadRequest, false, "Invalid withdrawal id", nil)
		return
	}

	w, err := h.withdrawals.PayWithdrawal(c.Request.Context(), id, currentUserID(c))
	if errors.Is(err, settlement.ErrPayoutUnconfirmed) {
		// funds stay held; the transfer webhook or a retry settles it
		utils.APIResponse(c, http.StatusAccepted, true, "Transfer outcome pending",
			gin.H{"id": id, "status": models.WithdrawalApproved})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	message := "Transfer initiated"
	if w.Status == models.WithdrawalPaid {
		message = "Withdrawal paid"
	}
	utils.APIResponse(c, http.StatusOK, true, message, w)
}
