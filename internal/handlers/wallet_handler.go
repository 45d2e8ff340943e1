package handlers

import (
	"net/http"

	"materials-backend/internal/models"
	"materials-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

const recentTransactions = 50

// GetMyWallet shows the balance and the latest ledger rows.
func (h *Handler) GetMyWallet(c *gin.Context) {
	wallet, err := h.engine.Wallet(c.Request.Context(), currentUserID(c), recentTransactions)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "My wallet", wallet)
}

// RequestWithdrawal files a withdrawal for admin approval. Nothing is
// debited until it is approved.
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var input models.WithdrawalInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.APIResponse(c, http.StatusBadRequest, false, "Invalid withdrawal input", err.Error())
		return
	}

	w, err := h.withdrawals.RequestWithdrawal(c.Request.Context(), currentUserID(c), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusCreated, true, "Withdrawal requested, awaiting approval", w)
}

func (h *Handler) GetMyWithdrawals(c *gin.Context) {
	list, err := h.withdrawals.UserWithdrawals(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "My withdrawals", list)
}

func (h *Handler) GetBanks(c *gin.Context) {
	banks, err := h.withdrawals.Banks(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Banks", banks)
}

// ResolveAccount checks an account number before a withdrawal is filed.
func (h *Handler) ResolveAccount(c *gin.Context) {
	var query struct {
		AccountNumber string `form:"account_number" binding:"required,numeric"`
		BankCode      string `form:"bank_code" binding:"required"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		utils.APIResponse(c, http.StatusBadRequest, false, "account_number and bank_code are required", err.Error())
		return
	}

	account, err := h.withdrawals.ResolveAccount(c.Request.Context(), query.AccountNumber, query.BankCode)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Account resolved", account)
}
