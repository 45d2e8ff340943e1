package handlers

import (
	"errors"
	"net/http"

	"materials-backend/internal/models"
	"materials-backend/pkg/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// GetUserProfile returns the caller's identity and wallet balance.
func (h *Handler) GetUserProfile(c *gin.Context) {
	userID := currentUserID(c)

	// 1. User
	var user models.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.APIResponse(c, http.StatusNotFound, false, "User not found", nil)
			return
		}
		h.respondError(c, err)
		return
	}

	// 2. Balance
	wallet, err := h.engine.Wallet(c.Request.Context(), userID, 0)
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.APIResponse(c, http.StatusOK, true, "Profile", gin.H{
		"id":        user.ID,
		"full_name": user.FullName,
		"email":     user.Email,
		"role_id":   user.RoleID,
		"balance":   wallet.Balance,
	})
}

// GetMyLibrary lists the materials the caller has bought.
func (h *Handler) GetMyLibrary(c *gin.Context) {
	materials, err := h.engine.Library(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "My library", materials)
}
