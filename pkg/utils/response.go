package utils

import (
	"github.com/gin-gonic/gin"
)

// Response is the envelope every JSON endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func APIResponse(c *gin.Context, code int, success bool, message string, data interface{}) {
	c.JSON(code, Response{
		Success: success,
		Message: message,
		Data:    data,
	})
}

// AbortResponse writes the envelope and stops the handler chain.
func AbortResponse(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, Response{Success: false, Message: message})
}
