package http

import (
	"net/http"

	"livebid/internal/core/domain"
	"livebid/internal/core/services"

	"github.com/gin-gonic/gin"
)

// AuthHandler issues access tokens. There is no account system behind it;
// identity is asserted by the caller and scoped by token lifetime.
type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	router.POST("/api/v1/auth/token", h.IssueToken)
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req struct {
		UserID   domain.UserID `json:"user_id" binding:"required"`
		Username string        `json:"username" binding:"required,min=2,max=64"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.authService.GenerateToken(req.UserID, req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
	})
}
