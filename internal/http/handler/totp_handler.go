package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/solaceid/solace/internal/config"
	"github.com/solaceid/solace/internal/http/middleware"
	"github.com/solaceid/solace/internal/service"
)

// TOTPHandler exposes authenticator enrollment and confirmation.
type TOTPHandler struct {
	TOTP   *service.TOTPService
	Config config.Config
}

type totpCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// StartSetup issues a fresh secret under a Special session.
func (h *TOTPHandler) StartSetup(c *gin.Context) {
	userUUID, ok := middleware.SessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}
	setup, err := h.TOTP.StartSetup(c.Request.Context(), userUUID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, setup)
}

// FinishSetup enrolls the pending secret when the code matches.
func (h *TOTPHandler) FinishSetup(c *gin.Context) {
	userUUID, ok := middleware.SessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}
	var req totpCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "code is required."})
		return
	}
	if err := h.TOTP.FinishSetup(c.Request.Context(), userUUID, req.Code); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Confirm upgrades a pending session to Base on a valid code.
func (h *TOTPHandler) Confirm(c *gin.Context) {
	userUUID, ok := middleware.SessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}
	var req totpCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "code is required."})
		return
	}
	token, err := h.TOTP.Confirm(c.Request.Context(), userUUID, req.Code)
	if err != nil {
		writeError(c, err)
		return
	}
	writeSession(c, h.Config, token)
}

// Remove disables the authenticator under a Special session.
func (h *TOTPHandler) Remove(c *gin.Context) {
	userUUID, ok := middleware.SessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}
	if err := h.TOTP.Remove(c.Request.Context(), userUUID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
