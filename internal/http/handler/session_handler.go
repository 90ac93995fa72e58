package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/solaceid/solace/internal/config"
	"github.com/solaceid/solace/internal/http/middleware"
	"github.com/solaceid/solace/internal/jwt"
	"github.com/solaceid/solace/internal/service"
)

// SessionHandler exposes password-based login and session lifecycle.
type SessionHandler struct {
	Sessions *service.SessionService
	Config   config.Config
}

type passwordLoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type passwordRequest struct {
	Password string `json:"password" binding:"required"`
}

type passwordChangeRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// PublicKey returns the RSA key passwords are enveloped with.
func (h *SessionHandler) PublicKey(c *gin.Context) {
	key, err := h.Sessions.PublicKey()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key})
}

// Authenticate performs password login.
func (h *SessionHandler) Authenticate(c *gin.Context) {
	var req passwordLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "email and password are required."})
		return
	}
	token, err := h.Sessions.PasswordLogin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	writeSession(c, h.Config, token)
}

// SpecialAccess re-proves the password for a Base session.
func (h *SessionHandler) SpecialAccess(c *gin.Context) {
	userUUID, ok := middleware.SessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "password is required."})
		return
	}
	token, err := h.Sessions.SpecialAccess(c.Request.Context(), userUUID, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	writeSession(c, h.Config, token)
}

// ChangePassword swaps the password under a Special session.
func (h *SessionHandler) ChangePassword(c *gin.Context) {
	userUUID, ok := middleware.SessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}
	var req passwordChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "old_password and new_password are required."})
		return
	}
	if err := h.Sessions.ChangePassword(c.Request.Context(), userUUID, req.OldPassword, req.NewPassword); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type profileUpdateRequest struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

type emailChangeRequest struct {
	Email string `json:"email" binding:"required"`
}

// UpdateProfile edits the caller's own name and image under a Base session.
func (h *SessionHandler) UpdateProfile(c *gin.Context) {
	userUUID, ok := middleware.SessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}
	var req profileUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Malformed profile update."})
		return
	}
	if err := h.Sessions.UpdateProfile(c.Request.Context(), userUUID, req.Name, req.Image); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ChangeEmail moves the account to a new address under a Special session.
func (h *SessionHandler) ChangeEmail(c *gin.Context) {
	userUUID, ok := middleware.SessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}
	var req emailChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "email is required."})
		return
	}
	if err := h.Sessions.ChangeEmail(c.Request.Context(), userUUID, req.Email); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Logout blacklists the presented Base token and clears its cookie.
func (h *SessionHandler) Logout(c *gin.Context) {
	token := middleware.ExtractToken(c, jwt.TierBase)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "No session token presented."})
		return
	}
	if err := h.Sessions.Logout(c.Request.Context(), token); err != nil {
		writeError(c, err)
		return
	}
	clearSessionCookie(c, h.Config, jwt.TierBase)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeSession sets the tier cookie and echoes the token in the body.
func writeSession(c *gin.Context, cfg config.Config, token *service.SessionToken) {
	maxAge := int(time.Until(token.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(token.Tier.CookieName(), token.Token, maxAge, "/", "", secureCookies(cfg), true)
	c.JSON(http.StatusOK, gin.H{
		"token":      token.Token,
		"type":       string(token.Tier),
		"expires_at": token.ExpiresAt.Unix(),
	})
}

func clearSessionCookie(c *gin.Context, cfg config.Config, tier jwt.Tier) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(tier.CookieName(), "", -1, "/", "", secureCookies(cfg), true)
}

func secureCookies(cfg config.Config) bool {
	return cfg.Environment != "development"
}
