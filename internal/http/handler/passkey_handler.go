package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/solaceid/solace/internal/config"
	"github.com/solaceid/solace/internal/http/middleware"
	"github.com/solaceid/solace/internal/service"
)

// PasskeyHandler exposes the WebAuthn ceremony endpoints.
type PasskeyHandler struct {
	Passkeys *service.PasskeyService
	Config   config.Config
}

// StartRegistration begins credential enrollment under a Special session.
func (h *PasskeyHandler) StartRegistration(c *gin.Context) {
	userUUID, ok := middleware.SessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}
	creation, err := h.Passkeys.BeginRegistration(c.Request.Context(), userUUID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, creation)
}

// FinishRegistration validates the attestation response. The credential
// name rides on the `name` query parameter, the body is the raw
// WebAuthn JSON.
func (h *PasskeyHandler) FinishRegistration(c *gin.Context) {
	userUUID, ok := middleware.SessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Credential response body required."})
		return
	}
	name := c.Query("name")
	if name == "" {
		name = "Passkey"
	}
	created, err := h.Passkeys.FinishRegistration(c.Request.Context(), userUUID, name, body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": created.ID, "name": created.Name, "credential_id": created.CredentialID})
}

// StartAuthentication begins a discoverable login ceremony.
func (h *PasskeyHandler) StartAuthentication(c *gin.Context) {
	assertion, ceremonyID, err := h.Passkeys.BeginLogin(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": ceremonyID, "options": assertion})
}

// FinishAuthentication validates the assertion and opens a session.
func (h *PasskeyHandler) FinishAuthentication(c *gin.Context) {
	ceremonyID := c.Param("id")
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Credential response body required."})
		return
	}
	token, err := h.Passkeys.FinishLogin(c.Request.Context(), ceremonyID, body)
	if err != nil {
		writeError(c, err)
		return
	}
	writeSession(c, h.Config, token)
}

// StartSpecialAccess begins a re-auth ceremony under a Base session.
func (h *PasskeyHandler) StartSpecialAccess(c *gin.Context) {
	userUUID, ok := middleware.SessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}
	assertion, err := h.Passkeys.BeginSpecialAccess(c.Request.Context(), userUUID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, assertion)
}

// FinishSpecialAccess validates the assertion and issues a Special token.
func (h *PasskeyHandler) FinishSpecialAccess(c *gin.Context) {
	userUUID, ok := middleware.SessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Credential response body required."})
		return
	}
	token, err := h.Passkeys.FinishSpecialAccess(c.Request.Context(), userUUID, body)
	if err != nil {
		writeError(c, err)
		return
	}
	writeSession(c, h.Config, token)
}

// List returns the user's registered credentials.
func (h *PasskeyHandler) List(c *gin.Context) {
	userUUID, ok := middleware.SessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}
	passkeys, err := h.Passkeys.List(c.Request.Context(), userUUID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, 0, len(passkeys))
	for _, pk := range passkeys {
		out = append(out, gin.H{
			"id":        strconv.FormatInt(pk.ID, 10),
			"name":      pk.Name,
			"created":   pk.CreatedAt.Unix(),
			"last_used": pk.LastUsed.Unix(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"passkeys": out})
}

type passkeyEditRequest struct {
	ID   string `json:"id" binding:"required"`
	Name string `json:"name"`
}

// EditName renames a credential under a Special session.
func (h *PasskeyHandler) EditName(c *gin.Context) {
	userUUID, ok := middleware.SessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}
	var req passkeyEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "id is required."})
		return
	}
	id, err := strconv.ParseInt(req.ID, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "id must be numeric."})
		return
	}
	if err := h.Passkeys.Rename(c.Request.Context(), userUUID, id, req.Name); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Remove deletes a credential under a Special session.
func (h *PasskeyHandler) Remove(c *gin.Context) {
	userUUID, ok := middleware.SessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}
	var req passkeyEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "id is required."})
		return
	}
	id, err := strconv.ParseInt(req.ID, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "id must be numeric."})
		return
	}
	if err := h.Passkeys.Remove(c.Request.Context(), userUUID, id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
