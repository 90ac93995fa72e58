package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/solaceid/solace/internal/http/middleware"
	"github.com/solaceid/solace/internal/permission"
	"github.com/solaceid/solace/internal/service"
)

// ManagementHandler exposes privileged user, group, and client
// administration.
type ManagementHandler struct {
	Management *service.ManagementService
	Sessions   *service.SessionService
}

func (h *ManagementHandler) actor(c *gin.Context) (service.UserInfo, bool) {
	userUUID, ok := middleware.SessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return service.UserInfo{}, false
	}
	info, err := h.Sessions.Info(c.Request.Context(), userUUID)
	if err != nil {
		writeError(c, err)
		return service.UserInfo{}, false
	}
	return info, true
}

// ListUsers returns every user with effective authorization data.
func (h *ManagementHandler) ListUsers(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	users, err := h.Management.ListUsers(c.Request.Context(), actor)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, 0, len(users))
	for _, user := range users {
		out = append(out, gin.H{
			"uuid":        user.UUID,
			"email":       user.Email,
			"name":        user.Name,
			"image":       user.Image,
			"permissions": permission.Strings(user.Permissions),
			"totp":        user.TOTPEnabled(),
			"last_login":  user.LastLogin.Unix(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

// CreateUser creates a user.
func (h *ManagementHandler) CreateUser(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var input service.UserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Malformed user payload."})
		return
	}
	created, err := h.Management.CreateUser(c.Request.Context(), actor, input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uuid": created.UUID})
}

// EditUser updates a user.
func (h *ManagementHandler) EditUser(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var input service.UserInput
	if err := c.ShouldBindJSON(&input); err != nil || input.UUID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "uuid is required."})
		return
	}
	if err := h.Management.EditUser(c.Request.Context(), actor, input); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type deleteRequest struct {
	UUID     string `json:"uuid"`
	ClientID string `json:"client_id"`
}

// DeleteUser removes a user.
func (h *ManagementHandler) DeleteUser(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UUID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "uuid is required."})
		return
	}
	if err := h.Management.DeleteUser(c.Request.Context(), actor, req.UUID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListGroups returns every group.
func (h *ManagementHandler) ListGroups(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	groups, err := h.Management.ListGroups(c.Request.Context(), actor)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, 0, len(groups))
	for _, group := range groups {
		out = append(out, gin.H{
			"uuid":         group.UUID,
			"name":         group.Name,
			"access_level": group.AccessLevel,
			"permissions":  permission.Strings(group.Permissions),
			"users":        group.UserUUIDs,
		})
	}
	c.JSON(http.StatusOK, gin.H{"groups": out})
}

// CreateGroup creates a group.
func (h *ManagementHandler) CreateGroup(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var input service.GroupInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Malformed group payload."})
		return
	}
	created, err := h.Management.CreateGroup(c.Request.Context(), actor, input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uuid": created.UUID})
}

// EditGroup updates a group.
func (h *ManagementHandler) EditGroup(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var input service.GroupInput
	if err := c.ShouldBindJSON(&input); err != nil || input.UUID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "uuid is required."})
		return
	}
	if err := h.Management.EditGroup(c.Request.Context(), actor, input); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// DeleteGroup removes a group.
func (h *ManagementHandler) DeleteGroup(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UUID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "uuid is required."})
		return
	}
	if err := h.Management.DeleteGroup(c.Request.Context(), actor, req.UUID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListClients returns every OAuth client.
func (h *ManagementHandler) ListClients(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	clients, err := h.Management.ListClients(c.Request.Context(), actor)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, 0, len(clients))
	for _, client := range clients {
		out = append(out, gin.H{
			"client_id":                client.ClientID,
			"name":                     client.Name,
			"confidential":             client.Confidential,
			"redirect_uri":             client.RedirectURI,
			"additional_redirect_uris": client.AdditionalRedirectURIs,
			"default_scope":            client.DefaultScope,
			"group_access":             client.GroupAccess,
			"user_access":              client.UserAccess,
		})
	}
	c.JSON(http.StatusOK, gin.H{"clients": out})
}

// CreateClient registers a client, returning the secret exactly once.
func (h *ManagementHandler) CreateClient(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var input service.ClientInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Malformed client payload."})
		return
	}
	created, err := h.Management.CreateClient(c.Request.Context(), actor, input)
	if err != nil {
		writeError(c, err)
		return
	}
	response := gin.H{"client_id": created.Client.ClientID}
	if created.Secret != "" {
		response["secret"] = created.Secret
	}
	c.JSON(http.StatusOK, response)
}

// EditClient updates a client registration.
func (h *ManagementHandler) EditClient(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var input service.ClientInput
	if err := c.ShouldBindJSON(&input); err != nil || input.ClientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "client_id is required."})
		return
	}
	if err := h.Management.EditClient(c.Request.Context(), actor, input); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// DeleteClient removes a client registration.
func (h *ManagementHandler) DeleteClient(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ClientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "client_id is required."})
		return
	}
	if err := h.Management.DeleteClient(c.Request.Context(), actor, req.ClientID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
