package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/solaceid/solace/internal/http/middleware"
	"github.com/solaceid/solace/internal/service/oauth"
)

// OAuthHandler exposes the authorization code flow endpoints.
type OAuthHandler struct {
	OAuth *oauth.Service
}

// Authorize parks the request and redirects the browser to the login
// frontend. Accepts GET query or POST form parameters.
func (h *OAuthHandler) Authorize(c *gin.Context) {
	req := oauth.AuthorizeRequest{
		ClientID:     h.param(c, "client_id"),
		ResponseType: h.param(c, "response_type"),
		RedirectURI:  h.param(c, "redirect_uri"),
		Scope:        h.param(c, "scope"),
		State:        h.param(c, "state"),
		Nonce:        h.param(c, "nonce"),
	}
	location, err := h.OAuth.StartAuthorization(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Redirect(http.StatusFound, location)
}

type confirmRequest struct {
	Code  string `json:"code" binding:"required"`
	Allow *bool  `json:"allow" binding:"required"`
}

// Confirm resolves consent under a Base session and returns the redirect
// location, empty on denial.
func (h *OAuthHandler) Confirm(c *gin.Context) {
	userUUID, ok := middleware.SessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "code and allow are required."})
		return
	}
	location, err := h.OAuth.ConfirmAuthorization(c.Request.Context(), userUUID, req.Code, *req.Allow)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": location})
}

// Token exchanges an authorization code for tokens.
func (h *OAuthHandler) Token(c *gin.Context) {
	req := oauth.TokenRequest{
		GrantType:    c.PostForm("grant_type"),
		Code:         c.PostForm("code"),
		RedirectURI:  c.PostForm("redirect_uri"),
		ClientID:     c.PostForm("client_id"),
		ClientSecret: c.PostForm("client_secret"),
		AuthHeaders:  c.Request.Header.Values("Authorization"),
	}
	response, err := h.OAuth.Exchange(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, response)
}

// Revoke blacklists an access token under client authentication.
func (h *OAuthHandler) Revoke(c *gin.Context) {
	token := c.PostForm("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "token is required."})
		return
	}
	req := oauth.TokenRequest{
		ClientID:     c.PostForm("client_id"),
		ClientSecret: c.PostForm("client_secret"),
		AuthHeaders:  c.Request.Header.Values("Authorization"),
	}
	if err := h.OAuth.Revoke(c.Request.Context(), req, token); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// UserInfo echoes the claims of a valid bearer access token.
func (h *OAuthHandler) UserInfo(c *gin.Context) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}
	info, err := h.OAuth.UserInfo(c.Request.Context(), strings.TrimSpace(parts[1]))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *OAuthHandler) param(c *gin.Context, name string) string {
	if c.Request.Method == http.MethodPost {
		if value := c.PostForm(name); value != "" {
			return value
		}
	}
	return c.Query(name)
}
