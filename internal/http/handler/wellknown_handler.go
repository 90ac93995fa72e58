package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/solaceid/solace/internal/service"
)

// WellKnownHandler serves the OIDC discovery and JWKS documents.
type WellKnownHandler struct {
	Discovery *service.DiscoveryService
}

// OpenIDConfig returns the discovery document.
func (h *WellKnownHandler) OpenIDConfig(c *gin.Context) {
	doc := h.Discovery.OpenIDConfigurationResponse(schemeOnly(c.Request), hostOnly(c.Request))
	c.JSON(http.StatusOK, doc)
}

// JWKS returns the public signing keys.
func (h *WellKnownHandler) JWKS(c *gin.Context) {
	keys, err := h.Discovery.JWKS(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, keys)
}
