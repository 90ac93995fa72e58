package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/solaceid/solace/internal/jwt"
	"github.com/solaceid/solace/internal/service"
)

const userUUIDKey = "userUUID"

// Auth validates tiered session tokens and attaches the subject.
type Auth struct {
	Sessions *service.SessionService
}

// RequireBase accepts a Base tier session.
func (m *Auth) RequireBase(c *gin.Context) { m.require(c, jwt.TierBase) }

// RequireSpecial accepts a Special tier session.
func (m *Auth) RequireSpecial(c *gin.Context) { m.require(c, jwt.TierSpecial) }

// RequireTOTPPending accepts a session awaiting TOTP confirmation.
func (m *Auth) RequireTOTPPending(c *gin.Context) { m.require(c, jwt.TierTOTPRequired) }

func (m *Auth) require(c *gin.Context, tier jwt.Tier) {
	token := ExtractToken(c, tier)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session token required."})
		return
	}
	userUUID, err := m.Sessions.Authenticate(c.Request.Context(), token, tier)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid session token."})
		return
	}
	c.Set(userUUIDKey, userUUID)
	c.Next()
}

// ExtractToken looks for the token as a bearer header, then the tier's
// cookie, then a `token` query parameter.
func ExtractToken(c *gin.Context, tier jwt.Tier) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := c.Cookie(tier.CookieName()); err == nil && cookie != "" {
		return cookie
	}
	return c.Query("token")
}

// SessionUser returns the authenticated subject set by a Require* guard.
func SessionUser(c *gin.Context) (string, bool) {
	value, ok := c.Get(userUUIDKey)
	if !ok {
		return "", false
	}
	userUUID, ok := value.(string)
	return userUUID, ok
}
