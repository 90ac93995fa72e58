package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/solaceid/solace/internal/config"
	"github.com/solaceid/solace/internal/http/handler"
	httpmiddleware "github.com/solaceid/solace/internal/http/middleware"
	"github.com/solaceid/solace/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(
	cfg config.Config,
	sessionHandler *handler.SessionHandler,
	oauthHandler *handler.OAuthHandler,
	passkeyHandler *handler.PasskeyHandler,
	totpHandler *handler.TOTPHandler,
	managementHandler *handler.ManagementHandler,
	wellKnownHandler *handler.WellKnownHandler,
	auth *httpmiddleware.Auth,
	rateLimiter *middleware.RateLimiter,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/authorize", oauthHandler.Authorize)
	r.POST("/authorize", oauthHandler.Authorize)
	r.POST("/authorize_confirm", auth.RequireBase, oauthHandler.Confirm)
	r.POST("/token", oauthHandler.Token)
	r.POST("/revoke", oauthHandler.Revoke)
	r.GET("/user", oauthHandler.UserInfo)
	r.POST("/user", oauthHandler.UserInfo)

	r.GET("/.well-known/openid-configuration", wellKnownHandler.OpenIDConfig)
	r.GET("/jwks", wellKnownHandler.JWKS)

	password := r.Group("/password")
	{
		password.GET("/key", sessionHandler.PublicKey)
		password.POST("/authenticate", sessionHandler.Authenticate)
		password.POST("/special_access", auth.RequireBase, sessionHandler.SpecialAccess)
		password.POST("/change", auth.RequireSpecial, sessionHandler.ChangePassword)
	}

	passkey := r.Group("/passkey")
	{
		passkey.GET("/start_registration", auth.RequireSpecial, passkeyHandler.StartRegistration)
		passkey.POST("/finish_registration", auth.RequireSpecial, passkeyHandler.FinishRegistration)
		passkey.GET("/start_authentication", passkeyHandler.StartAuthentication)
		passkey.POST("/finish_authentication/:id", passkeyHandler.FinishAuthentication)
		passkey.GET("/start_special_access", auth.RequireBase, passkeyHandler.StartSpecialAccess)
		passkey.POST("/finish_special_access", auth.RequireBase, passkeyHandler.FinishSpecialAccess)
		passkey.GET("/list", auth.RequireBase, passkeyHandler.List)
		passkey.POST("/remove", auth.RequireSpecial, passkeyHandler.Remove)
		passkey.POST("/edit_name", auth.RequireSpecial, passkeyHandler.EditName)
	}

	totp := r.Group("/totp")
	{
		totp.GET("/start_setup", auth.RequireSpecial, totpHandler.StartSetup)
		totp.POST("/finish_setup", auth.RequireSpecial, totpHandler.FinishSetup)
		totp.POST("/confirm", auth.RequireTOTPPending, totpHandler.Confirm)
		totp.POST("/remove", auth.RequireSpecial, totpHandler.Remove)
	}

	account := r.Group("/account")
	{
		account.POST("/update_profile", auth.RequireBase, sessionHandler.UpdateProfile)
		account.POST("/change_email", auth.RequireSpecial, sessionHandler.ChangeEmail)
	}

	r.POST("/logout", auth.RequireBase, sessionHandler.Logout)

	management := r.Group("/management", auth.RequireBase)
	{
		user := management.Group("/user")
		{
			user.POST("/list", managementHandler.ListUsers)
			user.POST("/create", managementHandler.CreateUser)
			user.POST("/edit", managementHandler.EditUser)
			user.POST("/delete", managementHandler.DeleteUser)
		}
		group := management.Group("/group")
		{
			group.POST("/list", managementHandler.ListGroups)
			group.POST("/create", managementHandler.CreateGroup)
			group.POST("/edit", managementHandler.EditGroup)
			group.POST("/delete", managementHandler.DeleteGroup)
		}
		client := management.Group("/client")
		{
			client.POST("/list", managementHandler.ListClients)
			client.POST("/create", managementHandler.CreateClient)
			client.POST("/edit", managementHandler.EditClient)
			client.POST("/delete", managementHandler.DeleteClient)
		}
	}

	return r
}
