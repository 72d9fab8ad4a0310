// Package router registers the HTTP routes of the onboarding API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/member-onboarding/internal/handler"
	"github.com/iliyamo/member-onboarding/internal/middleware"
	"github.com/iliyamo/member-onboarding/internal/model"
)

// RegisterRoutes registers routes that do not require authentication.
// db is probed by the health check and may be nil.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health(db))
}

// RegisterAuth registers the administrator session endpoints.  Login,
// refresh and logout live under /v1/auth; /v1/me requires a valid access
// token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	// logout accepts either a bearer token or a refresh token, so it is
	// not behind JWTAuth.
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleAdmin))
	auth.GET("/me", a.Me)
}

// RegisterPublic registers the member-facing first-access endpoint behind
// the per-origin rate limiter.
func RegisterPublic(e *echo.Echo, p *handler.PreregistrationHandler, limiter echo.MiddlewareFunc) {
	e.POST("/v1/preregistrations/:id/access", p.Access, limiter)
}
