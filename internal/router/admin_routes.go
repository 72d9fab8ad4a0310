package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/member-onboarding/internal/handler"
	"github.com/iliyamo/member-onboarding/internal/middleware"
	"github.com/iliyamo/member-onboarding/internal/model"
)

// RegisterAdmin registers the credential management endpoints.  Every
// route requires a valid JWT and the ADMIN role.
func RegisterAdmin(e *echo.Echo, p *handler.PreregistrationHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin/preregistrations",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
	)

	g.POST("", p.Create)
	g.GET("", p.List)
	// static segment first so it is not captured by :id
	g.GET("/export", p.Export)
	g.GET("/:id", p.Get)
	g.POST("/:id/resend", p.Resend)
	g.POST("/:id/regenerate", p.Regenerate)
}
