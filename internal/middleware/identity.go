package middleware

import "github.com/labstack/echo/v4"

// UserID returns the authenticated administrator id, or "" for anonymous
// requests.
func UserID(c echo.Context) string {
	if s, ok := c.Get(CtxUserID).(string); ok {
		return s
	}
	return ""
}

// rateLimitUser is UserID with "anon" standing in for anonymous callers.
func rateLimitUser(c echo.Context) string {
	if s := UserID(c); s != "" {
		return s
	}
	return "anon"
}
