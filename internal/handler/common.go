package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/member-onboarding/internal/credential"
)

// requestTimeout bounds the storage work of a single request.
const requestTimeout = 5 * time.Second

func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// credentialError writes the HTTP response for an error returned by the
// credential service.
func credentialError(c echo.Context, logger *zap.Logger, err error) error {
	switch {
	case errors.Is(err, credential.ErrInvalidLength),
		errors.Is(err, credential.ErrInvalidChannel):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, credential.ErrInvalidMember):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "member not found"})
	case errors.Is(err, credential.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "credential not found"})
	case errors.Is(err, credential.ErrAlreadyAccessed):
		return c.JSON(http.StatusConflict, echo.Map{"error": "credential already accessed"})
	case errors.Is(err, credential.ErrExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "credential expired"})
	}
	logger.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// queryInt parses a positive integer query parameter, returning def when
// it is absent or malformed.
func queryInt(c echo.Context, name string, def int) int {
	if v := c.QueryParam(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// noStore marks a response as uncacheable.  Every response that carries
// a plaintext secret goes through it.
func noStore(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderCacheControl, "no-store")
	h.Set("Pragma", "no-cache")
}
