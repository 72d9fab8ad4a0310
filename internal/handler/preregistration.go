package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/member-onboarding/internal/middleware"
	"github.com/iliyamo/member-onboarding/internal/model"
	"github.com/iliyamo/member-onboarding/internal/report"
	"github.com/iliyamo/member-onboarding/internal/service"
)

// exportTimeout bounds the full pending scan behind the spreadsheet export.
const exportTimeout = 30 * time.Second

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// PreregistrationHandler exposes the credential service over HTTP.  The
// admin endpoints sit behind JWTAuth and RequireRole(ADMIN); Access is
// public and rate limited per origin.
type PreregistrationHandler struct {
	Svc    *service.CredentialService
	Logger *zap.Logger
}

func NewPreregistrationHandler(svc *service.CredentialService, logger *zap.Logger) *PreregistrationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreregistrationHandler{Svc: svc, Logger: logger}
}

type createCredentialReq struct {
	MemberID        string  `json:"member_id"`
	DeliveryChannel string  `json:"delivery_channel"`
	Notes           *string `json:"notes"`
}

type rotateReq struct {
	DeliveryChannel string `json:"delivery_channel"`
}

type accessReq struct {
	Secret string `json:"secret"`
}

// Create issues a credential for a member.  The plaintext secret is in the
// response body and nowhere else.
func (h *PreregistrationHandler) Create(c echo.Context) error {
	var req createCredentialReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.MemberID = strings.TrimSpace(req.MemberID)
	if req.MemberID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "member_id required"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	issued, err := h.Svc.Create(ctx, service.CreateInput{
		MemberID: req.MemberID,
		IssuerID: middleware.UserID(c),
		Channel:  model.DeliveryChannel(strings.TrimSpace(req.DeliveryChannel)),
		Notes:    req.Notes,
	})
	if err != nil {
		return credentialError(c, h.Logger, err)
	}
	noStore(c)
	return c.JSON(http.StatusCreated, issued)
}

// List returns one page of pending credentials, newest first.
func (h *PreregistrationHandler) List(c echo.Context) error {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", service.DefaultPageSize)

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Svc.ListPending(ctx, page, pageSize)
	if err != nil {
		return credentialError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Export streams every pending credential as a spreadsheet.
func (h *PreregistrationHandler) Export(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), exportTimeout)
	defer cancel()

	rows, err := h.Svc.AllPending(ctx)
	if err != nil {
		return credentialError(c, h.Logger, err)
	}
	data, err := report.PendingXLSX(rows)
	if err != nil {
		h.Logger.Error("render pending export failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "export failed"})
	}
	name := fmt.Sprintf("pending-credentials-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, xlsxMIME, data)
}

// Get returns one credential without its digest.
func (h *PreregistrationHandler) Get(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	view, err := h.Svc.Get(ctx, c.Param("id"))
	if err != nil {
		return credentialError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, view)
}

// Resend rotates the secret and re-delivers it, keeping the expiry window.
func (h *PreregistrationHandler) Resend(c echo.Context) error {
	return h.rotate(c, h.Svc.Resend)
}

// Regenerate rotates the secret on the same record.
func (h *PreregistrationHandler) Regenerate(c echo.Context) error {
	return h.rotate(c, h.Svc.Regenerate)
}

type rotateFunc func(ctx context.Context, id string, channel model.DeliveryChannel, actorID string) (service.Issued, error)

func (h *PreregistrationHandler) rotate(c echo.Context, fn rotateFunc) error {
	var req rotateReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	issued, err := fn(ctx, c.Param("id"), model.DeliveryChannel(strings.TrimSpace(req.DeliveryChannel)), middleware.UserID(c))
	if err != nil {
		return credentialError(c, h.Logger, err)
	}
	noStore(c)
	return c.JSON(http.StatusOK, issued)
}

// Access is the member-facing verification endpoint.  Every outcome,
// including a wrong secret or a lock, is a 200 whose body names it.
func (h *PreregistrationHandler) Access(c echo.Context) error {
	var req accessReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Secret == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "secret required"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Svc.AttemptAccess(ctx, c.Param("id"), req.Secret, c.RealIP())
	if err != nil {
		return credentialError(c, h.Logger, err)
	}
	noStore(c)
	return c.JSON(http.StatusOK, res)
}
