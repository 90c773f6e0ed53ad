package consent

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careledger/careledger/internal/domain/audit"
	"github.com/careledger/careledger/internal/domain/sensitivity"
	"github.com/careledger/careledger/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/consents")
	g.POST("", h.RecordDirective, auth.RequireRole("physician", "nurse", "registrar"))
	g.POST("/:id/verify", h.VerifyDirective, auth.RequireRole("physician", "nurse", "compliance"))
	g.DELETE("/:id", h.RevokeDirective, auth.RequireRole("physician", "compliance", "admin"))
	g.GET("/:id", h.GetDirective)
	g.GET("", h.ListDirectives)
}

type recordRequest struct {
	PatientID      string                 `json:"patient_id"`
	Type           Type                   `json:"type"`
	Scope          string                 `json:"scope"`
	Categories     []sensitivity.Category `json:"categories"`
	PermittedRoles []string               `json:"permitted_roles"`
	ValidFrom      *time.Time             `json:"valid_from"`
	ValidUntil     *time.Time             `json:"valid_until"`
}

func (h *Handler) RecordDirective(c echo.Context) error {
	var req recordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	d := &Directive{
		PatientID:      req.PatientID,
		Type:           req.Type,
		Scope:          req.Scope,
		Categories:     req.Categories,
		PermittedRoles: req.PermittedRoles,
		ValidFrom:      req.ValidFrom,
		ValidUntil:     req.ValidUntil,
	}
	if err := h.svc.Record(c.Request().Context(), audit.ActorFromContext(c), d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) VerifyDirective(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid directive id")
	}
	d, err := h.svc.Verify(c.Request().Context(), audit.ActorFromContext(c), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "consent directive not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) RevokeDirective(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid directive id")
	}
	d, err := h.svc.Revoke(c.Request().Context(), audit.ActorFromContext(c), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "consent directive not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) GetDirective(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid directive id")
	}
	d, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "consent directive not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDirectives(c echo.Context) error {
	patientID := c.QueryParam("patient_id")
	if patientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}

	var (
		items []*Directive
		err   error
	)
	if c.QueryParam("active") == "true" {
		items, err = h.svc.ActiveForPatient(c.Request().Context(), patientID, time.Now().UTC())
	} else {
		items, err = h.svc.ListByPatient(c.Request().Context(), patientID)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}
