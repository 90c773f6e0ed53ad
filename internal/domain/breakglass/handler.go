package breakglass

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careledger/careledger/internal/domain/audit"
	"github.com/careledger/careledger/internal/platform/auth"
	"github.com/careledger/careledger/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/break-glass")
	g.POST("", h.RequestGrant)
	g.GET("/:id", h.GetGrant)
	g.DELETE("/:id", h.RevokeGrant)
	g.POST("/:id/approve", h.ApproveGrant, auth.RequireRole("admin", "compliance"))
	g.GET("", h.ListGrants, auth.RequireRole("admin", "auditor", "compliance"))
}

type requestGrantRequest struct {
	PatientID      string         `json:"patient_id"`
	Reason         string         `json:"reason"`
	ReasonCategory ReasonCategory `json:"reason_category"`
}

type requestGrantResponse struct {
	GrantID         uuid.UUID `json:"grant_id"`
	AccessExpiresAt string    `json:"access_expires_at"`
}

func (h *Handler) RequestGrant(c echo.Context) error {
	var req requestGrantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	g, err := h.svc.Request(c.Request().Context(), audit.ActorFromContext(c),
		req.PatientID, req.Reason, req.ReasonCategory)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
		}
		if errors.Is(err, ErrRateLimited) {
			return echo.NewHTTPError(http.StatusTooManyRequests,
				"break-glass rate limit exceeded")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusCreated, requestGrantResponse{
		GrantID:         g.ID,
		AccessExpiresAt: g.AccessExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (h *Handler) GetGrant(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	g, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "grant not found")
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) RevokeGrant(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	revokedBy := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.Revoke(c.Request().Context(), id, revokedBy); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "grant not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ApproveGrant(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	approvedBy := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.Approve(c.Request().Context(), id, approvedBy); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "grant not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListGrants(c echo.Context) error {
	pg := pagination.FromContext(c)

	var (
		items []*Grant
		total int
		err   error
	)
	if patientID := c.QueryParam("patient_id"); patientID != "" {
		items, total, err = h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	} else {
		items, total, err = h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
