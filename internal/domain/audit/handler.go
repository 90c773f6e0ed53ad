package audit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careledger/careledger/internal/platform/auth"
	"github.com/careledger/careledger/pkg/pagination"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/audit", auth.RequireRole("admin", "auditor"))
	g.POST("/events", h.AppendEvent)
	g.GET("/events", h.ListEvents)
	g.GET("/events/:id", h.GetEvent)
	g.GET("/head", h.GetHead)
	g.GET("/verify", h.VerifyChain)
}

type appendRequest struct {
	Timestamp       time.Time `json:"timestamp"`
	Action          Action    `json:"action"`
	ResourceType    string    `json:"resource_type"`
	ResourceID      string    `json:"resource_id"`
	Endpoint        string    `json:"endpoint"`
	HTTPMethod      string    `json:"http_method"`
	StatusCode      int       `json:"status_code"`
	OldValue        []byte    `json:"old_value,omitempty"`
	NewValue        []byte    `json:"new_value,omitempty"`
	ClinicalContext string    `json:"clinical_context"`
}

func (h *Handler) AppendEvent(c echo.Context) error {
	var req appendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !req.Action.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown action")
	}

	e, err := h.ledger.Append(c.Request().Context(), Draft{
		Timestamp:       req.Timestamp,
		Actor:           ActorFromContext(c),
		Action:          req.Action,
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		Endpoint:        req.Endpoint,
		HTTPMethod:      req.HTTPMethod,
		StatusCode:      req.StatusCode,
		OldValue:        req.OldValue,
		NewValue:        req.NewValue,
		ClinicalContext: req.ClinicalContext,
	})
	if err != nil {
		var conflict *ChainConflictError
		if errors.As(err, &conflict) {
			return echo.NewHTTPError(http.StatusConflict, conflict.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) ListEvents(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.ledger.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.ledger.GetByID(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "audit event not found")
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) GetHead(c echo.Context) error {
	head, err := h.ledger.Head(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, head)
}

// VerifyChain re-verifies the chain, optionally bounded to [from, to] via
// query parameters. Without them the whole chain is walked.
func (h *Handler) VerifyChain(c echo.Context) error {
	from, ok := seqParam(c, "from")
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "from must be a positive integer")
	}
	to, ok := seqParam(c, "to")
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "to must be a positive integer")
	}
	if to > 0 && from > to {
		return echo.NewHTTPError(http.StatusBadRequest, "from exceeds to")
	}

	report, err := h.ledger.VerifyRange(c.Request().Context(), from, to)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	status := http.StatusOK
	if !report.Valid {
		status = http.StatusConflict
	}
	return c.JSON(status, report)
}

// seqParam parses an optional sequence-number query parameter. A missing
// parameter yields 0.
func seqParam(c echo.Context, name string) (int64, bool) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}

// ActorFromContext builds an audit Actor from the authenticated request.
func ActorFromContext(c echo.Context) Actor {
	ctx := c.Request().Context()
	return Actor{
		ID:        auth.UserIDFromContext(ctx),
		Role:      auth.PrimaryRoleFromContext(ctx),
		IPAddress: c.RealIP(),
		SessionID: auth.SessionIDFromContext(ctx),
	}
}
