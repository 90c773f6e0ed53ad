package access

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/careledger/careledger/internal/domain/audit"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/access/evaluate", h.Evaluate)
}

type evaluateRequest struct {
	PatientID    string `json:"patient_id"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
}

type evaluateResponse struct {
	*Result
	RequiresBreakGlass bool `json:"requires_break_glass"`
}

// Evaluate returns the access decision for the authenticated user. A
// REQUIRE_BREAK_GLASS outcome carries a machine-readable flag plus the
// patient id so the caller can drive the override flow.
func (h *Handler) Evaluate(c echo.Context) error {
	var req evaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatientID == "" || req.ResourceType == "" || req.ResourceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id, resource_type and resource_id are required")
	}

	res, err := h.engine.Evaluate(c.Request().Context(), audit.ActorFromContext(c),
		req.PatientID, req.ResourceType, req.ResourceID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	status := http.StatusOK
	if res.Decision == DecisionDeny {
		status = http.StatusForbidden
	}
	return c.JSON(status, evaluateResponse{
		Result:             res,
		RequiresBreakGlass: res.Decision == DecisionRequireBreakGlass,
	})
}
