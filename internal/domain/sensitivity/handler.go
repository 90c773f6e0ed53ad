package sensitivity

import (
	"net/http"

	"github.com/labstack/echo/v4"

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
	g := api.Group("/sensitivity-tags")
	g.POST("", h.TagResource, auth.RequireRole("physician", "nurse"))
	g.GET("", h.ListTags, auth.RequireRole("admin", "auditor"))
	g.GET("/lookup", h.LookupTag)
}

func (h *Handler) TagResource(c echo.Context) error {
	var t Tag
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.Tag(c.Request().Context(), &t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) ListTags(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) LookupTag(c echo.Context) error {
	resourceType := c.QueryParam("resource_type")
	resourceID := c.QueryParam("resource_id")
	if resourceType == "" || resourceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resource_type and resource_id are required")
	}
	t, err := h.svc.Lookup(c.Request().Context(), resourceType, resourceID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if t == nil {
		return echo.NewHTTPError(http.StatusNotFound, "resource is not classified")
	}
	return c.JSON(http.StatusOK, t)
}
