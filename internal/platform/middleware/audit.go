package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careledger/careledger/internal/domain/audit"
)

// RequestAudit returns Echo middleware that appends a ledger event for every
// authenticated request under the governed prefixes. The domain services
// append their own events for the operations they gate; this middleware
// covers plain reads and keeps endpoint, method and status on the trail.
//
// Paths under the ledger's own routes are skipped so that reading the trail
// does not grow it.
func RequestAudit(ledger *audit.Ledger, logger zerolog.Logger, skipPrefixes ...string) echo.MiddlewareFunc {
	skip := append([]string{"/api/v1/audit"}, skipPrefixes...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if !strings.HasPrefix(path, "/api/v1/") || skipped(path, skip) {
				return next(c)
			}

			actor := audit.ActorFromContext(c)
			if actor.ID == "" {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			draft := audit.Draft{
				Actor:        actor,
				Action:       methodToAction(c.Request().Method),
				ResourceType: resourceFromPath(path),
				ResourceID:   c.Param("id"),
				Endpoint:     path,
				HTTPMethod:   c.Request().Method,
				StatusCode:   status,
			}
			if _, appendErr := ledger.Append(c.Request().Context(), draft); appendErr != nil {
				logger.Error().Err(appendErr).
					Str("endpoint", path).
					Str("user_id", actor.ID).
					Msg("request audit append failed")
				if err == nil {
					return echo.NewHTTPError(http.StatusInternalServerError, "audit trail unavailable")
				}
			}
			return err
		}
	}
}

func skipped(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// methodToAction maps HTTP methods to audit actions.
func methodToAction(method string) audit.Action {
	switch method {
	case http.MethodGet, http.MethodHead:
		return audit.ActionRead
	case http.MethodPost:
		return audit.ActionCreate
	case http.MethodPut, http.MethodPatch:
		return audit.ActionUpdate
	case http.MethodDelete:
		return audit.ActionDelete
	default:
		return audit.ActionRead
	}
}

// resourceFromPath extracts the governed collection name from an API path,
// e.g. /api/v1/consents/123 -> consents.
func resourceFromPath(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		return segments[0]
	}
	return "unknown"
}
