package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveDecision(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveDecision("ALLOW")
	m.ObserveDecision("ALLOW")
	m.ObserveDecision("REQUIRE_BREAK_GLASS")

	if got := testutil.ToFloat64(m.AccessDecisions.WithLabelValues("ALLOW")); got != 2 {
		t.Errorf("ALLOW count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AccessDecisions.WithLabelValues("REQUIRE_BREAK_GLASS")); got != 1 {
		t.Errorf("REQUIRE_BREAK_GLASS count = %v, want 1", got)
	}
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	count := testutil.CollectAndCount(m.RequestDuration)
	if count == 0 {
		t.Error("expected request duration to be recorded")
	}
}
