package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	RequestDuration   *prometheus.HistogramVec
	AccessDecisions   *prometheus.CounterVec
	LedgerAppends     prometheus.Counter
	ChainConflicts    prometheus.Counter
	IntegrityFailures prometheus.Counter
	BreakGlassGrants  *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics on the given registerer.
// A nil registerer uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "careledger_http_request_duration_seconds",
			Help:    "HTTP request latency by method, path and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		AccessDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "careledger_access_decisions_total",
			Help: "Access evaluations by outcome",
		}, []string{"decision"}),
		LedgerAppends: factory.NewCounter(prometheus.CounterOpts{
			Name: "careledger_ledger_appends_total",
			Help: "Audit events appended to the ledger",
		}),
		ChainConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "careledger_ledger_chain_conflicts_total",
			Help: "Ledger appends retried after losing the head race",
		}),
		IntegrityFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "careledger_ledger_integrity_failures_total",
			Help: "Chain verification runs that found a divergence",
		}),
		BreakGlassGrants: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "careledger_break_glass_grants_total",
			Help: "Break-glass grants issued by reason category",
		}, []string{"category"}),
	}
}

// ObserveDecision records one access evaluation outcome.
func (m *Metrics) ObserveDecision(decision string) {
	m.AccessDecisions.WithLabelValues(decision).Inc()
}

// Middleware returns echo middleware that records request latency.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			m.RequestDuration.WithLabelValues(c.Request().Method, path,
				strconv.Itoa(status)).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler exposes the default registry for the /metrics route.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
