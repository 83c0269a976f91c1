package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/tenancy/pkg/httputil"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Lifecycle metrics
	TenantTransitionsTotal    *prometheus.CounterVec
	PaymentVerificationsTotal *prometheus.CounterVec
	LimitRejectionsTotal      *prometheus.CounterVec
	SubscriptionSweepTotal    *prometheus.CounterVec
	EmailDispatchTotal        *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitCount        prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenancy_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenancy_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		TenantTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_tenant_transitions_total",
				Help: "Tenant lifecycle transitions by event",
			},
			[]string{"event"},
		),
		PaymentVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_payment_verifications_total",
				Help: "Manual payment verifications by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		LimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_limit_rejections_total",
				Help: "Requests rejected because a tenant reached a plan limit",
			},
			[]string{"resource"},
		),
		SubscriptionSweepTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_subscription_sweep_total",
				Help: "Subscriptions moved by the periodic sweep, by resulting status",
			},
			[]string{"status"},
		),
		EmailDispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_email_dispatch_total",
				Help: "Notification emails by template and outcome",
			},
			[]string{"template", "outcome"},
		),

		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tenancy_db_connections_open",
			Help: "Number of open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tenancy_db_connections_in_use",
			Help: "Number of database connections in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tenancy_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		DBWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tenancy_db_connections_wait_count",
			Help: "Total number of connections waited for",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.TenantTransitionsTotal,
		m.PaymentVerificationsTotal,
		m.LimitRejectionsTotal,
		m.SubscriptionSweepTotal,
		m.EmailDispatchTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBWaitCount,
	)

	return m
}

// RecordTenantTransition counts a tenant lifecycle event
func (m *Metrics) RecordTenantTransition(event string) {
	m.TenantTransitionsTotal.WithLabelValues(event).Inc()
}

// RecordPaymentVerification counts an approve or reject decision
func (m *Metrics) RecordPaymentVerification(action, outcome string) {
	m.PaymentVerificationsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordLimitRejection counts a request turned away by a plan limit
func (m *Metrics) RecordLimitRejection(resource string) {
	m.LimitRejectionsTotal.WithLabelValues(resource).Inc()
}

// RecordSubscriptionSweep adds the subscriptions moved to status by a sweep
func (m *Metrics) RecordSubscriptionSweep(status string, count int) {
	if count <= 0 {
		return
	}
	m.SubscriptionSweepTotal.WithLabelValues(status).Add(float64(count))
}

// RecordEmailDispatch counts one notification send attempt
func (m *Metrics) RecordEmailDispatch(template, outcome string) {
	m.EmailDispatchTotal.WithLabelValues(template, outcome).Inc()
}

// UpdateDBStats copies connection pool statistics into the gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBWaitCount.Set(float64(stats.WaitCount))
}

// routeLabel returns the mux path template so IDs do not explode label
// cardinality. Unmatched requests share one label.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Register it with router.Use so the matched route is known.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := httputil.NewStatusRecorder(w)

			next.ServeHTTP(rec, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.Status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rec.Bytes))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
