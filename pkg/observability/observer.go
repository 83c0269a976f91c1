package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/platinummonkey/tenancy/pkg/httputil"
)

// Observer fans lifecycle events out to Prometheus and, when telemetry is
// enabled, OpenTelemetry. It satisfies the observer interfaces of the billing,
// onboarding, notify and middleware packages. Either side may be nil.
type Observer struct {
	prom *Metrics
	otel *OTelMetrics
}

// NewObserver combines the two metric backends
func NewObserver(prom *Metrics, otel *OTelMetrics) *Observer {
	return &Observer{prom: prom, otel: otel}
}

func (o *Observer) RecordTenantTransition(event string) {
	if o.prom != nil {
		o.prom.RecordTenantTransition(event)
	}
	if o.otel != nil {
		o.otel.RecordTenantTransition(context.Background(), event)
	}
}

func (o *Observer) RecordPaymentVerification(action, outcome string) {
	if o.prom != nil {
		o.prom.RecordPaymentVerification(action, outcome)
	}
	if o.otel != nil {
		o.otel.RecordPaymentVerification(context.Background(), action, outcome)
	}
}

func (o *Observer) RecordLimitRejection(resource string) {
	if o.prom != nil {
		o.prom.RecordLimitRejection(resource)
	}
	if o.otel != nil {
		o.otel.RecordLimitRejection(context.Background(), resource)
	}
}

func (o *Observer) RecordSubscriptionSweep(status string, count int) {
	if o.prom != nil {
		o.prom.RecordSubscriptionSweep(status, count)
	}
	if o.otel != nil {
		o.otel.RecordSubscriptionSweep(context.Background(), status, count)
	}
}

func (o *Observer) RecordEmailDispatch(template, outcome string) {
	if o.prom != nil {
		o.prom.RecordEmailDispatch(template, outcome)
	}
	if o.otel != nil {
		o.otel.RecordEmailDispatch(context.Background(), template, outcome)
	}
}

// HTTPMiddleware records request metrics on both backends
func (o *Observer) HTTPMiddleware(next http.Handler) http.Handler {
	if o.prom != nil {
		next = HTTPMetricsMiddleware(o.prom)(next)
	}
	if o.otel == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := httputil.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)
		o.otel.RecordHTTPRequest(r.Context(), r.Method, routeLabel(r), rec.Status, time.Since(start))
	})
}
