package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName names the meter and tracer of this service
const InstrumentationName = "github.com/platinummonkey/tenancy"

// OTelMetrics mirrors the lifecycle counters as OpenTelemetry instruments so
// they reach the collector alongside traces
type OTelMetrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	tenantTransitions    metric.Int64Counter
	paymentVerifications metric.Int64Counter
	limitRejections      metric.Int64Counter
	subscriptionSweep    metric.Int64Counter
	emailDispatch        metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return newOTelMetrics(otel.Meter(InstrumentationName))
}

func newOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http.server.requests",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.tenantTransitions, "tenancy.tenant.transitions", "Tenant lifecycle transitions", "{transition}"},
		{&m.paymentVerifications, "tenancy.payment.verifications", "Manual payment verifications", "{verification}"},
		{&m.limitRejections, "tenancy.limit.rejections", "Requests rejected by a plan limit", "{request}"},
		{&m.subscriptionSweep, "tenancy.subscription.sweep", "Subscriptions moved by the sweep", "{subscription}"},
		{&m.emailDispatch, "tenancy.email.dispatch", "Notification emails sent or failed", "{email}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *OTelMetrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", statusCode),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *OTelMetrics) RecordTenantTransition(ctx context.Context, event string) {
	m.tenantTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func (m *OTelMetrics) RecordPaymentVerification(ctx context.Context, action, outcome string) {
	m.paymentVerifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

func (m *OTelMetrics) RecordLimitRejection(ctx context.Context, resource string) {
	m.limitRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("resource", resource)))
}

func (m *OTelMetrics) RecordSubscriptionSweep(ctx context.Context, status string, count int) {
	if count <= 0 {
		return
	}
	m.subscriptionSweep.Add(ctx, int64(count), metric.WithAttributes(attribute.String("status", status)))
}

func (m *OTelMetrics) RecordEmailDispatch(ctx context.Context, template, outcome string) {
	m.emailDispatch.Add(ctx, 1, metric.WithAttributes(
		attribute.String("template", template),
		attribute.String("outcome", outcome),
	))
}
