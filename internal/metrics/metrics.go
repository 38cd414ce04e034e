package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	HTTPRequests       metric.Int64Counter
	HTTPDuration       metric.Float64Histogram
	CacheHits          metric.Int64Counter
	CacheMisses        metric.Int64Counter
	LandingGenerations metric.Int64Counter
	LeadsCreated       metric.Int64Counter
	CRMSyncFailures    metric.Int64Counter
	PostsPublished     metric.Int64Counter
	FollowupsSent      metric.Int64Counter
	ActiveConnections  metric.Int64UpDownCounter
}

func Setup(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter(serviceName))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

// NewNoop returns instruments that record nothing. Handy for tests and
// command-line tools that do not expose /metrics.
func NewNoop() *Metrics {
	m, _ := newMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.HTTPRequests, err = meter.Int64Counter(
		"hvn_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}
	if m.HTTPDuration, err = meter.Float64Histogram(
		"hvn_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.CacheHits, err = meter.Int64Counter(
		"hvn_cache_hits_total",
		metric.WithDescription("Total number of cache hits"),
	); err != nil {
		return nil, err
	}
	if m.CacheMisses, err = meter.Int64Counter(
		"hvn_cache_misses_total",
		metric.WithDescription("Total number of cache misses"),
	); err != nil {
		return nil, err
	}
	if m.LandingGenerations, err = meter.Int64Counter(
		"hvn_landing_generations_total",
		metric.WithDescription("Landing page generations, labelled by whether the result was shared"),
	); err != nil {
		return nil, err
	}
	if m.LeadsCreated, err = meter.Int64Counter(
		"hvn_leads_created_total",
		metric.WithDescription("Leads captured from public forms"),
	); err != nil {
		return nil, err
	}
	if m.CRMSyncFailures, err = meter.Int64Counter(
		"hvn_crm_sync_failures_total",
		metric.WithDescription("Lead pushes rejected by the CRM provider"),
	); err != nil {
		return nil, err
	}
	if m.PostsPublished, err = meter.Int64Counter(
		"hvn_posts_published_total",
		metric.WithDescription("Scheduled posts flipped to published"),
	); err != nil {
		return nil, err
	}
	if m.FollowupsSent, err = meter.Int64Counter(
		"hvn_followups_sent_total",
		metric.WithDescription("Lead follow-up emails sent"),
	); err != nil {
		return nil, err
	}
	if m.ActiveConnections, err = meter.Int64UpDownCounter(
		"hvn_admin_websocket_connections",
		metric.WithDescription("Number of active admin WebSocket connections"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordCacheHit(ctx context.Context, key string) {
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, key string) {
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) RecordLandingGeneration(ctx context.Context, kind string, shared bool) {
	m.LandingGenerations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("shared", shared),
	))
}

func (m *Metrics) RecordLeadCreated(ctx context.Context, source string) {
	m.LeadsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *Metrics) RecordCRMSyncFailure(ctx context.Context, provider string) {
	m.CRMSyncFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

func (m *Metrics) RecordPostsPublished(ctx context.Context, n int64) {
	m.PostsPublished.Add(ctx, n)
}

func (m *Metrics) RecordFollowupsSent(ctx context.Context, n int64) {
	m.FollowupsSent.Add(ctx, n)
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, -1)
}
