package provider

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragkb/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/ragkb/internal/provider"

// Metrics holds provider call metrics.
type Metrics struct {
	duration metric.Float64Histogram
	requests metric.Int64Counter
	errors   metric.Int64Counter
	retries  metric.Int64Counter
}

// NewMetrics registers provider instruments on meter. A nil meter uses the
// global provider.
func NewMetrics(meter metric.Meter, logger *logging.Logger) *Metrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx := context.Background()
	m := &Metrics{}

	var err error
	m.duration, err = meter.Float64Histogram(
		"ragkb.provider.request_duration_seconds",
		metric.WithDescription("Duration of provider calls in seconds, labeled by operation (embed, chat) and model"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create duration histogram", zap.Error(err))
	}

	m.requests, err = meter.Int64Counter(
		"ragkb.provider.requests_total",
		metric.WithDescription("Provider calls by operation and model, including failures"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create requests counter", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"ragkb.provider.errors_total",
		metric.WithDescription("Provider calls that failed after all retries"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create errors counter", zap.Error(err))
	}

	m.retries, err = meter.Int64Counter(
		"ragkb.provider.retries_total",
		metric.WithDescription("Retried provider attempts"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create retries counter", zap.Error(err))
	}

	return m
}

// Record records one completed call.
func (m *Metrics) Record(ctx context.Context, op, model string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("model", model),
	)
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if m.requests != nil {
		m.requests.Add(ctx, 1, attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// RecordRetry counts one retry of op.
func (m *Metrics) RecordRetry(ctx context.Context, op string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}
