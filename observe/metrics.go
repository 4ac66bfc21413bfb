package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records data-access activity: entity fetches, writes, cache
// publishes, and signed-URL resolutions.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordFetch records a read of a table key, whether it was served
	// from cache, how long it took, and whether it failed.
	RecordFetch(ctx context.Context, table string, hit bool, duration time.Duration, err error)

	// RecordWrite records a mutation (insert, update, delete).
	RecordWrite(ctx context.Context, table, op string, duration time.Duration, err error)

	// RecordPublish records an invalidation fan-out and the number of
	// listeners notified.
	RecordPublish(ctx context.Context, table string, listeners int)

	// RecordResolve records a signed-URL resolution.
	RecordResolve(ctx context.Context, hit bool, duration time.Duration, err error)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	fetchCount    metric.Int64Counter
	fetchDuration metric.Float64Histogram
	writeCount    metric.Int64Counter
	writeDuration metric.Float64Histogram
	publishCount  metric.Int64Counter
	notifiedCount metric.Int64Counter
	resolveCount  metric.Int64Counter
}

// NewMetrics creates a Metrics recorder backed by the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	fetchCount, err := meter.Int64Counter(
		"datacache.fetch.total",
		metric.WithDescription("Total entity fetches, partitioned by table and cache outcome"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	fetchDuration, err := meter.Float64Histogram(
		"datacache.fetch.duration_ms",
		metric.WithDescription("Entity fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	writeCount, err := meter.Int64Counter(
		"datacache.write.total",
		metric.WithDescription("Total write-through mutations"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, err
	}

	writeDuration, err := meter.Float64Histogram(
		"datacache.write.duration_ms",
		metric.WithDescription("Write-through mutation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	publishCount, err := meter.Int64Counter(
		"datacache.publish.total",
		metric.WithDescription("Total invalidation publishes"),
		metric.WithUnit("{publish}"),
	)
	if err != nil {
		return nil, err
	}

	notifiedCount, err := meter.Int64Counter(
		"datacache.publish.listeners",
		metric.WithDescription("Total listeners notified by publishes"),
		metric.WithUnit("{listener}"),
	)
	if err != nil {
		return nil, err
	}

	resolveCount, err := meter.Int64Counter(
		"datacache.resolve.total",
		metric.WithDescription("Total signed-URL resolutions, partitioned by cache outcome"),
		metric.WithUnit("{resolve}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		fetchCount:    fetchCount,
		fetchDuration: fetchDuration,
		writeCount:    writeCount,
		writeDuration: writeDuration,
		publishCount:  publishCount,
		notifiedCount: notifiedCount,
		resolveCount:  resolveCount,
	}, nil
}

func outcomeAttrs(table string, hit bool, err error) []attribute.KeyValue {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	if err != nil {
		outcome = "error"
	}
	attrs := []attribute.KeyValue{
		attribute.String("cache.outcome", outcome),
	}
	if table != "" {
		attrs = append(attrs, attribute.String("db.table", table))
	}
	return attrs
}

func (m *metricsImpl) RecordFetch(ctx context.Context, table string, hit bool, duration time.Duration, err error) {
	opt := metric.WithAttributes(outcomeAttrs(table, hit, err)...)
	m.fetchCount.Add(ctx, 1, opt)
	m.fetchDuration.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordWrite(ctx context.Context, table, op string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("db.table", table),
		attribute.String("db.operation", op),
		attribute.Bool("error", err != nil),
	}
	opt := metric.WithAttributes(attrs...)
	m.writeCount.Add(ctx, 1, opt)
	m.writeDuration.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordPublish(ctx context.Context, table string, listeners int) {
	opt := metric.WithAttributes(attribute.String("db.table", table))
	m.publishCount.Add(ctx, 1, opt)
	m.notifiedCount.Add(ctx, int64(listeners), opt)
}

func (m *metricsImpl) RecordResolve(ctx context.Context, hit bool, duration time.Duration, err error) {
	opt := metric.WithAttributes(outcomeAttrs("", hit, err)...)
	m.resolveCount.Add(ctx, 1, opt)
}

// nopMetrics is a metrics implementation that does nothing.
type nopMetrics struct{}

// NopMetrics returns a Metrics recorder that discards everything.
func NopMetrics() Metrics { return &nopMetrics{} }

func (m *nopMetrics) RecordFetch(context.Context, string, bool, time.Duration, error)   {}
func (m *nopMetrics) RecordWrite(context.Context, string, string, time.Duration, error) {}
func (m *nopMetrics) RecordPublish(context.Context, string, int)                        {}
func (m *nopMetrics) RecordResolve(context.Context, bool, time.Duration, error)         {}
