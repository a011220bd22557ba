// Package telemetry provides OpenTelemetry instrumentation for sync runs.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetricsMeterName is the name used for the sync metrics meter
const SyncMetricsMeterName = "github.com/desertthunder/mlsync/sync"

// SyncMetrics holds the OpenTelemetry instruments for sync runs.
//
// All methods are safe to call on a nil receiver, which records nothing.
type SyncMetrics struct {
	itemsFetched metric.Int64Counter
	fetchErrors  metric.Int64Counter
	itemsWritten metric.Int64Counter
	itemsDeleted metric.Int64Counter
	commits      metric.Int64Counter
	runDuration  metric.Float64Histogram
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	itemsFetched, err := meter.Int64Counter(
		"mlsync_items_fetched_total",
		metric.WithDescription("Metadata documents fetched from the media server"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	fetchErrors, err := meter.Int64Counter(
		"mlsync_fetch_errors_total",
		metric.WithDescription("Failed metadata fetches"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	itemsWritten, err := meter.Int64Counter(
		"mlsync_items_written_total",
		metric.WithDescription("Items written to the local database"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	itemsDeleted, err := meter.Int64Counter(
		"mlsync_items_deleted_total",
		metric.WithDescription("Stale items removed from the local database"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	commits, err := meter.Int64Counter(
		"mlsync_commits_total",
		metric.WithDescription("Committed write batches"),
		metric.WithUnit("{commit}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"mlsync_run_duration_seconds",
		metric.WithDescription("Duration of sync runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		itemsFetched: itemsFetched,
		fetchErrors:  fetchErrors,
		itemsWritten: itemsWritten,
		itemsDeleted: itemsDeleted,
		commits:      commits,
		runDuration:  runDuration,
	}, nil
}

func kindAttr(kind string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", kind))
}

// RecordFetch counts one fetch, successful or not.
func (m *SyncMetrics) RecordFetch(ctx context.Context, kind string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.fetchErrors.Add(ctx, 1, kindAttr(kind))
		return
	}
	m.itemsFetched.Add(ctx, 1, kindAttr(kind))
}

// RecordCommit counts a committed batch of n writes.
func (m *SyncMetrics) RecordCommit(ctx context.Context, kind string, n int) {
	if m == nil {
		return
	}
	m.commits.Add(ctx, 1, kindAttr(kind))
	m.itemsWritten.Add(ctx, int64(n), kindAttr(kind))
}

// RecordDeleted counts removed stale items.
func (m *SyncMetrics) RecordDeleted(ctx context.Context, kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.itemsDeleted.Add(ctx, int64(n), kindAttr(kind))
}

// RecordRun records the duration and outcome of a sync run.
func (m *SyncMetrics) RecordRun(ctx context.Context, duration time.Duration, repair, success, canceled bool) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("repair", repair),
		attribute.Bool("success", success),
		attribute.Bool("canceled", canceled),
	}
	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
