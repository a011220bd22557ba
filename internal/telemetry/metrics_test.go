package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	out := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name != SyncMetricsMeterName {
			continue
		}
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sum(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	data, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is not an int64 sum", m.Name)
	}
	var total int64
	for _, dp := range data.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewSyncMetrics(t *testing.T) {
	t.Run("returns nil when provider is nil", func(t *testing.T) {
		m, err := NewSyncMetrics(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m != nil {
			t.Errorf("expected nil metrics, got %+v", m)
		}
	})

	t.Run("nil metrics are a no-op", func(t *testing.T) {
		var m *SyncMetrics
		ctx := context.Background()
		m.RecordFetch(ctx, "movie", nil)
		m.RecordCommit(ctx, "movie", 10)
		m.RecordDeleted(ctx, "movie", 1)
		m.RecordRun(ctx, time.Second, false, true, false)
	})
}

func TestSyncMetrics_Record(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(ctx) }()

	m, err := NewSyncMetrics(mp)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.RecordFetch(ctx, "movie", nil)
	m.RecordFetch(ctx, "movie", nil)
	m.RecordFetch(ctx, "album", errors.New("boom"))
	m.RecordCommit(ctx, "movie", 250)
	m.RecordCommit(ctx, "movie", 100)
	m.RecordDeleted(ctx, "episode", 3)
	m.RecordRun(ctx, 2*time.Second, false, true, false)

	metrics := collect(t, reader)

	tests := []struct {
		name string
		want int64
	}{
		{"mlsync_items_fetched_total", 2},
		{"mlsync_fetch_errors_total", 1},
		{"mlsync_items_written_total", 350},
		{"mlsync_commits_total", 2},
		{"mlsync_items_deleted_total", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := metrics[tt.name]
			if !ok {
				t.Fatalf("metric %s not recorded", tt.name)
			}
			if got := sum(t, m); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}

	hist, ok := metrics["mlsync_run_duration_seconds"].Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("expected one run duration sample, got %+v", metrics["mlsync_run_duration_seconds"].Data)
	}
}

func TestPrometheusHandler(t *testing.T) {
	ctx := context.Background()
	p, err := NewPrometheus()
	if err != nil {
		t.Fatalf("failed to create exporter: %v", err)
	}
	defer p.Shutdown(ctx)

	m, err := NewSyncMetrics(p.Provider)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	m.RecordCommit(ctx, "movie", 5)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "mlsync_items_written") {
		t.Errorf("expected written items in scrape output, got:\n%s", body)
	}
}
