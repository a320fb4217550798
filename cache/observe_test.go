package cache

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jonwraymond/callguard/observe"
)

// newStatsReader returns instruments and a func reading cache.storage_errors.
func newStatsReader(t *testing.T) (*observe.Instruments, func() int64) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	in, err := observe.NewInstruments(mp.Meter("cache-test"))
	if err != nil {
		t.Fatalf("NewInstruments() error = %v", err)
	}
	return in, func() int64 {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatalf("Collect() error = %v", err)
		}
		var total int64
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if m.Name != "cache.storage_errors" {
					continue
				}
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
					for _, dp := range sum.DataPoints {
						total += dp.Value
					}
				}
			}
		}
		return total
	}
}
