package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func hasAttr(set attribute.Set, key, value string) bool {
	v, ok := set.Value(attribute.Key(key))
	return ok && v.AsString() == value
}

func TestRecordBackendCall(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordBackendCall(ctx, "process-audio", "ok", 1.5)
	m.RecordBackendCall(ctx, "process-audio", "ok", 0.5)
	m.RecordBackendCall(ctx, "start", "expired", 0.1)

	rm := collect(t, reader)

	hist := findMetric(rm, "fieldvoice.backend.duration")
	if hist == nil {
		t.Fatal("backend duration histogram not found")
	}
	hd, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", hist.Data)
	}
	var total uint64
	for _, dp := range hd.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("histogram count = %d, want 3", total)
	}

	counter := findMetric(rm, "fieldvoice.backend.requests")
	if counter == nil {
		t.Fatal("backend requests counter not found")
	}
	sum := counter.Data.(metricdata.Sum[int64])
	var processOK int64
	for _, dp := range sum.DataPoints {
		if hasAttr(dp.Attributes, "op", "process-audio") && hasAttr(dp.Attributes, "status", "ok") {
			processOK = dp.Value
		}
	}
	if processOK != 2 {
		t.Errorf("process-audio ok = %d, want 2", processOK)
	}
}

func TestRecordTransition(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	m.RecordTransition(context.Background(), "listening", "processing")

	met := findMetric(collect(t, reader), "fieldvoice.interview.transitions")
	if met == nil {
		t.Fatal("transitions counter not found")
	}
	dps := met.Data.(metricdata.Sum[int64]).DataPoints
	if len(dps) != 1 || dps[0].Value != 1 {
		t.Fatalf("data points = %+v, want one point with value 1", dps)
	}
	if !hasAttr(dps[0].Attributes, "from", "listening") || !hasAttr(dps[0].Attributes, "to", "processing") {
		t.Errorf("unexpected attributes %v", dps[0].Attributes)
	}
}

func TestRecordRecording_SumsSeconds(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordRecording(ctx, "turn", 4)
	m.RecordRecording(ctx, "turn", 6)

	rm := collect(t, reader)
	secs := findMetric(rm, "fieldvoice.recorded.duration")
	if secs == nil {
		t.Fatal("recorded duration counter not found")
	}
	dps := secs.Data.(metricdata.Sum[float64]).DataPoints
	if len(dps) != 1 || dps[0].Value != 10 {
		t.Errorf("recorded seconds = %+v, want 10", dps)
	}
}

func TestActiveCaptures_UpDown(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.CaptureOpened(ctx, "microphone")
	m.CaptureOpened(ctx, "microphone")
	m.CaptureClosed(ctx, "microphone")

	met := findMetric(collect(t, reader), "fieldvoice.active_captures")
	if met == nil {
		t.Fatal("active captures not found")
	}
	dps := met.Data.(metricdata.Sum[int64]).DataPoints
	if len(dps) != 1 || dps[0].Value != 1 {
		t.Errorf("active captures = %+v, want 1", dps)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	t.Parallel()

	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
