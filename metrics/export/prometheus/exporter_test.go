package prometheus

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	apisec "github.com/perimetra/apisec"
)

type fakeSource struct {
	snap    apisec.MetricsSnapshot
	dropped uint64
}

func (f *fakeSource) MetricsSnapshot() apisec.MetricsSnapshot { return f.snap }
func (f *fakeSource) AuditDropped() uint64                    { return f.dropped }

func TestExporterExposesAllCounters(t *testing.T) {
	source := &fakeSource{snap: apisec.MetricsSnapshot{Counters: map[apisec.MetricID]uint64{}}}
	e := NewExporterFromSource(source)

	// Every defined counter plus the dropped gauge.
	if got := testutil.CollectAndCount(e); got != len(counterDefs)+1 {
		t.Fatalf("collected %d metrics, want %d", got, len(counterDefs)+1)
	}
}

func TestExporterReportsSourceValues(t *testing.T) {
	source := &fakeSource{
		snap: apisec.MetricsSnapshot{Counters: map[apisec.MetricID]uint64{
			apisec.MetricKeysGenerated:   7,
			apisec.MetricThreatsDetected: 2,
		}},
		dropped: 3,
	}
	e := NewExporterFromSource(source)

	expected := `
# HELP apisec_audit_dropped_total Audit entries dropped by dispatcher backpressure.
# TYPE apisec_audit_dropped_total counter
apisec_audit_dropped_total 3
# HELP apisec_keys_generated_total Generated API keys.
# TYPE apisec_keys_generated_total counter
apisec_keys_generated_total 7
# HELP apisec_threats_detected_total Emitted threats.
# TYPE apisec_threats_detected_total counter
apisec_threats_detected_total 2
`
	err := testutil.CollectAndCompare(e, strings.NewReader(expected),
		"apisec_audit_dropped_total",
		"apisec_keys_generated_total",
		"apisec_threats_detected_total",
	)
	if err != nil {
		t.Fatalf("unexpected exposition: %v", err)
	}
}

func TestExporterHandler(t *testing.T) {
	source := &fakeSource{snap: apisec.MetricsSnapshot{Counters: map[apisec.MetricID]uint64{}}}
	if NewExporterFromSource(source).Handler() == nil {
		t.Fatal("Handler returned nil")
	}
}
