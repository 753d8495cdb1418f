package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordPacketReceived(320)
	m.RecordPacketReceived(320)
	m.RecordPacketDropped("queue_full")
	m.RecordRecordingStarted()

	if got := testutil.ToFloat64(m.PacketsReceived); got != 2 {
		t.Errorf("Expected 2 packets received, got %f", got)
	}

	if got := testutil.ToFloat64(m.BytesReceived); got != 640 {
		t.Errorf("Expected 640 bytes received, got %f", got)
	}

	if got := testutil.ToFloat64(m.PacketsDropped.WithLabelValues("queue_full")); got != 1 {
		t.Errorf("Expected 1 dropped packet, got %f", got)
	}

	if got := testutil.ToFloat64(m.Recording); got != 1 {
		t.Errorf("Expected recording gauge 1, got %f", got)
	}

	m.RecordRecordingClosed(1.5)
	if got := testutil.ToFloat64(m.Recording); got != 0 {
		t.Errorf("Expected recording gauge 0 after close, got %f", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Error("Expected registered metric families")
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Registering twice on the same registry would panic; separate ones must not
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}

func TestRecordDump(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDump("rejected", nil)
	m.RecordDump("error", errors.New("disk full"))

	if got := testutil.ToFloat64(m.DumpsWritten.WithLabelValues("rejected")); got != 1 {
		t.Errorf("Expected 1 rejected dump, got %f", got)
	}

	if got := testutil.ToFloat64(m.DumpErrors); got != 1 {
		t.Errorf("Expected 1 dump error, got %f", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.RecordPacketReceived(10)
	m.RecordPacketDropped("odd_length")
	m.RecordTruncation(100)
	m.RecordQuality(1000, 20, 0.8, "good")
	m.RecordEnhancement("ok", 0.01)
	m.RecordTranscriptionOutcome("accepted", 1)
	m.RecordDelivery("success", 0.1)
	m.RecordDump("error", nil)
	m.RecordHTTPRequest("GET", "/health", "200", 0.001)
}
