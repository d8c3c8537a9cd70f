package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics

	m.RecordTransition("idle")
	m.RecordSessionInstalled()
	m.RecordActivation("activated", 0.1)
	m.SetLivePeers(3)
	m.RecordHTTPRequest("GET", "/state", "200", 0.01)
}

func TestRecordLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTransition("joining")
	m.RecordTransition("joining")
	m.RecordTransition("idle")
	m.RecordSessionInstalled()
	m.SetCanStartSession(true)

	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("joining")); got != 2 {
		t.Errorf("Expected 2 joining transitions, got %v", got)
	}
	if got := testutil.ToFloat64(m.LiveObserverSets); got != 1 {
		t.Errorf("Expected live observer set gauge 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.CanStartSession); got != 1 {
		t.Errorf("Expected can-start gauge 1, got %v", got)
	}

	m.RecordObserverSetReleased()
	if got := testutil.ToFloat64(m.LiveObserverSets); got != 0 {
		t.Errorf("Expected live observer set gauge 0, got %v", got)
	}
}

func TestRecordActivation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordActivation("disabled", 0.2)
	m.RecordActivation("activated", 1.5)

	if got := testutil.ToFloat64(m.ActivationOutcomes.WithLabelValues("disabled")); got != 1 {
		t.Errorf("Expected 1 disabled outcome, got %v", got)
	}
	if got := testutil.CollectAndCount(m.ActivationDuration); got != 1 {
		t.Errorf("Expected one histogram series, got %d", got)
	}
}
