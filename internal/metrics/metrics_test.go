package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	// A second set on another registry must not panic on duplicate names.
	_ = New(prometheus.NewRegistry())

	m.RecordReceived("http")
	m.RecordAccepted(true, false, 1)
	m.SetQueueDepth(0)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}
}

func TestRecordAccepted(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordAccepted(true, false, 1)
	m.RecordAccepted(false, false, 1)
	m.RecordAccepted(true, true, 3)

	if got := testutil.ToFloat64(m.ReadingsRecorded.WithLabelValues("true")); got != 2 {
		t.Errorf("recorded{changed=true} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ReadingsRecorded.WithLabelValues("false")); got != 1 {
		t.Errorf("recorded{changed=false} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HistoryEvictions); got != 1 {
		t.Errorf("evictions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HistorySize); got != 3 {
		t.Errorf("history size = %v, want 3", got)
	}
}

func TestLabelledCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordReceived("http")
	m.RecordReceived("mqtt")
	m.RecordReceived("mqtt")
	m.RecordInvalid("mqtt")
	m.RecordPersistenceFailure("save", "queue_full")
	m.RecordChangeEvent("ok")
	m.RecordHTTPRequest("GET", 200)
	m.ObservePersistWrite("save", 0.01)

	if got := testutil.ToFloat64(m.ReadingsReceived.WithLabelValues("mqtt")); got != 2 {
		t.Errorf("received{mqtt} = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.ReadingsReceived); got != 2 {
		t.Errorf("received series = %d, want 2", got)
	}
	if got := testutil.ToFloat64(m.PersistenceFailures.WithLabelValues("save", "queue_full")); got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "200")); got != 1 {
		t.Errorf("http requests = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.PersistWriteDuration); got != 1 {
		t.Errorf("write duration series = %d, want 1", got)
	}
}
