package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CacheHit()
	m.CacheMiss()
	m.CacheEvicted(3)
	m.CacheWriteDropped()
	m.TranslatorCall("translate", nil)
	m.SetQueueDepth("r1", 2)
	m.FlushOutcome("confirmed")
	m.StaleEvent()
	m.Merged("history", 5)
}

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()
	m.CacheEvicted(4)
	m.TranslatorCall("translate", nil)
	m.TranslatorCall("translate", errors.New("boom"))
	m.SetQueueDepth("r1", 3)

	if got := testutil.ToFloat64(m.CacheHits); got != 2 {
		t.Fatalf("hits = %v", got)
	}
	if got := testutil.ToFloat64(m.CacheEvictions); got != 4 {
		t.Fatalf("evictions = %v", got)
	}
	if got := testutil.ToFloat64(m.TranslatorCalls.WithLabelValues("translate", "error")); got != 1 {
		t.Fatalf("translator errors = %v", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth.WithLabelValues("r1")); got != 3 {
		t.Fatalf("queue depth = %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected registered families")
	}
}
