package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "seatcon"

// Metrics groups the sync core's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheEvictions  prometheus.Counter
	CacheWriteDrops prometheus.Counter
	TranslatorCalls *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
	FlushOutcomes   *prometheus.CounterVec
	StaleEvents     prometheus.Counter
	MergedMessages  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "translation_cache", Name: "hits_total",
			Help: "Translation cache lookups answered from the cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "translation_cache", Name: "misses_total",
			Help: "Translation cache lookups that found nothing fresh.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "translation_cache", Name: "evictions_total",
			Help: "Entries removed by expiry sweeps or the size cap.",
		}),
		CacheWriteDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "translation_cache", Name: "write_drops_total",
			Help: "Cache writes dropped after the quota retry failed.",
		}),
		TranslatorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "translator", Name: "calls_total",
			Help: "External translator calls by operation and result.",
		}, []string{"op", "result"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "offline_queue", Name: "depth",
			Help: "Messages waiting for backend confirmation.",
		}, []string{"room"}),
		FlushOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "offline_queue", Name: "deliveries_total",
			Help: "Queued message delivery attempts by result.",
		}, []string{"result"}),
		StaleEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "stale_events_total",
			Help: "Realtime events dropped because their subscription was torn down.",
		}),
		MergedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "merges_total",
			Help: "Messages passed through the store merge gate by origin.",
		}, []string{"origin"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.CacheHits, m.CacheMisses, m.CacheEvictions, m.CacheWriteDrops,
			m.TranslatorCalls, m.QueueDepth, m.FlushOutcomes, m.StaleEvents, m.MergedMessages,
		)
	}
	return m
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) CacheEvicted(n int) {
	if m != nil && n > 0 {
		m.CacheEvictions.Add(float64(n))
	}
}

func (m *Metrics) CacheWriteDropped() {
	if m != nil {
		m.CacheWriteDrops.Inc()
	}
}

func (m *Metrics) TranslatorCall(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.TranslatorCalls.WithLabelValues(op, result).Inc()
}

func (m *Metrics) SetQueueDepth(room string, n int) {
	if m != nil {
		m.QueueDepth.WithLabelValues(room).Set(float64(n))
	}
}

func (m *Metrics) FlushOutcome(result string) {
	if m != nil {
		m.FlushOutcomes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) StaleEvent() {
	if m != nil {
		m.StaleEvents.Inc()
	}
}

func (m *Metrics) Merged(origin string, n int) {
	if m != nil && n > 0 {
		m.MergedMessages.WithLabelValues(origin).Add(float64(n))
	}
}
