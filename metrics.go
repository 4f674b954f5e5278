package offlinecache

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes, used as metric label values.
const (
	outcomeHit             = "hit"
	outcomeMissStored      = "miss_stored"
	outcomeMiss            = "miss"
	outcomeOfflineFallback = "offline_fallback"
	outcomeFetchFailed     = "fetch_failed"
	outcomeBypass          = "bypass"
)

type Metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	seeds         *prometheus.CounterVec
	cacheWrites   *prometheus.CounterVec
	prunedBuckets prometheus.Counter
	pushes        prometheus.Counter
	syncs         *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_cache_requests_total",
		Help: "Total requests by outcome",
	}, []string{"outcome"})

	seeds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_cache_seeds_total",
		Help: "Total asset seeding attempts",
	}, []string{"result"})

	cacheWrites := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_cache_writes_total",
		Help: "Total background cache writes",
	}, []string{"result"})

	prunedBuckets := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offline_cache_pruned_buckets_total",
		Help: "Total stale buckets deleted on activation",
	})

	pushes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offline_cache_push_notifications_total",
		Help: "Total notifications shown for push messages",
	})

	syncs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_cache_syncs_total",
		Help: "Total background sync events",
	}, []string{"tag", "result"})

	registry.MustRegister(
		requests,
		seeds,
		cacheWrites,
		prunedBuckets,
		pushes,
		syncs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry:      registry,
		requests:      requests,
		seeds:         seeds,
		cacheWrites:   cacheWrites,
		prunedBuckets: prunedBuckets,
		pushes:        pushes,
		syncs:         syncs,
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) request(outcome string) {
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) seed(result string) {
	m.seeds.WithLabelValues(result).Inc()
}

func (m *Metrics) cacheWrite(result string) {
	m.cacheWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) sync(tag, result string) {
	m.syncs.WithLabelValues(tag, result).Inc()
}
