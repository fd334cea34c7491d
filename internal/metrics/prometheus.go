package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "prodgraph"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stepDuration      *prom.HistogramVec
	wavefrontSize     *prom.HistogramVec
	executionDuration *prom.HistogramVec
	cacheLookups      *prom.CounterVec
	graphNodes        prom.Gauge
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder constructs the metrics and registers them with reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stepDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of node steps by outcome",
			Buckets:   prom.DefBuckets,
		}, []string{"outcome"}),
		wavefrontSize: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "wavefront_size",
			Help:      "Number of nodes claimed per scheduling round",
			Buckets:   prom.ExponentialBuckets(1, 2, 10),
		}, []string{"engine"}),
		executionDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Duration of execution requests",
			Buckets:   prom.DefBuckets,
		}, []string{"engine", "outcome"}),
		cacheLookups: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Persistent cache lookups by result",
		}, []string{"result"}),
		graphNodes: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_nodes",
			Help:      "Nodes currently held by the scheduler graph",
		}),
	}
	reg.MustRegister(pr.stepDuration, pr.wavefrontSize, pr.executionDuration, pr.cacheLookups, pr.graphNodes)
	return pr
}

func (p *PrometheusRecorder) ObserveStep(outcome Outcome, d time.Duration) {
	p.stepDuration.WithLabelValues(string(outcome)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveWavefront(engine string, size int) {
	p.wavefrontSize.WithLabelValues(engine).Observe(float64(size))
}

func (p *PrometheusRecorder) ObserveExecution(engine string, outcome Outcome, d time.Duration) {
	p.executionDuration.WithLabelValues(engine, string(outcome)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncCacheLookup(hit bool) {
	res := "miss"
	if hit {
		res = "hit"
	}
	p.cacheLookups.WithLabelValues(res).Inc()
}

func (p *PrometheusRecorder) SetGraphNodes(n int) {
	p.graphNodes.Set(float64(n))
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prom.Registry {
	reg := prom.NewRegistry()
	reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	return reg
}

// Handler returns a router serving reg on /metrics and a liveness probe on
// /healthz.
func Handler(reg *prom.Registry) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}
