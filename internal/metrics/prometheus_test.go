package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveStep(OutcomeReturn, 150*time.Millisecond)
	pr.ObserveWavefront("parallel", 4)
	pr.ObserveExecution("parallel", OutcomeReturn, time.Second)
	pr.IncCacheLookup(true)
	pr.IncCacheLookup(false)
	pr.SetGraphNodes(12)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"prodgraph_step_duration_seconds",
		"prodgraph_wavefront_size",
		"prodgraph_execution_duration_seconds",
		"prodgraph_cache_lookups_total",
		"prodgraph_graph_nodes",
	} {
		if !names[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveStep(OutcomeThrow, time.Millisecond)
	r.ObserveWavefront("serial", 1)
	r.ObserveExecution("serial", OutcomeCanceled, 0)
	r.IncCacheLookup(true)
	r.SetGraphNodes(0)
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	NewPrometheusRecorder(reg).SetGraphNodes(3)
	h := Handler(reg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "prodgraph_graph_nodes 3") {
		t.Errorf("/metrics output missing graph gauge:\n%s", body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Errorf("GET /healthz = %d %q", rec.Code, rec.Body.String())
	}
}
