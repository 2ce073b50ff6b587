// Package metrics defines the Prometheus collectors for the pipeline and
// exposes the scrape handler. It implements the observer interfaces the
// gate, job and publish packages accept.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"itemforge/api/internal/app"
	"itemforge/api/internal/gate"
	"itemforge/api/internal/job"
	"itemforge/api/internal/publish"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	EnhancementCallsTotal *prometheus.CounterVec
	GateOutcomesTotal     *prometheus.CounterVec
	JobItemsTotal         *prometheus.CounterVec
	SyncWritesTotal       *prometheus.CounterVec
	HTTPRequestsTotal     *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		EnhancementCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "itemforge_enhancement_calls_total",
				Help: "Total enrichment model calls by outcome (ok, error).",
			},
			[]string{"outcome"},
		),
		GateOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "itemforge_gate_outcomes_total",
				Help: "Total gate verdicts by gate and status.",
			},
			[]string{"gate", "status"},
		),
		JobItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "itemforge_job_items_total",
				Help: "Total items processed by job kind and item status.",
			},
			[]string{"kind", "status"},
		),
		SyncWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "itemforge_sync_writes_total",
				Help: "Total delivery-index writes by classification and outcome.",
			},
			[]string{"classification", "outcome"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "itemforge_http_requests_total",
				Help: "Total HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
	}

	prometheus.MustRegister(
		m.EnhancementCallsTotal,
		m.GateOutcomesTotal,
		m.JobItemsTotal,
		m.SyncWritesTotal,
		m.HTTPRequestsTotal,
	)

	return m
}

func (m *Metrics) EnhancementCall(outcome string) {
	m.EnhancementCallsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) GateOutcome(gateName string, status gate.Status) {
	m.GateOutcomesTotal.WithLabelValues(gateName, string(status)).Inc()
}

func (m *Metrics) JobItem(kind job.Kind, status job.ItemStatus) {
	m.JobItemsTotal.WithLabelValues(string(kind), string(status)).Inc()
}

func (m *Metrics) HTTPRequest(method, path string, status int) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

func (m *Metrics) SyncWrite(classification publish.Classification, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.SyncWritesTotal.WithLabelValues(string(classification), outcome).Inc()
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

var (
	_ app.RequestMetrics = (*Metrics)(nil)
	_ gate.Metrics       = (*Metrics)(nil)
	_ job.Metrics        = (*Metrics)(nil)
	_ publish.Metrics    = (*Metrics)(nil)
)
