// Package metrics exposes dealdesk counters on a private Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dealdesk"

// Metrics groups every collector the service records to.
type Metrics struct {
	reg *prometheus.Registry

	Submissions    *prometheus.CounterVec
	TaskChanges    *prometheus.CounterVec
	DealMoves      prometheus.Counter
	BusyRejections prometheus.Counter
	InFlight       prometheus.Gauge
	StoreErrors    *prometheus.CounterVec
	Overdue        prometheus.Counter
	SSEClients     prometheus.Gauge
	SSEEvents      prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Activity input lines accepted, by resulting kind.",
		}, []string{"kind"}),
		TaskChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_changes_total",
			Help:      "Task lifecycle transitions applied, by operation.",
		}, []string{"op"}),
		DealMoves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deal_moves_total",
			Help:      "Deals moved between pipeline stages.",
		}),
		BusyRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "busy_rejections_total",
			Help:      "Mutations rejected because one was already in flight for the record.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mutations_in_flight",
			Help:      "Records with a mutation currently running.",
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed persistence calls, by operation.",
		}, []string{"op"}),
		Overdue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overdue_notifications_total",
			Help:      "task.overdue events published by the reminder sweeper.",
		}),
		SSEClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sse_clients",
			Help:      "Connected event stream subscribers.",
		}),
		SSEEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sse_events_total",
			Help:      "Events published to subscribers.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Submissions, m.TaskChanges, m.DealMoves, m.BusyRejections, m.InFlight,
		m.StoreErrors, m.Overdue, m.SSEClients, m.SSEEvents,
	)
	return m
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ClientConnected records a new event stream subscriber.
func (m *Metrics) ClientConnected() { m.SSEClients.Inc() }

// ClientDisconnected records a subscriber leaving.
func (m *Metrics) ClientDisconnected() { m.SSEClients.Dec() }

// EventPublished counts one broadcast.
func (m *Metrics) EventPublished() { m.SSEEvents.Inc() }
