package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gpttools_desk"

// Registry holds the desk's collectors on a private Prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	ConnectAttempts *prometheus.CounterVec
	Connected       prometheus.Gauge
	RefreshTasks    *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	FeedSubscribers prometheus.Gauge
	FeedDropped     prometheus.Counter
	HistoryRows     *prometheus.CounterVec
}

// NewRegistry creates and registers every collector, plus the Go runtime and
// process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Service initialize attempts by outcome.",
		}, []string{"outcome"}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 when the desk believes the service is reachable.",
		}),
		RefreshTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_tasks_total",
			Help:      "Refresh tasks by task name and settled status.",
		}, []string{"task", "status"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Wall time of a full refresh batch.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		FeedSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_subscribers",
			Help:      "Connected feed subscribers.",
		}),
		FeedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_dropped_subscribers_total",
			Help:      "Feed subscribers dropped for being too slow.",
		}),
		HistoryRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_rows_total",
			Help:      "Usage history rows by result (inserted, duplicate, dropped, failed).",
		}, []string{"result"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.ConnectAttempts,
		r.Connected,
		r.RefreshTasks,
		r.RefreshDuration,
		r.FeedSubscribers,
		r.FeedDropped,
		r.HistoryRows,
	)
	return r
}

// Handler serves the registry in Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ConnectAttempt counts one initialize attempt.
func (r *Registry) ConnectAttempt(outcome string) {
	r.ConnectAttempts.WithLabelValues(outcome).Inc()
}

// SetConnected records the believed connectivity.
func (r *Registry) SetConnected(connected bool) {
	if connected {
		r.Connected.Set(1)
		return
	}
	r.Connected.Set(0)
}

// ObserveTask counts one settled refresh task.
func (r *Registry) ObserveTask(task, status string) {
	r.RefreshTasks.WithLabelValues(task, status).Inc()
}

// ObserveRefresh records the duration of a refresh batch.
func (r *Registry) ObserveRefresh(d time.Duration) {
	r.RefreshDuration.Observe(d.Seconds())
}

// SubscriberAdded and SubscriberRemoved track the feed gauge.
func (r *Registry) SubscriberAdded()   { r.FeedSubscribers.Inc() }
func (r *Registry) SubscriberRemoved() { r.FeedSubscribers.Dec() }

// SubscriberDropped counts a slow subscriber removal.
func (r *Registry) SubscriberDropped() { r.FeedDropped.Inc() }

// HistoryResult counts history rows by result.
func (r *Registry) HistoryResult(result string, n int) {
	if n > 0 {
		r.HistoryRows.WithLabelValues(result).Add(float64(n))
	}
}
