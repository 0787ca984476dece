// Package metrics holds the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry so tests and multiple instances never
// collide on the default one.
type Recorder struct {
	reg *prometheus.Registry

	queueSize     prometheus.Gauge
	sendOutcomes  *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	groupsFlushed prometheus.Counter
	groupItems    prometheus.Histogram
	jobRuns       *prometheus.CounterVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		queueSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_queue_size",
			Help: "Delivery tasks waiting in the distributor queue",
		}),
		sendOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_send_outcomes_total",
			Help: "Delivery attempts by classified outcome",
		}, []string{"outcome"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_intake_dropped_total",
			Help: "Inbound messages not relayed, by reason",
		}, []string{"reason"}),
		groupsFlushed: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_media_groups_flushed_total",
			Help: "Albums assembled and handed to the distributor",
		}),
		groupItems: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_media_group_items",
			Help:    "Parts per flushed album",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_job_runs_total",
			Help: "Scheduled maintenance job runs by job and status",
		}, []string{"job", "status"}),
	}
}

func (r *Recorder) QueueSize(n int) { r.queueSize.Set(float64(n)) }

func (r *Recorder) SendOutcome(outcome string) { r.sendOutcomes.WithLabelValues(outcome).Inc() }

func (r *Recorder) Dropped(reason string) { r.dropped.WithLabelValues(reason).Inc() }

func (r *Recorder) GroupFlushed(items int) {
	r.groupsFlushed.Inc()
	r.groupItems.Observe(float64(items))
}

// JobRun counts a scheduled job execution; status is "ok" or "error".
func (r *Recorder) JobRun(job, status string) { r.jobRuns.WithLabelValues(job, status).Inc() }

func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
