package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	flushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpsync_flush_total",
			Help: "Sync round-trips by result.",
		},
		[]string{"result"},
	)
	flushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gpsync_flush_duration_seconds",
			Help:    "Duration of sync round-trips.",
			Buckets: prometheus.DefBuckets,
		},
	)
	outboxRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gpsync_outbox_rejected_total",
			Help: "Outbox entries the server acknowledged with an error status.",
		},
	)
	eventsMerged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gpsync_events_merged_total",
			Help: "Server events merged into the local store.",
		},
	)
	outboxDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gpsync_outbox_depth",
			Help: "Entries waiting for server acknowledgement.",
		},
	)
	degraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gpsync_degraded",
			Help: "1 while consecutive sync failures exceed the threshold.",
		},
	)
)

func init() {
	prometheus.MustRegister(flushTotal)
	prometheus.MustRegister(flushDuration)
	prometheus.MustRegister(outboxRejected)
	prometheus.MustRegister(eventsMerged)
	prometheus.MustRegister(outboxDepth)
	prometheus.MustRegister(degraded)
}

func ObserveFlush(result string, elapsed time.Duration) {
	flushTotal.WithLabelValues(result).Inc()
	flushDuration.Observe(elapsed.Seconds())
}

func AddRejected(n int) {
	if n > 0 {
		outboxRejected.Add(float64(n))
	}
}

func AddMerged(n int) {
	if n > 0 {
		eventsMerged.Add(float64(n))
	}
}

func SetOutboxDepth(n int) { outboxDepth.Set(float64(n)) }

func SetDegraded(v bool) {
	if v {
		degraded.Set(1)
		return
	}
	degraded.Set(0)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
}
