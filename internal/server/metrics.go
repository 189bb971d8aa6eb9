package server

import "github.com/prometheus/client_golang/prometheus"

var (
	spawnsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "llamactl",
		Subsystem: "server",
		Name:      "spawns_total",
		Help:      "Total llama-server subprocesses spawned",
	})

	unexpectedExitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "llamactl",
		Subsystem: "server",
		Name:      "unexpected_exits_total",
		Help:      "Subprocesses that exited on their own before or after ready",
	})

	readySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "llamactl",
		Subsystem: "server",
		Name:      "ready_seconds",
		Help:      "Time from spawn to first successful readiness probe",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 11),
	})
)

func init() {
	prometheus.MustRegister(spawnsTotal, unexpectedExitsTotal, readySeconds)
}
