package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics to track
var (
	PartyCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lockd_parties",
			Help: "Number of party documents in the store",
		},
	)
	PartyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockd_party_requests_total",
			Help: "Total party requests received, by operation and outcome",
		},
		[]string{"op", "status"},
	)
	BarrierCompletions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lockd_barrier_completions_total",
			Help: "Times a party's ready set covered its full membership",
		},
	)
	InvitesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lockd_party_invites_sent_total",
			Help: "Total party invites issued",
		},
	)
)

// InitMetrics initializes and registers Prometheus metrics
func InitMetrics() {
	prometheus.MustRegister(PartyCount, PartyRequests, BarrierCompletions, InvitesSent)
}

// ServeMetrics starts an HTTP server to expose metrics
func ServeMetrics(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			panic(err)
		}
	}()
}
