package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus counters for the ingest hot path. Registered once on the
// default registry; /metrics is exposed by the bridge HTTP server.
var (
	packetsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "windi",
		Subsystem: "bridge",
		Name:      "packets_accepted_total",
		Help:      "Accepted telemetry packets by shelf.",
	}, []string{"shelf"})

	packetsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "windi",
		Subsystem: "bridge",
		Name:      "packets_rejected_total",
		Help:      "Rejected telemetry packets by error code.",
	}, []string{"code"})
)

func recordAccepted(shelf string) {
	packetsAccepted.WithLabelValues(shelf).Inc()
}

func recordRejection(code string) {
	packetsRejected.WithLabelValues(code).Inc()
}
