package ws

import "github.com/prometheus/client_golang/prometheus"

var (
	liveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "ws",
		Name:      "live_connections",
		Help:      "Number of open websocket connections.",
	})

	pushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "ws",
		Name:      "pushes_total",
		Help:      "Server events written to connections, by kind.",
	}, []string{"kind"})

	handshakeRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "ws",
		Name:      "handshake_rejects_total",
		Help:      "Upgrade requests rejected for missing identity.",
	})
)

func init() {
	prometheus.MustRegister(liveConnections, pushesTotal, handshakeRejects)
}
