package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	intakeTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "notify",
		Name:      "intake_total",
		Help:      "Workflow notification events persisted.",
	})

	consumeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "notify",
		Name:      "consume_errors_total",
		Help:      "Errors while fetching, saving or committing intake events.",
	})
)

func init() {
	prometheus.MustRegister(intakeTotal, consumeErrors)
}
