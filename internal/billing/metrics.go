package billing

import "github.com/prometheus/client_golang/prometheus"

var webhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "webhook_events_total",
	Help: "Payment webhook deliveries by event type and outcome.",
}, []string{"type", "result"})

func init() {
	prometheus.MustRegister(webhookEvents)
}
