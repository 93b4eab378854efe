package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookrelay_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	Enqueues = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookrelay_enqueue_total", Help: "SQS enqueue results"},
		[]string{"result"},
	)
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookrelay_delivery_total", Help: "Webhook delivery outcomes"},
		[]string{"result", "http_status"},
	)
	DeliveryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "hookrelay_delivery_latency_seconds", Help: "Outbound webhook POST latency"},
	)
	DeadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookrelay_dead_lettered_total", Help: "Messages routed to the dead-letter queue"},
		[]string{"reason"},
	)
	DLQOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookrelay_dlq_ops_total", Help: "Operator actions on the dead-letter queue"},
		[]string{"op", "result"},
	)
	Dropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookrelay_dropped_total", Help: "Messages dropped without delivery"},
		[]string{"reason"},
	)
	ReceiverEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookrelay_receiver_events_total", Help: "Receiver-side webhook verifications"},
		[]string{"status"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Enqueues, Deliveries, DeliveryLatency, DeadLettered, DLQOps, Dropped, ReceiverEvents)
}
