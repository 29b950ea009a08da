package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connected_clients",
		Help: "Number of currently registered users",
	})

	GroupsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_groups",
		Help: "Number of groups in the directory",
	})

	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_connections_total",
		Help: "Total accepted connections",
	})

	OnboardingTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_onboarding_total",
		Help: "Onboarding attempts by result",
	}, []string{"result"})

	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total commands processed by type",
	}, []string{"type"})

	DeliveriesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_deliveries_dropped_total",
		Help: "Outbound lines dropped because the recipient queue was full or closed",
	})

	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_registry_events_total",
		Help: "Total registry events by type",
	}, []string{"type"})

	EventProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_event_processing_seconds",
		Help:    "Time to process each registry event type",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(GroupsTotal)
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(OnboardingTotal)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(DeliveriesDropped)
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(EventProcessingDuration)
}
