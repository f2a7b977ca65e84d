package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "omchat_ws_connections",
		Help: "Open websocket connections on this node.",
	})

	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "omchat_online_users",
		Help: "Distinct users with at least one connection on this node.",
	})

	EventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "omchat_events_delivered_total",
		Help: "Events enqueued to a client connection, by event type.",
	}, []string{"type"})

	// DeliveryFailures counts pushes dropped because the connection's send
	// buffer was full or the connection was already closed.
	DeliveryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "omchat_delivery_failures_total",
		Help: "Events dropped instead of delivered, by event type.",
	}, []string{"type"})

	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "omchat_messages_sent_total",
		Help: "Messages persisted, by conversation kind.",
	}, []string{"kind"})

	MessagesMarkedRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omchat_messages_marked_read_total",
		Help: "Read markers actually added to messages.",
	})

	UnreadSettles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "omchat_unread_settles_total",
		Help: "Unread counter settles, by outcome (applied, superseded, error).",
	}, []string{"outcome"})

	BusEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "omchat_bus_events_total",
		Help: "Cross-node bus envelopes, by direction (published, received, dropped, error).",
	}, []string{"direction"})
)

func init() {
	prometheus.MustRegister(
		ConnectedClients,
		OnlineUsers,
		EventsDelivered,
		DeliveryFailures,
		MessagesSent,
		MessagesMarkedRead,
		UnreadSettles,
		BusEvents,
	)
}
