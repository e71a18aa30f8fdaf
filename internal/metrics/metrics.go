package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tetatet_online_users",
		Help: "Current number of distinct users with a live connection.",
	})

	MessagesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tetatet_messages_delivered_total",
		Help: "Messages delivered optimistically to a live receiver.",
	})
	MessagesQueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tetatet_messages_queued_total",
		Help: "Messages placed on the offline queue for an unreachable receiver.",
	})
	MessagesConfirmed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tetatet_messages_confirmed_total",
		Help: "Messages durably persisted and reconciled with their tempId.",
	})
	MessagesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tetatet_messages_failed_total",
		Help: "Messages that failed persistence.",
	})

	QueuedBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tetatet_offline_queue_backlog",
		Help: "Messages currently held on offline queues (the queue is unbounded).",
	})

	BroadcastDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tetatet_broadcast_dropped_total",
		Help: "Presence broadcasts dropped because a peer's buffer was full.",
	})

	ReapedConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tetatet_reaped_connections_total",
		Help: "Registry entries evicted by the reaper for dead connections.",
	})

	PushSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tetatet_push_sent_total",
		Help: "Web Push notifications sent for offline receivers.",
	})
	PushFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tetatet_push_failed_total",
		Help: "Web Push notifications that could not be delivered.",
	})
)

func Register() {
	prometheus.MustRegister(
		OnlineUsers,
		MessagesDelivered, MessagesQueued, MessagesConfirmed, MessagesFailed,
		QueuedBacklog,
		BroadcastDropped,
		ReapedConnections,
		PushSent, PushFailed,
	)
}
