package hub

import (
	"tetatet/internal/metrics"
	"tetatet/internal/models"
)

// Notifier announces presence transitions to connected peers. Every send is
// fire-and-forget: a peer with a full buffer is skipped, never waited on, and
// a failed send does not affect the registry mutation that triggered it.
type Notifier struct {
	registry *Registry
}

func NewNotifier(registry *Registry) *Notifier {
	return &Notifier{registry: registry}
}

// UserOnline broadcasts the online transition to everyone except the joining
// connection, then the updated count to everyone including it.
func (n *Notifier) UserOnline(joined Conn, userID string, profile models.Profile) {
	online := models.ServerEvent{
		Type: models.EventPresenceOnline,
		Data: models.PresencePayload{UserID: userID, Profile: profile},
	}
	count := models.ServerEvent{
		Type: models.EventOnlineCount,
		Data: models.CountPayload{Count: n.registry.Count()},
	}

	for _, c := range n.registry.Snapshot() {
		if c != joined {
			n.send(c, online)
		}
		n.send(c, count)
	}
}

// UserOffline broadcasts the offline transition and the updated count to all
// remaining connections.
func (n *Notifier) UserOffline(userID string) {
	offline := models.ServerEvent{
		Type: models.EventPresenceOffline,
		Data: models.OfflinePayload{UserID: userID},
	}
	count := models.ServerEvent{
		Type: models.EventOnlineCount,
		Data: models.CountPayload{Count: n.registry.Count()},
	}

	for _, c := range n.registry.Snapshot() {
		n.send(c, offline)
		n.send(c, count)
	}
}

func (n *Notifier) send(c Conn, ev models.ServerEvent) {
	if !c.Send(ev) {
		metrics.BroadcastDropped.Inc()
	}
}
