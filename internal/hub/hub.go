package hub

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tetatet/internal/content"
	"tetatet/internal/metrics"
	"tetatet/internal/models"

	"github.com/c-pro/geche"
	"golang.org/x/sync/errgroup"
)

const defaultProfileTTL = 30 * time.Second

// Store is the durable storage collaborator. Calls may block; the hub never
// invokes them while holding registry or queue locks.
type Store interface {
	FindUser(id string) (models.User, error)
	CreateMessage(senderID, receiverID, content, contentHTML string) (models.Message, error)
	TouchLastSeen(id string, at time.Time) error
}

// PushSender notifies an unreachable user out-of-band once their message is
// durably queued. Implementations must not block the caller on delivery.
type PushSender interface {
	Notify(userID string, msg models.Message)
}

type Config struct {
	Store         Store
	Push          PushSender // optional
	MaxContentLen int
	ProfileTTL    time.Duration
}

// Hub owns the presence registry, the offline queue and the delivery
// pipeline. All exported methods are safe for concurrent use.
type Hub struct {
	registry *Registry
	queue    *OfflineQueue
	notifier *Notifier
	store    Store
	push     PushSender

	// Resolved user records, so a burst of sends between the same pair does
	// not hit the store for every message.
	users geche.Geche[string, models.User]

	maxContentLen int
	now           func() time.Time

	// Serializes the registry/queue handoff: a drain on identify and an
	// enqueue from the persistence path for the same user must not interleave.
	handoff sync.Mutex

	// Tracks detached persistence tasks so tests and shutdown can wait.
	persisting sync.WaitGroup
}

func New(ctx context.Context, cfg Config) *Hub {
	registry := NewRegistry()
	ttl := cfg.ProfileTTL
	if ttl <= 0 {
		ttl = defaultProfileTTL
	}
	return &Hub{
		registry:      registry,
		queue:         NewOfflineQueue(),
		notifier:      NewNotifier(registry),
		store:         cfg.Store,
		push:          cfg.Push,
		users:         geche.NewMapTTLCache[string, models.User](ctx, ttl, ttl),
		maxContentLen: cfg.MaxContentLen,
		now:           time.Now,
	}
}

// HandleEvent dispatches one inbound client event. Unknown event types are
// ignored.
func (h *Hub) HandleEvent(c Conn, ev models.ClientEvent) {
	switch ev.Type {
	case models.EventIdentify:
		h.Identify(c, ev.UserID)
	case models.EventSendMessage:
		h.SendMessage(c, ev)
	case models.EventTypingStart, models.EventTypingStop:
		h.RelayTyping(c, ev)
	case models.EventMessageRead:
		h.RelayRead(c, ev)
	case models.EventHeartbeatPing:
		c.Send(models.ServerEvent{
			Type: models.EventHeartbeatPong,
			Data: models.PongPayload{Timestamp: h.now().UnixMilli()},
		})
	}
}

// Identify resolves the announced identity, registers the connection and
// flushes any messages queued while the user was offline. The flush is
// emitted before any other event reaches the connection.
func (h *Hub) Identify(c Conn, userID string) {
	if strings.TrimSpace(userID) == "" {
		c.Send(models.ServerEvent{Type: models.EventSyncRequired})
		return
	}

	user, err := h.resolveUser(userID)
	if err != nil {
		slog.Info("identify rejected", "user_id", userID, "error", err)
		c.Send(models.ServerEvent{Type: models.EventSyncRequired})
		return
	}

	h.handoff.Lock()
	evicted := h.registry.SetOnline(userID, c)
	queued := h.queue.Drain(userID)
	for _, msg := range queued {
		c.Send(models.ServerEvent{Type: models.EventNewMessage, Data: msg})
	}
	h.handoff.Unlock()

	if evicted != nil {
		evicted.Close()
	}
	metrics.OnlineUsers.Set(float64(h.registry.Count()))
	if n := len(queued); n > 0 {
		metrics.QueuedBacklog.Sub(float64(n))
	}

	c.Send(models.ServerEvent{
		Type: models.EventConnectionConfirmed,
		Data: models.ConnectedPayload{UserID: userID, Count: h.registry.Count()},
	})

	h.notifier.UserOnline(c, userID, user.Profile())
}

// Disconnect performs cleanup for a connection that is gone, whether it ever
// identified or not. Safe to call more than once for the same connection.
func (h *Hub) Disconnect(c Conn) {
	userID, ok := h.registry.Remove(c)
	if !ok {
		return
	}
	metrics.OnlineUsers.Set(float64(h.registry.Count()))
	h.notifier.UserOffline(userID)

	now := h.now()
	h.persisting.Add(1)
	go func() {
		defer h.persisting.Done()
		if err := h.store.TouchLastSeen(userID, now); err != nil {
			slog.Warn("last seen update failed", "user_id", userID, "error", err)
		}
	}()
}

// SendMessage runs the delivery pipeline for one outgoing message: validate,
// resolve both parties, deliver optimistically to a live receiver, then
// persist in a detached task that reconciles the tempId with the durable
// record. The sender always receives a terminal confirmed/failed/error event.
func (h *Hub) SendMessage(c Conn, ev models.ClientEvent) {
	senderID, ok := h.registry.UserID(c)
	if !ok {
		h.sendError(c, ev.TempID, "connection has not identified")
		return
	}

	if err := h.validateSend(senderID, ev); err != nil {
		h.sendError(c, ev.TempID, err.Reason)
		return
	}

	var sender, receiver models.User
	g := new(errgroup.Group)
	g.Go(func() error {
		var err error
		sender, err = h.resolveUser(senderID)
		return err
	})
	g.Go(func() error {
		var err error
		receiver, err = h.resolveUser(ev.ReceiverID)
		return err
	})
	if err := g.Wait(); err != nil {
		slog.Info("send rejected, identity lookup failed",
			"sender_id", senderID, "receiver_id", ev.ReceiverID, "error", err)
		h.sendError(c, ev.TempID, "unknown participant")
		return
	}

	pending := models.PendingMessage{
		TempID:          ev.TempID,
		SenderID:        senderID,
		ReceiverID:      ev.ReceiverID,
		Content:         strings.TrimSpace(ev.Content),
		CreatedAtClient: ev.Timestamp,
		Status:          models.MessageStatusSending,
		Sender:          sender.Profile(),
		Receiver:        receiver.Profile(),
	}

	// Optimistic path: a live receiver sees the message before persistence
	// is even issued, which also guarantees new-message precedes the
	// confirmed/failed event for the same tempId on their connection.
	deliveredLive := false
	if rc, live := h.registry.Get(ev.ReceiverID); live {
		deliveredLive = rc.Send(models.ServerEvent{Type: models.EventNewMessage, Data: pending})
		if deliveredLive {
			metrics.MessagesDelivered.Inc()
		}
	}

	h.persisting.Add(1)
	go func() {
		defer h.persisting.Done()
		h.persist(pending, deliveredLive)
	}()
}

func (h *Hub) persist(pending models.PendingMessage, deliveredLive bool) {
	msg, err := h.store.CreateMessage(
		pending.SenderID,
		pending.ReceiverID,
		pending.Content,
		content.Render(pending.Content),
	)
	if err != nil {
		slog.Error("message persistence failed",
			"sender_id", pending.SenderID, "receiver_id", pending.ReceiverID, "error", err)
		metrics.MessagesFailed.Inc()
		failed := models.ServerEvent{
			Type: models.EventMessageFailed,
			Data: models.FailedPayload{TempID: pending.TempID},
		}
		if sc, live := h.registry.Get(pending.SenderID); live {
			sc.Send(failed)
		}
		// The receiver only needs the retraction if it saw the optimistic copy.
		if deliveredLive {
			if rc, live := h.registry.Get(pending.ReceiverID); live {
				rc.Send(failed)
			}
		}
		return
	}

	metrics.MessagesConfirmed.Inc()
	confirmed := models.ServerEvent{
		Type: models.EventMessageConfirmed,
		Data: models.ConfirmedPayload{TempID: pending.TempID, Message: msg},
	}
	if sc, live := h.registry.Get(pending.SenderID); live {
		sc.Send(confirmed)
	}

	h.handoff.Lock()
	defer h.handoff.Unlock()
	if rc, live := h.registry.Get(pending.ReceiverID); live && rc.Send(confirmed) {
		return
	}

	// Receiver unreachable: offline, dead but not yet reaped, or their buffer
	// is full. Hold the durable record until their next identify, and nudge
	// them out-of-band.
	h.queue.Enqueue(pending.ReceiverID, msg)
	metrics.MessagesQueued.Inc()
	metrics.QueuedBacklog.Inc()
	if h.push != nil {
		h.push.Notify(pending.ReceiverID, msg)
	}
}

func (h *Hub) validateSend(senderID string, ev models.ClientEvent) *models.ValidationError {
	trimmed := strings.TrimSpace(ev.Content)
	switch {
	case ev.ReceiverID == "":
		return &models.ValidationError{Reason: "receiver is required"}
	case ev.ReceiverID == senderID:
		return &models.ValidationError{Reason: "cannot send a message to yourself"}
	case trimmed == "":
		return &models.ValidationError{Reason: "content is empty"}
	case h.maxContentLen > 0 && len(trimmed) > h.maxContentLen:
		return &models.ValidationError{Reason: "content too long"}
	}
	return nil
}

// RelayTyping forwards a typing signal point-to-point. No queueing, no error
// to the sender: an unreachable or malformed target means a silent drop.
func (h *Hub) RelayTyping(c Conn, ev models.ClientEvent) {
	if ev.ToUserID == "" || ev.FromUserID == "" {
		return
	}
	target, live := h.registry.Get(ev.ToUserID)
	if !live {
		return
	}
	out := models.ServerEvent{
		Type: models.EventUserTyping,
		Data: models.TypingPayload{FromUserID: ev.FromUserID, Username: ev.Username},
	}
	if ev.Type == models.EventTypingStop {
		out = models.ServerEvent{
			Type: models.EventUserStopTyping,
			Data: models.TypingPayload{FromUserID: ev.FromUserID},
		}
	}
	target.Send(out)
}

// RelayRead routes a read receipt back to the message's sender.
func (h *Hub) RelayRead(c Conn, ev models.ClientEvent) {
	if ev.MessageID == "" || ev.SenderID == "" {
		return
	}
	target, live := h.registry.Get(ev.SenderID)
	if !live {
		return
	}
	target.Send(models.ServerEvent{
		Type: models.EventMessageReadReceipt,
		Data: models.ReadReceiptPayload{MessageID: ev.MessageID, ReadAt: h.now().UnixMilli()},
	})
}

// RunReaper periodically evicts registry entries whose connection the
// transport no longer reports alive. Transport close notifications are not
// guaranteed to fire on abrupt network loss; this bounds how long a dead
// connection can masquerade as present.
func (h *Hub) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.reap()
		}
	}
}

func (h *Hub) reap() {
	for userID, c := range h.registry.Snapshot() {
		if c.Alive() {
			continue
		}
		if _, ok := h.registry.Remove(c); !ok {
			continue // already cleaned up by an explicit disconnect
		}
		slog.Info("reaped dead connection", "user_id", userID)
		metrics.ReapedConnections.Inc()
		metrics.OnlineUsers.Set(float64(h.registry.Count()))
		c.Close()
		h.notifier.UserOffline(userID)
	}
}

// IsOnline reports whether a user currently has a live connection. It is the
// read-only presence view handed to the HTTP API.
func (h *Hub) IsOnline(userID string) bool {
	_, ok := h.registry.Get(userID)
	return ok
}

// OnlineCount returns the number of distinct online users.
func (h *Hub) OnlineCount() int {
	return h.registry.Count()
}

// QueueLen reports the offline backlog for a user.
func (h *Hub) QueueLen(userID string) int {
	return h.queue.Len(userID)
}

// Wait blocks until all detached persistence tasks have finished.
func (h *Hub) Wait() {
	h.persisting.Wait()
}

func (h *Hub) resolveUser(id string) (models.User, error) {
	if user, err := h.users.Get(id); err == nil {
		return user, nil
	}
	user, err := h.store.FindUser(id)
	if err != nil {
		return models.User{}, err
	}
	h.users.Set(id, user)
	return user, nil
}

func (h *Hub) sendError(c Conn, tempID, reason string) {
	c.Send(models.ServerEvent{
		Type: models.EventMessageError,
		Data: models.ErrorPayload{TempID: tempID, Reason: reason},
	})
}
