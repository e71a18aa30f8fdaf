package push

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"tetatet/internal/metrics"
	"tetatet/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// SubscriptionStore persists Web Push subscriptions per user.
type SubscriptionStore interface {
	ListPushSubscriptions(userID string) ([]models.PushSubscription, error)
	DeletePushSubscription(userID, endpoint string) error
}

type Config struct {
	VAPIDPublic  string
	VAPIDPrivate string
	Subject      string
}

// Service sends Web Push notifications to users without a live connection.
// Delivery failures are logged and counted, never propagated to the caller.
type Service struct {
	cfg   Config
	store SubscriptionStore
}

func New(cfg Config, store SubscriptionStore) (*Service, error) {
	if cfg.VAPIDPublic == "" || cfg.VAPIDPrivate == "" {
		return nil, errors.New("VAPID key pair is required")
	}
	return &Service{cfg: cfg, store: store}, nil
}

type notification struct {
	Type     string `json:"type"`
	SenderID string `json:"senderId"`
	Preview  string `json:"preview"`
}

// Notify fans a new-message notification out to all of the user's
// subscriptions in a detached task.
func (s *Service) Notify(userID string, msg models.Message) {
	go s.notify(userID, msg)
}

func (s *Service) notify(userID string, msg models.Message) {
	subs, err := s.store.ListPushSubscriptions(userID)
	if err != nil {
		slog.Warn("push subscription lookup failed", "user_id", userID, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(notification{
		Type:     "new-message",
		SenderID: msg.SenderID,
		Preview:  preview(msg.Content),
	})
	if err != nil {
		return
	}

	for _, sub := range subs {
		resp, err := webpush.SendNotification(payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		}, &webpush.Options{
			Subscriber:      s.cfg.Subject,
			VAPIDPublicKey:  s.cfg.VAPIDPublic,
			VAPIDPrivateKey: s.cfg.VAPIDPrivate,
			TTL:             3600,
		})
		if err != nil {
			metrics.PushFailed.Inc()
			slog.Warn("push send failed", "user_id", userID, "error", err)
			continue
		}
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusNotFound, http.StatusGone:
			// Subscription expired on the push service side.
			metrics.PushFailed.Inc()
			if err := s.store.DeletePushSubscription(userID, sub.Endpoint); err != nil {
				slog.Warn("stale subscription cleanup failed", "user_id", userID, "error", err)
			}
		default:
			metrics.PushSent.Inc()
		}
	}
}

func preview(content string) string {
	const max = 120
	if len(content) <= max {
		return content
	}
	// Back off to a rune boundary so a multi-byte character is never split.
	cut := max
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}
