package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"tetatet/internal/auth"
	"tetatet/internal/content"
	"tetatet/internal/models"
)

// PresenceQuery is the read-only presence view the hub exposes to the plain
// HTTP surface. Handlers never touch the mutable registry.
type PresenceQuery interface {
	IsOnline(userID string) bool
	OnlineCount() int
}

// Store is the subset of storage the HTTP API needs.
type Store interface {
	FindUser(id string) (models.User, error)
	ListUsers() ([]models.User, error)
	ListConversation(userA, userB string, limit int) ([]models.Message, error)
	CreateMessage(senderID, receiverID, content, contentHTML string) (models.Message, error)
	UpsertPushSubscription(sub models.PushSubscription) error
}

type API struct {
	auth     *auth.AuthService
	presence PresenceQuery
	store    Store
}

func New(authService *auth.AuthService, presence PresenceQuery, store Store) *API {
	return &API{auth: authService, presence: presence, store: store}
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	token, user, err := a.auth.Login(req.Username, req.Password)
	if err != nil {
		http.Error(w, "Login failed", http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Now().Add(a.auth.TokenExpiry),
	})

	writeJSON(w, map[string]any{
		"token": token,
		"user":  user,
	})
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := a.getToken(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

func (a *API) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		DisplayName string `json:"displayName"`
		Password    string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := content.ValidateUsername(req.Username); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Password) < 8 {
		http.Error(w, "password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	user, err := a.auth.AddUser(req.Username, content.Sanitize(req.DisplayName), req.Password)
	if err != nil {
		if errors.Is(err, models.ErrUserExists) {
			http.Error(w, "username is taken", http.StatusConflict)
			return
		}
		log.Printf("register failed: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, user)
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, err := a.store.FindUser(userID(r))
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	user.Online = true
	writeJSON(w, user)
}

// UsersHandler lists all users with their current presence flag.
func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.ListUsers()
	if err != nil {
		log.Printf("list users failed: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	for i := range users {
		users[i].Online = a.presence.IsOnline(users[i].ID)
	}

	writeJSON(w, map[string]any{
		"users":       users,
		"onlineCount": a.presence.OnlineCount(),
	})
}

// MessagesHandler returns the conversation history with one peer.
func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	peer := r.PathValue("peer")
	if peer == "" {
		http.Error(w, "peer is required", http.StatusBadRequest)
		return
	}

	messages, err := a.store.ListConversation(userID(r), peer, 200)
	if err != nil {
		log.Printf("list conversation failed: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, messages)
}

// SendMessageHandler is the synchronous submission path: the message is
// persisted before the response is written, with no socket involvement.
func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiverID string `json:"receiverId"`
		Content    string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	senderID := userID(r)
	trimmed := strings.TrimSpace(req.Content)
	switch {
	case req.ReceiverID == "":
		http.Error(w, "receiverId is required", http.StatusBadRequest)
		return
	case req.ReceiverID == senderID:
		http.Error(w, "cannot send a message to yourself", http.StatusBadRequest)
		return
	case trimmed == "":
		http.Error(w, "content is empty", http.StatusBadRequest)
		return
	}

	if _, err := a.store.FindUser(req.ReceiverID); err != nil {
		http.Error(w, "unknown receiver", http.StatusNotFound)
		return
	}

	msg, err := a.store.CreateMessage(senderID, req.ReceiverID, trimmed, content.Render(trimmed))
	if err != nil {
		log.Printf("create message failed: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, msg)
}

// PushSubscribeHandler stores the caller's Web Push subscription.
func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		http.Error(w, "endpoint and keys are required", http.StatusBadRequest)
		return
	}

	err := a.store.UpsertPushSubscription(models.PushSubscription{
		UserID:   userID(r),
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	})
	if err != nil {
		log.Printf("push subscribe failed: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
