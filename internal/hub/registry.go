package hub

import (
	"sync"

	"tetatet/internal/models"
)

// Conn is the transport handle the hub stores and addresses. The ws layer
// owns handle lifecycle; the hub never constructs one.
type Conn interface {
	// Send queues an event for delivery. It must not block; it reports false
	// when the event was dropped (closed connection or full buffer).
	Send(ev models.ServerEvent) bool
	// Alive reports whether the transport still considers the peer reachable.
	Alive() bool
	Close()
}

// Registry is the bidirectional mapping between logical users and their live
// connections. At most one connection per user and one user per connection.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Conn
	byConn map[Conn]string
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]Conn),
		byConn: make(map[Conn]string),
	}
}

// SetOnline registers a connection for a user. If the user already has a
// different connection, that entry is evicted from both directions first and
// returned so the caller can close it (last writer wins on reconnect).
func (r *Registry) SetOnline(userID string, c Conn) (evicted Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byUser[userID]; ok && old != c {
		delete(r.byConn, old)
		evicted = old
	}
	// The connection may have identified as someone else before.
	if prevUser, ok := r.byConn[c]; ok && prevUser != userID {
		delete(r.byUser, prevUser)
	}

	r.byUser[userID] = c
	r.byConn[c] = userID
	return evicted
}

// Get returns the live connection for a user, if any.
func (r *Registry) Get(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[userID]
	return c, ok
}

// UserID returns the user a connection identified as, if any.
func (r *Registry) UserID(c Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.byConn[c]
	return userID, ok
}

// Remove drops a connection from both directions and returns the user it was
// registered to. ok is false if the connection never identified.
func (r *Registry) Remove(c Conn) (userID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.byConn[c]
	if !ok {
		return "", false
	}
	delete(r.byConn, c)
	// Only drop the user entry if it still points at this connection;
	// a reconnect may already have replaced it.
	if cur, exists := r.byUser[userID]; exists && cur == c {
		delete(r.byUser, userID)
	}
	return userID, true
}

// Count returns the number of distinct online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Snapshot returns a copy of the current user to connection mapping for
// iteration outside the lock (broadcasts, reaper sweeps).
func (r *Registry) Snapshot() map[string]Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(map[string]Conn, len(r.byUser))
	for userID, c := range r.byUser {
		snap[userID] = c
	}
	return snap
}
