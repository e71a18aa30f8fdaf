package hub

import (
	"sync"

	"tetatet/internal/models"
)

// OfflineQueue holds persisted messages addressed to users without a live
// connection, in insertion order. It is unbounded and does not expire
// entries; a user who never reconnects accumulates memory.
type OfflineQueue struct {
	mu     sync.Mutex
	queues map[string][]models.Message
}

func NewOfflineQueue() *OfflineQueue {
	return &OfflineQueue{queues: make(map[string][]models.Message)}
}

// Enqueue appends a message to the tail of the user's queue.
func (q *OfflineQueue) Enqueue(userID string, msg models.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[userID] = append(q.queues[userID], msg)
}

// Drain returns the user's queue in insertion order and clears it. The read
// and the clear happen under one lock acquisition, so an Enqueue racing with
// Drain either lands in the returned slice or in the fresh queue, never lost.
func (q *OfflineQueue) Drain(userID string) []models.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.queues[userID]
	if msgs == nil {
		return nil
	}
	delete(q.queues, userID)
	return msgs
}

// Len reports the number of messages queued for a user.
func (q *OfflineQueue) Len(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[userID])
}
