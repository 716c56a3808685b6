package alerts

import (
	"context"
	"sync"

	"github.com/commercesignal/commercesignal/internal/models"
)

// Queue holds pending alert payloads per user for pull-based consumers.
// Safe for concurrent appends from different subscriptions.
type Queue struct {
	mu      sync.Mutex
	pending map[string][]Payload
}

// NewQueue builds an empty queue.
func NewQueue() *Queue {
	return &Queue{pending: make(map[string][]Payload)}
}

// Send appends the event envelope to the subscriber's queue.
func (q *Queue) Send(_ context.Context, sub models.AlertSubscription, event models.AlertEvent, message string) error {
	payload := buildPayload(sub, event, message)

	q.mu.Lock()
	q.pending[sub.UserID] = append(q.pending[sub.UserID], payload)
	q.mu.Unlock()
	return nil
}

// Pending returns a copy of the user's queued payloads, oldest first.
func (q *Queue) Pending(userID string) []Payload {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Payload, len(q.pending[userID]))
	copy(out, q.pending[userID])
	return out
}

// Clear drops the user's queued payloads and reports how many were dropped.
func (q *Queue) Clear(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending[userID])
	delete(q.pending, userID)
	return n
}

// Count reports how many payloads are queued for the user.
func (q *Queue) Count(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[userID])
}
