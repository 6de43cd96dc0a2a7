// Package queue holds questions waiting for a free dialog slot.
package queue

import (
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/gateway"
)

// PendingQuestion is a queued, unanswered question.
type PendingQuestion struct {
	ID          int // sequence key, dense 1..N across the queue
	ChatID      string
	Name        string
	Username    string
	Manager     string
	SubmittedAt time.Time
	Origin      gateway.MessageRef
	PolicyLink  string
}

// Queue is a FIFO of pending questions. Sequence keys always form the dense
// range 1..N, so the oldest question is key 1. A single mutex guards every
// operation; callers must not make outbound calls while it is held.
type Queue struct {
	mu      sync.Mutex
	entries []PendingQuestion // entries[i].ID == i+1
	now     func() time.Time
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{now: time.Now}
}

// SetClock overrides the admission clock (tests).
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Enqueue admits a question at the tail and returns its key. It always succeeds;
// capacity is enforced against dialog count by the scheduler, not here.
func (q *Queue) Enqueue(p PendingQuestion) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	p.SubmittedAt = q.now()
	p.ID = len(q.entries) + 1
	q.entries = append(q.entries, p)
	return p.ID
}

// Requeue puts a question back at the head, ahead of everything admitted
// after it. Its original admission time is kept.
func (q *Queue) Requeue(p PendingQuestion) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append([]PendingQuestion{p}, q.entries...)
	q.renumberLocked()
}

// Remove deletes the entry for chatID and renumbers the rest to 1..N.
// Returns false if the chat has no queued question.
func (q *Queue) Remove(chatID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.ChatID == chatID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			q.renumberLocked()
			return true
		}
	}
	return false
}

// PopOldest removes and returns the question with the smallest key.
func (q *Queue) PopOldest() (PendingQuestion, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return PendingQuestion{}, false
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	q.renumberLocked()
	return head, true
}

// FlushAll empties the queue and returns the displaced entries in key order.
// Notifying the displaced askers is left to the caller, outside the lock.
func (q *Queue) FlushAll() []PendingQuestion {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.entries
	q.entries = nil
	return out
}

// Len returns the number of queued questions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Position returns the key of chatID's question, or 0 if it is not queued.
func (q *Queue) Position(chatID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.ChatID == chatID {
			return e.ID
		}
	}
	return 0
}

// Snapshot returns a copy of the queue in key order.
func (q *Queue) Snapshot() []PendingQuestion {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingQuestion, len(q.entries))
	copy(out, q.entries)
	return out
}

// renumberLocked restores the dense 1..N key invariant.
func (q *Queue) renumberLocked() {
	for i := range q.entries {
		q.entries[i].ID = i + 1
	}
}
