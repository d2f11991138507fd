package server

import (
	"sync"
	"time"

	"cardclash/internal/game"
)

// QueueEntry is one identity waiting for an opponent.
type QueueEntry struct {
	Identity   game.Identity
	ConnID     string
	EnqueuedAt time.Time
}

// Queue is the matchmaking queue: strict FIFO by enqueue time, no priority
// or skill matching. All operations are atomic; a pair can never be split
// across two concurrent DequeuePair calls.
type Queue struct {
	mu      sync.Mutex
	entries []QueueEntry
	now     func() time.Time
}

func NewQueue() *Queue {
	return &Queue{now: time.Now}
}

// Enqueue is idempotent per identity: any existing entry is removed first,
// so re-joining moves the player to the back. Returns the 1-based position
// and queue size.
func (q *Queue) Enqueue(id game.Identity, connID string) (pos, size int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(id.ID)
	q.entries = append(q.entries, QueueEntry{Identity: id, ConnID: connID, EnqueuedAt: q.now()})
	return len(q.entries), len(q.entries)
}

// DequeuePair atomically removes and returns the two longest-waiting
// entries, or nothing when fewer than two are queued.
func (q *Queue) DequeuePair() (a, b QueueEntry, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) < 2 {
		return QueueEntry{}, QueueEntry{}, false
	}
	// Entries are appended in enqueue order; Enqueue re-inserts movers at the
	// back, so the slice is already sorted by EnqueuedAt.
	a, b = q.entries[0], q.entries[1]
	q.entries = append(q.entries[:0], q.entries[2:]...)
	return a, b, true
}

// Leave removes the entry if present; absent is a no-op.
func (q *Queue) Leave(identityID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(identityID)
}

// RequeueFront reinserts a failed pair at the head of the queue in their
// original relative order, so a transient session-creation failure costs
// nobody their position.
func (q *Queue) RequeueFront(a, b QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append([]QueueEntry{a, b}, q.entries...)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) removeLocked(identityID string) bool {
	for i, e := range q.entries {
		if e.Identity.ID == identityID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}
