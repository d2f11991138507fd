package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"cardclash/internal/accounts"
	"cardclash/internal/game"
	"cardclash/internal/store"
)

// Hub owns the connection registry, presence, matchmaking and the per-session
// workers. It carries no package-level state; tests construct isolated hubs.
type Hub struct {
	sessions store.SessionStore
	stats    store.StatsStore
	decks    *game.Provisioner
	auth     accounts.Resolver
	queue    *Queue

	mu      sync.Mutex
	conns   map[string]*conn
	workers map[string]*worker
	byCode  map[string]string // join code -> session id, live workers only
}

func NewHub(sessions store.SessionStore, stats store.StatsStore, decks *game.Provisioner, auth accounts.Resolver) *Hub {
	return &Hub{
		sessions: sessions,
		stats:    stats,
		decks:    decks,
		auth:     auth,
		queue:    NewQueue(),
		conns:    make(map[string]*conn),
		workers:  make(map[string]*worker),
		byCode:   make(map[string]string),
	}
}

// Queue exposes the matchmaking queue (read-only use in handlers/tests).
func (h *Hub) Queue() *Queue { return h.queue }

// ---------------- connection registry ----------------

// Register admits an authenticated connection and announces presence.
func (h *Hub) Register(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	log.Printf("hub: connect id=%s identity=%s guest=%v", c.id, c.identity.ID, c.identity.Guest)
	h.broadcastPresence()
}

// AttachSession binds a connection to a session for presence and routing.
func (h *Hub) AttachSession(connID, sessionID string) {
	h.mu.Lock()
	if c, ok := h.conns[connID]; ok {
		c.sessionID = sessionID
	}
	h.mu.Unlock()
	h.broadcastPresence()
}

// Detach clears a connection's session binding.
func (h *Hub) Detach(connID string) {
	h.mu.Lock()
	if c, ok := h.conns[connID]; ok {
		c.sessionID = ""
	}
	h.mu.Unlock()
	h.broadcastPresence()
}

// Unregister drops a connection: leaves matchmaking, hands the session (if
// any) to its worker's disconnect path, and announces presence. Unknown
// connections are a no-op.
func (h *Hub) Unregister(connID string) game.Identity {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return game.Identity{}
	}
	delete(h.conns, connID)
	sessionID := c.sessionID
	h.mu.Unlock()

	log.Printf("hub: disconnect id=%s identity=%s", c.id, c.identity.ID)
	h.queue.Leave(c.identity.ID)
	if sessionID != "" {
		if w, ok := h.workerFor(sessionID); ok {
			w.submit(command{kind: cmdDisconnect, conn: c})
		}
	}
	h.broadcastPresence()
	return c.identity
}

// broadcastPresence publishes who is online to every connection. Best-effort:
// a slow or stale connection drops the update, nothing rolls back.
func (h *Hub) broadcastPresence() {
	h.mu.Lock()
	entries := make([]presenceEntry, 0, len(h.conns))
	targets := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		entries = append(entries, presenceEntry{Identity: c.identity, InSession: c.sessionID != ""})
		targets = append(targets, c)
	}
	h.mu.Unlock()
	env := envelope(evPresenceList, map[string]any{"players": entries, "count": len(entries)})
	for _, c := range targets {
		c.deliver(env)
	}
}

// connsInSession snapshots the connections currently bound to a session.
func (h *Hub) connsInSession(sessionID string) []*conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*conn
	for _, c := range h.conns {
		if c.sessionID == sessionID {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) connByID(connID string) (*conn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	return c, ok
}

// boundSession reports the live session a connection is bound to. A binding
// left behind by a retired session is cleared, so a finished game never
// blocks its players from queueing or joining again.
func (h *Hub) boundSession(connID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok || c.sessionID == "" {
		return "", false
	}
	if _, live := h.workers[c.sessionID]; !live {
		c.sessionID = ""
		return "", false
	}
	return c.sessionID, true
}

// ---------------- session workers ----------------

func (h *Hub) spawnWorker(sess *game.Session) *worker {
	h.mu.Lock()
	defer h.mu.Unlock()
	if w, ok := h.workers[sess.ID]; ok {
		return w
	}
	w := newWorker(h, sess)
	h.workers[sess.ID] = w
	h.byCode[sess.Code] = sess.ID
	go w.run()
	return w
}

func (h *Hub) workerFor(sessionID string) (*worker, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.workers[sessionID]
	return w, ok
}

func (h *Hub) workerForCode(code string) (*worker, bool) {
	h.mu.Lock()
	id, ok := h.byCode[code]
	var w *worker
	if ok {
		w, ok = h.workers[id]
	}
	h.mu.Unlock()
	return w, ok
}

// retire stops a finished session's worker.
func (h *Hub) retire(sessionID string) {
	h.mu.Lock()
	w, ok := h.workers[sessionID]
	if ok {
		delete(h.workers, sessionID)
		delete(h.byCode, w.sess.Code)
	}
	h.mu.Unlock()
	if ok {
		w.stop()
	}
}

// ---------------- matchmaking ----------------

// tryPair drains the queue two at a time. Pairing is a best-effort side
// effect of enqueueing; a persistence failure restores both entries at the
// front of the queue.
func (h *Hub) tryPair() {
	for {
		a, b, ok := h.queue.DequeuePair()
		if !ok {
			return
		}
		sess := game.NewSession(a.Identity, false)
		if err := sess.Join(b.Identity); err != nil {
			// Same identity paired with itself cannot happen (Enqueue dedupes),
			// anything else here is a bug worth surfacing.
			log.Printf("matchmaker: pair join failed: %v", err)
			continue
		}
		if err := h.createSession(sess); err != nil {
			log.Printf("matchmaker: session create failed, requeueing %s and %s: %v", a.Identity.ID, b.Identity.ID, err)
			h.queue.RequeueFront(a, b)
			return
		}
		log.Printf("matchmaker: paired %s vs %s session=%s", a.Identity.ID, b.Identity.ID, sess.ID)
		h.spawnWorker(sess)
		h.AttachSession(a.ConnID, sess.ID)
		h.AttachSession(b.ConnID, sess.ID)
		if c, ok := h.connByID(a.ConnID); ok {
			c.deliver(envelope(evMatched, matchedPayload{SessionID: sess.ID, Opponent: b.Identity}))
		}
		if c, ok := h.connByID(b.ConnID); ok {
			c.deliver(envelope(evMatched, matchedPayload{SessionID: sess.ID, Opponent: a.Identity}))
		}
	}
}

// createSession writes through the validating store path, retrying once. The
// short join code can collide with an existing session's, so the code is
// regenerated until it is free before the write.
func (h *Hub) createSession(sess *game.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for attempt := 0; attempt < 5; attempt++ {
		_, err := h.sessions.GetByCode(ctx, sess.Code)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			// Store unreachable; the create below will surface that.
			break
		}
		log.Printf("hub: join code %s already taken, regenerating", sess.Code)
		sess.RegenerateCode()
	}
	err := h.sessions.Create(ctx, sess)
	if err == nil {
		return nil
	}
	log.Printf("hub: session %s create failed, retrying once: %v", sess.ID, err)
	return h.sessions.Create(ctx, sess)
}
