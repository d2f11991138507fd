package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"cardclash/internal/game"
	"cardclash/internal/store"
)

// Dispatch routes one inbound message. It runs on the connection's read
// goroutine; anything that touches a session is funneled into that session's
// worker.
func (h *Hub) Dispatch(c *conn, env Envelope) {
	switch env.Type {
	case evJoinQueue:
		h.handleQueueJoin(c)
	case evLeaveQueue:
		h.queue.Leave(c.identity.ID)
	case evCreateSession:
		var p createPayload
		_ = json.Unmarshal(env.Data, &p)
		h.handleCreate(c, p)
	case evJoinSession:
		var p joinPayload
		_ = json.Unmarshal(env.Data, &p)
		h.handleJoin(c, p)
	case evReadySession:
		h.submitToOwnSession(c, command{kind: cmdReady, conn: c})
	case evLeaveSession:
		h.submitToOwnSession(c, command{kind: cmdLeave, conn: c})
	case evSessionAction:
		var p actionPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.deliver(envelope(evError, errorPayload{Message: "malformed action"}))
			return
		}
		h.submitToOwnSession(c, command{kind: cmdAction, conn: c, action: p.Action, payload: p.Payload})
	default:
		c.deliver(envelope(evError, errorPayload{Message: "unknown event " + env.Type}))
	}
}

// rejectIfSeated blocks queueing and session creation/joining while the
// connection is still bound to a live session. Without this a seated player
// could rebind elsewhere and their later disconnect would never reach the
// original session's forfeit path.
func (h *Hub) rejectIfSeated(c *conn) bool {
	if _, seated := h.boundSession(c.id); seated {
		c.deliver(envelope(evError, errorPayload{Message: "already in a session, leave it first"}))
		return true
	}
	return false
}

func (h *Hub) handleQueueJoin(c *conn) {
	if h.rejectIfSeated(c) {
		return
	}
	pos, size := h.queue.Enqueue(c.identity, c.id)
	c.deliver(envelope(evQueueJoined, queueJoinedPayload{Position: pos, QueueSize: size}))
	h.tryPair()
}

func (h *Hub) handleCreate(c *conn, p createPayload) {
	if h.rejectIfSeated(c) {
		return
	}
	h.queue.Leave(c.identity.ID)
	sess := game.NewSession(c.identity, p.IsPrivate)
	if err := h.createSession(sess); err != nil {
		log.Printf("hub: create by %s failed: %v", c.identity.ID, err)
		c.deliver(envelope(evError, errorPayload{Message: "could not create session, please retry"}))
		return
	}
	h.spawnWorker(sess)
	h.AttachSession(c.id, sess.ID)
	view := sess.Snapshot(c.identity.ID)
	c.deliver(envelope(evCreated, map[string]any{
		"sessionId": sess.ID,
		"code":      sess.Code,
		"state":     view,
	}))
}

func (h *Hub) handleJoin(c *conn, p joinPayload) {
	if h.rejectIfSeated(c) {
		return
	}
	h.queue.Leave(c.identity.ID)
	w, err := h.findSession(p)
	if err != nil {
		c.deliver(envelope(evError, errorPayload{Message: clientMessage(err)}))
		return
	}
	w.submit(command{kind: cmdJoin, conn: c})
}

// findSession resolves a join target to a live worker, reviving one from the
// store for sessions without a worker yet (e.g. after a restart).
func (h *Hub) findSession(p joinPayload) (*worker, error) {
	if p.SessionID != "" {
		if w, ok := h.workerFor(p.SessionID); ok {
			return w, nil
		}
	}
	if p.Code != "" {
		if w, ok := h.workerForCode(strings.ToUpper(strings.TrimSpace(p.Code))); ok {
			return w, nil
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var (
		sess *game.Session
		err  error
	)
	switch {
	case p.SessionID != "":
		sess, err = h.sessions.Get(ctx, p.SessionID)
	case p.Code != "":
		sess, err = h.sessions.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(p.Code)))
	default:
		return nil, game.ErrSessionNotJoinable
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, game.ErrSessionNotJoinable
		}
		return nil, err
	}
	if sess.Status != game.StatusWaiting {
		return nil, game.ErrSessionNotJoinable
	}
	return h.spawnWorker(sess), nil
}

// submitToOwnSession routes a command to the session the connection is
// attached to.
func (h *Hub) submitToOwnSession(c *conn, cmd command) {
	sessionID, ok := h.boundSession(c.id)
	if !ok {
		c.deliver(envelope(evError, errorPayload{Message: "not in a session"}))
		return
	}
	w, ok := h.workerFor(sessionID)
	if !ok {
		c.deliver(envelope(evError, errorPayload{Message: "session is over"}))
		return
	}
	if !w.submit(cmd) {
		c.deliver(envelope(evError, errorPayload{Message: "session is busy, try again"}))
	}
}
