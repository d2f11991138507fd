package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"cardclash/internal/game"
	"cardclash/internal/store"
)

// Worker command kinds.
const (
	cmdJoin       = "join"
	cmdReady      = "ready"
	cmdLeave      = "leave"
	cmdDisconnect = "disconnect"
	cmdAction     = "action"
)

type command struct {
	kind    string
	conn    *conn
	action  string
	payload json.RawMessage
}

// worker exclusively owns one live Session and processes one command at a
// time from its queue, so every logical mutation is atomic without locks on
// the aggregate itself.
type worker struct {
	hub  *Hub
	sess *game.Session
	cmds chan command
	quit chan struct{}
}

func newWorker(h *Hub, sess *game.Session) *worker {
	return &worker{
		hub:  h,
		sess: sess,
		cmds: make(chan command, 64),
		quit: make(chan struct{}),
	}
}

func (w *worker) run() {
	for {
		select {
		case cmd := <-w.cmds:
			w.handle(cmd)
		case <-w.quit:
			return
		}
	}
}

func (w *worker) stop() {
	close(w.quit)
}

// submitWait bounds how long a caller blocks on a full command queue. A
// wedged session must not stall the connection read loop or the registry.
const submitWait = time.Second

// submit queues a command; false means the session is retired or its queue
// stayed full past the wait bound.
func (w *worker) submit(cmd command) bool {
	select {
	case w.cmds <- cmd:
		return true
	case <-w.quit:
		return false
	default:
	}
	t := time.NewTimer(submitWait)
	defer t.Stop()
	select {
	case w.cmds <- cmd:
		return true
	case <-w.quit:
		return false
	case <-t.C:
		log.Printf("session %s: command queue full, dropping %s", w.sess.ID, cmd.kind)
		return false
	}
}

func (w *worker) handle(cmd command) {
	switch cmd.kind {
	case cmdJoin:
		w.handleJoin(cmd)
	case cmdReady:
		w.handleReady(cmd)
	case cmdAction:
		w.handleAction(cmd)
	case cmdLeave, cmdDisconnect:
		w.handleLeave(cmd)
	}
}

func (w *worker) handleJoin(cmd command) {
	if err := w.sess.Join(cmd.conn.identity); err != nil {
		cmd.conn.deliver(envelope(evError, errorPayload{Message: err.Error()}))
		return
	}
	w.persist()
	w.hub.AttachSession(cmd.conn.id, w.sess.ID)
	w.broadcastState(evPlayerJoined)
}

func (w *worker) handleReady(cmd command) {
	allReady, err := w.sess.SetReady(cmd.conn.identity.ID)
	if err != nil {
		cmd.conn.deliver(envelope(evError, errorPayload{Message: err.Error()}))
		return
	}
	for _, c := range w.hub.connsInSession(w.sess.ID) {
		c.deliver(envelope(evPlayerReady, map[string]any{
			"identity": cmd.conn.identity,
			"allReady": allReady,
		}))
	}
	if !allReady {
		w.persist()
		return
	}
	w.start()
}

// start provisions decks and enters the challenge state machine at draw.
func (w *worker) start() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, slot := range w.sess.Slots {
		w.hub.decks.EnsureDeck(ctx, slot)
	}
	if err := w.sess.Start(); err != nil {
		log.Printf("session %s: start failed: %v", w.sess.ID, err)
		for _, c := range w.hub.connsInSession(w.sess.ID) {
			c.deliver(envelope(evError, errorPayload{Message: "could not start the game, please retry"}))
		}
		return
	}
	w.persist()
	log.Printf("session %s: started %s vs %s", w.sess.ID, w.sess.Slots[0].Identity.ID, w.sess.Slots[1].Identity.ID)
	w.broadcastState(evStarted)
}

func (w *worker) handleAction(cmd command) {
	actorID := cmd.conn.identity.ID
	var (
		out game.Outcome
		err error
	)
	switch cmd.action {
	case actionDraw:
		out, err = w.sess.DrawCards(actorID)
	case actionSelect:
		var p selectAttributePayload
		if jerr := json.Unmarshal(cmd.payload, &p); jerr != nil {
			err = fmt.Errorf("%w: bad payload", game.ErrIllegalAction)
			break
		}
		out, err = w.sess.SelectAttribute(actorID, p.Attribute, p.UseTerrificToken)
	case actionRespond:
		var p respondPayload
		if jerr := json.Unmarshal(cmd.payload, &p); jerr != nil {
			err = fmt.Errorf("%w: bad payload", game.ErrIllegalAction)
			break
		}
		out, err = w.sess.RespondToChallenge(actorID, p.Accept)
	case actionResolve:
		out, err = w.sess.ResolveChallenge(actorID)
	case actionChat:
		var p chatPayload
		if jerr := json.Unmarshal(cmd.payload, &p); jerr != nil || p.Message == "" {
			err = fmt.Errorf("%w: empty chat message", game.ErrIllegalAction)
			break
		}
		if w.sess.SlotOf(actorID) < 0 {
			err = fmt.Errorf("%w: not seated in this session", game.ErrIllegalAction)
			break
		}
		for _, c := range w.hub.connsInSession(w.sess.ID) {
			c.deliver(envelope(evChat, map[string]any{"from": cmd.conn.identity, "message": p.Message}))
		}
		out = game.Outcome{Message: "sent"}
	default:
		err = fmt.Errorf("%w: unknown action %q", game.ErrIllegalAction, cmd.action)
	}

	res := ActionResult{
		Action:       cmd.action,
		Success:      err == nil,
		StateChanged: out.StateChanged,
		Ended:        out.Ended,
		Winner:       out.Winner,
		Revealed:     out.Revealed,
	}
	if err != nil {
		res.Message = clientMessage(err)
	} else {
		res.Message = out.Message
	}
	view := w.sess.Snapshot(actorID)
	res.State = &view
	cmd.conn.deliver(envelope(evActionResult, res))

	if out.StateChanged {
		w.persist()
		w.broadcastStateWith(evStateUpdate, out.Revealed)
	}
	if out.Ended {
		w.finish()
	}
}

func (w *worker) handleLeave(cmd command) {
	sess := w.sess
	identity := cmd.conn.identity
	if cmd.kind == cmdLeave {
		w.hub.Detach(cmd.conn.id)
	}
	switch {
	case sess.Status.Terminal():
		// Leaving a finished game has no session effect.
		return
	case sess.Status == game.StatusWaiting:
		if len(sess.Slots) == 1 {
			// Last occupant gone: nothing to wait for.
			sess.Status = game.StatusAbandoned
			sess.Phase = game.PhaseGameOver
			w.persist()
			w.hub.retire(sess.ID)
			return
		}
		sess.RemoveWaitingSlot(identity.ID)
		w.persist()
		w.broadcastLeft(identity)
	case sess.Status == game.StatusActive:
		remaining := ""
		for _, sl := range sess.Slots {
			if sl.Identity.ID != identity.ID {
				remaining = sl.Identity.ID
			}
		}
		if _, err := sess.Forfeit(remaining); err != nil {
			log.Printf("session %s: forfeit after %s left failed: %v", sess.ID, identity.ID, err)
			return
		}
		log.Printf("session %s: %s left, %s wins by forfeit", sess.ID, identity.ID, remaining)
		w.broadcastLeft(identity)
		w.finish()
	}
}

// finish runs the shared end routine: durable counters exactly once, final
// persist, ended broadcast, worker retirement.
func (w *worker) finish() {
	sess := w.sess
	if !sess.StatsRecorded {
		sess.StatsRecorded = true
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		for _, sl := range sess.Slots {
			if sl.Identity.Guest {
				continue
			}
			result := store.ResultDraw
			if sess.Winner == sl.Identity.ID {
				result = store.ResultWin
			} else if sess.Winner != "" {
				result = store.ResultLoss
			}
			if err := w.hub.stats.RecordResult(ctx, sl.Identity.ID, result); err != nil {
				log.Printf("session %s: stats for %s not recorded: %v", sess.ID, sl.Identity.ID, err)
			}
		}
		cancel()
	}
	w.persist()
	for _, c := range w.hub.connsInSession(sess.ID) {
		c.deliver(envelope(evEnded, map[string]any{
			"winner": sess.Winner,
			"state":  sess.Snapshot(c.identity.ID),
		}))
	}
	w.hub.retire(sess.ID)
}

func (w *worker) broadcastState(evType string) {
	w.broadcastStateWith(evType, nil)
}

// broadcastStateWith pushes a fresh per-recipient snapshot, carrying the
// just-resolved cards so the non-acting player sees them before they reach
// the burn pile.
func (w *worker) broadcastStateWith(evType string, revealed []game.Card) {
	for _, c := range w.hub.connsInSession(w.sess.ID) {
		payload := map[string]any{"state": w.sess.Snapshot(c.identity.ID)}
		if len(revealed) > 0 {
			payload["revealed"] = revealed
		}
		c.deliver(envelope(evType, payload))
	}
}

func (w *worker) broadcastLeft(identity game.Identity) {
	for _, c := range w.hub.connsInSession(w.sess.ID) {
		c.deliver(envelope(evPlayerLeft, map[string]any{
			"identity": identity,
			"status":   w.sess.Status,
		}))
	}
}

// persist saves through the validating write path, retrying once. On a
// second failure the session keeps operating on in-memory state and is
// resynchronized by the next successful write.
func (w *worker) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := w.hub.sessions.Save(ctx, w.sess); err != nil {
		log.Printf("session %s: save failed, retrying once: %v", w.sess.ID, err)
		if err := w.hub.sessions.Save(ctx, w.sess); err != nil {
			log.Printf("session %s: save failed twice, continuing on in-memory state: %v", w.sess.ID, err)
		}
	}
}

// clientMessage keeps infrastructure detail out of client-facing rejections.
func clientMessage(err error) string {
	if errors.Is(err, game.ErrIllegalAction) || errors.Is(err, game.ErrSessionNotJoinable) {
		return err.Error()
	}
	return "something went wrong, please retry"
}
