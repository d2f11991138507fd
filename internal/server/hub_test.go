package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"cardclash/internal/game"
	"cardclash/internal/store"
)

func newTestHub(t *testing.T) (*Hub, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	h := NewHub(mem, mem, game.NewProvisioner(nil, 1), nil)
	return h, mem
}

// connect registers an in-process connection that skips the websocket layer;
// messages are read straight off the send channel.
func connect(t *testing.T, h *Hub, id string) *conn {
	t.Helper()
	c := newConn(h, ident(id), nil)
	h.Register(c)
	return c
}

// waitFor reads the connection's outbox until an event of the given type
// arrives.
func waitFor(t *testing.T, c *conn, evType string) Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-c.send:
			if env.Type == evType {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s on %s", evType, c.identity.ID)
		}
	}
}

func dispatch(h *Hub, c *conn, typ string, data any) {
	raw, _ := json.Marshal(data)
	h.Dispatch(c, Envelope{Type: typ, Data: raw})
}

func sendAction(h *Hub, c *conn, sessionID, action string, payload any) {
	raw, _ := json.Marshal(payload)
	dispatch(h, c, evSessionAction, actionPayload{SessionID: sessionID, Action: action, Payload: raw})
}

func TestRegistryPresenceBroadcasts(t *testing.T) {
	h, _ := newTestHub(t)
	a := connect(t, h, "a")
	waitFor(t, a, evPresenceList)

	b := connect(t, h, "b")
	env := waitFor(t, a, evPresenceList)
	var p struct {
		Count   int             `json:"count"`
		Players []presenceEntry `json:"players"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.Count != 2 {
		t.Fatalf("presence count = %d, want 2", p.Count)
	}

	h.Unregister(b.id)
	env = waitFor(t, a, evPresenceList)
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.Count != 1 {
		t.Fatalf("presence count after disconnect = %d, want 1", p.Count)
	}
	// Unregistering an unknown connection is a no-op.
	if got := h.Unregister("nope"); got.ID != "" {
		t.Fatalf("unknown unregister returned %+v", got)
	}
}

func TestMatchmakingPairsTwoClients(t *testing.T) {
	h, _ := newTestHub(t)
	a := connect(t, h, "a")
	b := connect(t, h, "b")

	dispatch(h, a, evJoinQueue, nil)
	env := waitFor(t, a, evQueueJoined)
	var qj queueJoinedPayload
	_ = json.Unmarshal(env.Data, &qj)
	if qj.Position != 1 || qj.QueueSize != 1 {
		t.Fatalf("queue joined = %+v", qj)
	}

	dispatch(h, b, evJoinQueue, nil)
	var ma, mb matchedPayload
	_ = json.Unmarshal(waitFor(t, a, evMatched).Data, &ma)
	_ = json.Unmarshal(waitFor(t, b, evMatched).Data, &mb)
	if ma.SessionID == "" || ma.SessionID != mb.SessionID {
		t.Fatalf("session ids diverge: %q vs %q", ma.SessionID, mb.SessionID)
	}
	if ma.Opponent.ID != "b" || mb.Opponent.ID != "a" {
		t.Fatalf("opponents wrong: %+v %+v", ma.Opponent, mb.Opponent)
	}
	if h.queue.Len() != 0 {
		t.Fatalf("queue size = %d after match", h.queue.Len())
	}
}

// failingSessions wraps the memory store and fails a given number of writes.
type failingSessions struct {
	*store.Memory
	mu       sync.Mutex
	failures int
}

func (f *failingSessions) Create(ctx context.Context, s *game.Session) error {
	return f.Save(ctx, s)
}

func (f *failingSessions) Save(ctx context.Context, s *game.Session) error {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: induced failure", store.ErrWrite)
	}
	return f.Memory.Save(ctx, s)
}

func TestPairingFailureRestoresQueuePositions(t *testing.T) {
	mem := store.NewMemory()
	fs := &failingSessions{Memory: mem, failures: 2} // first write plus its retry
	h := NewHub(fs, mem, game.NewProvisioner(nil, 1), nil)
	a := connect(t, h, "a")
	b := connect(t, h, "b")

	dispatch(h, a, evJoinQueue, nil)
	dispatch(h, b, evJoinQueue, nil)

	// Both writes failed; nobody lost their spot.
	if got := h.queue.Len(); got != 2 {
		t.Fatalf("queue size = %d after failed pairing, want 2", got)
	}
	// A third player arriving re-attempts pairing; the stored pair still wins.
	c := connect(t, h, "c")
	dispatch(h, c, evJoinQueue, nil)
	var ma matchedPayload
	_ = json.Unmarshal(waitFor(t, a, evMatched).Data, &ma)
	if ma.Opponent.ID != "b" {
		t.Fatalf("restored pair broken, a matched with %s", ma.Opponent.ID)
	}
	if h.queue.Len() != 1 {
		t.Fatalf("queue size = %d, want c alone", h.queue.Len())
	}
}

// seatSession builds a live worker around a prepared session with fixed
// decks and attaches both connections.
func seatSession(t *testing.T, h *Hub, a, b *conn, deckA, deckB []game.Card) *game.Session {
	t.Helper()
	sess := game.NewSession(a.identity, false)
	if err := sess.Join(b.identity); err != nil {
		t.Fatal(err)
	}
	sess.Slots[0].Deck = deckA
	sess.Slots[1].Deck = deckB
	if err := h.sessions.Create(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	h.spawnWorker(sess)
	h.AttachSession(a.id, sess.ID)
	h.AttachSession(b.id, sess.ID)
	return sess
}

func card(id string, skill, stamina, aura int) game.Card {
	c, _ := game.NormalizeCard(game.Card{ID: id, Name: id, Skill: skill, Stamina: stamina, Aura: aura, Character: id})
	return c
}

func TestFullGameThroughWorker(t *testing.T) {
	h, mem := newTestHub(t)
	a := connect(t, h, "a")
	b := connect(t, h, "b")
	sess := seatSession(t, h, a, b,
		[]game.Card{card("a1", 9, 1, 1), card("a2", 9, 1, 1)},
		[]game.Card{card("b1", 2, 1, 1), card("b2", 2, 1, 1)},
	)
	dispatch(h, a, evReadySession, nil)
	waitFor(t, a, evPlayerReady)
	dispatch(h, b, evReadySession, nil)
	waitFor(t, a, evStarted)
	waitFor(t, b, evStarted)

	playRound := func() ActionResult {
		t.Helper()
		sendAction(h, a, sess.ID, actionDraw, nil)
		waitFor(t, a, evActionResult)
		sendAction(h, a, sess.ID, actionSelect, selectAttributePayload{Attribute: game.AttrSkill})
		waitFor(t, a, evActionResult)
		sendAction(h, b, sess.ID, actionRespond, respondPayload{Accept: true})
		waitFor(t, b, evActionResult)
		sendAction(h, a, sess.ID, actionResolve, nil)
		var res ActionResult
		_ = json.Unmarshal(waitFor(t, a, evActionResult).Data, &res)
		return res
	}

	res := playRound()
	if !res.Success || res.Ended {
		t.Fatalf("round 1 result: %+v", res)
	}
	if len(res.Revealed) != 2 {
		t.Fatalf("resolution must reveal both cards, got %d", len(res.Revealed))
	}

	// Round 2: b is challenger now; b picks skill, a accepts, a still wins.
	sendAction(h, b, sess.ID, actionDraw, nil)
	waitFor(t, b, evActionResult)
	sendAction(h, b, sess.ID, actionSelect, selectAttributePayload{Attribute: game.AttrSkill})
	waitFor(t, b, evActionResult)
	sendAction(h, a, sess.ID, actionRespond, respondPayload{Accept: true})
	waitFor(t, a, evActionResult)
	sendAction(h, b, sess.ID, actionResolve, nil)
	var res2 ActionResult
	_ = json.Unmarshal(waitFor(t, b, evActionResult).Data, &res2)
	if !res2.Success {
		t.Fatalf("round 2 resolve failed: %+v", res2)
	}

	// Decks are now empty; draw ends the game as a draw for both.
	sendAction(h, a, sess.ID, actionDraw, nil)
	var res3 ActionResult
	_ = json.Unmarshal(waitFor(t, a, evActionResult).Data, &res3)
	if !res3.Ended {
		t.Fatalf("empty decks did not end the game: %+v", res3)
	}
	waitFor(t, a, evEnded)
	waitFor(t, b, evEnded)

	// Both decks empty simultaneously is a completed draw.
	saved, err := mem.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Status != game.StatusCompleted || saved.Winner != "" {
		t.Fatalf("saved status=%s winner=%q, want completed draw", saved.Status, saved.Winner)
	}
	// Draw still counts one played game per player, no wins or losses.
	for _, id := range []string{"a", "b"} {
		st, _ := mem.PlayerStats(context.Background(), id)
		if st.Played != 1 || st.Wins != 0 || st.Losses != 0 {
			t.Fatalf("stats for %s = %+v, want played 1 only", id, st)
		}
	}
}

func TestDisconnectForfeitsActiveSession(t *testing.T) {
	h, mem := newTestHub(t)
	a := connect(t, h, "a")
	b := connect(t, h, "b")
	sess := seatSession(t, h, a, b,
		[]game.Card{card("a1", 3, 3, 3)},
		[]game.Card{card("b1", 4, 4, 4)},
	)
	dispatch(h, a, evReadySession, nil)
	dispatch(h, b, evReadySession, nil)
	waitFor(t, a, evStarted)

	h.Unregister(b.id)
	env := waitFor(t, a, evEnded)
	var p struct {
		Winner string `json:"winner"`
	}
	_ = json.Unmarshal(env.Data, &p)
	if p.Winner != "a" {
		t.Fatalf("forfeit winner = %q, want a", p.Winner)
	}

	saved, err := mem.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Status != game.StatusAbandoned || saved.Winner != "a" {
		t.Fatalf("saved status=%s winner=%s", saved.Status, saved.Winner)
	}
	stA, _ := mem.PlayerStats(context.Background(), "a")
	stB, _ := mem.PlayerStats(context.Background(), "b")
	if stA.Wins != 1 || stA.Played != 1 {
		t.Fatalf("winner stats = %+v", stA)
	}
	if stB.Losses != 1 || stB.Played != 1 {
		t.Fatalf("loser stats = %+v", stB)
	}
}

func TestSessionScoredExactlyOnce(t *testing.T) {
	h, mem := newTestHub(t)
	a := connect(t, h, "a")
	b := connect(t, h, "b")
	sess := seatSession(t, h, a, b,
		[]game.Card{card("a1", 9, 9, 9)},
		[]game.Card{card("b1", 1, 1, 1)},
	)
	dispatch(h, a, evReadySession, nil)
	dispatch(h, b, evReadySession, nil)
	waitFor(t, a, evStarted)

	// Natural completion path: a wins on total via the terrific token, then
	// b's connection drops right after; the disconnect path must not score
	// the session again.
	sendAction(h, a, sess.ID, actionDraw, nil)
	waitFor(t, a, evActionResult)
	sendAction(h, a, sess.ID, actionSelect, selectAttributePayload{UseTerrificToken: true})
	waitFor(t, a, evActionResult)
	sendAction(h, a, sess.ID, actionResolve, nil)
	var res ActionResult
	_ = json.Unmarshal(waitFor(t, a, evActionResult).Data, &res)
	if res.Ended && res.Winner != "a" {
		t.Fatalf("unexpected winner: %+v", res)
	}

	// Whether or not the game already ended by threshold, force both end
	// paths to run.
	h.Unregister(b.id)
	h.Unregister(a.id)
	time.Sleep(100 * time.Millisecond)

	stA, _ := mem.PlayerStats(context.Background(), "a")
	stB, _ := mem.PlayerStats(context.Background(), "b")
	if stA.Played != 1 {
		t.Fatalf("a played = %d, want exactly 1", stA.Played)
	}
	if stB.Played != 1 {
		t.Fatalf("b played = %d, want exactly 1", stB.Played)
	}
}

func TestJoinByCodeWorksForPrivateSessions(t *testing.T) {
	h, _ := newTestHub(t)
	a := connect(t, h, "a")
	b := connect(t, h, "b")

	dispatch(h, a, evCreateSession, createPayload{IsPrivate: true})
	env := waitFor(t, a, evCreated)
	var created struct {
		SessionID string `json:"sessionId"`
		Code      string `json:"code"`
	}
	_ = json.Unmarshal(env.Data, &created)
	if created.Code == "" {
		t.Fatal("no join code issued")
	}

	dispatch(h, b, evJoinSession, joinPayload{Code: created.Code})
	env = waitFor(t, b, evPlayerJoined)
	var pj struct {
		State game.SessionView `json:"state"`
	}
	_ = json.Unmarshal(env.Data, &pj)
	if pj.State.ID != created.SessionID || len(pj.State.Slots) != 2 {
		t.Fatalf("join by code state: %+v", pj.State)
	}

	// A third join is rejected with a specific error.
	c := connect(t, h, "c")
	dispatch(h, c, evJoinSession, joinPayload{SessionID: created.SessionID})
	envErr := waitFor(t, c, evError)
	var ep errorPayload
	_ = json.Unmarshal(envErr.Data, &ep)
	if ep.Message == "" {
		t.Fatal("rejection carried no message")
	}
}

func TestActionFromOutsideSessionIsRejected(t *testing.T) {
	h, _ := newTestHub(t)
	a := connect(t, h, "a")
	sendAction(h, a, "whatever", actionDraw, nil)
	env := waitFor(t, a, evError)
	var ep errorPayload
	_ = json.Unmarshal(env.Data, &ep)
	if ep.Message != "not in a session" {
		t.Fatalf("message = %q", ep.Message)
	}
}

func TestIllegalActionReportsWithoutStateChange(t *testing.T) {
	h, _ := newTestHub(t)
	a := connect(t, h, "a")
	b := connect(t, h, "b")
	sess := seatSession(t, h, a, b,
		[]game.Card{card("a1", 3, 3, 3)},
		[]game.Card{card("b1", 4, 4, 4)},
	)
	dispatch(h, a, evReadySession, nil)
	dispatch(h, b, evReadySession, nil)
	waitFor(t, a, evStarted)

	// Selecting before drawing is illegal and must not advance anything.
	sendAction(h, a, sess.ID, actionSelect, selectAttributePayload{Attribute: game.AttrSkill})
	var res ActionResult
	_ = json.Unmarshal(waitFor(t, a, evActionResult).Data, &res)
	if res.Success || res.StateChanged {
		t.Fatalf("illegal action result: %+v", res)
	}
	if res.State == nil || res.State.Phase != game.PhaseDraw {
		t.Fatalf("state advanced: %+v", res.State)
	}
	if !strings.Contains(res.Message, "phase") {
		t.Fatalf("message not specific: %q", res.Message)
	}
}

func TestSeatedPlayerCannotRebindElsewhere(t *testing.T) {
	h, mem := newTestHub(t)
	a := connect(t, h, "a")
	b := connect(t, h, "b")
	sess := seatSession(t, h, a, b,
		[]game.Card{card("a1", 3, 3, 3)},
		[]game.Card{card("b1", 4, 4, 4)},
	)
	dispatch(h, a, evReadySession, nil)
	dispatch(h, b, evReadySession, nil)
	waitFor(t, a, evStarted)

	// Creating, joining, or queueing while seated in a live session must be
	// rejected; a rebind would detach the player from the forfeit path.
	dispatch(h, b, evCreateSession, createPayload{})
	waitFor(t, b, evError)
	dispatch(h, b, evJoinQueue, nil)
	waitFor(t, b, evError)
	other := game.NewSession(ident("x"), false)
	if err := h.sessions.Create(context.Background(), other); err != nil {
		t.Fatal(err)
	}
	h.spawnWorker(other)
	dispatch(h, b, evJoinSession, joinPayload{SessionID: other.ID})
	waitFor(t, b, evError)
	if h.queue.Len() != 0 {
		t.Fatalf("queue size = %d after rejected joins", h.queue.Len())
	}

	// The binding is intact, so b's disconnect still forfeits the game.
	h.Unregister(b.id)
	env := waitFor(t, a, evEnded)
	var p struct {
		Winner string `json:"winner"`
	}
	_ = json.Unmarshal(env.Data, &p)
	if p.Winner != "a" {
		t.Fatalf("forfeit winner = %q, want a", p.Winner)
	}
	saved, err := mem.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Status != game.StatusAbandoned || saved.Winner != "a" {
		t.Fatalf("saved status=%s winner=%s, want abandoned/a", saved.Status, saved.Winner)
	}

	// A binding left behind by the finished session must not block a from
	// queueing again.
	dispatch(h, a, evJoinQueue, nil)
	waitFor(t, a, evQueueJoined)
}

func TestResolutionRevealsCardsToBothPlayers(t *testing.T) {
	h, _ := newTestHub(t)
	a := connect(t, h, "a")
	b := connect(t, h, "b")
	sess := seatSession(t, h, a, b,
		[]game.Card{card("a1", 5, 1, 1)},
		[]game.Card{card("b1", 2, 1, 1)},
	)
	dispatch(h, a, evReadySession, nil)
	dispatch(h, b, evReadySession, nil)
	waitFor(t, a, evStarted)

	sendAction(h, a, sess.ID, actionDraw, nil)
	waitFor(t, a, evActionResult)
	sendAction(h, a, sess.ID, actionSelect, selectAttributePayload{Attribute: game.AttrSkill})
	waitFor(t, a, evActionResult)
	sendAction(h, b, sess.ID, actionRespond, respondPayload{Accept: true})
	waitFor(t, b, evActionResult)
	sendAction(h, a, sess.ID, actionResolve, nil)
	waitFor(t, a, evActionResult)

	// The non-acting player learns both resolved cards from the broadcast,
	// not just the actor from its action result.
	revealed := waitForRevealed(t, b)
	if len(revealed) != 2 {
		t.Fatalf("revealed %d cards, want 2", len(revealed))
	}
	ids := map[string]bool{revealed[0].ID: true, revealed[1].ID: true}
	if !ids["a1"] || !ids["b1"] {
		t.Fatalf("revealed wrong cards: %+v", revealed)
	}
}

// waitForRevealed scans state updates until one carries resolved cards.
func waitForRevealed(t *testing.T, c *conn) []game.Card {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-c.send:
			if env.Type != evStateUpdate {
				continue
			}
			var p struct {
				Revealed []game.Card `json:"revealed"`
			}
			_ = json.Unmarshal(env.Data, &p)
			if len(p.Revealed) > 0 {
				return p.Revealed
			}
		case <-deadline:
			t.Fatal("no state update carried revealed cards")
		}
	}
}

func TestCreateRegeneratesCollidingJoinCode(t *testing.T) {
	h, mem := newTestHub(t)

	first := game.NewSession(ident("a"), false)
	if err := h.createSession(first); err != nil {
		t.Fatal(err)
	}
	second := game.NewSession(ident("b"), false)
	second.Code = first.Code
	if err := h.createSession(second); err != nil {
		t.Fatalf("create with colliding code: %v", err)
	}
	if second.Code == first.Code {
		t.Fatalf("join code %s not regenerated on collision", second.Code)
	}
	if len(second.Code) != 6 || second.Code != strings.ToUpper(second.Code) {
		t.Fatalf("regenerated code %q malformed", second.Code)
	}
	for _, want := range []*game.Session{first, second} {
		got, err := mem.GetByCode(context.Background(), want.Code)
		if err != nil {
			t.Fatalf("code %s: %v", want.Code, err)
		}
		if got.ID != want.ID {
			t.Fatalf("code %s resolves to %s, want %s", want.Code, got.ID, want.ID)
		}
	}
}

func TestSubmitBoundsWaitOnFullQueue(t *testing.T) {
	h, _ := newTestHub(t)
	sess := game.NewSession(ident("a"), false)
	w := newWorker(h, sess) // never run: the queue only fills
	c := newConn(h, ident("a"), nil)

	for i := 0; i < cap(w.cmds); i++ {
		if !w.submit(command{kind: cmdReady, conn: c}) {
			t.Fatalf("submit %d rejected with queue space left", i)
		}
	}
	start := time.Now()
	if w.submit(command{kind: cmdReady, conn: c}) {
		t.Fatal("submit into a full queue succeeded")
	}
	if elapsed := time.Since(start); elapsed < submitWait || elapsed > submitWait+2*time.Second {
		t.Fatalf("full-queue submit returned after %v, want about %v", elapsed, submitWait)
	}

	w.stop()
	if w.submit(command{kind: cmdReady, conn: c}) {
		t.Fatal("submit into a stopped worker succeeded")
	}
}
