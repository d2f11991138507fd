package server

import (
	"encoding/json"

	"cardclash/internal/game"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound event types.
const (
	evJoinQueue     = "matchmaking.join"
	evLeaveQueue    = "matchmaking.leave"
	evCreateSession = "session.create"
	evJoinSession   = "session.join"
	evReadySession  = "session.ready"
	evLeaveSession  = "session.leave"
	evSessionAction = "session.action"
)

// Outbound event types.
const (
	evConnected    = "connected"
	evPresenceList = "presence.list"
	evQueueJoined  = "matchmaking.joined"
	evMatched      = "matchmaking.matched"
	evCreated      = "session.created"
	evPlayerJoined = "session.playerJoined"
	evPlayerReady  = "session.playerReady"
	evStarted      = "session.started"
	evActionResult = "session.actionResult"
	evStateUpdate  = "session.stateUpdate"
	evEnded        = "session.ended"
	evPlayerLeft   = "session.playerLeft"
	evChat         = "session.chat"
	evError        = "error"
)

// Session actions a client can submit.
const (
	actionDraw    = "drawCards"
	actionSelect  = "selectAttribute"
	actionRespond = "respondToChallenge"
	actionResolve = "resolveChallenge"
	actionChat    = "chat"
)

type createPayload struct {
	IsPrivate bool `json:"isPrivate"`
}

type joinPayload struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
}

type actionPayload struct {
	SessionID string          `json:"sessionId"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
}

type selectAttributePayload struct {
	Attribute        game.Attribute `json:"attribute"`
	UseTerrificToken bool           `json:"useTerrificToken"`
}

type respondPayload struct {
	Accept bool `json:"accept"`
}

type chatPayload struct {
	Message string `json:"message"`
}

// ActionResult is the uniform answer to every session.action.
type ActionResult struct {
	Action       string            `json:"action"`
	Success      bool              `json:"success"`
	Message      string            `json:"message"`
	StateChanged bool              `json:"stateChanged"`
	Ended        bool              `json:"ended"`
	Winner       string            `json:"winner,omitempty"`
	Revealed     []game.Card       `json:"revealed,omitempty"`
	State        *game.SessionView `json:"state"`
}

type presenceEntry struct {
	Identity  game.Identity `json:"identity"`
	InSession bool          `json:"inSession"`
}

type queueJoinedPayload struct {
	Position  int `json:"position"`
	QueueSize int `json:"queueSize"`
}

type matchedPayload struct {
	SessionID string        `json:"sessionId"`
	Opponent  game.Identity `json:"opponent"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// envelope marshals data into a framed message. Marshal failures cannot
// happen for our own payload types.
func envelope(typ string, data any) Envelope {
	raw, _ := json.Marshal(data)
	return Envelope{Type: typ, Data: raw}
}
