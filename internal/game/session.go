package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the session lifecycle state. Transitions only move forward:
// waiting → active → (completed | abandoned).
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether the status admits no further play.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Phase is the challenge state machine position within an active session.
type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhaseDraw     Phase = "draw"
	PhasePick     Phase = "challengerPick"
	PhaseRespond  Phase = "acceptDeny"
	PhaseResolve  Phase = "resolve"
	PhaseGameOver Phase = "gameOver"
)

// Identity is who a connection speaks for. Guests are ephemeral.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Guest       bool   `json:"guest"`
}

// Points are a slot's accumulated score per attribute. They only increase.
type Points struct {
	Skill   int `json:"skill"`
	Stamina int `json:"stamina"`
	Aura    int `json:"aura"`
}

// Add awards n points on attr; AttrTotal awards n on all three.
func (p *Points) Add(attr Attribute, n int) {
	switch attr {
	case AttrSkill:
		p.Skill += n
	case AttrStamina:
		p.Stamina += n
	case AttrAura:
		p.Aura += n
	case AttrTotal:
		p.Skill += n
		p.Stamina += n
		p.Aura += n
	}
}

// Max returns the highest single counter.
func (p Points) Max() int {
	m := p.Skill
	if p.Stamina > m {
		m = p.Stamina
	}
	if p.Aura > m {
		m = p.Aura
	}
	return m
}

// PlayerSlot is a seat in a session, bound to one identity once joined.
type PlayerSlot struct {
	Identity          Identity `json:"identity"`
	Ready             bool     `json:"ready"`
	Points            Points   `json:"points"`
	TerrificTokenUsed bool     `json:"terrificTokenUsed"`
	Deck              CardList `json:"deck"`
}

// Session is the aggregate root. All mutation goes through the lifecycle
// operations and the challenge state machine; callers serialize access
// (one worker owns each live session).
type Session struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Private bool   `json:"private"`

	Status Status `json:"status"`
	Phase  Phase  `json:"phase"`

	CurrentChallenger   int         `json:"currentChallenger"`
	ChallengeAttribute  Attribute   `json:"challengeAttribute,omitempty"`
	DeniedAttributes    []Attribute `json:"deniedAttributes"`
	AvailableAttributes []Attribute `json:"availableAttributes"`

	CardsInPlay [2]*Card `json:"cardsInPlay"`
	BurnPile    CardList `json:"burnPile"`

	RoundNumber int    `json:"roundNumber"`
	PotSize     int    `json:"potSize"`
	Winner      string `json:"winner,omitempty"`

	// StatsRecorded latches once the end routine has reported durable
	// counters, so a session is never scored twice.
	StatsRecorded bool `json:"statsRecorded"`

	Slots []*PlayerSlot `json:"slots"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewSession seats the creator in slot 0 of a fresh waiting session.
func NewSession(creator Identity, private bool) *Session {
	now := time.Now().UTC()
	id := uuid.NewString()
	return &Session{
		ID:        id,
		Code:      joinCodeFrom(id),
		Private:   private,
		Status:    StatusWaiting,
		Phase:     PhaseLobby,
		PotSize:   1,
		Slots:     []*PlayerSlot{{Identity: creator}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// joinCodeFrom derives a 6-char shareable code. Join-by-code works for
// private sessions too; privacy only hides the session from listings.
func joinCodeFrom(id string) string {
	c := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(c) > 6 {
		c = c[:6]
	}
	return c
}

// RegenerateCode replaces the join code after a collision with an existing
// session's code.
func (s *Session) RegenerateCode() {
	s.Code = joinCodeFrom(uuid.NewString())
	s.touch()
}

// SlotOf returns the slot index seated by identityID, or -1.
func (s *Session) SlotOf(identityID string) int {
	for i, sl := range s.Slots {
		if sl.Identity.ID == identityID {
			return i
		}
	}
	return -1
}

func (s *Session) opponentOf(idx int) int {
	if idx == 0 {
		return 1
	}
	return 0
}

// Join seats a second identity. Rejected when the session is past waiting,
// full, or the identity is already seated.
func (s *Session) Join(id Identity) error {
	if s.Status != StatusWaiting {
		return fmt.Errorf("%w: session is %s", ErrSessionNotJoinable, s.Status)
	}
	if len(s.Slots) >= 2 {
		return fmt.Errorf("%w: session is full", ErrSessionNotJoinable)
	}
	if s.SlotOf(id.ID) >= 0 {
		return fmt.Errorf("%w: already seated", ErrSessionNotJoinable)
	}
	s.Slots = append(s.Slots, &PlayerSlot{Identity: id})
	s.touch()
	return nil
}

// SetReady flips the calling identity's ready flag and reports whether both
// seats are now ready to start.
func (s *Session) SetReady(identityID string) (allReady bool, err error) {
	if s.Status != StatusWaiting {
		return false, fmt.Errorf("%w: session is %s", ErrIllegalAction, s.Status)
	}
	idx := s.SlotOf(identityID)
	if idx < 0 {
		return false, fmt.Errorf("%w: not seated", ErrIllegalAction)
	}
	s.Slots[idx].Ready = true
	s.touch()
	return len(s.Slots) == 2 && s.Slots[0].Ready && s.Slots[1].Ready, nil
}

// Start moves a fully-seated, fully-ready session into play. Decks must have
// been provisioned first; scores and tokens reset here.
func (s *Session) Start() error {
	if s.Status != StatusWaiting || len(s.Slots) != 2 || !s.Slots[0].Ready || !s.Slots[1].Ready {
		return fmt.Errorf("%w: session not ready to start", ErrIllegalAction)
	}
	for _, sl := range s.Slots {
		if len(sl.Deck) == 0 {
			return fmt.Errorf("%w: slot %s has no deck", ErrDeckProvision, sl.Identity.ID)
		}
		sl.Points = Points{}
		sl.TerrificTokenUsed = false
	}
	s.Status = StatusActive
	s.Phase = PhaseDraw
	s.RoundNumber = 1
	s.PotSize = 1
	s.CurrentChallenger = 0
	s.resetRound()
	s.touch()
	return nil
}

// RemoveWaitingSlot opens a waiting session's seat again after the occupant
// leaves or drops. Returns false if the session is past waiting.
func (s *Session) RemoveWaitingSlot(identityID string) bool {
	if s.Status != StatusWaiting {
		return false
	}
	idx := s.SlotOf(identityID)
	if idx < 0 {
		return false
	}
	s.Slots = append(s.Slots[:idx], s.Slots[idx+1:]...)
	for _, sl := range s.Slots {
		sl.Ready = false
	}
	s.touch()
	return true
}

func (s *Session) resetRound() {
	s.AvailableAttributes = AllAttributes()
	s.DeniedAttributes = nil
	s.ChallengeAttribute = ""
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now().UTC()
}

// ---------------- client snapshots ----------------

// CardBack is what a viewer sees of a hidden card in play.
type CardBack struct {
	Present bool `json:"present"`
}

// SlotView is a per-recipient projection of a seat. The undrawn deck is
// always reduced to a count; the opponent's card in play stays hidden until
// the round resolves.
type SlotView struct {
	Identity          Identity  `json:"identity"`
	Ready             bool      `json:"ready"`
	Points            Points    `json:"points"`
	TerrificTokenUsed bool      `json:"terrificTokenUsed"`
	DeckCount         int       `json:"deckCount"`
	CardInPlay        *Card     `json:"cardInPlay,omitempty"`
	HiddenCard        *CardBack `json:"hiddenCard,omitempty"`
	You               bool      `json:"you"`
}

// SessionView is the externally visible session state for one recipient.
type SessionView struct {
	ID                  string      `json:"id"`
	Code                string      `json:"code"`
	Private             bool        `json:"private"`
	Status              Status      `json:"status"`
	Phase               Phase       `json:"phase"`
	CurrentChallenger   string      `json:"currentChallenger,omitempty"`
	ChallengeAttribute  Attribute   `json:"challengeAttribute,omitempty"`
	DeniedAttributes    []Attribute `json:"deniedAttributes"`
	AvailableAttributes []Attribute `json:"availableAttributes"`
	BurnPileCount       int         `json:"burnPileCount"`
	RoundNumber         int         `json:"roundNumber"`
	PotSize             int         `json:"potSize"`
	Winner              string      `json:"winner,omitempty"`
	Slots               []SlotView  `json:"slots"`
}

// Snapshot computes the redacted view for the given viewer identity. Hidden
// information (opponent's undrawn deck and unrevealed card in play) never
// leaves the server.
func (s *Session) Snapshot(viewerID string) SessionView {
	v := SessionView{
		ID:                  s.ID,
		Code:                s.Code,
		Private:             s.Private,
		Status:              s.Status,
		Phase:               s.Phase,
		ChallengeAttribute:  s.ChallengeAttribute,
		DeniedAttributes:    append([]Attribute(nil), s.DeniedAttributes...),
		AvailableAttributes: append([]Attribute(nil), s.AvailableAttributes...),
		BurnPileCount:       len(s.BurnPile),
		RoundNumber:         s.RoundNumber,
		PotSize:             s.PotSize,
		Winner:              s.Winner,
	}
	if s.Status == StatusActive && s.CurrentChallenger < len(s.Slots) {
		v.CurrentChallenger = s.Slots[s.CurrentChallenger].Identity.ID
	}
	for i, sl := range s.Slots {
		sv := SlotView{
			Identity:          sl.Identity,
			Ready:             sl.Ready,
			Points:            sl.Points,
			TerrificTokenUsed: sl.TerrificTokenUsed,
			DeckCount:         len(sl.Deck),
			You:               sl.Identity.ID == viewerID,
		}
		if card := s.CardsInPlay[i]; card != nil {
			if sv.You || s.Phase == PhaseGameOver {
				c := *card
				sv.CardInPlay = &c
			} else {
				sv.HiddenCard = &CardBack{Present: true}
			}
		}
		v.Slots = append(v.Slots, sv)
	}
	return v
}
