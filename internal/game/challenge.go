package game

import "fmt"

// WinThreshold is the score any single attribute counter must reach to win.
const WinThreshold = 7

// Outcome reports the result of one state machine action back to the caller
// and, through it, to both clients.
type Outcome struct {
	Message      string
	StateChanged bool
	Ended        bool
	Winner       string
	Tie          bool
	// Revealed carries both cards in play once a round resolves; until then
	// the opponent's card stays hidden.
	Revealed []Card
}

// DrawCards advances phase draw: both slots pop the front of their deck into
// play. An empty deck loses on the spot; both empty is a drawn game. Either
// seated player may trigger the draw.
func (s *Session) DrawCards(actorID string) (Outcome, error) {
	if _, err := s.requirePhase(actorID, PhaseDraw); err != nil {
		return Outcome{}, err
	}
	e0, e1 := len(s.Slots[0].Deck) == 0, len(s.Slots[1].Deck) == 0
	switch {
	case e0 && e1:
		s.Status = StatusCompleted
		s.Phase = PhaseGameOver
		s.Winner = ""
		s.touch()
		return Outcome{Message: "both decks exhausted, game is a draw", StateChanged: true, Ended: true, Tie: true}, nil
	case e0 || e1:
		winner := 0
		if e0 {
			winner = 1
		}
		s.endWith(winner, StatusCompleted)
		return Outcome{
			Message:      fmt.Sprintf("%s ran out of cards", s.Slots[s.opponentOf(winner)].Identity.DisplayName),
			StateChanged: true,
			Ended:        true,
			Winner:       s.Winner,
		}, nil
	}
	for i, sl := range s.Slots {
		card := sl.Deck[0]
		sl.Deck = sl.Deck[1:]
		c := card
		s.CardsInPlay[i] = &c
	}
	s.resetRound()
	s.Phase = PhasePick
	s.touch()
	return Outcome{Message: "cards drawn", StateChanged: true}, nil
}

// SelectAttribute is the challenger's move at challengerPick: pick a
// non-denied attribute, or spend the one-shot terrific token to force a
// total challenge that skips accept/deny entirely.
func (s *Session) SelectAttribute(actorID string, attr Attribute, useToken bool) (Outcome, error) {
	idx, err := s.requirePhase(actorID, PhasePick)
	if err != nil {
		return Outcome{}, err
	}
	if idx != s.CurrentChallenger {
		return Outcome{}, fmt.Errorf("%w: not your turn to challenge", ErrIllegalAction)
	}
	if useToken {
		if s.Slots[idx].TerrificTokenUsed {
			return Outcome{}, fmt.Errorf("%w: terrific token already spent", ErrIllegalAction)
		}
		s.Slots[idx].TerrificTokenUsed = true
		s.ChallengeAttribute = AttrTotal
		s.Phase = PhaseResolve
		s.touch()
		return Outcome{Message: "terrific token played, challenge forced to total", StateChanged: true}, nil
	}
	if !containsAttr(s.AvailableAttributes, attr) {
		return Outcome{}, fmt.Errorf("%w: attribute %q is not available", ErrIllegalAction, attr)
	}
	s.ChallengeAttribute = attr
	s.Phase = PhaseRespond
	s.touch()
	return Outcome{Message: fmt.Sprintf("%s challenged on %s", s.Slots[idx].Identity.DisplayName, attr), StateChanged: true}, nil
}

// RespondToChallenge is the defender's move at acceptDeny. Denying the last
// available attribute forces the challenge to total.
func (s *Session) RespondToChallenge(actorID string, accept bool) (Outcome, error) {
	idx, err := s.requirePhase(actorID, PhaseRespond)
	if err != nil {
		return Outcome{}, err
	}
	if idx != s.opponentOf(s.CurrentChallenger) {
		return Outcome{}, fmt.Errorf("%w: only the challenged player may respond", ErrIllegalAction)
	}
	if accept {
		s.Phase = PhaseResolve
		s.touch()
		return Outcome{Message: "challenge accepted", StateChanged: true}, nil
	}
	denied := s.ChallengeAttribute
	s.DeniedAttributes = append(s.DeniedAttributes, denied)
	s.AvailableAttributes = removeAttr(s.AvailableAttributes, denied)
	if len(s.AvailableAttributes) == 0 {
		s.ChallengeAttribute = AttrTotal
		s.Phase = PhaseResolve
		s.touch()
		return Outcome{Message: "all attributes denied, challenge forced to total", StateChanged: true}, nil
	}
	s.ChallengeAttribute = ""
	s.CurrentChallenger = s.opponentOf(s.CurrentChallenger)
	s.Phase = PhasePick
	s.touch()
	return Outcome{Message: fmt.Sprintf("%s denied, challenge passes over", denied), StateChanged: true}, nil
}

// ResolveChallenge compares the two cards in play on the challenge attribute.
// Ties grow the pot; decisive rounds pay it out and may end the game. Either
// seated player may trigger resolution.
func (s *Session) ResolveChallenge(actorID string) (Outcome, error) {
	if _, err := s.requirePhase(actorID, PhaseResolve); err != nil {
		return Outcome{}, err
	}
	a, b := s.CardsInPlay[0], s.CardsInPlay[1]
	if a == nil || b == nil {
		return Outcome{}, fmt.Errorf("%w: no cards in play", ErrIllegalAction)
	}
	attr := s.ChallengeAttribute
	revealed := []Card{*a, *b}
	va, vb := a.Value(attr), b.Value(attr)

	s.burnCardsInPlay()

	if va == vb {
		s.PotSize++
		s.RoundNumber++
		s.CurrentChallenger = s.opponentOf(s.CurrentChallenger)
		s.resetRound()
		s.Phase = PhaseDraw
		s.touch()
		return Outcome{
			Message:      fmt.Sprintf("tie on %s (%d), pot grows to %d", attr, va, s.PotSize),
			StateChanged: true,
			Tie:          true,
			Revealed:     revealed,
		}, nil
	}

	winner := 0
	if vb > va {
		winner = 1
	}
	pot := s.PotSize
	s.Slots[winner].Points.Add(attr, pot)

	if s.Slots[winner].Points.Max() >= WinThreshold {
		s.endWith(winner, StatusCompleted)
		return Outcome{
			Message:      fmt.Sprintf("%s wins the game", s.Slots[winner].Identity.DisplayName),
			StateChanged: true,
			Ended:        true,
			Winner:       s.Winner,
			Revealed:     revealed,
		}, nil
	}

	s.PotSize = 1
	s.RoundNumber++
	s.CurrentChallenger = s.opponentOf(s.CurrentChallenger)
	s.resetRound()
	s.Phase = PhaseDraw
	s.touch()
	return Outcome{
		Message:      fmt.Sprintf("%s takes the round on %s (%d vs %d) for %d point(s)", s.Slots[winner].Identity.DisplayName, attr, va, vb, pot),
		StateChanged: true,
		Revealed:     revealed,
	}, nil
}

// Forfeit ends an active session in favor of the remaining slot, used when
// the other player's connection drops.
func (s *Session) Forfeit(remainingID string) (Outcome, error) {
	if s.Status.Terminal() {
		return Outcome{}, nil
	}
	idx := s.SlotOf(remainingID)
	if idx < 0 {
		return Outcome{}, fmt.Errorf("%w: not seated", ErrIllegalAction)
	}
	s.burnCardsInPlay()
	s.endWith(idx, StatusAbandoned)
	return Outcome{
		Message:      fmt.Sprintf("%s wins by forfeit", s.Slots[idx].Identity.DisplayName),
		StateChanged: true,
		Ended:        true,
		Winner:       s.Winner,
	}, nil
}

func (s *Session) endWith(winnerIdx int, st Status) {
	s.Status = st
	s.Phase = PhaseGameOver
	s.Winner = s.Slots[winnerIdx].Identity.ID
	s.touch()
}

func (s *Session) burnCardsInPlay() {
	for i, c := range s.CardsInPlay {
		if c != nil {
			s.BurnPile = append(s.BurnPile, *c)
			s.CardsInPlay[i] = nil
		}
	}
}

// requirePhase validates that the session is active, in the given phase, and
// that the actor is seated. It mutates nothing.
func (s *Session) requirePhase(actorID string, want Phase) (int, error) {
	idx := s.SlotOf(actorID)
	if idx < 0 {
		return -1, fmt.Errorf("%w: not seated in this session", ErrIllegalAction)
	}
	if s.Status != StatusActive {
		return -1, fmt.Errorf("%w: session is %s", ErrIllegalAction, s.Status)
	}
	if s.Phase != want {
		return -1, fmt.Errorf("%w: expected phase %s, session is at %s", ErrIllegalAction, want, s.Phase)
	}
	return idx, nil
}

func containsAttr(list []Attribute, a Attribute) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func removeAttr(list []Attribute, a Attribute) []Attribute {
	out := list[:0]
	for _, x := range list {
		if x != a {
			out = append(out, x)
		}
	}
	return out
}
