// Package store is the durable record of sessions and per-player counters.
// There is exactly one write path, and it validates and normalizes a session
// before accepting it; nothing reaches disk in a shape the game cannot read
// back.
package store

import (
	"context"
	"errors"
	"fmt"

	"cardclash/internal/game"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrWrite    = errors.New("session write failed")
)

// GameResult is the direction a finished session counts for one player.
type GameResult string

const (
	ResultWin  GameResult = "win"
	ResultLoss GameResult = "loss"
	ResultDraw GameResult = "draw"
)

// PlayerStats are the durable win/loss/played counters for one account.
type PlayerStats struct {
	PlayerID string `json:"playerId"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
	Played   int    `json:"played"`
}

// SessionStore persists session aggregates. Implementations must treat Save
// as the only write path and run Validate before committing anything.
type SessionStore interface {
	Create(ctx context.Context, s *game.Session) error
	Get(ctx context.Context, id string) (*game.Session, error)
	GetByCode(ctx context.Context, code string) (*game.Session, error)
	// ListJoinable returns non-private sessions still waiting for a player.
	ListJoinable(ctx context.Context) ([]*game.Session, error)
	Save(ctx context.Context, s *game.Session) error
}

// StatsStore persists per-player counters. RecordResult is called exactly
// once per player per finished session.
type StatsStore interface {
	RecordResult(ctx context.Context, playerID string, result GameResult) error
	PlayerStats(ctx context.Context, playerID string) (PlayerStats, error)
}

// Validate normalizes a session in place and rejects writes that would break
// the aggregate's invariants.
func Validate(s *game.Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("%w: missing session id", ErrWrite)
	}
	if n := len(s.Slots); n < 1 || n > 2 {
		return fmt.Errorf("%w: session %s has %d slots", ErrWrite, s.ID, n)
	}
	switch s.Status {
	case game.StatusWaiting, game.StatusActive, game.StatusCompleted, game.StatusAbandoned:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrWrite, s.Status)
	}
	if s.PotSize < 1 {
		return fmt.Errorf("%w: pot size %d", ErrWrite, s.PotSize)
	}
	if len(s.AvailableAttributes)+len(s.DeniedAttributes) > 3 {
		return fmt.Errorf("%w: attribute sets overflow", ErrWrite)
	}
	for _, sl := range s.Slots {
		if sl.Identity.ID == "" {
			return fmt.Errorf("%w: slot without identity", ErrWrite)
		}
		sl.Deck = game.NormalizeCards(sl.Deck)
	}
	return nil
}
