package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cardclash/internal/game"
)

// Memory keeps everything in process. It backs tests and DSN-less runs and
// honors the same validation contract as the Postgres store.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*game.Session
	byCode   map[string]string
	stats    map[string]*PlayerStats
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*game.Session),
		byCode:   make(map[string]string),
		stats:    make(map[string]*PlayerStats),
	}
}

func (m *Memory) Create(ctx context.Context, s *game.Session) error {
	return m.Save(ctx, s)
}

func (m *Memory) Save(_ context.Context, s *game.Session) error {
	if err := Validate(s); err != nil {
		return err
	}
	cp, err := cloneSession(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = cp
	m.byCode[s.Code] = s.ID
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*game.Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(s)
}

func (m *Memory) GetByCode(ctx context.Context, code string) (*game.Session, error) {
	m.mu.RLock()
	id, ok := m.byCode[code]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.Get(ctx, id)
}

func (m *Memory) ListJoinable(_ context.Context) ([]*game.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*game.Session
	for _, s := range m.sessions {
		if s.Status == game.StatusWaiting && !s.Private {
			cp, err := cloneSession(s)
			if err != nil {
				return nil, err
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

func (m *Memory) RecordResult(_ context.Context, playerID string, result GameResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[playerID]
	if !ok {
		st = &PlayerStats{PlayerID: playerID}
		m.stats[playerID] = st
	}
	st.Played++
	switch result {
	case ResultWin:
		st.Wins++
	case ResultLoss:
		st.Losses++
	}
	return nil
}

func (m *Memory) PlayerStats(_ context.Context, playerID string) (PlayerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.stats[playerID]; ok {
		return *st, nil
	}
	return PlayerStats{PlayerID: playerID}, nil
}

// cloneSession deep-copies through JSON so callers never share mutable state
// with the store.
func cloneSession(s *game.Session) (*game.Session, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var cp game.Session
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
