package store

import (
	"context"
	"errors"
	"testing"

	"cardclash/internal/game"
)

func TestMemorySaveValidatesBeforeWriting(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	bad := &game.Session{} // no id, no slots
	if err := m.Save(ctx, bad); !errors.Is(err, ErrWrite) {
		t.Fatalf("save of invalid session: err = %v, want ErrWrite", err)
	}

	s := game.NewSession(game.Identity{ID: "p1", DisplayName: "P1"}, false)
	if err := m.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := m.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != s.ID || got.Code != s.Code {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	// The store hands out copies, not aliases.
	got.Status = game.StatusAbandoned
	again, _ := m.Get(ctx, s.ID)
	if again.Status != game.StatusWaiting {
		t.Fatalf("store state mutated through a returned copy")
	}
}

func TestMemorySaveNormalizesDecks(t *testing.T) {
	m := NewMemory()
	s := game.NewSession(game.Identity{ID: "p1", DisplayName: "P1"}, false)
	s.Slots[0].Deck = []game.Card{
		{Name: "OK", Skill: 3, Stamina: 2, Aura: 1, Character: "C"},
		{Name: "Broken"}, // statless, must not survive the write path
	}
	if err := m.Save(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	got, _ := m.Get(context.Background(), s.ID)
	if len(got.Slots[0].Deck) != 1 {
		t.Fatalf("deck = %d cards after save, want 1", len(got.Slots[0].Deck))
	}
	if got.Slots[0].Deck[0].FinalTotal == 0 {
		t.Fatalf("card not normalized: %+v", got.Slots[0].Deck[0])
	}
}

func TestMemoryGetByCodeAndListJoinable(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	public := game.NewSession(game.Identity{ID: "p1", DisplayName: "P1"}, false)
	private := game.NewSession(game.Identity{ID: "p2", DisplayName: "P2"}, true)
	for _, s := range []*game.Session{public, private} {
		if err := m.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.GetByCode(ctx, private.Code)
	if err != nil {
		t.Fatalf("join-by-code must work for private sessions: %v", err)
	}
	if got.ID != private.ID {
		t.Fatalf("code lookup returned %s", got.ID)
	}

	list, err := m.ListJoinable(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != public.ID {
		t.Fatalf("listing must show only public waiting sessions, got %d", len(list))
	}

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing session: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryRecordResultCounters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.RecordResult(ctx, "p1", ResultWin); err != nil {
		t.Fatal(err)
	}
	if err := m.RecordResult(ctx, "p1", ResultLoss); err != nil {
		t.Fatal(err)
	}
	if err := m.RecordResult(ctx, "p1", ResultDraw); err != nil {
		t.Fatal(err)
	}
	st, err := m.PlayerStats(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Wins != 1 || st.Losses != 1 || st.Played != 3 {
		t.Fatalf("stats = %+v, want 1/1/3", st)
	}
	// Unknown players read as zeroes, not errors.
	st, err = m.PlayerStats(ctx, "nobody")
	if err != nil || st.Played != 0 {
		t.Fatalf("unknown player: %+v err=%v", st, err)
	}
}
