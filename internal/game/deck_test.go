package game

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type failingPool struct{}

func (failingPool) Cards(context.Context) ([]Card, error) {
	return nil, errors.New("pool upstream down")
}

type brokenPool struct{}

func (brokenPool) Cards(context.Context) ([]Card, error) {
	// Nothing in here survives normalization.
	return []Card{{Name: "Void"}, {Name: "Hollow", Skill: -1}}, nil
}

func TestEnsureDeckLeavesHealthyDeckAlone(t *testing.T) {
	p := NewProvisioner(nil, 1)
	slot := &PlayerSlot{Identity: testIdentity("a"), Deck: []Card{flatCard("keep", 3)}}
	p.EnsureDeck(context.Background(), slot)
	if len(slot.Deck) != 1 || slot.Deck[0].ID != "keep" {
		t.Fatalf("healthy deck replaced: %+v", slot.Deck)
	}
}

func TestEnsureDeckGeneratesFromPool(t *testing.T) {
	p := NewProvisioner(nil, 42)
	slot := &PlayerSlot{Identity: testIdentity("a")}
	p.EnsureDeck(context.Background(), slot)
	if len(slot.Deck) != DeckSize {
		t.Fatalf("deck size = %d, want %d", len(slot.Deck), DeckSize)
	}
	perChar := map[string]int{}
	for _, c := range slot.Deck {
		perChar[c.Character]++
		if c.FinalTotal <= 0 {
			t.Fatalf("card %q escaped normalization: %+v", c.Name, c)
		}
	}
	for ch, n := range perChar {
		if n > characterDupCap {
			t.Fatalf("character %q appears %d times, cap is %d", ch, n, characterDupCap)
		}
	}
}

func TestEnsureDeckFallsBackToStarterDeck(t *testing.T) {
	p := NewProvisioner(failingPool{}, 1)
	slot := &PlayerSlot{Identity: testIdentity("a")}
	p.EnsureDeck(context.Background(), slot)
	if len(slot.Deck) == 0 {
		t.Fatal("fallback produced an empty deck")
	}
	if slot.Deck[0].Type != "starter" {
		t.Fatalf("expected starter cards, got %+v", slot.Deck[0])
	}
}

func TestEnsureDeckFallsBackWhenPoolIsUnusable(t *testing.T) {
	p := NewProvisioner(brokenPool{}, 1)
	slot := &PlayerSlot{Identity: testIdentity("a")}
	p.EnsureDeck(context.Background(), slot)
	if len(slot.Deck) == 0 {
		t.Fatal("fallback produced an empty deck")
	}
}

func TestEnsureDeckRepairsStringifiedStoredDeck(t *testing.T) {
	// A historical record where the deck field was persisted as the literal
	// string "[]" decodes to an empty CardList; provisioning must then yield a
	// playable deck before the session can go active.
	var deck CardList
	if err := json.Unmarshal([]byte(`"[]"`), &deck); err != nil {
		t.Fatal(err)
	}
	slot := &PlayerSlot{Identity: testIdentity("a"), Deck: deck}
	p := NewProvisioner(nil, 7)
	p.EnsureDeck(context.Background(), slot)
	if len(slot.Deck) == 0 {
		t.Fatal("repaired slot still has no deck")
	}
}
