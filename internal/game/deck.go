package game

import (
	"context"
	"log"
	"math/rand"
	"sync"
)

const (
	// DeckSize is how many cards a provisioned deck holds.
	DeckSize = 10
	// characterDupCap limits copies of the same character per deck.
	characterDupCap = 2
)

// PoolSource supplies the card pool a random deck is drawn from. Implementations
// may hit the network or a database; failures fall through to the starter deck.
type PoolSource interface {
	Cards(ctx context.Context) ([]Card, error)
}

// staticPool serves the built-in card pool.
type staticPool struct{}

func (staticPool) Cards(context.Context) ([]Card, error) {
	return builtinPool(), nil
}

// Provisioner guarantees every slot enters play with a usable, non-empty
// deck: random pool draw, then the fixed starter deck, then a single
// emergency card. It never returns an empty deck.
type Provisioner struct {
	source PoolSource

	mu  sync.Mutex
	rng *rand.Rand
}

// NewProvisioner builds a provisioner over the given pool source; a nil
// source uses the built-in pool.
func NewProvisioner(source PoolSource, seed int64) *Provisioner {
	if source == nil {
		source = staticPool{}
	}
	return &Provisioner{source: source, rng: rand.New(rand.NewSource(seed))}
}

// EnsureDeck leaves a well-formed non-empty deck untouched and replaces
// anything else via the fallback chain.
func (p *Provisioner) EnsureDeck(ctx context.Context, slot *PlayerSlot) {
	if deck := NormalizeCards(slot.Deck); len(deck) > 0 {
		slot.Deck = deck
		return
	}
	deck, err := p.randomDeck(ctx)
	if err != nil || len(deck) == 0 {
		log.Printf("decks: random deck for %s failed (%v), using starter deck", slot.Identity.ID, err)
		deck = NormalizeCards(StarterDeck())
	}
	if len(deck) == 0 {
		log.Printf("decks: starter deck unusable for %s, issuing emergency card", slot.Identity.ID)
		deck = []Card{emergencyCard()}
	}
	slot.Deck = deck
}

// randomDeck draws DeckSize cards from the pool, honoring the per-character
// duplicate cap.
func (p *Provisioner) randomDeck(ctx context.Context) ([]Card, error) {
	pool, err := p.source.Cards(ctx)
	if err != nil {
		return nil, err
	}
	pool = NormalizeCards(pool)
	if len(pool) == 0 {
		return nil, ErrDeckProvision
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	deck := make([]Card, 0, DeckSize)
	perChar := map[string]int{}
	for tries := 0; len(deck) < DeckSize && tries < DeckSize*20; tries++ {
		c := pool[p.rng.Intn(len(pool))]
		if perChar[c.Character] >= characterDupCap {
			continue
		}
		perChar[c.Character]++
		deck = append(deck, c)
	}
	if len(deck) == 0 {
		return nil, ErrDeckProvision
	}
	return deck, nil
}

// StarterDeck is the fixed fallback deck every player can always receive.
func StarterDeck() []Card {
	return []Card{
		{ID: "starter-01", Name: "Brawler Bop", Skill: 4, Stamina: 6, Aura: 2, Rarity: RarityCommon, Character: "Bop", Type: "starter"},
		{ID: "starter-02", Name: "Swift Lumen", Skill: 6, Stamina: 3, Aura: 3, Rarity: RarityCommon, Character: "Lumen", Type: "starter"},
		{ID: "starter-03", Name: "Stalwart Griff", Skill: 3, Stamina: 7, Aura: 2, Rarity: RarityCommon, Character: "Griff", Type: "starter"},
		{ID: "starter-04", Name: "Mystic Vela", Skill: 2, Stamina: 3, Aura: 7, Rarity: RarityCommon, Character: "Vela", Type: "starter"},
		{ID: "starter-05", Name: "Keen Bop", Skill: 5, Stamina: 4, Aura: 3, Rarity: RarityUncommon, Character: "Bop", Type: "starter"},
		{ID: "starter-06", Name: "Radiant Lumen", Skill: 4, Stamina: 3, Aura: 6, Rarity: RarityUncommon, Character: "Lumen", Type: "starter"},
		{ID: "starter-07", Name: "Iron Griff", Skill: 5, Stamina: 6, Aura: 1, Rarity: RarityUncommon, Character: "Griff", Type: "starter"},
		{ID: "starter-08", Name: "Shimmer Vela", Skill: 3, Stamina: 4, Aura: 6, Rarity: RarityRare, Character: "Vela", Type: "starter"},
		{ID: "starter-09", Name: "Grand Moxo", Skill: 6, Stamina: 5, Aura: 4, Rarity: RarityRare, Character: "Moxo", Type: "starter"},
		{ID: "starter-10", Name: "Terrific Moxo", Skill: 5, Stamina: 5, Aura: 5, Rarity: RarityEpic, Character: "Moxo", Type: "starter"},
	}
}

// emergencyCard keeps a session able to progress when everything else failed.
func emergencyCard() Card {
	c, _ := NormalizeCard(Card{
		Name:      "Emergency Stand-in",
		Skill:     3,
		Stamina:   3,
		Aura:      3,
		Rarity:    RarityCommon,
		Character: "Stand-in",
		Type:      "emergency",
	})
	return c
}

// builtinPool is the fixed pool random decks draw from.
func builtinPool() []Card {
	pool := StarterDeck()
	extra := []Card{
		{Name: "Blazing Pyra", Skill: 7, Stamina: 4, Aura: 3, Rarity: RarityRare, Character: "Pyra", Type: "standard"},
		{Name: "Glacial Pyra", Skill: 4, Stamina: 7, Aura: 3, Rarity: RarityRare, Character: "Pyra", Type: "standard"},
		{Name: "Thundering Rux", Skill: 6, Stamina: 6, Aura: 2, Rarity: RarityRare, Character: "Rux", Type: "standard"},
		{Name: "Silent Rux", Skill: 5, Stamina: 3, Aura: 6, Rarity: RarityUncommon, Character: "Rux", Type: "standard"},
		{Name: "Ancient Sibyl", Skill: 3, Stamina: 5, Aura: 8, Rarity: RarityEpic, Character: "Sibyl", Type: "standard"},
		{Name: "Wandering Sibyl", Skill: 4, Stamina: 4, Aura: 6, Rarity: RarityUncommon, Character: "Sibyl", Type: "standard"},
		{Name: "Colossal Tor", Skill: 5, Stamina: 9, Aura: 1, Rarity: RarityEpic, Character: "Tor", Type: "standard"},
		{Name: "Patient Tor", Skill: 3, Stamina: 8, Aura: 2, Rarity: RarityRare, Character: "Tor", Type: "standard"},
		{Name: "Dazzling Nyx", Skill: 6, Stamina: 2, Aura: 7, Rarity: RarityEpic, Character: "Nyx", Type: "standard"},
		{Name: "Fabled Nyx", Skill: 7, Stamina: 6, Aura: 6, Rarity: RarityLegendary, Character: "Nyx", Type: "standard"},
	}
	for i, c := range extra {
		if c.ID == "" {
			extra[i].ID = "pool-" + c.Name
		}
	}
	return append(pool, extra...)
}
