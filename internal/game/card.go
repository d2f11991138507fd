package game

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Attribute is a comparison dimension for a challenge round.
type Attribute string

const (
	AttrSkill   Attribute = "skill"
	AttrStamina Attribute = "stamina"
	AttrAura    Attribute = "aura"
	// AttrTotal is derived and only ever valid as a challenge attribute,
	// never as a member of the available/denied sets.
	AttrTotal Attribute = "total"
)

// AllAttributes returns the three challengeable card attributes.
func AllAttributes() []Attribute {
	return []Attribute{AttrSkill, AttrStamina, AttrAura}
}

// Card rarities, cheapest to scarcest.
const (
	RarityCommon    = "common"
	RarityUncommon  = "uncommon"
	RarityRare      = "rare"
	RarityEpic      = "epic"
	RarityLegendary = "legendary"
)

func rarityMultiplier(r string) float64 {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case RarityUncommon:
		return 1.1
	case RarityRare:
		return 1.25
	case RarityEpic:
		return 1.4
	case RarityLegendary:
		return 1.6
	default:
		return 1.0
	}
}

// Card is an immutable play value. FinalTotal is derived from BaseTotal and
// the rarity multiplier once, when the card is normalized.
type Card struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Skill      int    `json:"skill"`
	Stamina    int    `json:"stamina"`
	Aura       int    `json:"aura"`
	BaseTotal  int    `json:"baseTotal"`
	FinalTotal int    `json:"finalTotal"`
	Rarity     string `json:"rarity"`
	Character  string `json:"character"`
	Type       string `json:"type"`
}

// Value reads the card's stat for the given attribute. AttrTotal reads the
// rarity-adjusted FinalTotal.
func (c Card) Value(attr Attribute) int {
	switch attr {
	case AttrSkill:
		return c.Skill
	case AttrStamina:
		return c.Stamina
	case AttrAura:
		return c.Aura
	default:
		return c.FinalTotal
	}
}

// NormalizeCard coerces a card into the canonical shape: non-empty id and
// name, non-negative stats, a known rarity and a derived FinalTotal. Returns
// false if the value is unusable even after coercion.
func NormalizeCard(c Card) (Card, bool) {
	c.Skill = clampStat(c.Skill)
	c.Stamina = clampStat(c.Stamina)
	c.Aura = clampStat(c.Aura)
	if c.Skill == 0 && c.Stamina == 0 && c.Aura == 0 {
		return Card{}, false
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Name == "" {
		c.Name = "Unknown"
	}
	if c.Type == "" {
		c.Type = "standard"
	}
	c.Rarity = strings.ToLower(strings.TrimSpace(c.Rarity))
	switch c.Rarity {
	case RarityCommon, RarityUncommon, RarityRare, RarityEpic, RarityLegendary:
	default:
		c.Rarity = RarityCommon
	}
	if c.BaseTotal <= 0 {
		c.BaseTotal = c.Skill + c.Stamina + c.Aura
	}
	if c.FinalTotal <= 0 {
		c.FinalTotal = int(math.Round(float64(c.BaseTotal) * rarityMultiplier(c.Rarity)))
	}
	return c, true
}

func clampStat(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// CardList is a deck as stored. Historical records have been observed with the
// deck persisted as a JSON string (e.g. the literal "[]") or with stat fields
// as strings; decoding repairs those shapes once, here, so game logic only
// ever sees well-formed cards.
type CardList []Card

func (l *CardList) UnmarshalJSON(data []byte) error {
	*l = decodeCards(data, 0)
	return nil
}

func decodeCards(data []byte, depth int) []Card {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	// A quoted value is a stringified deck; unwrap one level and retry.
	if data[0] == '"' {
		if depth >= 2 {
			return nil
		}
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil
		}
		return decodeCards([]byte(inner), depth+1)
	}
	var raw []rawCard
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	out := make([]Card, 0, len(raw))
	for _, rc := range raw {
		if c, ok := NormalizeCard(rc.card()); ok {
			out = append(out, c)
		}
	}
	return out
}

// rawCard tolerates numeric fields arriving as strings.
type rawCard struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Skill      flexInt `json:"skill"`
	Stamina    flexInt `json:"stamina"`
	Aura       flexInt `json:"aura"`
	BaseTotal  flexInt `json:"baseTotal"`
	FinalTotal flexInt `json:"finalTotal"`
	Rarity     string  `json:"rarity"`
	Character  string  `json:"character"`
	Type       string  `json:"type"`
}

func (rc rawCard) card() Card {
	return Card{
		ID:         rc.ID,
		Name:       rc.Name,
		Skill:      int(rc.Skill),
		Stamina:    int(rc.Stamina),
		Aura:       int(rc.Aura),
		BaseTotal:  int(rc.BaseTotal),
		FinalTotal: int(rc.FinalTotal),
		Rarity:     rc.Rarity,
		Character:  rc.Character,
		Type:       rc.Type,
	}
}

// flexInt decodes from a JSON number, a numeric string, or anything else
// (which counts as zero).
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		*f = flexInt(v)
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*f = flexInt(math.Round(v))
		return nil
	}
	*f = 0
	return nil
}

// NormalizeCards validates an in-memory deck, dropping anything that cannot
// be coerced into a usable card.
func NormalizeCards(cards []Card) []Card {
	out := make([]Card, 0, len(cards))
	for _, c := range cards {
		if n, ok := NormalizeCard(c); ok {
			out = append(out, n)
		}
	}
	return out
}
