// Package events draws one positive and one negative named event per round
// from a curated catalog of pairs.
package events

import (
	"fmt"
	"math/rand"

	"github.com/ivelashvili/royal-exchange/internal/config"
)

// Event is a named bundle of resource-price and building-income multipliers.
type Event struct {
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	ResourceModifiers map[string]float64 `json:"resource_modifiers,omitempty"`
	BuildingModifiers map[string]float64 `json:"building_modifiers,omitempty"`
}

type Pair struct {
	Positive Event `json:"positive"`
	Negative Event `json:"negative"`
}

// Catalog holds the resolved event pairs in configuration order.
type Catalog struct {
	pairs []Pair
}

func NewCatalog(t config.EventTables) (*Catalog, error) {
	positive := make(map[string]Event, len(t.Positive))
	for _, d := range t.Positive {
		positive[d.Name] = fromDef(d)
	}
	negative := make(map[string]Event, len(t.Negative))
	for _, d := range t.Negative {
		negative[d.Name] = fromDef(d)
	}

	c := &Catalog{pairs: make([]Pair, 0, len(t.Pairs))}
	for _, p := range t.Pairs {
		pos, ok := positive[p.Positive]
		if !ok {
			return nil, fmt.Errorf("events: unknown positive event %q", p.Positive)
		}
		neg, ok := negative[p.Negative]
		if !ok {
			return nil, fmt.Errorf("events: unknown negative event %q", p.Negative)
		}
		c.pairs = append(c.pairs, Pair{Positive: pos, Negative: neg})
	}
	if len(c.pairs) == 0 {
		return nil, fmt.Errorf("events: empty pair catalog")
	}
	return c, nil
}

func fromDef(d config.EventDef) Event {
	return Event{
		Name:              d.Name,
		Description:       d.Description,
		ResourceModifiers: copyMods(d.ResourceModifiers),
		BuildingModifiers: copyMods(d.BuildingModifiers),
	}
}

func (c *Catalog) Len() int { return len(c.pairs) }

// Pairs returns the catalog in configuration order.
func (c *Catalog) Pairs() []Pair {
	out := make([]Pair, len(c.pairs))
	copy(out, c.pairs)
	return out
}

// Deck deals pairs without repetition: every pair is drawn once before the
// catalog is reshuffled and dealt again.
type Deck struct {
	catalog *Catalog
	rng     *rand.Rand
	pending []int
}

func NewDeck(c *Catalog, rng *rand.Rand) *Deck {
	return &Deck{catalog: c, rng: rng}
}

// Draw returns the next pair, refilling and reshuffling when exhausted.
func (d *Deck) Draw() Pair {
	if len(d.pending) == 0 {
		d.pending = d.rng.Perm(len(d.catalog.pairs))
	}
	idx := d.pending[0]
	d.pending = d.pending[1:]
	return d.catalog.pairs[idx]
}

// Remaining reports how many pairs are left before the next reshuffle.
func (d *Deck) Remaining() int { return len(d.pending) }

// Combine merges a pair into one resource map and one building map. Keys both
// events touch take the negative event's value; it replaces, not multiplies.
func Combine(positive, negative Event) (resources, buildings map[string]float64) {
	resources = copyMods(positive.ResourceModifiers)
	for k, v := range negative.ResourceModifiers {
		resources[k] = v
	}
	buildings = copyMods(positive.BuildingModifiers)
	for k, v := range negative.BuildingModifiers {
		buildings[k] = v
	}
	return resources, buildings
}

func copyMods(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
