// Package game holds the player and building model and advances a game one
// round at a time.
//
// A Game is not safe for concurrent use. Callers serialize every mutation and
// every ProcessRound call, and keep reads out of in-flight mutations; the
// server does this with a single RWMutex around the one Game it owns.
package game

import (
	"math/rand"
	"time"

	"github.com/ivelashvili/royal-exchange/internal/config"
	"github.com/ivelashvili/royal-exchange/internal/events"
	"github.com/ivelashvili/royal-exchange/internal/market"
)

type Game struct {
	tables config.Config
	engine *market.Engine
	deck   *events.Deck

	round    int
	players  []*Player
	prices   map[string]float64
	sequence int

	// Distinct buyers/sellers per resource in the round being played.
	bought map[string]map[PlayerID]struct{}
	sold   map[string]map[PlayerID]struct{}
	// Counts collapsed at the end of the previous round; they feed this
	// round's pricing.
	prevBought map[string]int
	prevSold   map[string]int

	history []RoundRecord
}

type options struct {
	rng *rand.Rand
}

type Option func(*options)

// WithRand fixes the source used to shuffle event pairs.
func WithRand(rng *rand.Rand) Option {
	return func(o *options) { o.rng = rng }
}

// WithSeed is WithRand over a fresh source.
func WithSeed(seed int64) Option {
	return WithRand(rand.New(rand.NewSource(seed)))
}

// New creates a game at round 1 with base prices and no players.
func New(tables config.Config, opts ...Option) (*Game, error) {
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	catalog, err := events.NewCatalog(tables.Events)
	if err != nil {
		return nil, err
	}
	return &Game{
		tables:     tables,
		engine:     market.NewEngine(tables),
		deck:       events.NewDeck(catalog, o.rng),
		round:      1,
		prices:     tables.BasePrices(),
		bought:     map[string]map[PlayerID]struct{}{},
		sold:       map[string]map[PlayerID]struct{}{},
		prevBought: map[string]int{},
		prevSold:   map[string]int{},
	}, nil
}

func (g *Game) player(id PlayerID) *Player {
	for _, p := range g.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func track(m map[string]map[PlayerID]struct{}, res string, id PlayerID) {
	set, ok := m[res]
	if !ok {
		set = map[PlayerID]struct{}{}
		m[res] = set
	}
	set[id] = struct{}{}
}

func collapse(m map[string]map[PlayerID]struct{}) map[string]int {
	out := make(map[string]int, len(m))
	for res, set := range m {
		out[res] = len(set)
	}
	return out
}

// buildingCost values a building type's resource cost at current prices.
func (g *Game) buildingCost(def config.BuildingDef) float64 {
	total := 0.0
	for res, amount := range def.Cost {
		total += float64(amount) * g.prices[res]
	}
	return market.Round2(total)
}
