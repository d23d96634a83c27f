// Package market derives round-over-round resource prices and building
// incomes from demand, supply, event modifiers and building saturation.
//
// Every computation here is a pure function of its arguments and the
// immutable tables the Engine was built from.
package market

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/ivelashvili/royal-exchange/internal/config"
)

// Level classifies the share of players who traded a resource.
type Level int

const (
	LevelLow Level = iota
	LevelBase
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelHigh:
		return "high"
	case LevelBase:
		return "base"
	default:
		return "low"
	}
}

// ShareLevel maps a percentage of players to a demand or supply level.
// Above 75% is high, above 25% is base, anything else is low.
func ShareLevel(percent float64) Level {
	switch {
	case percent > 75:
		return LevelHigh
	case percent > 25:
		return LevelBase
	default:
		return LevelLow
	}
}

// Income is the per-round yield of one active building after modifiers.
type Income struct {
	Coins     float64            `json:"coins"`
	Resources map[string]float64 `json:"resources"`
	// Value is coins plus resources at the prices the income was computed with.
	Value float64 `json:"value"`
}

// Engine is the pricing model for one game. Percentages are taken against
// the configured player capacity, so a 5-player and a 30-player game react
// the same way to the same share of buyers.
type Engine struct {
	cfg        config.MarketConfig
	basePrices map[string]float64
	buildings  []config.BuildingDef
	numPlayers int
	curve      curveFunc
}

func NewEngine(tables config.Config) *Engine {
	return &Engine{
		cfg:        tables.Market,
		basePrices: tables.BasePrices(),
		buildings:  tables.Buildings,
		numPlayers: tables.PlayerCapacity,
		curve:      curveFor(tables.Market.SaturationCurve),
	}
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Share returns count as a percentage of the player basis.
func (e *Engine) Share(count int) float64 {
	if e.numPlayers <= 0 {
		return 0
	}
	return float64(count) / float64(e.numPlayers) * 100
}

// DemandModifiers prices every resource by the share of players who bought it.
func (e *Engine) DemandModifiers(bought map[string]int) map[string]float64 {
	out := make(map[string]float64, len(e.basePrices))
	for res := range e.basePrices {
		switch ShareLevel(e.Share(bought[res])) {
		case LevelHigh:
			out[res] = 1.1
		case LevelBase:
			out[res] = 1.0
		default:
			out[res] = 0.9
		}
	}
	return out
}

// SupplyModifiers is the mirror of DemandModifiers for sellers.
func (e *Engine) SupplyModifiers(sold map[string]int) map[string]float64 {
	out := make(map[string]float64, len(e.basePrices))
	for res := range e.basePrices {
		switch ShareLevel(e.Share(sold[res])) {
		case LevelHigh:
			out[res] = 0.9
		case LevelBase:
			out[res] = 1.0
		default:
			out[res] = 1.1
		}
	}
	return out
}

// EventModifiers fills in 1.0 for every resource the events leave alone.
func (e *Engine) EventModifiers(mods map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(e.basePrices))
	for res := range e.basePrices {
		if m, ok := mods[res]; ok {
			out[res] = m
		} else {
			out[res] = 1.0
		}
	}
	return out
}

// ResourcePrices computes next-round prices from the previous round's prices,
// the previous round's buyer/seller counts and this round's event modifiers.
// Resources missing from previous start from their base price.
func (e *Engine) ResourcePrices(previous map[string]float64, bought, sold map[string]int, events map[string]float64) map[string]float64 {
	demand := e.DemandModifiers(bought)
	supply := e.SupplyModifiers(sold)
	event := e.EventModifiers(events)

	out := make(map[string]float64, len(e.basePrices))
	for res, base := range e.basePrices {
		prev, ok := previous[res]
		if !ok {
			prev = base
		}
		out[res] = e.nextPrice(res, prev, demand[res]*supply[res]*event[res])
	}
	return out
}

// EventDrift moves prices by event modifiers alone, under the same bounds as
// ResourcePrices. Scenario analysis uses it to isolate event effects.
func (e *Engine) EventDrift(previous map[string]float64, events map[string]float64) map[string]float64 {
	event := e.EventModifiers(events)
	out := make(map[string]float64, len(e.basePrices))
	for res, base := range e.basePrices {
		prev, ok := previous[res]
		if !ok {
			prev = base
		}
		out[res] = e.nextPrice(res, prev, event[res])
	}
	return out
}

func (e *Engine) nextPrice(res string, prev, modifier float64) float64 {
	swing := e.cfg.MaxPriceChangePercent / 100
	modifier = clamp(modifier, 1-swing, 1+swing)

	base := e.basePrices[res]
	price := Round2(clamp(prev*modifier, base*e.cfg.MinPriceModifier, base*e.cfg.MaxPriceModifier))

	// Rounding to cents must not carry a price past the swing or band limits.
	p := decimal.NewFromFloat(prev)
	s := decimal.NewFromFloat(e.cfg.MaxPriceChangePercent).Div(decimal.NewFromInt(100))
	b := decimal.NewFromFloat(base)
	lo := decimal.Max(p.Mul(decimal.NewFromInt(1).Sub(s)), b.Mul(decimal.NewFromFloat(e.cfg.MinPriceModifier)))
	hi := decimal.Min(p.Mul(decimal.NewFromInt(1).Add(s)), b.Mul(decimal.NewFromFloat(e.cfg.MaxPriceModifier)))
	return clampCents(price, lo, hi)
}

// clampCents pulls a 2 dp price back inside [lo, hi] by whole cents.
func clampCents(price float64, lo, hi decimal.Decimal) float64 {
	d := decimal.NewFromFloat(price)
	if d.GreaterThan(hi) {
		return hi.RoundFloor(2).InexactFloat64()
	}
	if d.LessThan(lo) {
		return lo.RoundCeil(2).InexactFloat64()
	}
	return price
}

// SaturationModifier returns the income multiplier for a building type that
// count active buildings share. It is 1.0 for no buildings and never drops
// below the configured minimum income modifier.
func (e *Engine) SaturationModifier(count int) float64 {
	if count <= 0 {
		return 1.0
	}
	ratio := e.Share(count) / e.cfg.SaturationBasePercent
	penalty := e.cfg.SaturationMaxPenalty * e.curve(ratio)
	return math.Max(e.cfg.MinIncomeModifier, 1.0-penalty)
}

// IncomeModifiers combines saturation and building events per building type,
// clamped to the configured income band.
func (e *Engine) IncomeModifiers(counts map[string]int, events map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(e.buildings))
	for _, b := range e.buildings {
		event := 1.0
		if m, ok := events[b.Name]; ok {
			event = m
		}
		combined := e.SaturationModifier(counts[b.Name]) * event
		out[b.Name] = clamp(combined, e.cfg.MinIncomeModifier, e.cfg.MaxIncomeModifier)
	}
	return out
}

// BuildingIncomes scales every building's base coins and resources by its
// single combined modifier. prices only feed Income.Value.
func (e *Engine) BuildingIncomes(counts map[string]int, prices map[string]float64, events map[string]float64) map[string]Income {
	mods := e.IncomeModifiers(counts, events)
	out := make(map[string]Income, len(e.buildings))
	for _, b := range e.buildings {
		m := mods[b.Name]
		inc := Income{
			Coins:     Round2(b.Income.Coins * m),
			Resources: make(map[string]float64, len(b.Income.Resources)),
		}
		value := inc.Coins
		for res, amount := range b.Income.Resources {
			inc.Resources[res] = Round2(amount * m)
			value += inc.Resources[res] * prices[res]
		}
		inc.Value = Round2(value)
		out[b.Name] = inc
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
