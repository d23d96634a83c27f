// Package scenario estimates building returns by replaying random event
// sequences with neutral demand and supply, so only events move prices and
// incomes.
package scenario

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/ivelashvili/royal-exchange/internal/config"
	"github.com/ivelashvili/royal-exchange/internal/events"
	"github.com/ivelashvili/royal-exchange/internal/market"
)

type Options struct {
	Scenarios int
	Rounds    int
	Seed      int64
}

type PriceChange struct {
	Resource      string  `json:"resource"`
	Start         float64 `json:"start"`
	End           float64 `json:"end"`
	ChangePercent float64 `json:"change_percent"`
}

// BuildingResult is what one building of a type would have earned over the
// scenario, valued at the final prices.
type BuildingResult struct {
	Type            string             `json:"name"`
	Cost            float64            `json:"cost"`
	IncomeCoins     float64            `json:"total_income_coins"`
	IncomeResources map[string]float64 `json:"total_income_resources"`
	IncomeValue     float64            `json:"total_income_value"`
	ROIPercent      float64            `json:"roi_percent"`
}

type Result struct {
	Scenario  int              `json:"scenario"`
	Events    []string         `json:"events_used"`
	Prices    []PriceChange    `json:"price_changes"`
	Buildings []BuildingResult `json:"building_results"`
}

// Run plays opts.Scenarios independent scenarios of opts.Rounds rounds each.
// Every scenario deals pairs from a freshly shuffled deck.
func Run(tables config.Config, opts Options) ([]Result, error) {
	if opts.Scenarios <= 0 || opts.Rounds <= 0 {
		return nil, fmt.Errorf("scenarios and rounds must be positive")
	}
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	catalog, err := events.NewCatalog(tables.Events)
	if err != nil {
		return nil, err
	}
	engine := market.NewEngine(tables)
	rng := rand.New(rand.NewSource(opts.Seed))

	out := make([]Result, 0, opts.Scenarios)
	for i := 0; i < opts.Scenarios; i++ {
		deck := events.NewDeck(catalog, rng)
		pairs := make([]events.Pair, opts.Rounds)
		for j := range pairs {
			pairs[j] = deck.Draw()
		}
		res := Simulate(tables, engine, pairs)
		res.Scenario = i + 1
		out = append(out, res)
	}
	return out, nil
}

// Simulate plays one round per pair.
func Simulate(tables config.Config, engine *market.Engine, pairs []events.Pair) Result {
	base := tables.BasePrices()
	prices := tables.BasePrices()

	coins := map[string]float64{}
	resources := map[string]map[string]float64{}
	res := Result{Events: make([]string, 0, len(pairs))}

	for _, pair := range pairs {
		resourceMods, buildingMods := events.Combine(pair.Positive, pair.Negative)
		prices = engine.EventDrift(prices, resourceMods)
		// No buildings compete, so incomes carry only the event modifiers.
		for name, inc := range engine.BuildingIncomes(nil, prices, buildingMods) {
			coins[name] += inc.Coins
			if resources[name] == nil {
				resources[name] = map[string]float64{}
			}
			for r, amount := range inc.Resources {
				resources[name][r] += amount
			}
		}
		res.Events = append(res.Events, pair.Positive.Name+" / "+pair.Negative.Name)
	}

	for _, name := range tables.ResourceNames() {
		start, end := base[name], prices[name]
		res.Prices = append(res.Prices, PriceChange{
			Resource:      name,
			Start:         start,
			End:           end,
			ChangePercent: market.Round2((end - start) / start * 100),
		})
	}

	for _, def := range tables.Buildings {
		cost := 0.0
		for r, amount := range def.Cost {
			cost += float64(amount) * base[r]
		}
		value := coins[def.Name]
		earned := map[string]float64{}
		for r, amount := range resources[def.Name] {
			earned[r] = market.Round2(amount)
			value += amount * prices[r]
		}
		br := BuildingResult{
			Type:            def.Name,
			Cost:            market.Round2(cost),
			IncomeCoins:     market.Round2(coins[def.Name]),
			IncomeResources: earned,
			IncomeValue:     market.Round2(value),
		}
		if cost > 0 {
			br.ROIPercent = market.Round2(value / cost * 100)
		}
		res.Buildings = append(res.Buildings, br)
	}
	sort.SliceStable(res.Buildings, func(i, j int) bool {
		return res.Buildings[i].IncomeValue > res.Buildings[j].IncomeValue
	})
	return res
}
