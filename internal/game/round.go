package game

import (
	"fmt"

	"github.com/ivelashvili/royal-exchange/internal/events"
	"github.com/ivelashvili/royal-exchange/internal/market"
)

// EventSummary names the pair drawn for a round.
type EventSummary struct {
	Positive            string `json:"positive"`
	Negative            string `json:"negative"`
	PositiveDescription string `json:"positive_description"`
	NegativeDescription string `json:"negative_description"`
}

// PlayerIncome is what one player's active buildings yielded in a round.
// Resource amounts are the modified values; inventories receive them
// truncated to whole units.
type PlayerIncome struct {
	Coins     float64            `json:"coins"`
	Resources map[string]float64 `json:"resources"`
}

// Sale records a listed building paid out and removed.
type Sale struct {
	PlayerID     PlayerID `json:"player_id"`
	BuildingID   string   `json:"building_id"`
	BuildingType string   `json:"building_type"`
	Price        float64  `json:"sale_price"`
}

// RoundRecord is the immutable summary appended to history after each round.
// Callers must not modify its maps.
type RoundRecord struct {
	Round             int                       `json:"round"`
	Events            *EventSummary             `json:"events"`
	ResourceModifiers map[string]float64        `json:"resource_modifiers,omitempty"`
	BuildingModifiers map[string]float64        `json:"building_modifiers,omitempty"`
	Prices            map[string]float64        `json:"prices"`
	Incomes           map[string]market.Income  `json:"building_incomes"`
	Income            map[PlayerID]PlayerIncome `json:"income_distributed"`
	Sold              []Sale                    `json:"buildings_sold"`
	PlayersBought     map[string]int            `json:"players_bought"`
	PlayersSold       map[string]int            `json:"players_sold"`
}

// ProcessRound closes the current round in four phases: events and prices,
// sales and income, demand/supply tally, state advance. It either completes
// fully or, on ErrCorruptState, returns before touching anything.
func (g *Game) ProcessRound() (RoundRecord, error) {
	if err := g.checkInvariants(); err != nil {
		return RoundRecord{}, err
	}
	rec := RoundRecord{Round: g.round}

	buildingMods := g.phaseEvents(&rec)
	g.phaseIncome(&rec, buildingMods)
	rec.PlayersBought, rec.PlayersSold = g.phaseTally()
	g.phaseAdvance(rec)

	return rec, nil
}

func (g *Game) checkInvariants() error {
	for _, p := range g.players {
		for _, b := range p.Buildings {
			if b.Status == nil || !validStatus(b.Status) {
				return fmt.Errorf("%w: building %q has no valid status", ErrCorruptState, b.ID)
			}
			if _, ok := g.tables.Building(b.Type); !ok {
				return fmt.Errorf("%w: building %q has unknown type %q", ErrCorruptState, b.ID, b.Type)
			}
			if b.CompletedRound != b.StartedRound+1 {
				return fmt.Errorf("%w: building %q completes in round %d, started %d", ErrCorruptState, b.ID, b.CompletedRound, b.StartedRound)
			}
		}
	}
	return nil
}

// phaseEvents draws this round's pair and reprices every resource from the
// previous round's demand/supply. Round 1 has no event and keeps prices.
func (g *Game) phaseEvents(rec *RoundRecord) map[string]float64 {
	if g.round == 1 {
		rec.Prices = copyPrices(g.prices)
		return nil
	}
	pair := g.deck.Draw()
	resourceMods, buildingMods := events.Combine(pair.Positive, pair.Negative)

	g.prices = g.engine.ResourcePrices(g.prices, g.prevBought, g.prevSold, resourceMods)

	rec.Events = &EventSummary{
		Positive:            pair.Positive.Name,
		Negative:            pair.Negative.Name,
		PositiveDescription: pair.Positive.Description,
		NegativeDescription: pair.Negative.Description,
	}
	rec.ResourceModifiers = resourceMods
	rec.BuildingModifiers = buildingMods
	rec.Prices = copyPrices(g.prices)
	return buildingMods
}

// phaseIncome settles sales listed in earlier rounds, promotes completed
// buildings and pays every active building.
func (g *Game) phaseIncome(rec *RoundRecord, buildingMods map[string]float64) {
	for _, p := range g.players {
		kept := p.Buildings[:0]
		for _, b := range p.Buildings {
			if fs, ok := b.Sale(); ok && fs.ListedRound < g.round {
				p.Money = market.Round2(p.Money + fs.Price)
				rec.Sold = append(rec.Sold, Sale{PlayerID: p.ID, BuildingID: b.ID, BuildingType: b.Type, Price: fs.Price})
				continue
			}
			kept = append(kept, b)
		}
		for i := len(kept); i < len(p.Buildings); i++ {
			p.Buildings[i] = nil
		}
		p.Buildings = kept
	}

	counts := map[string]int{}
	for _, p := range g.players {
		for _, b := range p.Buildings {
			b.Status = activate(b.Status)
			if _, ok := b.Status.(Active); ok {
				counts[b.Type]++
			}
		}
	}

	incomes := g.engine.BuildingIncomes(counts, g.prices, buildingMods)
	rec.Incomes = incomes
	rec.Income = make(map[PlayerID]PlayerIncome, len(g.players))
	for _, p := range g.players {
		pi := PlayerIncome{Resources: map[string]float64{}}
		for _, b := range p.Buildings {
			if _, ok := b.Status.(Active); !ok {
				continue
			}
			inc := incomes[b.Type]
			p.Money = market.Round2(p.Money + inc.Coins)
			pi.Coins = market.Round2(pi.Coins + inc.Coins)
			for res, amount := range inc.Resources {
				p.addResource(res, int(amount))
				pi.Resources[res] = market.Round2(pi.Resources[res] + amount)
			}
		}
		rec.Income[p.ID] = pi
	}
}

// phaseTally collapses this round's buyer and seller sets into counts.
func (g *Game) phaseTally() (bought, sold map[string]int) {
	return collapse(g.bought), collapse(g.sold)
}

// phaseAdvance carries the tally into the next round, moves the round
// counter and applies the one-round status lag against the new round.
func (g *Game) phaseAdvance(rec RoundRecord) {
	g.prevBought = rec.PlayersBought
	g.prevSold = rec.PlayersSold
	g.round++

	for _, p := range g.players {
		for _, b := range p.Buildings {
			// checkInvariants already rejected unknown statuses.
			next, _ := advance(b.Status, g.round, b.CompletedRound)
			b.Status = next
		}
	}

	g.history = append(g.history, rec)
	g.bought = map[string]map[PlayerID]struct{}{}
	g.sold = map[string]map[PlayerID]struct{}{}
}

func copyPrices(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
