package game

import (
	"fmt"
	"sort"

	"github.com/ivelashvili/royal-exchange/internal/config"
	"github.com/ivelashvili/royal-exchange/internal/market"
)

// BuildingView is the read-only projection of a building.
type BuildingView struct {
	ID             string   `json:"id"`
	Type           string   `json:"name"`
	Status         string   `json:"status"`
	StartedRound   int      `json:"started_round"`
	CompletedRound int      `json:"completed_round"`
	SaleRound      *int     `json:"sale_round"`
	SalePrice      *float64 `json:"sale_price"`
}

// PlayerSnapshot is a detached copy of one player's state.
type PlayerSnapshot struct {
	ID            PlayerID           `json:"player_id"`
	Name          string             `json:"name"`
	Money         float64            `json:"money"`
	Resources     map[string]int     `json:"resources"`
	Buildings     []BuildingView     `json:"buildings"`
	CurrentPrices map[string]float64 `json:"current_prices"`
	CurrentRound  int                `json:"current_round"`
}

type LeaderboardEntry struct {
	PlayerID       PlayerID `json:"player_id"`
	Name           string   `json:"name"`
	Money          float64  `json:"money"`
	ResourcesValue float64  `json:"resources_value"`
	BuildingsValue float64  `json:"buildings_value"`
	TotalValue     float64  `json:"total_value"`
}

// Round is the number of the round currently being played.
func (g *Game) Round() int { return g.round }

func (g *Game) Tables() config.Config { return g.tables }

func (g *Game) PlayerCount() int { return len(g.players) }

// Prices returns a copy of the live price map.
func (g *Game) Prices() map[string]float64 { return copyPrices(g.prices) }

// PreviousCounts returns the distinct buyer/seller counts collected during
// the last processed round.
func (g *Game) PreviousCounts() (bought, sold map[string]int) {
	bought = make(map[string]int, len(g.prevBought))
	for k, v := range g.prevBought {
		bought[k] = v
	}
	sold = make(map[string]int, len(g.prevSold))
	for k, v := range g.prevSold {
		sold[k] = v
	}
	return bought, sold
}

// BuildingCost values a building type's resource cost at current prices.
func (g *Game) BuildingCost(buildingType string) (float64, error) {
	def, ok := g.tables.Building(buildingType)
	if !ok {
		return 0, fmt.Errorf("%w: building type %q", ErrNotFound, buildingType)
	}
	return g.buildingCost(def), nil
}

func (g *Game) Player(id PlayerID) (PlayerSnapshot, error) {
	p := g.player(id)
	if p == nil {
		return PlayerSnapshot{}, fmt.Errorf("%w: player %q", ErrNotFound, id)
	}
	return g.snapshot(p), nil
}

// Players returns snapshots in registration order.
func (g *Game) Players() []PlayerSnapshot {
	out := make([]PlayerSnapshot, 0, len(g.players))
	for _, p := range g.players {
		out = append(out, g.snapshot(p))
	}
	return out
}

func (g *Game) snapshot(p *Player) PlayerSnapshot {
	res := make(map[string]int, len(p.Resources))
	for k, v := range p.Resources {
		res[k] = v
	}
	views := make([]BuildingView, 0, len(p.Buildings))
	for _, b := range p.Buildings {
		v := BuildingView{
			ID:             b.ID,
			Type:           b.Type,
			Status:         b.Status.Name(),
			StartedRound:   b.StartedRound,
			CompletedRound: b.CompletedRound,
		}
		if fs, ok := b.Sale(); ok {
			round, price := fs.ListedRound, fs.Price
			v.SaleRound, v.SalePrice = &round, &price
		}
		views = append(views, v)
	}
	return PlayerSnapshot{
		ID:            p.ID,
		Name:          p.Name,
		Money:         market.Round2(p.Money),
		Resources:     res,
		Buildings:     views,
		CurrentPrices: copyPrices(g.prices),
		CurrentRound:  g.round,
	}
}

// Leaderboard ranks players by money plus inventory and unlisted buildings
// at current prices. Ties keep registration order.
func (g *Game) Leaderboard() []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(g.players))
	for _, p := range g.players {
		resources := 0.0
		for res, amount := range p.Resources {
			resources += float64(amount) * g.prices[res]
		}
		buildings := 0.0
		for _, b := range p.Buildings {
			if _, listed := b.Sale(); listed {
				continue
			}
			if def, ok := g.tables.Building(b.Type); ok {
				buildings += g.buildingCost(def)
			}
		}
		out = append(out, LeaderboardEntry{
			PlayerID:       p.ID,
			Name:           p.Name,
			Money:          market.Round2(p.Money),
			ResourcesValue: market.Round2(resources),
			BuildingsValue: market.Round2(buildings),
			TotalValue:     market.Round2(p.Money + resources + buildings),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalValue > out[j].TotalValue })
	return out
}

// History returns every processed round, oldest first.
func (g *Game) History() []RoundRecord {
	out := make([]RoundRecord, len(g.history))
	copy(out, g.history)
	return out
}

func (g *Game) HistoryLen() int { return len(g.history) }

// RoundAt reads history by index (0 is round 1).
func (g *Game) RoundAt(i int) (RoundRecord, bool) {
	if i < 0 || i >= len(g.history) {
		return RoundRecord{}, false
	}
	return g.history[i], true
}
