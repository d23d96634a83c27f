// Package report builds the read-only projections shown to players and the
// host: leaderboard with growth, price table, building statistics and
// per-resource and per-building detail.
package report

import (
	"fmt"
	"math"
	"sort"

	"github.com/ivelashvili/royal-exchange/internal/config"
	"github.com/ivelashvili/royal-exchange/internal/game"
	"github.com/ivelashvili/royal-exchange/internal/market"
)

// Source is the read side of a game. *game.Game implements it.
type Source interface {
	Round() int
	Tables() config.Config
	Prices() map[string]float64
	PlayerCount() int
	Players() []game.PlayerSnapshot
	Leaderboard() []game.LeaderboardEntry
	History() []game.RoundRecord
	PreviousCounts() (bought, sold map[string]int)
}

// Reporter remembers the leaderboard totals at the last checkpoint so it
// can report growth. Like the game it reads, it is not safe for concurrent
// use.
type Reporter struct {
	src      Source
	initial  map[string]float64
	baseline map[game.PlayerID]float64
}

func New(src Source) *Reporter {
	return &Reporter{
		src:      src,
		initial:  src.Tables().BasePrices(),
		baseline: map[game.PlayerID]float64{},
	}
}

// Checkpoint stores the current totals as the baseline for growth. Call it
// right before a round is processed; if the round fails, call the returned
// undo to put the previous baseline back.
func (r *Reporter) Checkpoint() (undo func()) {
	prev := r.baseline
	r.baseline = make(map[game.PlayerID]float64, r.src.PlayerCount())
	for _, e := range r.src.Leaderboard() {
		r.baseline[e.PlayerID] = e.TotalValue
	}
	return func() { r.baseline = prev }
}

type Standing struct {
	game.LeaderboardEntry
	Rank          int     `json:"rank"`
	GrowthPercent float64 `json:"growth_percent"`
}

func (r *Reporter) Leaderboard() []Standing {
	entries := r.src.Leaderboard()
	out := make([]Standing, 0, len(entries))
	for i, e := range entries {
		out = append(out, Standing{
			LeaderboardEntry: e,
			Rank:             i + 1,
			GrowthPercent:    percentChange(r.baseline[e.PlayerID], e.TotalValue),
		})
	}
	return out
}

type PriceRow struct {
	Resource        string  `json:"resource"`
	Price           float64 `json:"current_price"`
	ChangeFromPrev  float64 `json:"change_from_prev_percent"`
	ChangeFromStart float64 `json:"change_from_start_percent"`
}

// PriceTable lists every resource by name with its change against the
// previous round and against the start of the game.
func (r *Reporter) PriceTable() []PriceRow {
	current := r.src.Prices()
	prev := r.previousPrices()
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]PriceRow, 0, len(names))
	for _, name := range names {
		out = append(out, r.priceRow(name, current[name], prev))
	}
	return out
}

func (r *Reporter) priceRow(name string, price float64, prev map[string]float64) PriceRow {
	p, ok := prev[name]
	if !ok {
		p = price
	}
	start, ok := r.initial[name]
	if !ok {
		start = price
	}
	return PriceRow{
		Resource:        name,
		Price:           price,
		ChangeFromPrev:  percentChange(p, price),
		ChangeFromStart: percentChange(start, price),
	}
}

// previousPrices are the prices in force one round before the live ones.
// History records hold the prices a round was played at, so the live prices
// are the last record's and the previous are the one before it.
func (r *Reporter) previousPrices() map[string]float64 {
	history := r.src.History()
	if len(history) < 2 {
		return r.initial
	}
	return history[len(history)-2].Prices
}

type BuildingStat struct {
	Type              string  `json:"name"`
	Count             int     `json:"count"`
	PlayersPercentage float64 `json:"players_percentage"`
}

// BuildingStats counts standing buildings per type. Listed buildings are
// left out, as are types nobody owns.
func (r *Reporter) BuildingStats() []BuildingStat {
	counts, owners := tallyBuildings(r.src.Players())
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	out := make([]BuildingStat, 0, len(types))
	for _, t := range types {
		out = append(out, BuildingStat{
			Type:              t,
			Count:             counts[t],
			PlayersPercentage: r.ownersPercentage(len(owners[t])),
		})
	}
	return out
}

// PricePoint is one sample of a resource's price history.
type PricePoint struct {
	Round int     `json:"round"`
	Price float64 `json:"price"`
}

type ResourceDetail struct {
	PriceRow
	BuyersLastRound  int          `json:"players_bought"`
	SellersLastRound int          `json:"players_sold"`
	DemandLevel      string       `json:"demand_level"`
	SupplyLevel      string       `json:"supply_level"`
	PriceHistory     []PricePoint `json:"price_history"`
}

// ResourceDetail describes one resource. Demand and supply levels use the
// pricing thresholds against the registered players; with nobody registered
// both read "base".
func (r *Reporter) ResourceDetail(name string) (ResourceDetail, error) {
	current := r.src.Prices()
	price, ok := current[name]
	if !ok {
		return ResourceDetail{}, fmt.Errorf("%w: resource %q", game.ErrNotFound, name)
	}
	bought, sold := r.src.PreviousCounts()
	d := ResourceDetail{
		PriceRow:         r.priceRow(name, price, r.previousPrices()),
		BuyersLastRound:  bought[name],
		SellersLastRound: sold[name],
		DemandLevel:      r.level(bought[name]),
		SupplyLevel:      r.level(sold[name]),
	}

	// The chart starts from zero at round 0.
	d.PriceHistory = append(d.PriceHistory, PricePoint{Round: 0, Price: 0})
	for _, rec := range r.src.History() {
		p, ok := rec.Prices[name]
		if !ok {
			p = r.initial[name]
		}
		d.PriceHistory = append(d.PriceHistory, PricePoint{Round: rec.Round, Price: p})
	}
	d.PriceHistory = append(d.PriceHistory, PricePoint{Round: r.src.Round(), Price: price})
	return d, nil
}

func (r *Reporter) level(count int) string {
	n := r.src.PlayerCount()
	if n == 0 {
		return market.LevelBase.String()
	}
	return market.ShareLevel(float64(count) / float64(n) * 100).String()
}

type Owner struct {
	PlayerID game.PlayerID `json:"player_id"`
	Name     string        `json:"name"`
	Count    int           `json:"count"`
}

type BuildingDetail struct {
	Type              string  `json:"name"`
	Count             int     `json:"count"`
	PlayersPercentage float64 `json:"players_percentage"`
	Cost              float64 `json:"cost"`
	Owners            []Owner `json:"owners"`
}

// BuildingDetail lists who owns standing buildings of one type, most first.
func (r *Reporter) BuildingDetail(buildingType string) (BuildingDetail, error) {
	tables := r.src.Tables()
	def, ok := tables.Building(buildingType)
	if !ok {
		return BuildingDetail{}, fmt.Errorf("%w: building type %q", game.ErrNotFound, buildingType)
	}
	prices := r.src.Prices()
	cost := 0.0
	for res, amount := range def.Cost {
		cost += float64(amount) * prices[res]
	}

	d := BuildingDetail{Type: def.Name, Cost: market.Round2(cost), Owners: []Owner{}}
	for _, p := range r.src.Players() {
		n := 0
		for _, b := range p.Buildings {
			if b.Type == def.Name && b.Status != game.StatusForSale {
				n++
			}
		}
		if n > 0 {
			d.Owners = append(d.Owners, Owner{PlayerID: p.ID, Name: p.Name, Count: n})
			d.Count += n
		}
	}
	sort.SliceStable(d.Owners, func(i, j int) bool { return d.Owners[i].Count > d.Owners[j].Count })
	d.PlayersPercentage = r.ownersPercentage(len(d.Owners))
	return d, nil
}

// GameState is the aggregate pushed to observers.
type GameState struct {
	Round       int            `json:"current_round"`
	NumPlayers  int            `json:"num_players"`
	Leaderboard []Standing     `json:"leaderboard"`
	Prices      []PriceRow     `json:"prices"`
	Buildings   []BuildingStat `json:"buildings"`
}

func (r *Reporter) GameState() GameState {
	return GameState{
		Round:       r.src.Round(),
		NumPlayers:  r.src.PlayerCount(),
		Leaderboard: r.Leaderboard(),
		Prices:      r.PriceTable(),
		Buildings:   r.BuildingStats(),
	}
}

func (r *Reporter) ownersPercentage(owners int) float64 {
	n := r.src.PlayerCount()
	if n == 0 {
		return 0
	}
	return math.Round(float64(owners) / float64(n) * 100)
}

func tallyBuildings(players []game.PlayerSnapshot) (counts map[string]int, owners map[string]map[game.PlayerID]struct{}) {
	counts = map[string]int{}
	owners = map[string]map[game.PlayerID]struct{}{}
	for _, p := range players {
		for _, b := range p.Buildings {
			if b.Status == game.StatusForSale {
				continue
			}
			counts[b.Type]++
			set, ok := owners[b.Type]
			if !ok {
				set = map[game.PlayerID]struct{}{}
				owners[b.Type] = set
			}
			set[p.ID] = struct{}{}
		}
	}
	return counts, owners
}

// percentChange is the 2-dp percentage move from prev to cur, or 0 when
// there is no positive reference.
func percentChange(prev, cur float64) float64 {
	if prev <= 0 {
		return 0
	}
	return market.Round2((cur - prev) / prev * 100)
}
