package game

import (
	"fmt"
	"strings"

	"github.com/ivelashvili/royal-exchange/internal/market"
)

// Trade is the receipt of a successful buy or sell.
type Trade struct {
	PlayerID PlayerID `json:"player_id"`
	Resource string   `json:"resource"`
	Amount   int      `json:"amount"`
	Price    float64  `json:"price"`
	Total    float64  `json:"total"`
	Money    float64  `json:"money"` // balance after the trade
}

// Construction is the receipt of a started building.
type Construction struct {
	BuildingID     string `json:"building_id"`
	Type           string `json:"type"`
	StartedRound   int    `json:"started_round"`
	CompletedRound int    `json:"completed_round"`
}

// Listing is the receipt of a building put up for sale.
type Listing struct {
	BuildingID  string  `json:"building_id"`
	Type        string  `json:"type"`
	ListedRound int     `json:"listed_round"`
	Price       float64 `json:"price"`
}

// RegisterPlayer adds a player with the configured starting money.
func (g *Game) RegisterPlayer(id PlayerID, name string) error {
	if strings.TrimSpace(string(id)) == "" {
		return fmt.Errorf("%w: empty player id", ErrInvalidArgument)
	}
	if len(g.players) >= g.tables.PlayerCapacity {
		return fmt.Errorf("%w: game is full (%d players)", ErrCapacityExceeded, g.tables.PlayerCapacity)
	}
	if g.player(id) != nil {
		return fmt.Errorf("%w: player %q already registered", ErrCapacityExceeded, id)
	}
	g.players = append(g.players, newPlayer(id, name, g.tables.StartingMoney))
	return nil
}

// Buy debits amount x current price and credits the inventory.
func (g *Game) Buy(id PlayerID, resource string, amount int) (Trade, error) {
	p, price, err := g.tradeTarget(id, resource, amount)
	if err != nil {
		return Trade{}, err
	}
	cost := market.Round2(float64(amount) * price)
	if p.Money < cost {
		return Trade{}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, cost, p.Money)
	}
	p.Money = market.Round2(p.Money - cost)
	p.addResource(resource, amount)
	track(g.bought, resource, id)
	return Trade{PlayerID: id, Resource: resource, Amount: amount, Price: price, Total: cost, Money: p.Money}, nil
}

// Sell is the exact inverse of Buy at the current price.
func (g *Game) Sell(id PlayerID, resource string, amount int) (Trade, error) {
	p, price, err := g.tradeTarget(id, resource, amount)
	if err != nil {
		return Trade{}, err
	}
	if !p.removeResource(resource, amount) {
		return Trade{}, fmt.Errorf("%w: have %d %s, selling %d", ErrInsufficientResources, p.Resource(resource), resource, amount)
	}
	income := market.Round2(float64(amount) * price)
	p.Money = market.Round2(p.Money + income)
	track(g.sold, resource, id)
	return Trade{PlayerID: id, Resource: resource, Amount: amount, Price: price, Total: income, Money: p.Money}, nil
}

func (g *Game) tradeTarget(id PlayerID, resource string, amount int) (*Player, float64, error) {
	p := g.player(id)
	if p == nil {
		return nil, 0, fmt.Errorf("%w: player %q", ErrNotFound, id)
	}
	price, ok := g.prices[resource]
	if !ok {
		return nil, 0, fmt.Errorf("%w: resource %q", ErrNotFound, resource)
	}
	if amount <= 0 {
		return nil, 0, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidArgument, amount)
	}
	return p, price, nil
}

// StartConstruction debits the building's resource cost and starts a
// building that completes next round.
func (g *Game) StartConstruction(id PlayerID, buildingType string) (Construction, error) {
	p := g.player(id)
	if p == nil {
		return Construction{}, fmt.Errorf("%w: player %q", ErrNotFound, id)
	}
	if strings.TrimSpace(buildingType) == "" {
		return Construction{}, fmt.Errorf("%w: empty building type", ErrInvalidArgument)
	}
	def, ok := g.tables.Building(buildingType)
	if !ok {
		return Construction{}, fmt.Errorf("%w: building type %q", ErrNotFound, buildingType)
	}
	if !p.removeResources(def.Cost) {
		return Construction{}, fmt.Errorf("%w: %s needs %v", ErrInsufficientResources, buildingType, def.Cost)
	}

	g.sequence++
	b := &Building{
		ID:             fmt.Sprintf("%s_%s_%d_%d", p.ID, def.Name, g.round, g.sequence),
		Type:           def.Name,
		StartedRound:   g.round,
		CompletedRound: g.round + 1,
		Status:         UnderConstruction{},
	}
	p.Buildings = append(p.Buildings, b)
	return Construction{
		BuildingID:     b.ID,
		Type:           b.Type,
		StartedRound:   b.StartedRound,
		CompletedRound: b.CompletedRound,
	}, nil
}

// ListForSale freezes the building's sale price at the current value of its
// resource cost. It is paid out during the next round's processing.
func (g *Game) ListForSale(id PlayerID, buildingID string) (Listing, error) {
	p := g.player(id)
	if p == nil {
		return Listing{}, fmt.Errorf("%w: player %q", ErrNotFound, id)
	}
	b := p.building(buildingID)
	if b == nil {
		return Listing{}, fmt.Errorf("%w: building %q", ErrNotFound, buildingID)
	}
	def, ok := g.tables.Building(b.Type)
	if !ok {
		return Listing{}, fmt.Errorf("%w: building %q has unknown type %q", ErrCorruptState, b.ID, b.Type)
	}
	next, err := list(b.Status, g.round, g.buildingCost(def))
	if err != nil {
		return Listing{}, err
	}
	b.Status = next
	fs := next.(ForSale)
	return Listing{BuildingID: b.ID, Type: b.Type, ListedRound: fs.ListedRound, Price: fs.Price}, nil
}
