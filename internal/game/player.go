package game

type PlayerID string

// Building is one owned structure. ID is unique within the game.
type Building struct {
	ID             string
	Type           string
	StartedRound   int
	CompletedRound int // always StartedRound + 1
	Status         Status
}

// Sale returns the frozen listing when the building is for sale.
func (b *Building) Sale() (ForSale, bool) {
	fs, ok := b.Status.(ForSale)
	return fs, ok
}

type Player struct {
	ID        PlayerID
	Name      string
	Money     float64
	Resources map[string]int // zero counts are removed
	Buildings []*Building
}

func newPlayer(id PlayerID, name string, money float64) *Player {
	return &Player{
		ID:        id,
		Name:      name,
		Money:     money,
		Resources: map[string]int{},
	}
}

func (p *Player) Resource(name string) int { return p.Resources[name] }

func (p *Player) addResource(name string, amount int) {
	if amount <= 0 {
		return
	}
	p.Resources[name] += amount
}

func (p *Player) removeResource(name string, amount int) bool {
	have := p.Resources[name]
	if have < amount {
		return false
	}
	if have == amount {
		delete(p.Resources, name)
	} else {
		p.Resources[name] = have - amount
	}
	return true
}

func (p *Player) hasResources(costs map[string]int) bool {
	for res, amount := range costs {
		if p.Resources[res] < amount {
			return false
		}
	}
	return true
}

// removeResources debits every cost or nothing.
func (p *Player) removeResources(costs map[string]int) bool {
	if !p.hasResources(costs) {
		return false
	}
	for res, amount := range costs {
		p.removeResource(res, amount)
	}
	return true
}

func (p *Player) building(id string) *Building {
	for _, b := range p.Buildings {
		if b.ID == id {
			return b
		}
	}
	return nil
}
