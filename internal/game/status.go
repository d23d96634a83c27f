package game

import "fmt"

// Wire names of the building statuses.
const (
	StatusBuilding  = "building"
	StatusCompleted = "completed"
	StatusActive    = "active"
	StatusForSale   = "for_sale"
)

// Status is the closed set of building lifecycle states:
//
//	UnderConstruction -> Completed -> Active
//	Completed | Active -> ForSale -> (sold, removed)
//
// Transitions return a new value; nothing outside this file builds a ForSale.
type Status interface {
	Name() string
	isStatus()
}

type UnderConstruction struct{}

type Completed struct{}

type Active struct{}

// ForSale carries the listing round and the price frozen at listing time.
type ForSale struct {
	ListedRound int
	Price       float64
}

func (UnderConstruction) Name() string { return StatusBuilding }
func (Completed) Name() string         { return StatusCompleted }
func (Active) Name() string            { return StatusActive }
func (ForSale) Name() string           { return StatusForSale }

func (UnderConstruction) isStatus() {}
func (Completed) isStatus()         {}
func (Active) isStatus()            {}
func (ForSale) isStatus()           {}

// advance applies the end-of-round lag: construction finishes once round
// reaches completedRound, and a completed building goes live one round later.
func advance(s Status, round, completedRound int) (Status, error) {
	switch s.(type) {
	case UnderConstruction:
		if round >= completedRound {
			return Completed{}, nil
		}
		return s, nil
	case Completed:
		return Active{}, nil
	case Active, ForSale:
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown building status %T", ErrCorruptState, s)
	}
}

// activate promotes a completed building ahead of income distribution.
func activate(s Status) Status {
	if _, ok := s.(Completed); ok {
		return Active{}
	}
	return s
}

// list freezes a sale price. Only finished buildings can be listed, once.
func list(s Status, round int, price float64) (Status, error) {
	switch s.(type) {
	case Completed, Active:
		return ForSale{ListedRound: round, Price: price}, nil
	case UnderConstruction:
		return nil, fmt.Errorf("%w: building is still under construction", ErrInvalidTransition)
	case ForSale:
		return nil, fmt.Errorf("%w: building is already for sale", ErrInvalidTransition)
	default:
		return nil, fmt.Errorf("%w: unknown building status %T", ErrCorruptState, s)
	}
}

func validStatus(s Status) bool {
	switch s.(type) {
	case UnderConstruction, Completed, Active, ForSale:
		return true
	default:
		return false
	}
}
