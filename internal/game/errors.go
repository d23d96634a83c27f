package game

import "errors"

// Business-rule rejections. Operations wrap one of these with details, so
// callers test with errors.Is. A rejected operation never changes state.
var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientResources = errors.New("insufficient resources")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrCapacityExceeded      = errors.New("capacity exceeded")

	// ErrCorruptState reports a broken internal invariant. ProcessRound
	// returns it before any phase has mutated the game.
	ErrCorruptState = errors.New("corrupt game state")
)

// Kind returns a stable code for err, suitable for wire responses.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientResources):
		return "insufficient_resources"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_state_transition"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrCorruptState):
		return "corrupt_state"
	default:
		return "internal"
	}
}
