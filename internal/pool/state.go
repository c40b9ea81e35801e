package pool

import "time"

// State is the availability of one account.
type State uint8

const (
	_state_beg State = iota
	StateAvailable
	StateInTrade
	StateCooldown
	StateDisabled
	_state_end
)

func (s State) IsAvailable() bool {
	return s > _state_beg && s < _state_end
}

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateInTrade:
		return "in_trade"
	case StateCooldown:
		return "cooldown"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Status is the pool's view of one account.
type Status struct {
	ID                string
	State             State
	ReleaseAt         time.Time
	LastTradeAt       time.Time
	TradeCount        uint64
	ConsecutiveErrors int
	DisabledReason    string
	// Held is set while a batch owns the account, whatever its state.
	Held bool
}

func canTransition(from, to State) bool {
	if from == to {
		return false
	}
	switch to {
	case StateDisabled:
		return true
	case StateInTrade:
		return from == StateAvailable
	case StateCooldown:
		return from == StateInTrade
	case StateAvailable:
		return from == StateInTrade || from == StateCooldown || from == StateDisabled
	default:
		return false
	}
}

// Stats counts accounts by state.
type Stats struct {
	Total       int
	Available   int
	InTrade     int
	Cooldown    int
	Disabled    int
	Utilization float64
}
