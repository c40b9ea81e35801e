package trader

import (
	"fmt"
	"sync"

	"hedgebot/pkg/exception"
)

// Phase is the step a batch is in.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseLeverage
	PhaseOpen
	PhaseStopLoss
	PhaseMonitor
	PhaseClose
	PhaseReleased
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLeverage:
		return "leverage"
	case PhaseOpen:
		return "open"
	case PhaseStopLoss:
		return "stop_loss"
	case PhaseMonitor:
		return "monitor"
	case PhaseClose:
		return "close"
	case PhaseReleased:
		return "released"
	default:
		return "unknown"
	}
}

// transitions lists the legal next phases. Close may go back to Open for a batch retry.
var transitions = map[Phase][]Phase{
	PhaseIdle:     {PhaseLeverage, PhaseReleased},
	PhaseLeverage: {PhaseOpen, PhaseReleased},
	PhaseOpen:     {PhaseStopLoss, PhaseMonitor, PhaseClose, PhaseReleased},
	PhaseStopLoss: {PhaseMonitor, PhaseClose, PhaseReleased},
	PhaseMonitor:  {PhaseClose, PhaseReleased},
	PhaseClose:    {PhaseOpen, PhaseReleased},
}

// Tracker records the phase of one batch and rejects skipped steps.
type Tracker struct {
	mu      sync.Mutex
	current Phase
	history []Phase
}

func NewTracker() *Tracker {
	return &Tracker{history: []Phase{PhaseIdle}}
}

// Advance moves to next or returns ErrInvalidPhaseTransition.
func (t *Tracker) Advance(next Phase) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range transitions[t.current] {
		if p == next {
			t.current = next
			t.history = append(t.history, next)
			return nil
		}
	}
	return fmt.Errorf("%w, from: %s, to: %s", exception.ErrInvalidPhaseTransition, t.current, next)
}

func (t *Tracker) Current() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// History returns every phase entered, starting with idle.
func (t *Tracker) History() []Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Phase, len(t.history))
	copy(out, t.history)
	return out
}
