package chaos

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Op names an exchange operation that can be faulted.
type Op string

const (
	OpSetLeverage Op = "setLeverage"
	OpLimitOrder  Op = "limitOrder"
	OpMarketOrder Op = "marketOrder"
	OpCancel      Op = "cancel"
	OpPositions   Op = "positions"
	OpStopLoss    Op = "stopLoss"
	OpQuote       Op = "quote"
)

// Config controls fault injection behavior.
type Config struct {
	Seed     int64          `json:"seed"`
	FailRate float64        `json:"failRate"`
	PerOp    map[Op]float64 `json:"perOp"`
	// FailFirst fails the first N calls of an op, then lets every call through.
	FailFirst map[Op]int    `json:"failFirst"`
	MaxDelay  time.Duration `json:"maxDelay"`
}

// Engine decides which calls fail and how long they take.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	rng    *rand.Rand
	calls  map[Op]int
	faults map[Op]int
}

// NewEngine creates a chaos engine with validation.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		calls:  make(map[Op]int),
		faults: make(map[Op]int),
	}, nil
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.FailRate < 0 || c.FailRate > 1 {
		return fmt.Errorf("failRate must be between 0 and 1")
	}
	for op, rate := range c.PerOp {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("perOp[%s] must be between 0 and 1", op)
		}
	}
	for op, n := range c.FailFirst {
		if n < 0 {
			return fmt.Errorf("failFirst[%s] must be >= 0", op)
		}
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("maxDelay must be >= 0")
	}
	return nil
}

// Fail reports whether this call of op should fail.
func (e *Engine) Fail(op Op) bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls[op]++
	if n := e.cfg.FailFirst[op]; n > 0 && e.calls[op] <= n {
		e.faults[op]++
		return true
	}
	rate := e.cfg.FailRate
	if r, ok := e.cfg.PerOp[op]; ok {
		rate = r
	}
	if rate > 0 && e.rng.Float64() < rate {
		e.faults[op]++
		return true
	}
	return false
}

// Delay returns a random latency in [0, MaxDelay].
func (e *Engine) Delay() time.Duration {
	if e == nil || e.cfg.MaxDelay <= 0 {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Duration(e.rng.Int63n(e.cfg.MaxDelay.Nanoseconds() + 1))
}

// Calls returns how many times op was checked.
func (e *Engine) Calls(op Op) int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

// Faults returns how many times op was failed.
func (e *Engine) Faults(op Op) int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.faults[op]
}
