package pool

import (
	"context"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
	"time"

	"hedgebot/pkg/exception"

	"github.com/yanun0323/logs"
)

const defaultWaitPoll = 500 * time.Millisecond

// Config controls cooldown and auto-disable behavior.
type Config struct {
	Cooldown             time.Duration
	MaxConsecutiveErrors int
	WaitPoll             time.Duration
	Rand                 *rand.Rand
	Now                  func() time.Time
}

// Pool assigns accounts to batches. All transitions run under one mutex.
type Pool struct {
	mu       sync.Mutex
	accounts map[string]*Status
	order    []string

	cooldown  time.Duration
	maxErrors int
	waitPoll  time.Duration
	rng       *rand.Rand
	now       func() time.Time
}

// New creates a pool with every account available.
func New(ids []string, cfg Config) (*Pool, error) {
	if len(ids) == 0 {
		return nil, exception.ErrPoolEmpty
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(uint64(cfg.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	if cfg.WaitPoll <= 0 {
		cfg.WaitPoll = defaultWaitPoll
	}

	p := &Pool{
		accounts:  make(map[string]*Status, len(ids)),
		order:     make([]string, 0, len(ids)),
		cooldown:  cfg.Cooldown,
		maxErrors: cfg.MaxConsecutiveErrors,
		waitPoll:  cfg.WaitPoll,
		rng:       cfg.Rand,
		now:       cfg.Now,
	}
	for _, id := range ids {
		if _, ok := p.accounts[id]; ok {
			return nil, exception.ErrPoolDuplicateAccount
		}
		p.accounts[id] = &Status{ID: id, State: StateAvailable}
		p.order = append(p.order, id)
	}
	return p, nil
}

// SelectBatch moves min(size, available) accounts to in_trade.
// It returns false without side effects when fewer than minSize are available.
func (p *Pool) SelectBatch(size, minSize int, balanced bool) ([]string, bool) {
	if size <= 0 {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.expireLocked(now)

	candidates := make([]*Status, 0, len(p.order))
	for _, id := range p.order {
		if s := p.accounts[id]; s.State == StateAvailable {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) < minSize || len(candidates) == 0 {
		logs.Debugf("pool: not enough accounts, available: %d, need: %d", len(candidates), minSize)
		return nil, false
	}

	count := min(size, len(candidates))
	p.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if balanced {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].TradeCount < candidates[j].TradeCount
		})
		window := candidates[:min(2*size, len(candidates))]
		p.rng.Shuffle(len(window), func(i, j int) {
			window[i], window[j] = window[j], window[i]
		})
		candidates = window
	}

	selected := make([]string, 0, count)
	for _, s := range candidates[:count] {
		s.State = StateInTrade
		s.Held = true
		s.ReleaseAt = time.Time{}
		s.LastTradeAt = now
		selected = append(selected, s.ID)
	}
	return selected, true
}

// Release moves in_trade accounts to cooldown with the pool default.
func (p *Pool) Release(ids []string) {
	p.ReleaseWithCooldown(ids, p.cooldown)
}

// ReleaseWithCooldown moves in_trade accounts to cooldown for d and counts the trade.
func (p *Pool) ReleaseWithCooldown(ids []string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, id := range ids {
		s, ok := p.accounts[id]
		if !ok {
			logs.Warnf("pool: release unknown account %s", id)
			continue
		}
		s.Held = false
		if !canTransition(s.State, StateCooldown) {
			logs.Debugf("pool: skip release of %s in state %s", id, s.State)
			continue
		}
		s.State = StateCooldown
		s.ReleaseAt = now.Add(d)
		s.TradeCount++
	}
}

// ReleaseImmediately moves in_trade accounts straight back to available.
func (p *Pool) ReleaseImmediately(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range ids {
		s, ok := p.accounts[id]
		if !ok {
			logs.Warnf("pool: release unknown account %s", id)
			continue
		}
		s.Held = false
		if s.State != StateInTrade {
			continue
		}
		s.State = StateAvailable
		s.ReleaseAt = time.Time{}
	}
}

// Disable excludes an account from selection until Enable.
func (p *Pool) Disable(id, reason string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disableLocked(id, reason)
}

func (p *Pool) disableLocked(id, reason string) bool {
	s, ok := p.accounts[id]
	if !ok {
		logs.Warnf("pool: disable unknown account %s", id)
		return false
	}
	if s.State == StateDisabled {
		return false
	}
	s.State = StateDisabled
	s.ReleaseAt = time.Time{}
	s.DisabledReason = reason
	logs.Warnf("pool: account %s disabled, reason: %s", id, reason)
	return true
}

// Enable returns a disabled account to available and clears its error count.
// An account still held by a batch goes back to in_trade until it is released.
func (p *Pool) Enable(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.accounts[id]
	if !ok {
		logs.Warnf("pool: enable unknown account %s", id)
		return false
	}
	if s.State != StateDisabled {
		return false
	}
	s.State = StateAvailable
	if s.Held {
		s.State = StateInTrade
	}
	s.DisabledReason = ""
	s.ConsecutiveErrors = 0
	return true
}

// ReportError counts a consecutive failure and disables the account at the threshold.
func (p *Pool) ReportError(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.accounts[id]
	if !ok {
		logs.Warnf("pool: report error for unknown account %s", id)
		return
	}
	s.ConsecutiveErrors++
	if p.maxErrors > 0 && s.ConsecutiveErrors >= p.maxErrors {
		p.disableLocked(id, "too many consecutive errors")
	}
}

// ReportSuccess resets the consecutive error counter.
func (p *Pool) ReportSuccess(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.accounts[id]; ok {
		s.ConsecutiveErrors = 0
	}
}

// Stats counts accounts by state after expiring finished cooldowns.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.expireLocked(p.now())
	return p.statsLocked()
}

func (p *Pool) statsLocked() Stats {
	st := Stats{Total: len(p.accounts)}
	for _, s := range p.accounts {
		switch s.State {
		case StateAvailable:
			st.Available++
		case StateInTrade:
			st.InTrade++
		case StateCooldown:
			st.Cooldown++
		case StateDisabled:
			st.Disabled++
		}
	}
	if st.Total > 0 {
		st.Utilization = float64(st.InTrade+st.Cooldown) / float64(st.Total) * 100
	}
	return st
}

// Status returns a copy of one account's status.
func (p *Pool) Status(id string) (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.expireLocked(p.now())
	s, ok := p.accounts[id]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

// Accounts lists every account id in construction order.
func (p *Pool) Accounts() []string {
	return slices.Clone(p.order)
}

// WaitForAvailable polls until at least minCount accounts are available.
func (p *Pool) WaitForAvailable(ctx context.Context, minCount int, timeout time.Duration) bool {
	if p.Stats().Available >= minCount {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(p.waitPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return p.Stats().Available >= minCount
		case <-ticker.C:
			if p.Stats().Available >= minCount {
				return true
			}
		}
	}
}

func (p *Pool) expireLocked(now time.Time) {
	for _, s := range p.accounts {
		if s.State == StateCooldown && !now.Before(s.ReleaseAt) {
			s.State = StateAvailable
			s.ReleaseAt = time.Time{}
		}
	}
}
