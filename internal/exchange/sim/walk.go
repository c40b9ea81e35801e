package sim

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TickFunc receives the simulated top of book after every walk step.
type TickFunc func(market string, bid, ask decimal.Decimal)

// Walk moves every reference price by a random step of up to stepPercent each interval.
func (e *Exchange) Walk(ctx context.Context, interval time.Duration, stepPercent decimal.Decimal, onTick TickFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for market, next := range e.step(stepPercent) {
				e.SetPrice(market, next)
				if onTick == nil {
					continue
				}
				if bid, ask, ok := e.Touch(market); ok {
					onTick(market, bid, ask)
				}
			}
		}
	}
}

func (e *Exchange) step(stepPercent decimal.Decimal) map[string]decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]decimal.Decimal, len(e.prices))
	for market, price := range e.prices {
		move := decimal.NewFromFloat(e.rng.Float64()*2 - 1).Mul(stepPercent).Div(decimal.NewFromInt(100))
		next := price.Mul(decimal.NewFromInt(1).Add(move)).Round(8)
		if next.IsPositive() {
			out[market] = next
		}
	}
	return out
}
