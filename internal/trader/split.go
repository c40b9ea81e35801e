package trader

import (
	"fmt"
	"slices"

	"hedgebot/internal/model"
	"hedgebot/internal/model/enum"
	"hedgebot/pkg/exception"

	"github.com/shopspring/decimal"
)

const minWeight = 0.3

var two = decimal.NewFromInt(2)

// leg is the open instruction of one account.
type leg struct {
	Account string
	Side    enum.PositionSide
	USD     decimal.Decimal
}

// splitNotional divides total into n randomized parts that sum to total exactly.
// Every weight is 1 +/- maxVariation, floored at minWeight.
func splitNotional(rnd *random, total decimal.Decimal, n int, maxVariation float64) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []decimal.Decimal{total}
	}
	weights := make([]float64, n)
	var sum float64
	for i := range weights {
		w := 1 + rnd.uniform(-maxVariation, maxVariation)
		if w < minWeight {
			w = minWeight
		}
		weights[i] = w
		sum += w
	}
	out := make([]decimal.Decimal, n)
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		out[i] = total.Mul(decimal.NewFromFloat(weights[i] / sum)).Round(2)
		allocated = allocated.Add(out[i])
	}
	out[n-1] = total.Sub(allocated)
	return out
}

// longCount picks how many of n accounts go long, leaving at least one short.
func (t *Trader) longCount(n int) int {
	hi := min(t.cfg.LongAccounts.Max, n-1)
	lo := max(min(t.cfg.LongAccounts.Min, hi), 1)
	return t.rnd.between(lo, hi)
}

// Compose shuffles the task accounts and splits them into longs and shorts.
func (t *Trader) Compose(task model.Task, seq uint64) (model.Batch, error) {
	n := len(task.Accounts)
	if n < 2 {
		return model.Batch{}, fmt.Errorf("%w, task: %s, accounts: %d", exception.ErrOrderEmptyBatch, task.ID, n)
	}
	accounts := slices.Clone(task.Accounts)
	t.rnd.shuffle(accounts)
	longs := t.longCount(n)
	return model.Batch{
		Seq:       seq,
		TaskID:    task.ID,
		Market:    task.Market,
		Longs:     accounts[:longs],
		Shorts:    accounts[longs:],
		CreatedAt: t.now(),
	}, nil
}

// plan draws the batch notional and assigns half of it to each side.
func (t *Trader) plan(b model.Batch) []leg {
	total := t.rnd.decimal(t.cfg.BatchNotional)
	half := total.Div(two).Round(2)
	variation := t.cfg.SizeVariation.Max.InexactFloat64()

	legs := make([]leg, 0, b.Total())
	for i, usd := range splitNotional(t.rnd, half, len(b.Longs), variation) {
		legs = append(legs, leg{Account: b.Longs[i], Side: enum.PositionSideLong, USD: usd})
	}
	for i, usd := range splitNotional(t.rnd, half, len(b.Shorts), variation) {
		legs = append(legs, leg{Account: b.Shorts[i], Side: enum.PositionSideShort, USD: usd})
	}
	return legs
}
