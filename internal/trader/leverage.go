package trader

import (
	"context"
	"sync"

	"hedgebot/internal/model"

	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"
)

// applyLeverage sets leverage on every batch account concurrently.
// Failures are logged and do not stop the batch.
func (t *Trader) applyLeverage(ctx context.Context, b model.Batch) map[string]int {
	choices := t.cfg.LeverageFor(b.Market).Choices()
	applied := make(map[string]int, b.Total())
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, account := range b.Accounts() {
		lev := choices[t.rnd.intn(len(choices))]
		g.Go(func() error {
			if err := t.client.SetLeverage(ctx, account, b.Market, lev); err != nil {
				logs.Warnf("set leverage %dx for %s on %s, err: %+v", lev, account, b.Market, err)
				return nil
			}
			mu.Lock()
			applied[account] = lev
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return applied
}
