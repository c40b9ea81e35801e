package trader

import (
	"context"
	"errors"
	"slices"

	"hedgebot/internal/model"
	"hedgebot/internal/risk"
	"hedgebot/pkg/exception"

	"github.com/yanun0323/logs"
)

// monitorResult splits the batch accounts by how monitoring ended for them.
type monitorResult struct {
	// Open still hold a position and need closing.
	Open []string
	// Flat were closed by the venue, e.g. a native stop or liquidation.
	Flat []string
	// Stopped were closed by the client-side stop-loss.
	Stopped []closeResult
	// Discarded reported a position on another market.
	Discarded []string
}

// monitor holds the positions for a random duration, checking stop-loss every MonitorInterval.
func (t *Trader) monitor(ctx context.Context, b model.Batch, accounts []string) (monitorResult, error) {
	res := monitorResult{}
	open := slices.Clone(accounts)
	hold := t.rnd.duration(t.cfg.Hold)
	deadline := t.now().Add(hold)
	logs.Infof("batch %s holding %s for %s", b.TaskID, b.Market, hold)

	for len(open) > 0 {
		remaining := deadline.Sub(t.now())
		if remaining <= 0 {
			break
		}
		if err := t.sleep(ctx, min(t.cfg.MonitorInterval, remaining)); err != nil {
			res.Open = open
			return res, err
		}

		next := make([]string, 0, len(open))
		for _, account := range open {
			pos, found, err := t.position(ctx, account, b.Market)
			switch {
			case errors.Is(err, exception.ErrMarketMismatch):
				logs.Warnf("monitor %s: %v", account, err)
				res.Discarded = append(res.Discarded, account)
				continue
			case err != nil:
				logs.Warnf("monitor %s, position unknown, err: %v", account, err)
				next = append(next, account)
				continue
			case !found:
				logs.Infof("monitor %s: position on %s already closed", account, b.Market)
				res.Flat = append(res.Flat, account)
				continue
			}

			d := t.risk.EvaluatePosition(pos)
			if d.Action != risk.ActionClose {
				next = append(next, account)
				continue
			}
			logs.Warnf("stop loss hit on %s, margin pnl: %s%%", account, d.MarginPnLPercent.StringFixed(2))
			t.metrics.IncStopLossClose()
			r := t.closeAccount(ctx, b, account)
			if !r.Closed {
				next = append(next, account)
				continue
			}
			r.Via = ViaStopLoss
			res.Stopped = append(res.Stopped, r)
		}
		open = next
	}
	res.Open = open
	return res, nil
}
