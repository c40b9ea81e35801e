package trader

import (
	"context"
	"fmt"
	"strings"

	"hedgebot/internal/model"
	"hedgebot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

// Outcome summarizes one executed batch.
type Outcome struct {
	Batch    model.Batch
	Leverage map[string]int
	Opened   int
	Closed   int
	Attempts int
	Notional decimal.Decimal
	PnL      decimal.Decimal
	Via      string
	// Unclosed lists accounts that may still hold a position.
	Unclosed []string
	Phases   []Phase
}

// Execute runs leverage, open, optional native stops, monitor and close for one batch.
// The batch ends released on every return path. A cancelled ctx returns ctx.Err() without closing.
func (t *Trader) Execute(ctx context.Context, b model.Batch) (out Outcome, err error) {
	out = Outcome{Batch: b, PnL: decimal.Zero}
	if b.LongCount() == 0 || b.ShortCount() == 0 {
		return out, fmt.Errorf("%w, task: %s, longs: %d, shorts: %d", exception.ErrOrderEmptyBatch, b.TaskID, b.LongCount(), b.ShortCount())
	}

	tracker := NewTracker()
	defer func() {
		_ = tracker.Advance(PhaseReleased)
		out.Phases = tracker.History()
	}()

	if err := tracker.Advance(PhaseLeverage); err != nil {
		return out, err
	}
	out.Leverage = t.applyLeverage(ctx, b)

	legs := t.plan(b)
	for _, l := range legs {
		out.Notional = out.Notional.Add(l.USD)
	}
	accounts := b.Accounts()

	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		if err := tracker.Advance(PhaseOpen); err != nil {
			return out, err
		}
		results := t.openBatch(ctx, b, legs)
		if err := ctx.Err(); err != nil {
			out.Unclosed = accounts
			return out, err
		}
		failed, firstErr := openFailures(results)
		if failed == 0 {
			out.Opened = len(results)
			out.Via = openVia(results)
			break
		}

		logs.Warnf("batch %s open failed on %d/%d accounts, attempt %d/%d, err: %v", b.TaskID, failed, len(results), attempt, t.cfg.MaxBatchRetries, firstErr)
		if err := tracker.Advance(PhaseClose); err != nil {
			return out, err
		}
		unwound := t.closeAccounts(ctx, b, accounts, t.cfg.BetweenOrders)
		if unclosed := unclosedAccounts(unwound); len(unclosed) != 0 {
			out.Unclosed = unclosed
			return out, fmt.Errorf("%w, task: %s, accounts: %s", exception.ErrOrderCloseFailed, b.TaskID, strings.Join(unclosed, ","))
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if attempt >= t.cfg.MaxBatchRetries {
			return out, fmt.Errorf("%w, task: %s, attempts: %d, last: %v", exception.ErrOrderBatchAbandoned, b.TaskID, attempt, firstErr)
		}
		t.metrics.IncBatchRetry()
		if err := t.sleep(ctx, t.cfg.OnError); err != nil {
			return out, err
		}
	}

	if t.risk.NativeStopLossEnabled() {
		if err := tracker.Advance(PhaseStopLoss); err != nil {
			return out, err
		}
		if failed := t.placeStopLosses(ctx, b, accounts); failed > 0 {
			logs.Warnf("batch %s: %d native stops failed", b.TaskID, failed)
		}
	}

	if err := tracker.Advance(PhaseMonitor); err != nil {
		return out, err
	}
	mon, err := t.monitor(ctx, b, accounts)
	out.Closed = len(mon.Flat) + len(mon.Stopped) + len(mon.Discarded)
	for _, r := range mon.Stopped {
		out.PnL = out.PnL.Add(r.PnL)
	}
	if err != nil {
		out.Unclosed = mon.Open
		return out, err
	}

	if err := tracker.Advance(PhaseClose); err != nil {
		return out, err
	}
	closed := t.closeAccounts(ctx, b, mon.Open, t.cfg.BetweenOrders)
	for _, r := range closed {
		if r.Closed {
			out.Closed++
			out.PnL = out.PnL.Add(r.PnL)
		}
	}
	if unclosed := unclosedAccounts(closed); len(unclosed) != 0 {
		out.Unclosed = unclosed
		return out, fmt.Errorf("%w, task: %s, accounts: %s", exception.ErrOrderCloseFailed, b.TaskID, strings.Join(unclosed, ","))
	}
	logs.Infof("batch %s on %s done, opened: %d, closed: %d, pnl: %s", b.TaskID, b.Market, out.Opened, out.Closed, out.PnL.StringFixed(2))
	return out, nil
}

func openFailures(results []legResult) (int, error) {
	var (
		failed   int
		firstErr error
	)
	for _, r := range results {
		if r.Opened {
			continue
		}
		failed++
		if firstErr == nil {
			firstErr = r.Err
		}
	}
	return failed, firstErr
}

// openVia is the single open route of the batch, or "mixed".
func openVia(results []legResult) string {
	via := ""
	for _, r := range results {
		switch {
		case via == "":
			via = r.Via
		case via != r.Via:
			return "mixed"
		}
	}
	return via
}

func unclosedAccounts(results []closeResult) []string {
	var out []string
	for _, r := range results {
		if !r.Closed {
			out = append(out, r.Account)
		}
	}
	return out
}
