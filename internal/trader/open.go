package trader

import (
	"context"
	"fmt"

	"hedgebot/internal/exchange"
	"hedgebot/internal/model"
	"hedgebot/internal/model/enum"
	"hedgebot/internal/risk"
	"hedgebot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"
)

// legResult is the open outcome of one account.
type legResult struct {
	leg
	Opened   bool
	Via      string
	Attempts int
	Err      error
}

// openBatch opens every leg concurrently, staggering the starts by BetweenOrders.
func (t *Trader) openBatch(ctx context.Context, b model.Batch, legs []leg) []legResult {
	results := make([]legResult, len(legs))
	var g errgroup.Group
	for i, l := range legs {
		if i > 0 {
			if err := t.sleep(ctx, t.rnd.duration(t.cfg.BetweenOrders)); err != nil {
				for j := i; j < len(legs); j++ {
					results[j] = legResult{leg: legs[j], Err: err}
				}
				break
			}
		}
		g.Go(func() error {
			results[i] = t.openLeg(ctx, b, l)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (t *Trader) openLeg(ctx context.Context, b model.Batch, l leg) legResult {
	start := t.now()
	defer func() { t.metrics.ObserveOpen(t.now().Sub(start)) }()

	orderCap := t.rulesOf(b.Market).OrderCapUSD(t.cfg.Mode)
	if d := t.risk.EvaluateOrder(l.USD, orderCap); d.Action == risk.ActionDeny {
		return legResult{leg: l, Err: fmt.Errorf("%w, account: %s, usd: %s", exception.ErrOrderRiskDenied, l.Account, l.USD)}
	}
	if t.cfg.Mode == enum.OrderModeLimit {
		return t.openLimit(ctx, b, l)
	}
	res := t.openMarket(ctx, b, l, model.OrderPurposeOpen)
	res.Attempts = 1
	return res
}

// openLimit retries a passive limit order up to MaxOpenRetries. Exhaustion fails the leg
// unless OpenMarketFallback is set.
func (t *Trader) openLimit(ctx context.Context, b model.Batch, l leg) legResult {
	res := legResult{leg: l}
	var lastErr error
	for attempt := 1; attempt <= t.cfg.MaxOpenRetries; attempt++ {
		res.Attempts = attempt
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		filled, err := t.tryLimitOpen(ctx, b, l)
		if filled {
			t.metrics.IncFill(false)
			res.Opened, res.Via = true, ViaLimit
			return res
		}
		lastErr = err
		logs.Warnf("limit open %s %s on %s attempt %d/%d, err: %v", l.Account, l.Side, b.Market, attempt, t.cfg.MaxOpenRetries, err)
	}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	if t.cfg.OpenMarketFallback {
		logs.Warnf("limit open %s exhausted %d attempts, falling back to market", l.Account, t.cfg.MaxOpenRetries)
		fb := t.openMarket(ctx, b, l, model.OrderPurposeOpenFallback)
		fb.Attempts = res.Attempts + 1
		if fb.Opened {
			fb.Via = ViaFallback
		}
		return fb
	}
	res.Err = fmt.Errorf("%w, account: %s, attempts: %d, last: %v", exception.ErrOrderOpenRetryExhausted, l.Account, res.Attempts, lastErr)
	return res
}

// tryLimitOpen is one limit attempt. It returns true once the position is observed.
func (t *Trader) tryLimitOpen(ctx context.Context, b model.Batch, l leg) (bool, error) {
	if n, err := t.client.CancelAllOrders(ctx, l.Account, b.Market); err != nil {
		logs.Warnf("cancel stale orders of %s, err: %+v", l.Account, err)
	} else if n > 0 {
		if err := t.sleep(ctx, cancelPause); err != nil {
			return false, err
		}
	}

	bk, err := t.touch(ctx, b.Market)
	if err != nil {
		_ = t.sleep(ctx, t.rnd.duration(t.cfg.RetryDelay))
		return false, err
	}
	side := l.Side.OpenSide()
	price, err := t.limitPrice(b.Market, side, bk)
	if err != nil {
		_ = t.sleep(ctx, t.rnd.duration(t.cfg.RetryDelay))
		return false, err
	}
	qty := t.rulesOf(b.Market).SizeFor(l.USD, price)
	if !qty.IsPositive() {
		return false, fmt.Errorf("%w, account: %s, usd: %s, price: %s", exception.ErrOrderInvalidQuantity, l.Account, l.USD, price)
	}

	order, err := t.client.PlaceLimitOrder(ctx, l.Account, exchange.OrderRequest{
		Market:      b.Market,
		Side:        side,
		Quantity:    qty,
		Price:       price,
		TimeInForce: enum.OrderTimeInForceGTC,
	})
	t.recordOrder(ctx, b, l.Account, order.ID, side, enum.OrderModeLimit, model.OrderPurposeOpen, qty, price, err)
	if err != nil {
		_ = t.sleep(ctx, t.rnd.duration(t.cfg.RetryDelay))
		return false, err
	}

	if t.waitFor(ctx, t.cfg.ExecutionTimeout, func() bool {
		return t.hasPosition(ctx, l.Account, b.Market, l.Side)
	}) {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err := t.client.CancelOrder(ctx, l.Account, order.ID); err != nil {
		logs.Warnf("cancel unfilled order %s of %s, err: %+v", order.ID, l.Account, err)
	}
	if err := t.sleep(ctx, t.cfg.CancelSettle); err != nil {
		return false, err
	}
	// the order may have filled between the last poll and the cancel
	if t.hasPosition(ctx, l.Account, b.Market, l.Side) {
		return true, nil
	}
	_ = t.sleep(ctx, t.cfg.CheckInterval)
	return false, fmt.Errorf("%w, account: %s, order: %s", exception.ErrOrderNotFilled, l.Account, order.ID)
}

// openMarket sends one aggressive IOC order and verifies the position once.
func (t *Trader) openMarket(ctx context.Context, b model.Batch, l leg, purpose model.OrderPurpose) legResult {
	res := legResult{leg: l}
	side := l.Side.OpenSide()
	ref, worst, err := t.marketPrices(ctx, b.Market, side)
	if err != nil {
		res.Err = err
		return res
	}
	qty := t.rulesOf(b.Market).SizeFor(l.USD, ref)
	if !qty.IsPositive() {
		res.Err = fmt.Errorf("%w, account: %s, usd: %s, price: %s", exception.ErrOrderInvalidQuantity, l.Account, l.USD, ref)
		return res
	}

	order, err := t.client.PlaceMarketOrder(ctx, l.Account, exchange.OrderRequest{
		Market:      b.Market,
		Side:        side,
		Quantity:    qty,
		Price:       worst,
		TimeInForce: enum.OrderTimeInForceIOC,
	})
	t.recordOrder(ctx, b, l.Account, order.ID, side, enum.OrderModeMarket, purpose, qty, worst, err)
	if err != nil {
		res.Err = err
		return res
	}
	if err := t.sleep(ctx, t.cfg.MarketSettle); err != nil {
		res.Err = err
		return res
	}
	if !t.hasPosition(ctx, l.Account, b.Market, l.Side) {
		res.Err = fmt.Errorf("%w, account: %s, order: %s", exception.ErrOrderNotFilled, l.Account, order.ID)
		return res
	}
	t.metrics.IncFill(true)
	res.Opened, res.Via = true, ViaMarket
	return res
}

func (t *Trader) recordOrder(ctx context.Context, b model.Batch, account, orderID string, side enum.OrderSide, mode enum.OrderMode, purpose model.OrderPurpose, qty, price decimal.Decimal, err error) {
	ev := model.OrderEvent{
		TaskID:   b.TaskID,
		Seq:      b.Seq,
		Account:  account,
		Market:   b.Market,
		OrderID:  orderID,
		Side:     side,
		Mode:     mode,
		Purpose:  purpose,
		Quantity: qty,
		Price:    price,
		Accepted: err == nil,
	}
	if err != nil {
		ev.Err = err.Error()
	}
	t.record(ctx, ev)
}
