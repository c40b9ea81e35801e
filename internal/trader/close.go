package trader

import (
	"context"
	"errors"
	"fmt"

	"hedgebot/internal/exchange"
	"hedgebot/internal/model"
	"hedgebot/internal/model/enum"
	"hedgebot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"
)

// closeResult is the close outcome of one account.
type closeResult struct {
	Account string
	Market  string
	// Closed is true when the account holds no position on the market afterwards.
	Closed bool
	// Had is true when a position was found and an order was sent to close it.
	Had bool
	Via string
	PnL decimal.Decimal
	Err error
}

// closeAccounts closes every account concurrently, staggering the starts.
func (t *Trader) closeAccounts(ctx context.Context, b model.Batch, accounts []string, stagger model.DurationRange) []closeResult {
	results := make([]closeResult, len(accounts))
	var g errgroup.Group
	for i, account := range accounts {
		if i > 0 {
			if err := t.sleep(ctx, t.rnd.duration(stagger)); err != nil {
				for j := i; j < len(accounts); j++ {
					results[j] = closeResult{Account: accounts[j], Market: b.Market, Err: err}
				}
				break
			}
		}
		g.Go(func() error {
			results[i] = t.closeAccount(ctx, b, account)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// closeAccount flattens the account position on the batch market in the batch mode.
func (t *Trader) closeAccount(ctx context.Context, b model.Batch, account string) closeResult {
	if t.cfg.Mode == enum.OrderModeLimit {
		return t.closeLimit(ctx, b, account)
	}
	return t.closeMarket(ctx, b, account)
}

func (t *Trader) closeLimit(ctx context.Context, b model.Batch, account string) closeResult {
	res := closeResult{Account: account, Market: b.Market}
	var lastErr error
	for attempt := 1; attempt <= t.cfg.MaxCloseRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		r, err := t.tryLimitClose(ctx, b, account)
		if err == nil {
			return r
		}
		res.Had = res.Had || r.Had
		lastErr = err
		logs.Warnf("limit close %s on %s attempt %d/%d, err: %v", account, b.Market, attempt, t.cfg.MaxCloseRetries, err)
	}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	if t.cfg.MarketFallback {
		logs.Warnf("limit close %s exhausted %d attempts, falling back to market", account, t.cfg.MaxCloseRetries)
		t.metrics.IncCloseFallback()
		r, err := t.closeMarketOnce(ctx, b, account, model.OrderPurposeCloseFallback)
		r.Had = r.Had || res.Had
		if err != nil {
			r.Err = fmt.Errorf("%w, account: %s, err: %v", exception.ErrOrderCloseFailed, account, err)
			return r
		}
		if r.Via == ViaMarket {
			r.Via = ViaFallback
		}
		return r
	}
	res.Err = fmt.Errorf("%w, account: %s, attempts: %d, last: %v", exception.ErrOrderCloseFailed, account, t.cfg.MaxCloseRetries, lastErr)
	return res
}

// tryLimitClose is one reduce-only limit attempt. A nil error means the account is flat.
func (t *Trader) tryLimitClose(ctx context.Context, b model.Batch, account string) (closeResult, error) {
	res := closeResult{Account: account, Market: b.Market}
	if n, err := t.client.CancelAllOrders(ctx, account, b.Market); err != nil {
		logs.Warnf("cancel stale orders of %s, err: %+v", account, err)
	} else if n > 0 {
		if err := t.sleep(ctx, cancelPause); err != nil {
			return res, err
		}
	}

	pos, found, err := t.position(ctx, account, b.Market)
	if errors.Is(err, exception.ErrMarketMismatch) {
		logs.Warnf("close %s: %v", account, err)
		res.Closed, res.Via = true, ViaNone
		return res, nil
	}
	if err != nil {
		_ = t.sleep(ctx, t.rnd.duration(t.cfg.RetryDelay))
		return res, err
	}
	if !found {
		t.cancelResidual(ctx, account, b.Market)
		res.Closed, res.Via = true, ViaNone
		return res, nil
	}
	res.Had = true

	bk, err := t.touch(ctx, b.Market)
	if err != nil {
		_ = t.sleep(ctx, t.rnd.duration(t.cfg.RetryDelay))
		return res, err
	}
	side := pos.Side.CloseSide()
	price, err := t.limitPrice(b.Market, side, bk)
	if err != nil {
		_ = t.sleep(ctx, t.rnd.duration(t.cfg.RetryDelay))
		return res, err
	}
	order, err := t.client.PlaceLimitOrder(ctx, account, exchange.OrderRequest{
		Market:      b.Market,
		Side:        side,
		Quantity:    pos.Size,
		Price:       price,
		TimeInForce: enum.OrderTimeInForceGTC,
		ReduceOnly:  true,
	})
	t.recordOrder(ctx, b, account, order.ID, side, enum.OrderModeLimit, model.OrderPurposeClose, pos.Size, price, err)
	if err != nil {
		_ = t.sleep(ctx, t.rnd.duration(t.cfg.RetryDelay))
		return res, err
	}

	if t.waitFor(ctx, t.cfg.CloseTimeout, func() bool { return t.isFlat(ctx, account, b.Market) }) {
		t.cancelResidual(ctx, account, b.Market)
		res.Closed, res.Via, res.PnL = true, ViaLimit, pos.UnrealizedPnL
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if err := t.client.CancelOrder(ctx, account, order.ID); err != nil {
		logs.Warnf("cancel unfilled close %s of %s, err: %+v", order.ID, account, err)
	}
	_ = t.sleep(ctx, t.cfg.CheckInterval)
	return res, fmt.Errorf("%w, account: %s, order: %s", exception.ErrOrderNotFilled, account, order.ID)
}

// closeMarket retries a reduce-only market close up to MaxCloseRetries.
func (t *Trader) closeMarket(ctx context.Context, b model.Batch, account string) closeResult {
	res := closeResult{Account: account, Market: b.Market}
	var lastErr error
	for attempt := 1; attempt <= t.cfg.MaxCloseRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		r, err := t.closeMarketOnce(ctx, b, account, model.OrderPurposeClose)
		if err == nil {
			return r
		}
		res.Had = res.Had || r.Had
		lastErr = err
		logs.Warnf("market close %s on %s attempt %d/%d, err: %v", account, b.Market, attempt, t.cfg.MaxCloseRetries, err)
		if err := t.sleep(ctx, t.rnd.duration(t.cfg.RetryDelay)); err != nil {
			res.Err = err
			return res
		}
	}
	res.Err = fmt.Errorf("%w, account: %s, attempts: %d, last: %v", exception.ErrOrderCloseFailed, account, t.cfg.MaxCloseRetries, lastErr)
	return res
}

// closeMarketOnce sends one aggressive reduce-only IOC order and verifies the account is flat.
func (t *Trader) closeMarketOnce(ctx context.Context, b model.Batch, account string, purpose model.OrderPurpose) (closeResult, error) {
	res := closeResult{Account: account, Market: b.Market}
	pos, found, err := t.position(ctx, account, b.Market)
	if errors.Is(err, exception.ErrMarketMismatch) {
		logs.Warnf("close %s: %v", account, err)
		res.Closed, res.Via = true, ViaNone
		return res, nil
	}
	if err != nil {
		return res, err
	}
	if !found {
		t.cancelResidual(ctx, account, b.Market)
		res.Closed, res.Via = true, ViaNone
		return res, nil
	}
	res.Had = true

	side := pos.Side.CloseSide()
	_, worst, err := t.marketPrices(ctx, b.Market, side)
	if err != nil {
		return res, err
	}
	order, err := t.client.PlaceMarketOrder(ctx, account, exchange.OrderRequest{
		Market:      b.Market,
		Side:        side,
		Quantity:    pos.Size,
		Price:       worst,
		TimeInForce: enum.OrderTimeInForceIOC,
		ReduceOnly:  true,
	})
	t.recordOrder(ctx, b, account, order.ID, side, enum.OrderModeMarket, purpose, pos.Size, worst, err)
	if err != nil {
		return res, err
	}
	if err := t.sleep(ctx, t.cfg.MarketSettle); err != nil {
		return res, err
	}
	if !t.isFlat(ctx, account, b.Market) {
		return res, fmt.Errorf("%w, account: %s, order: %s", exception.ErrOrderNotFilled, account, order.ID)
	}
	t.cancelResidual(ctx, account, b.Market)
	res.Closed, res.Via, res.PnL = true, ViaMarket, pos.UnrealizedPnL
	return res, nil
}

// isFlat reports whether the account has no position on market. Query failures count as not flat.
func (t *Trader) isFlat(ctx context.Context, account, market string) bool {
	_, found, err := t.position(ctx, account, market)
	if errors.Is(err, exception.ErrMarketMismatch) {
		return true
	}
	return err == nil && !found
}
