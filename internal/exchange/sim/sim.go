package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"hedgebot/internal/chaos"
	"hedgebot/internal/exchange"
	"hedgebot/internal/model/enum"
	"hedgebot/internal/rules"
	"hedgebot/pkg/exception"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

var (
	_ exchange.Client      = (*Exchange)(nil)
	_ exchange.QuoteSource = (*Exchange)(nil)
)

// Config controls the paper exchange.
type Config struct {
	// Prices seeds the reference price per base market.
	Prices map[string]decimal.Decimal
	// SpreadPercent is the full bid/ask spread in percent of price.
	SpreadPercent decimal.Decimal
	// LimitFillRate is the probability that a limit order fills on placement.
	LimitFillRate float64
	Seed          int64
	Chaos         *chaos.Engine
	// Sleep replaces time.Sleep for injected delays.
	Sleep func(context.Context, time.Duration) error
}

type account struct {
	leverage  map[string]int
	orders    map[string]exchange.Order
	positions map[string]*exchange.Position
	stops     map[string]exchange.StopLossRequest
}

// Exchange is an in-memory venue that fills orders against reference prices.
type Exchange struct {
	mu       sync.Mutex
	cfg      Config
	rng      *rand.Rand
	prices   map[string]decimal.Decimal
	accounts map[string]*account
	stats    Stats
	// history keeps every accepted order in placement order.
	history []exchange.Order
}

// Stats counts calls that reached the venue.
type Stats struct {
	LimitOrders  int
	MarketOrders int
	Fills        int
	Cancels      int
	MassCancels  int
	StopLosses   int
	StopsHit     int
}

// New creates an exchange for the given accounts.
func New(accounts []string, cfg Config) *Exchange {
	if cfg.SpreadPercent.IsZero() {
		cfg.SpreadPercent = decimal.RequireFromString("0.02")
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	e := &Exchange{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		prices:   make(map[string]decimal.Decimal, len(cfg.Prices)),
		accounts: make(map[string]*account, len(accounts)),
	}
	for m, p := range cfg.Prices {
		e.prices[rules.Base(m)] = p
	}
	for _, id := range accounts {
		e.accounts[id] = &account{
			leverage:  make(map[string]int),
			orders:    make(map[string]exchange.Order),
			positions: make(map[string]*exchange.Position),
			stops:     make(map[string]exchange.StopLossRequest),
		}
	}
	return e
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Exchange) call(ctx context.Context, op chaos.Op) error {
	if err := e.cfg.Sleep(ctx, e.cfg.Chaos.Delay()); err != nil {
		return err
	}
	if e.cfg.Chaos.Fail(op) {
		return errors.Wrapf(exception.ErrExchangeUnavailable, "injected %s failure", op)
	}
	return nil
}

func (e *Exchange) account(id string) (*account, error) {
	acc, ok := e.accounts[id]
	if !ok {
		return nil, errors.Errorf("unknown account %s", id)
	}
	return acc, nil
}

// SetLeverage stores the leverage used for margin of later fills.
func (e *Exchange) SetLeverage(ctx context.Context, accountID, market string, leverage int) error {
	if err := e.call(ctx, chaos.OpSetLeverage); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	acc, err := e.account(accountID)
	if err != nil {
		return err
	}
	if leverage <= 0 {
		return errors.Wrapf(exception.ErrInvalidArgument, "leverage %d", leverage)
	}
	acc.leverage[rules.Base(market)] = leverage
	return nil
}

// PlaceLimitOrder rests the order and fills it with LimitFillRate probability.
func (e *Exchange) PlaceLimitOrder(ctx context.Context, accountID string, req exchange.OrderRequest) (exchange.Order, error) {
	if err := e.call(ctx, chaos.OpLimitOrder); err != nil {
		return exchange.Order{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	acc, err := e.account(accountID)
	if err != nil {
		return exchange.Order{}, err
	}
	order, err := e.newOrderLocked(accountID, req)
	if err != nil {
		return exchange.Order{}, err
	}
	e.stats.LimitOrders++
	if e.cfg.LimitFillRate > 0 && e.rng.Float64() < e.cfg.LimitFillRate {
		e.fillLocked(acc, order, req.ReduceOnly)
		return order, nil
	}
	acc.orders[order.ID] = order
	return order, nil
}

// PlaceMarketOrder fills at the touch immediately, or not at all when the limit is through it.
func (e *Exchange) PlaceMarketOrder(ctx context.Context, accountID string, req exchange.OrderRequest) (exchange.Order, error) {
	if err := e.call(ctx, chaos.OpMarketOrder); err != nil {
		return exchange.Order{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	acc, err := e.account(accountID)
	if err != nil {
		return exchange.Order{}, err
	}
	order, err := e.newOrderLocked(accountID, req)
	if err != nil {
		return exchange.Order{}, err
	}
	e.stats.MarketOrders++
	if ref, ok := e.prices[order.Market]; ok {
		bid, ask := e.touchLocked(ref)
		fill := ask
		if order.Side == enum.OrderSideSell {
			fill = bid
		}
		through := order.Side == enum.OrderSideBuy && fill.GreaterThan(order.Price) ||
			order.Side == enum.OrderSideSell && fill.LessThan(order.Price)
		if req.Price.IsPositive() && through {
			// IOC expires unfilled
			return order, nil
		}
		order.Price = fill
		e.history[len(e.history)-1].Price = fill
	}
	e.fillLocked(acc, order, req.ReduceOnly)
	return order, nil
}

func (e *Exchange) newOrderLocked(accountID string, req exchange.OrderRequest) (exchange.Order, error) {
	if !req.Quantity.IsPositive() {
		return exchange.Order{}, errors.Wrapf(exception.ErrExchangeRejected, "quantity %s", req.Quantity)
	}
	if !req.Side.IsAvailable() {
		return exchange.Order{}, errors.Wrap(exception.ErrExchangeRejected, "unknown side")
	}
	market := rules.Base(req.Market)
	price := req.Price
	if !price.IsPositive() {
		ref, ok := e.prices[market]
		if !ok {
			return exchange.Order{}, errors.Wrapf(exception.ErrExchangeRejected, "no price for %s", market)
		}
		price = ref
	}
	order := exchange.Order{
		ID:       uuid.NewString(),
		ClientID: uuid.NewString(),
		Account:  accountID,
		Market:   market,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    price,
	}
	e.history = append(e.history, order)
	return order, nil
}

func (e *Exchange) fillLocked(acc *account, order exchange.Order, reduceOnly bool) {
	e.stats.Fills++
	pos, ok := acc.positions[order.Market]
	if !ok || !pos.IsOpen() {
		if reduceOnly {
			return
		}
		side := enum.PositionSideLong
		if order.Side == enum.OrderSideSell {
			side = enum.PositionSideShort
		}
		acc.positions[order.Market] = &exchange.Position{
			Market:     order.Market,
			Side:       side,
			Size:       order.Quantity,
			EntryPrice: order.Price,
		}
		return
	}

	if pos.Side.OpenSide() == order.Side {
		if reduceOnly {
			return
		}
		total := pos.Size.Add(order.Quantity)
		pos.EntryPrice = pos.EntryPrice.Mul(pos.Size).Add(order.Price.Mul(order.Quantity)).Div(total)
		pos.Size = total
		return
	}

	remaining := pos.Size.Sub(order.Quantity)
	switch {
	case remaining.IsPositive():
		pos.Size = remaining
	case remaining.IsZero() || reduceOnly:
		delete(acc.positions, order.Market)
		delete(acc.stops, order.Market)
	default:
		pos.Side = enum.PositionSideLong
		if order.Side == enum.OrderSideSell {
			pos.Side = enum.PositionSideShort
		}
		pos.Size = remaining.Abs()
		pos.EntryPrice = order.Price
	}
}

// CancelOrder removes a resting order.
func (e *Exchange) CancelOrder(ctx context.Context, accountID, orderID string) error {
	if err := e.call(ctx, chaos.OpCancel); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	acc, err := e.account(accountID)
	if err != nil {
		return err
	}
	if _, ok := acc.orders[orderID]; !ok {
		return errors.Wrapf(exception.ErrExchangeUnknownOrder, "order %s", orderID)
	}
	delete(acc.orders, orderID)
	e.stats.Cancels++
	return nil
}

// CancelAllOrders removes resting orders of one market, or all when market is empty.
func (e *Exchange) CancelAllOrders(ctx context.Context, accountID, market string) (int, error) {
	if err := e.call(ctx, chaos.OpCancel); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	acc, err := e.account(accountID)
	if err != nil {
		return 0, err
	}
	base := rules.Base(market)
	n := 0
	for id, o := range acc.orders {
		if market == "" || o.Market == base {
			delete(acc.orders, id)
			n++
		}
	}
	e.stats.Cancels++
	return n, nil
}

// MassCancel removes every resting order of the account.
func (e *Exchange) MassCancel(ctx context.Context, accountID string) error {
	if err := e.call(ctx, chaos.OpCancel); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	acc, err := e.account(accountID)
	if err != nil {
		return err
	}
	clear(acc.orders)
	e.stats.MassCancels++
	return nil
}

// Positions reports open positions valued at the reference price.
func (e *Exchange) Positions(ctx context.Context, accountID, market string) ([]exchange.Position, error) {
	if err := e.call(ctx, chaos.OpPositions); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	acc, err := e.account(accountID)
	if err != nil {
		return nil, err
	}
	base := rules.Base(market)
	out := make([]exchange.Position, 0, len(acc.positions))
	for m, pos := range acc.positions {
		if market != "" && m != base {
			continue
		}
		out = append(out, e.valueLocked(accountID, acc, *pos))
	}
	return out, nil
}

func (e *Exchange) valueLocked(accountID string, acc *account, pos exchange.Position) exchange.Position {
	pos.Account = accountID
	mark, ok := e.prices[pos.Market]
	if !ok {
		mark = pos.EntryPrice
	}
	lev := acc.leverage[pos.Market]
	if lev <= 0 {
		lev = 1
	}
	pos.MarkPrice = mark
	pos.Leverage = decimal.NewFromInt(int64(lev))
	pos.Notional = pos.Size.Mul(mark)
	pos.Margin = pos.Size.Mul(pos.EntryPrice).Div(pos.Leverage)
	diff := mark.Sub(pos.EntryPrice)
	if pos.Side == enum.PositionSideShort {
		diff = diff.Neg()
	}
	pos.UnrealizedPnL = diff.Mul(pos.Size)
	return pos
}

// PlaceStopLoss registers a native stop triggered by SetPrice.
func (e *Exchange) PlaceStopLoss(ctx context.Context, accountID string, req exchange.StopLossRequest) error {
	if err := e.call(ctx, chaos.OpStopLoss); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	acc, err := e.account(accountID)
	if err != nil {
		return err
	}
	if !req.TriggerPrice.IsPositive() {
		return errors.Wrap(exception.ErrInvalidArgument, "trigger price")
	}
	market := rules.Base(req.Market)
	if _, ok := acc.positions[market]; !ok {
		return errors.Wrapf(exception.ErrExchangeRejected, "no position on %s", market)
	}
	acc.stops[market] = req
	e.stats.StopLosses++
	return nil
}

// Quote derives bid/ask from the reference price and configured spread.
func (e *Exchange) Quote(ctx context.Context, market string) (exchange.Quote, error) {
	if err := e.call(ctx, chaos.OpQuote); err != nil {
		return exchange.Quote{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	mark, ok := e.prices[rules.Base(market)]
	if !ok {
		return exchange.Quote{}, errors.Errorf("no price for %s", market)
	}
	bid, ask := e.touchLocked(mark)
	return exchange.Quote{Bid: bid, Ask: ask, Mark: mark}, nil
}

func (e *Exchange) touchLocked(mark decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	half := mark.Mul(e.cfg.SpreadPercent).Div(decimal.NewFromInt(200))
	return mark.Sub(half), mark.Add(half)
}

// SetPrice moves the reference price and triggers native stops.
func (e *Exchange) SetPrice(market string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := rules.Base(market)
	e.prices[base] = price
	for _, acc := range e.accounts {
		stop, ok := acc.stops[base]
		if !ok {
			continue
		}
		hit := stop.Side == enum.PositionSideLong && price.LessThanOrEqual(stop.TriggerPrice) ||
			stop.Side == enum.PositionSideShort && price.GreaterThanOrEqual(stop.TriggerPrice)
		if hit {
			delete(acc.positions, base)
			delete(acc.stops, base)
			e.stats.StopsHit++
		}
	}
}

// Price returns the reference price of a market.
func (e *Exchange) Price(market string) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.prices[rules.Base(market)]
	return p, ok
}

// Touch returns the simulated best bid/ask of a market.
func (e *Exchange) Touch(market string) (bid, ask decimal.Decimal, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	mark, ok := e.prices[rules.Base(market)]
	if !ok {
		return decimal.Zero, decimal.Zero, false
	}
	bid, ask = e.touchLocked(mark)
	return bid, ask, true
}

// OpenOrders counts resting orders of an account.
func (e *Exchange) OpenOrders(accountID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if acc, ok := e.accounts[accountID]; ok {
		return len(acc.orders)
	}
	return 0
}

// Leverage returns the last leverage set for account/market.
func (e *Exchange) Leverage(accountID, market string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if acc, ok := e.accounts[accountID]; ok {
		return acc.leverage[rules.Base(market)]
	}
	return 0
}

// Stats returns call counters.
func (e *Exchange) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// History returns every accepted order.
func (e *Exchange) History() []exchange.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]exchange.Order, len(e.history))
	copy(out, e.history)
	return out
}
