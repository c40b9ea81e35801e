package trader

import (
	"context"
	"time"

	"hedgebot/internal/exchange"
	"hedgebot/internal/model"
	"hedgebot/internal/model/enum"
	"hedgebot/internal/obs"
	"hedgebot/internal/risk"
	"hedgebot/internal/rules"
	"hedgebot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// How a leg was opened or closed.
const (
	ViaLimit    = "limit"
	ViaMarket   = "market"
	ViaFallback = "market_fallback"
	ViaStopLoss = "stop_loss"
	ViaVenue    = "venue"
	ViaNone     = "none"
)

// cancelPause is waited after cancelling stale orders before placing a new one.
const cancelPause = time.Second

// PriceSource serves fresh top of book from the streaming cache.
type PriceSource interface {
	Prices(market string, maxAge time.Duration) (bid, ask decimal.Decimal, ok bool)
	SpreadPercent(market string) (decimal.Decimal, bool)
}

// OrderRecorder receives every order placement. Implementations must not block for long.
type OrderRecorder interface {
	RecordOrder(ctx context.Context, ev model.OrderEvent)
}

// Deps are the collaborators of a Trader. Only Client is required.
type Deps struct {
	Client   exchange.Client
	Quotes   exchange.QuoteSource
	Cache    PriceSource
	Rules    *rules.Book
	Risk     *risk.Engine
	Metrics  *obs.Metrics
	Recorder OrderRecorder
	Seed     uint64
	Now      func() time.Time
	Sleep    func(context.Context, time.Duration) error
}

// Trader runs the order pipeline of a batch.
type Trader struct {
	cfg      Config
	client   exchange.Client
	quotes   exchange.QuoteSource
	cache    PriceSource
	rules    *rules.Book
	risk     *risk.Engine
	metrics  *obs.Metrics
	recorder OrderRecorder
	rnd      *random
	now      func() time.Time
	sleepFn  func(context.Context, time.Duration) error
}

func New(cfg Config, deps Deps) (*Trader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Client == nil {
		return nil, exception.ErrExchangeNoClient
	}
	if deps.Rules == nil {
		deps.Rules = rules.NewBook()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = Sleep
	}
	if deps.Seed == 0 {
		deps.Seed = uint64(time.Now().UnixNano())
	}
	return &Trader{
		cfg:      cfg,
		client:   deps.Client,
		quotes:   deps.Quotes,
		cache:    deps.Cache,
		rules:    deps.Rules,
		risk:     deps.Risk,
		metrics:  deps.Metrics,
		recorder: deps.Recorder,
		rnd:      newRandom(deps.Seed),
		now:      deps.Now,
		sleepFn:  deps.Sleep,
	}, nil
}

func (t *Trader) Config() Config { return t.cfg }

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *Trader) sleep(ctx context.Context, d time.Duration) error {
	return t.sleepFn(ctx, d)
}

func (t *Trader) record(ctx context.Context, ev model.OrderEvent) {
	if t.recorder == nil {
		return
	}
	ev.Placed = t.now()
	t.recorder.RecordOrder(ctx, ev)
}

// hasPosition reports whether account holds a position on market with side.
func (t *Trader) hasPosition(ctx context.Context, account, market string, side enum.PositionSide) bool {
	positions, err := t.client.Positions(ctx, account, market)
	if err != nil {
		return false
	}
	pos, found, err := exchange.FindPosition(positions, market)
	if err != nil || !found {
		return false
	}
	return pos.Side == side
}

// position fetches the open position of market. found is false when flat.
func (t *Trader) position(ctx context.Context, account, market string) (exchange.Position, bool, error) {
	positions, err := t.client.Positions(ctx, account, market)
	if err != nil {
		return exchange.Position{}, false, errors.Wrapf(err, "positions of %s", account)
	}
	return exchange.FindPosition(positions, market)
}

// waitFor polls cond every check interval until it holds or timeout elapses.
func (t *Trader) waitFor(ctx context.Context, timeout time.Duration, cond func() bool) bool {
	deadline := t.now().Add(timeout)
	for {
		if cond() {
			return true
		}
		remaining := deadline.Sub(t.now())
		if remaining <= 0 {
			return false
		}
		if err := t.sleep(ctx, min(t.cfg.CheckInterval, remaining)); err != nil {
			return false
		}
	}
}

func (t *Trader) cancelResidual(ctx context.Context, account, market string) {
	if _, err := t.client.CancelAllOrders(ctx, account, market); err != nil {
		logs.Warnf("cancel residual orders of %s on %s, err: %+v", account, market, err)
	}
}
