package risk

import (
	"hedgebot/internal/exchange"
	"hedgebot/internal/model/enum"
	"hedgebot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Config defines stop-loss and order size limits.
type Config struct {
	StopLossEnabled bool            `json:"stopLossEnabled"`
	NativeStopLoss  bool            `json:"nativeStopLoss"`
	StopLossPercent decimal.Decimal `json:"stopLossPercent"`
	KillSwitch      bool            `json:"killSwitch"`
	MaxOrderUSD     decimal.Decimal `json:"maxOrderUsd"`
}

// Action is the outcome of an evaluation.
type Action uint8

const (
	ActionAllow Action = iota
	ActionDeny
	ActionHold
	ActionClose
)

// Reason explains a non-default action.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonKillSwitch
	ReasonMaxNotional
	ReasonStopLoss
	ReasonNoMargin
	ReasonMarketCap
)

// Decision is the result of a position or order check.
type Decision struct {
	Action           Action
	Reason           Reason
	MarginPnLPercent decimal.Decimal
}

// Engine evaluates stop-loss and order limits.
type Engine struct {
	cfg Config
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// StopLossEnabled reports whether client-side stop checks run in monitor.
func (e *Engine) StopLossEnabled() bool {
	return e != nil && e.cfg.StopLossEnabled && e.cfg.StopLossPercent.IsNegative()
}

// NativeStopLossEnabled reports whether native stops are placed after open.
func (e *Engine) NativeStopLossEnabled() bool {
	return e.StopLossEnabled() && e.cfg.NativeStopLoss
}

// EvaluateOrder checks an order of usd notional before placement.
// marketCap is the venue limit of the market, zero when it has none.
func (e *Engine) EvaluateOrder(usd, marketCap decimal.Decimal) Decision {
	if e != nil {
		if e.cfg.KillSwitch {
			return Decision{Action: ActionDeny, Reason: ReasonKillSwitch}
		}
		if e.cfg.MaxOrderUSD.IsPositive() && usd.GreaterThan(e.cfg.MaxOrderUSD) {
			return Decision{Action: ActionDeny, Reason: ReasonMaxNotional}
		}
	}
	if marketCap.IsPositive() && usd.GreaterThan(marketCap) {
		return Decision{Action: ActionDeny, Reason: ReasonMarketCap}
	}
	return Decision{Action: ActionAllow}
}

// EvaluatePosition closes a position whose margin pnl percent is at or below the stop.
func (e *Engine) EvaluatePosition(pos exchange.Position) Decision {
	pct, ok := pos.MarginPnLPercent()
	if !ok {
		return Decision{Action: ActionHold, Reason: ReasonNoMargin}
	}
	decision := Decision{Action: ActionHold, MarginPnLPercent: pct}
	if e.StopLossEnabled() && pct.LessThanOrEqual(e.cfg.StopLossPercent) {
		decision.Action = ActionClose
		decision.Reason = ReasonStopLoss
	}
	return decision
}

// TriggerPrice returns the price at which a position loses percent of its margin.
// percent is negative, e.g. -70.
func TriggerPrice(side enum.PositionSide, entry, leverage, percent decimal.Decimal) (decimal.Decimal, error) {
	if !entry.IsPositive() || !leverage.IsPositive() {
		return decimal.Zero, errors.Wrapf(exception.ErrInvalidArgument, "entry %s leverage %s", entry, leverage)
	}
	move := percent.Div(hundred).Div(leverage)
	switch side {
	case enum.PositionSideLong:
		return entry.Mul(one.Add(move)), nil
	case enum.PositionSideShort:
		return entry.Mul(one.Sub(move)), nil
	default:
		return decimal.Zero, errors.Wrap(exception.ErrInvalidArgument, "unknown position side")
	}
}

// StopLossRequest builds a native stop for pos, or false when data is missing.
func (e *Engine) StopLossRequest(pos exchange.Position) (exchange.StopLossRequest, bool) {
	trigger, err := TriggerPrice(pos.Side, pos.EntryPrice, pos.Leverage, e.cfg.StopLossPercent)
	if err != nil {
		return exchange.StopLossRequest{}, false
	}
	return exchange.StopLossRequest{
		Market:       pos.Market,
		Side:         pos.Side,
		Size:         pos.Size,
		EntryPrice:   pos.EntryPrice,
		Leverage:     pos.Leverage,
		Percent:      e.cfg.StopLossPercent,
		TriggerPrice: trigger,
	}, true
}
