package exchange

import (
	"fmt"
	"strings"

	"hedgebot/internal/model/enum"
	"hedgebot/internal/rules"
	"hedgebot/pkg/exception"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Position is an open position of one account.
type Position struct {
	Account       string
	Market        string
	Side          enum.PositionSide
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Margin        decimal.Decimal
	Notional      decimal.Decimal
	Leverage      decimal.Decimal
}

func (p Position) IsOpen() bool {
	return p.Size.IsPositive()
}

// EffectiveMargin falls back to notional / leverage when margin is not reported.
func (p Position) EffectiveMargin() decimal.Decimal {
	if p.Margin.IsPositive() {
		return p.Margin
	}
	if p.Notional.IsPositive() && p.Leverage.IsPositive() {
		return p.Notional.Div(p.Leverage)
	}
	return decimal.Zero
}

// MarginPnLPercent is unrealized pnl as a percent of margin.
func (p Position) MarginPnLPercent() (decimal.Decimal, bool) {
	margin := p.EffectiveMargin()
	if !margin.IsPositive() {
		return decimal.Zero, false
	}
	return p.UnrealizedPnL.Div(margin).Mul(hundred), true
}

// RawPosition is a position as decoded from a venue response. Nil means absent.
type RawPosition struct {
	Market        *string `json:"market"`
	Side          *string `json:"side"`
	Size          *string `json:"size"`
	EntryPrice    *string `json:"openPrice"`
	MarkPrice     *string `json:"markPrice"`
	UnrealizedPnL *string `json:"unrealisedPnl"`
	Margin        *string `json:"margin"`
	Notional      *string `json:"value"`
	Leverage      *string `json:"leverage"`
}

// MapPosition converts a raw position. Market, side and size are required.
func MapPosition(account string, raw RawPosition) (Position, error) {
	pos := Position{Account: account}

	if raw.Market == nil || strings.TrimSpace(*raw.Market) == "" {
		return Position{}, &exception.IncompleteDataError{Account: account, Field: "market"}
	}
	pos.Market = rules.Base(*raw.Market)

	if raw.Side == nil {
		return Position{}, &exception.IncompleteDataError{Account: account, Market: pos.Market, Field: "side"}
	}
	side, ok := enum.ParsePositionSide(*raw.Side)
	if !ok {
		return Position{}, &exception.IncompleteDataError{Account: account, Market: pos.Market, Field: "side"}
	}
	pos.Side = side

	if raw.Size == nil {
		return Position{}, &exception.IncompleteDataError{Account: account, Market: pos.Market, Field: "size"}
	}
	size, err := decimal.NewFromString(*raw.Size)
	if err != nil {
		return Position{}, &exception.IncompleteDataError{Account: account, Market: pos.Market, Field: "size"}
	}
	pos.Size = size.Abs()

	optional := []struct {
		src *string
		dst *decimal.Decimal
	}{
		{raw.EntryPrice, &pos.EntryPrice},
		{raw.MarkPrice, &pos.MarkPrice},
		{raw.UnrealizedPnL, &pos.UnrealizedPnL},
		{raw.Margin, &pos.Margin},
		{raw.Notional, &pos.Notional},
		{raw.Leverage, &pos.Leverage},
	}
	for _, f := range optional {
		if f.src == nil || *f.src == "" {
			continue
		}
		v, err := decimal.NewFromString(*f.src)
		if err != nil {
			continue
		}
		*f.dst = v
	}
	return pos, nil
}

// FindPosition returns the open position of market, if any.
// A position reported for another market yields ErrMarketMismatch.
func FindPosition(positions []Position, market string) (Position, bool, error) {
	base := rules.Base(market)
	var mismatch bool
	for _, p := range positions {
		if !p.IsOpen() {
			continue
		}
		if rules.Base(p.Market) == base {
			return p, true, nil
		}
		mismatch = true
	}
	if mismatch && len(positions) == 1 {
		return Position{}, false, fmt.Errorf("%w, want: %s, got: %s", exception.ErrMarketMismatch, base, positions[0].Market)
	}
	return Position{}, false, nil
}
