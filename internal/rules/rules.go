package rules

import (
	"strings"

	"hedgebot/internal/model/enum"

	"github.com/shopspring/decimal"
)

const quoteSuffix = "-USD"

// Rules are the trading constraints of one market.
type Rules struct {
	Market            string          `json:"market"`
	Group             int             `json:"group"`
	MinTradeSize      decimal.Decimal `json:"minTradeSize"`
	MinChangeSize     decimal.Decimal `json:"minChangeSize"`
	MinPriceChange    decimal.Decimal `json:"minPriceChange"`
	LimitPriceCap     decimal.Decimal `json:"limitPriceCap"`
	MaxMarketOrderUSD decimal.Decimal `json:"maxMarketOrderUsd"`
	MaxLimitOrderUSD  decimal.Decimal `json:"maxLimitOrderUsd"`
	MaxPositionUSD    decimal.Decimal `json:"maxPositionUsd"`
}

// RoundSize rounds down to the size increment.
func (r Rules) RoundSize(size decimal.Decimal) decimal.Decimal {
	return floorTo(size, r.MinChangeSize)
}

// AdjustSize rounds down and lifts the result to the minimum trade size.
func (r Rules) AdjustSize(size decimal.Decimal) decimal.Decimal {
	rounded := r.RoundSize(size)
	if r.MinTradeSize.IsPositive() && rounded.LessThan(r.MinTradeSize) {
		return r.MinTradeSize
	}
	return rounded
}

// SizeFor converts a USD amount to a base quantity at price.
func (r Rules) SizeFor(usd, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return r.AdjustSize(usd.Div(price))
}

// RoundPrice rounds a buy price down and a sell price up to the price increment.
func (r Rules) RoundPrice(price decimal.Decimal, side enum.OrderSide) decimal.Decimal {
	step := r.MinPriceChange
	if !step.IsPositive() {
		return price
	}
	if side == enum.OrderSideSell {
		return price.Div(step).Ceil().Mul(step)
	}
	return floorTo(price, step)
}

// PriceWithinCap reports whether a limit price stays inside the mark price band.
func (r Rules) PriceWithinCap(limit, mark decimal.Decimal, side enum.OrderSide) bool {
	if !r.LimitPriceCap.IsPositive() || !mark.IsPositive() {
		return true
	}
	one := decimal.NewFromInt(1)
	if side == enum.OrderSideBuy {
		return limit.LessThanOrEqual(mark.Mul(one.Add(r.LimitPriceCap)))
	}
	return limit.GreaterThanOrEqual(mark.Mul(one.Sub(r.LimitPriceCap)))
}

// OrderCapUSD is the largest single order notional for mode, bounded by the position cap. Zero means no cap.
func (r Rules) OrderCapUSD(mode enum.OrderMode) decimal.Decimal {
	c := r.MaxMarketOrderUSD
	if mode == enum.OrderModeLimit {
		c = r.MaxLimitOrderUSD
	}
	if r.MaxPositionUSD.IsPositive() && (!c.IsPositive() || r.MaxPositionUSD.LessThan(c)) {
		c = r.MaxPositionUSD
	}
	return c
}

func floorTo(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

// Base strips the quote suffix and upper-cases a market name.
func Base(market string) string {
	m := strings.ToUpper(strings.TrimSpace(market))
	return strings.TrimSuffix(m, quoteSuffix)
}

// Symbol returns the exchange symbol of a base market, e.g. BTC-USD.
func Symbol(market string) string {
	return Base(market) + quoteSuffix
}
