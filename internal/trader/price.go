package trader

import (
	"context"
	"fmt"

	"hedgebot/internal/model/enum"
	"hedgebot/internal/rules"
	"hedgebot/pkg/exception"

	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	three   = decimal.NewFromInt(3)
	hundred = decimal.NewFromInt(100)

	// derivedHalfSpread is applied around the mark when the venue quote has no book.
	derivedHalfSpread = decimal.RequireFromString("0.0005")
	aggressiveBuy     = decimal.RequireFromString("1.01")
	aggressiveSell    = decimal.RequireFromString("0.99")
)

// book is a top of book. Mark is zero unless the venue quote carried one.
type book struct {
	Bid, Ask, Mark decimal.Decimal
	Cached         bool
}

// reference is the price a limit order is banded against.
func (b book) reference() decimal.Decimal {
	if b.Mark.IsPositive() {
		return b.Mark
	}
	return b.Bid.Add(b.Ask).Div(two)
}

// touch returns the best bid/ask, preferring the streaming cache over a venue quote.
func (t *Trader) touch(ctx context.Context, market string) (book, error) {
	if t.cache != nil {
		if bid, ask, ok := t.cache.Prices(market, t.cfg.CacheMaxAge); ok {
			return book{Bid: bid, Ask: ask, Cached: true}, nil
		}
	}
	if t.quotes == nil {
		return book{}, fmt.Errorf("%w, market: %s", exception.ErrOrderNoQuote, market)
	}
	q, err := t.quotes.Quote(ctx, market)
	if err != nil {
		return book{}, fmt.Errorf("%w, market: %s, err: %v", exception.ErrOrderNoQuote, market, err)
	}
	if q.Bid.IsPositive() && q.Ask.IsPositive() {
		return book{Bid: q.Bid, Ask: q.Ask, Mark: q.Mark}, nil
	}
	if q.Mark.IsPositive() {
		half := q.Mark.Mul(derivedHalfSpread)
		return book{Bid: q.Mark.Sub(half), Ask: q.Mark.Add(half), Mark: q.Mark}, nil
	}
	return book{}, fmt.Errorf("%w, market: %s", exception.ErrOrderNoQuote, market)
}

// offset is the static limit offset, narrowed to a third of the spread when adaptive.
// A cached book uses the spread the cache derived on update.
func (t *Trader) offset(market string, bk book) decimal.Decimal {
	static := t.cfg.LimitOffset
	if !t.cfg.AdaptiveOffset {
		return static
	}
	spreadPercent, ok := decimal.Zero, false
	if bk.Cached && t.cache != nil {
		spreadPercent, ok = t.cache.SpreadPercent(market)
	}
	if !ok {
		mid := bk.Bid.Add(bk.Ask).Div(two)
		spread := bk.Ask.Sub(bk.Bid)
		if !mid.IsPositive() || !spread.IsPositive() {
			return static
		}
		spreadPercent = spread.Div(mid).Mul(hundred)
	}
	if !spreadPercent.IsPositive() {
		return static
	}
	return decimal.Min(static, spreadPercent.Div(hundred).Div(three))
}

// limitPrice places a buy under the bid and a sell over the ask, rounded to the price step.
// A price outside the market's band around the reference price is rejected.
func (t *Trader) limitPrice(market string, side enum.OrderSide, bk book) (decimal.Decimal, error) {
	off := t.offset(market, bk)
	var price decimal.Decimal
	if side == enum.OrderSideBuy {
		price = bk.Bid.Mul(one.Sub(off))
	} else {
		price = bk.Ask.Mul(one.Add(off))
	}
	r := t.rulesOf(market)
	price = r.RoundPrice(price, side)
	if ref := bk.reference(); !r.PriceWithinCap(price, ref, side) {
		return price, fmt.Errorf("%w, market: %s, side: %s, price: %s, reference: %s", exception.ErrOrderPriceOutsideCap, market, side, price, ref)
	}
	return price, nil
}

// marketPrices returns the reference price used for sizing and the worst acceptable fill price.
func (t *Trader) marketPrices(ctx context.Context, market string, side enum.OrderSide) (ref, worst decimal.Decimal, err error) {
	var bid, ask, mark decimal.Decimal
	if t.quotes != nil {
		if q, qerr := t.quotes.Quote(ctx, market); qerr == nil {
			bid, ask, mark = q.Bid, q.Ask, q.Mark
		}
	}
	if !bid.IsPositive() || !ask.IsPositive() {
		if t.cache != nil {
			if b, a, ok := t.cache.Prices(market, t.cfg.CacheMaxAge); ok {
				bid, ask = b, a
			}
		}
	}
	if !mark.IsPositive() && bid.IsPositive() && ask.IsPositive() {
		mark = bid.Add(ask).Div(two)
	}
	if !mark.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w, market: %s", exception.ErrOrderNoQuote, market)
	}
	if side == enum.OrderSideBuy {
		base := ask
		if !base.IsPositive() {
			base = mark
		}
		return mark, t.rulesOf(market).RoundPrice(base.Mul(aggressiveBuy), side), nil
	}
	base := bid
	if !base.IsPositive() {
		base = mark
	}
	return mark, t.rulesOf(market).RoundPrice(base.Mul(aggressiveSell), side), nil
}

func (t *Trader) rulesOf(market string) rules.Rules {
	r, _ := t.rules.Get(market)
	return r
}
