package exchange

import (
	"errors"
	"testing"

	"hedgebot/internal/model/enum"
	"hedgebot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMapPosition(t *testing.T) {
	pos, err := MapPosition("acc", RawPosition{
		Market:        ptr("BTC-USD"),
		Side:          ptr("short"),
		Size:          ptr("-0.5"),
		EntryPrice:    ptr("60000"),
		UnrealizedPnL: ptr("-12.5"),
		Margin:        ptr("bad"),
		Notional:      ptr("30000"),
		Leverage:      ptr("50"),
	})
	require.NoError(t, err)
	assert.Equal(t, "BTC", pos.Market)
	assert.Equal(t, enum.PositionSideShort, pos.Side)
	assert.True(t, pos.Size.Equal(dec("0.5")))
	assert.True(t, pos.Margin.IsZero(), "unparsable optional field is left zero")
	assert.True(t, pos.EffectiveMargin().Equal(dec("600")))

	pct, ok := pos.MarginPnLPercent()
	require.True(t, ok)
	assert.True(t, pct.Round(4).Equal(dec("-2.0833")), pct.String())
}

func TestMapPositionIncomplete(t *testing.T) {
	testCases := []struct {
		desc  string
		raw   RawPosition
		field string
	}{
		{"no market", RawPosition{Side: ptr("LONG"), Size: ptr("1")}, "market"},
		{"no side", RawPosition{Market: ptr("ETH"), Size: ptr("1")}, "side"},
		{"no size", RawPosition{Market: ptr("ETH"), Side: ptr("LONG")}, "size"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := MapPosition("acc", tc.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, exception.ErrIncompleteData))

			var inc *exception.IncompleteDataError
			require.True(t, errors.As(err, &inc))
			assert.Equal(t, tc.field, inc.Field)
		})
	}
}

func TestFindPosition(t *testing.T) {
	positions := []Position{
		{Market: "ETH", Size: dec("0")},
		{Market: "BTC", Size: dec("1"), Side: enum.PositionSideLong},
	}
	p, ok, err := FindPosition(positions, "BTC-USD")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, enum.PositionSideLong, p.Side)

	_, ok, err = FindPosition([]Position{{Market: "SOL", Size: dec("1")}}, "BTC")
	assert.False(t, ok)
	assert.True(t, errors.Is(err, exception.ErrMarketMismatch))

	_, ok, err = FindPosition(nil, "BTC")
	assert.False(t, ok)
	assert.NoError(t, err)
}
