package enum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionSideOrderSides(t *testing.T) {
	assert.Equal(t, OrderSideBuy, PositionSideLong.OpenSide())
	assert.Equal(t, OrderSideSell, PositionSideLong.CloseSide())
	assert.Equal(t, OrderSideSell, PositionSideShort.OpenSide())
	assert.Equal(t, OrderSideBuy, PositionSideShort.CloseSide())
}

func TestParse(t *testing.T) {
	s, ok := ParsePositionSide(" short ")
	assert.True(t, ok)
	assert.Equal(t, PositionSideShort, s)

	_, ok = ParsePositionSide("flat")
	assert.False(t, ok)

	m, ok := ParseOrderMode("limit")
	assert.True(t, ok)
	assert.Equal(t, OrderModeLimit, m)
	assert.False(t, OrderMode(0).IsAvailable())
}
