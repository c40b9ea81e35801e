package chaos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	assert.Error(t, Config{FailRate: 1.5}.Validate())
	assert.Error(t, Config{PerOp: map[Op]float64{OpCancel: -1}}.Validate())
	assert.Error(t, Config{FailFirst: map[Op]int{OpCancel: -1}}.Validate())
	assert.Error(t, Config{MaxDelay: -time.Second}.Validate())
	assert.NoError(t, Config{}.Validate())
}

func TestFailFirst(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1, FailFirst: map[Op]int{OpLimitOrder: 2}})
	require.NoError(t, err)

	assert.True(t, e.Fail(OpLimitOrder))
	assert.True(t, e.Fail(OpLimitOrder))
	assert.False(t, e.Fail(OpLimitOrder))
	assert.False(t, e.Fail(OpMarketOrder))
	assert.Equal(t, 3, e.Calls(OpLimitOrder))
	assert.Equal(t, 2, e.Faults(OpLimitOrder))
}

func TestFailRateOverride(t *testing.T) {
	e, err := NewEngine(Config{Seed: 7, FailRate: 1, PerOp: map[Op]float64{OpQuote: 0}})
	require.NoError(t, err)
	for range 10 {
		assert.True(t, e.Fail(OpPositions))
		assert.False(t, e.Fail(OpQuote))
	}
}

func TestNilEngine(t *testing.T) {
	var e *Engine
	assert.False(t, e.Fail(OpCancel))
	assert.Zero(t, e.Delay())
	assert.Zero(t, e.Calls(OpCancel))
}

func TestDelayBounded(t *testing.T) {
	e, err := NewEngine(Config{Seed: 3, MaxDelay: time.Millisecond})
	require.NoError(t, err)
	for range 50 {
		d := e.Delay()
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Millisecond)
	}
}
