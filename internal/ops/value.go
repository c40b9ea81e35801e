package ops

import (
	"fmt"
	"time"

	"hedgebot/internal/model"
	"hedgebot/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

// LeverageValue is either a fixed integer or [min, max] / [min, max, step].
type LeverageValue struct {
	model.Leverage
}

func (l *LeverageValue) UnmarshalJSON(data []byte) error {
	var fixed int
	if err := sonic.Unmarshal(data, &fixed); err == nil {
		l.Leverage = model.FixedLeverage(fixed)
		return nil
	}
	var parts []int
	if err := sonic.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("%w, want an integer or [min, max(, step)]: %s", exception.ErrConfigInvalidLeverage, data)
	}
	switch len(parts) {
	case 2:
		l.Leverage = model.Leverage{Min: parts[0], Max: parts[1], Step: 1}
	case 3:
		l.Leverage = model.Leverage{Min: parts[0], Max: parts[1], Step: parts[2]}
	default:
		return fmt.Errorf("%w, range must have 2 or 3 values, got %d", exception.ErrConfigInvalidLeverage, len(parts))
	}
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func duration(dst *time.Duration, v *float64) {
	if v != nil {
		*dst = seconds(*v)
	}
}

func durationRange(dst *model.DurationRange, name string, v []float64) error {
	switch len(v) {
	case 0:
		return nil
	case 2:
		*dst = model.DurationRange{Min: seconds(v[0]), Max: seconds(v[1])}
		return nil
	default:
		return fmt.Errorf("%w, %s must be [min, max]", exception.ErrConfigInvalidRange, name)
	}
}

func intRange(dst *model.IntRange, name string, v []int) error {
	switch len(v) {
	case 0:
		return nil
	case 2:
		*dst = model.IntRange{Min: v[0], Max: v[1]}
		return nil
	default:
		return fmt.Errorf("%w, %s must be [min, max]", exception.ErrConfigInvalidRange, name)
	}
}

func decimalRange(dst *model.DecimalRange, name string, v []decimal.Decimal) error {
	switch len(v) {
	case 0:
		return nil
	case 2:
		*dst = model.DecimalRange{Min: v[0], Max: v[1]}
		return nil
	default:
		return fmt.Errorf("%w, %s must be [min, max]", exception.ErrConfigInvalidRange, name)
	}
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
