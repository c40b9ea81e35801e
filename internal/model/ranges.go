package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// IntRange is an inclusive integer range.
type IntRange struct {
	Min int
	Max int
}

func (r IntRange) Valid() bool { return r.Min <= r.Max }

// DurationRange is an inclusive duration range.
type DurationRange struct {
	Min time.Duration
	Max time.Duration
}

func (r DurationRange) Valid() bool { return r.Min >= 0 && r.Min <= r.Max }

// DecimalRange is an inclusive decimal range.
type DecimalRange struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

func (r DecimalRange) Valid() bool { return r.Min.LessThanOrEqual(r.Max) }

// Leverage is either fixed (Min == Max) or drawn from Min..Max in Step increments.
type Leverage struct {
	Min  int
	Max  int
	Step int
}

func FixedLeverage(v int) Leverage { return Leverage{Min: v, Max: v, Step: 1} }

func (l Leverage) Valid() bool { return l.Min > 0 && l.Min <= l.Max && l.Step >= 0 }

// Choices lists every value the leverage can take.
func (l Leverage) Choices() []int {
	step := l.Step
	if step <= 0 {
		step = 1
	}
	if l.Max < l.Min {
		return []int{l.Min}
	}
	out := make([]int, 0, (l.Max-l.Min)/step+1)
	for v := l.Min; v <= l.Max; v += step {
		out = append(out, v)
	}
	return out
}
