package enum

import "strings"

// OrderSide buy, sell
type OrderSide uint8

const (
	_order_side_beg OrderSide = iota
	OrderSideBuy
	OrderSideSell
	_order_side_end
)

func (s OrderSide) IsAvailable() bool {
	return s > _order_side_beg && s < _order_side_end
}

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "BUY"
	case OrderSideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the side that reduces a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	switch s {
	case OrderSideBuy:
		return OrderSideSell
	case OrderSideSell:
		return OrderSideBuy
	default:
		return s
	}
}

// PositionSide long, short
type PositionSide uint8

const (
	_position_side_beg PositionSide = iota
	PositionSideLong
	PositionSideShort
	_position_side_end
)

func (s PositionSide) IsAvailable() bool {
	return s > _position_side_beg && s < _position_side_end
}

func (s PositionSide) String() string {
	switch s {
	case PositionSideLong:
		return "LONG"
	case PositionSideShort:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

// OpenSide is the order side that opens a position on s.
func (s PositionSide) OpenSide() OrderSide {
	if s == PositionSideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// CloseSide is the order side that closes a position on s.
func (s PositionSide) CloseSide() OrderSide {
	return s.OpenSide().Opposite()
}

// ParsePositionSide accepts LONG/SHORT in any case.
func ParsePositionSide(s string) (PositionSide, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG":
		return PositionSideLong, true
	case "SHORT":
		return PositionSideShort, true
	default:
		return _position_side_beg, false
	}
}
