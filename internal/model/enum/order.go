package enum

import (
	"strings"

	"github.com/bytedance/sonic"
)

// OrderMode limit, market
type OrderMode uint8

const (
	_order_mode_beg OrderMode = iota
	OrderModeLimit
	OrderModeMarket
	_order_mode_end
)

func (m OrderMode) IsAvailable() bool {
	return m > _order_mode_beg && m < _order_mode_end
}

func (m OrderMode) String() string {
	switch m {
	case OrderModeLimit:
		return "LIMIT"
	case OrderModeMarket:
		return "MARKET"
	default:
		return "UNKNOWN"
	}
}

// ParseOrderMode accepts LIMIT/MARKET in any case.
func ParseOrderMode(s string) (OrderMode, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LIMIT":
		return OrderModeLimit, true
	case "MARKET":
		return OrderModeMarket, true
	default:
		return _order_mode_beg, false
	}
}

func (m OrderMode) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(m.String())
}

func (m *OrderMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := sonic.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, ok := ParseOrderMode(s)
	if !ok {
		*m = _order_mode_beg
		return nil
	}
	*m = parsed
	return nil
}

// OrderTimeInForce GTC, IOC
type OrderTimeInForce uint8

const (
	_order_time_in_force_beg OrderTimeInForce = iota
	OrderTimeInForceGTC
	OrderTimeInForceIOC
	_order_time_in_force_end
)

func (t OrderTimeInForce) IsAvailable() bool {
	return t > _order_time_in_force_beg && t < _order_time_in_force_end
}

func (t OrderTimeInForce) String() string {
	switch t {
	case OrderTimeInForceGTC:
		return "GTC"
	case OrderTimeInForceIOC:
		return "IOC"
	default:
		return "UNKNOWN"
	}
}
