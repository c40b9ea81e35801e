package model

import (
	"time"

	"hedgebot/internal/model/enum"

	"github.com/shopspring/decimal"
)

// OrderPurpose tells why an order was placed.
type OrderPurpose string

const (
	OrderPurposeOpen          OrderPurpose = "open"
	OrderPurposeOpenFallback  OrderPurpose = "open_fallback"
	OrderPurposeClose         OrderPurpose = "close"
	OrderPurposeCloseFallback OrderPurpose = "close_fallback"
	OrderPurposeStopLoss      OrderPurpose = "stop_loss"
)

// OrderEvent is one order placement attempt made on behalf of a batch.
type OrderEvent struct {
	TaskID   string
	Seq      uint64
	Account  string
	Market   string
	OrderID  string
	Side     enum.OrderSide
	Mode     enum.OrderMode
	Purpose  OrderPurpose
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Accepted bool
	Err      string
	Placed   time.Time
}
