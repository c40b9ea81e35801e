package exchange

import (
	"context"

	"hedgebot/internal/model/enum"

	"github.com/shopspring/decimal"
)

// OrderRequest describes one order for an account.
type OrderRequest struct {
	Market      string
	Side        enum.OrderSide
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	TimeInForce enum.OrderTimeInForce
	ReduceOnly  bool
	PostOnly    bool
}

// Order is the exchange acknowledgment of a placed order.
type Order struct {
	ID       string
	ClientID string
	Account  string
	Market   string
	Side     enum.OrderSide
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// StopLossRequest registers a native stop for an open position.
type StopLossRequest struct {
	Market       string
	Side         enum.PositionSide
	Size         decimal.Decimal
	EntryPrice   decimal.Decimal
	Leverage     decimal.Decimal
	Percent      decimal.Decimal
	TriggerPrice decimal.Decimal
}

// Client is the trading surface used by the pipeline. Every call may fail.
type Client interface {
	SetLeverage(ctx context.Context, account, market string, leverage int) error
	PlaceLimitOrder(ctx context.Context, account string, req OrderRequest) (Order, error)
	PlaceMarketOrder(ctx context.Context, account string, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, account, orderID string) error
	// CancelAllOrders cancels open orders of market, or of every market when market is empty.
	CancelAllOrders(ctx context.Context, account, market string) (int, error)
	MassCancel(ctx context.Context, account string) error
	// Positions lists open positions of market, or of every market when market is empty.
	Positions(ctx context.Context, account, market string) ([]Position, error)
	PlaceStopLoss(ctx context.Context, account string, req StopLossRequest) error
}

// Quote is a slow-path top of book.
type Quote struct {
	Bid  decimal.Decimal
	Ask  decimal.Decimal
	Mark decimal.Decimal
}

// QuoteSource serves quotes when the streaming cache is stale.
type QuoteSource interface {
	Quote(ctx context.Context, market string) (Quote, error)
}
