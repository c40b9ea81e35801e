package exception

import "errors"

var (
	ErrMarketDataEmptyBook   = errors.New("market data: empty book")
	ErrMarketDataUnknownType = errors.New("market data: unknown message type")
	ErrMarketDataNoMarkets   = errors.New("market data: no markets")
)
