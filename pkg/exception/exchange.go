package exception

import (
	"errors"
	"fmt"
)

var (
	ErrExchangeUnavailable  = errors.New("exchange: unavailable")
	ErrExchangeRejected     = errors.New("exchange: order rejected")
	ErrExchangeUnknownOrder = errors.New("exchange: unknown order")
	ErrExchangeNoClient     = errors.New("exchange: no client for any account")
	ErrIncompleteData       = errors.New("exchange: incomplete data")
	ErrMarketMismatch       = errors.New("exchange: market mismatch")
)

// IncompleteDataError reports a position or record missing a required field.
type IncompleteDataError struct {
	Account string
	Market  string
	Field   string
}

func (e *IncompleteDataError) Error() string {
	return fmt.Sprintf("exchange: incomplete data, account: %s, market: %s, field: %s", e.Account, e.Market, e.Field)
}

func (e *IncompleteDataError) Is(target error) bool {
	return target == ErrIncompleteData
}
