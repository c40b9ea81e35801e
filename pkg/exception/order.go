package exception

import "errors"

var (
	ErrOrderInvalidQuantity    = errors.New("order: invalid quantity")
	ErrOrderPriceOutsideCap    = errors.New("order: limit price outside mark band")
	ErrOrderNoQuote            = errors.New("order: no quote available")
	ErrOrderNotFilled          = errors.New("order: position did not appear")
	ErrOrderOpenRetryExhausted = errors.New("order: open retries exhausted")
	ErrOrderCloseFailed        = errors.New("order: close failed")
	ErrOrderBatchAbandoned     = errors.New("order: batch abandoned after retries")
	ErrOrderEmptyBatch         = errors.New("order: empty batch")
	ErrInvalidPhaseTransition  = errors.New("order: invalid phase transition")
	ErrOrderRiskDenied         = errors.New("order: denied by risk limits")
)
