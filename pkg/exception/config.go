package exception

import "errors"

var (
	ErrConfigInvalidRange    = errors.New("config: invalid range")
	ErrConfigInvalidLeverage = errors.New("config: invalid leverage")
	ErrConfigNoAccounts      = errors.New("config: no accounts")
)
