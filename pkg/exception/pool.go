package exception

import "errors"

var (
	ErrPoolEmpty            = errors.New("pool: no accounts")
	ErrPoolDuplicateAccount = errors.New("pool: duplicate account")
	ErrPoolInvalidSnapshot  = errors.New("pool: invalid snapshot")
)
