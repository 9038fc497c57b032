package chain

import "errors"

var (
	ErrTxNotFound     = errors.New("chain: transaction not found")
	ErrNoAnchorOutput = errors.New("chain: no data-carrier output in transaction")
	ErrMarkerMissing  = errors.New("chain: data-carrier output lacks the protocol marker")
	ErrBroadcast      = errors.New("chain: broadcast rejected")
)
