package txbuild

import "errors"

var (
	ErrInsufficientFunds = errors.New("txbuild: inputs cannot cover service fee plus miner fee")
	ErrInvalidAddress    = errors.New("txbuild: invalid address for network")
	ErrNoCustodialKey    = errors.New("txbuild: no custodial signing key configured")
	ErrTreasuryExhausted = errors.New("txbuild: custodial wallet below miner-fee floor")
	ErrNoUTXOs           = errors.New("txbuild: no spendable outputs supplied")
)
