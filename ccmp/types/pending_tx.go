package types

import "github.com/holiman/uint256"

// PendingTx is a successfully submitted destination-chain transaction,
// awaiting a receipt from the Checker stage.
type PendingTx struct {
	TxHash   [32]byte     `codec:"tx_hash"`
	Message  Message      `codec:"message"`
	GasPrice *uint256.Int `codec:"gas_price"`
}
