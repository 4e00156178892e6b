package types

import (
	"math/big"

	"github.com/holiman/uint256"
)

// MinimumCycles is the floor below which a daemon is stopped by the billing
// coordinator (C9, §4.9).
var MinimumCycles = big.NewInt(100_000_000_000)

// ChainEntry is one principal's per-chain ledger state.
type ChainEntry struct {
	Tokens     *uint256.Int    `codec:"tokens"`
	UsedNonces map[uint64]bool `codec:"used_nonces"`
	TxCount    uint64          `codec:"tx_count"`
	LastBlock  uint64          `codec:"last_block"`
}

func NewChainEntry() *ChainEntry {
	return &ChainEntry{
		Tokens:     uint256.NewInt(0),
		UsedNonces: make(map[uint64]bool),
	}
}

// Balance is one principal's full ledger record: compute credits plus a
// per-chain map of token/nonce/tx-count/last-block state.
type Balance struct {
	PublicKey  []byte                 `codec:"public_key"`
	Cycles     *big.Int               `codec:"cycles"`
	ChainsData map[ChainId]*ChainEntry `codec:"chains_data"`
}

func NewBalance(pubkey []byte) *Balance {
	return &Balance{
		PublicKey:  append([]byte(nil), pubkey...),
		Cycles:     big.NewInt(0),
		ChainsData: make(map[ChainId]*ChainEntry),
	}
}

// EntryFor returns (creating if absent) the ChainEntry for chain.
func (b *Balance) EntryFor(chain ChainId) *ChainEntry {
	e, ok := b.ChainsData[chain]
	if !ok {
		e = NewChainEntry()
		b.ChainsData[chain] = e
	}
	return e
}
