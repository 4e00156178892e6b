// Copyright 2024 The Erigon Authors
// This file is part of the Erigon library.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ledger implements the per-principal balance accounting (compute
// cycles plus per-chain token credits) that ccmp/billing and ccmp/methods
// draw on. It holds no lock of its own: callers reach it only from inside
// storage.Storage.WithState, the same coarse-mutex discipline the rest of
// the core follows (see ccmp/storage).
package ledger

import (
	"math/big"

	"github.com/erigontech/ccmp-relay/ccmp/types"
	"github.com/holiman/uint256"
)

// Ledger is a principal-keyed table of balances.
type Ledger struct {
	balances map[types.Principal]*types.Balance
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{balances: make(map[types.Principal]*types.Balance)}
}

// Get returns the balance for p, or (nil, false) if p has never topped up.
func (l *Ledger) Get(p types.Principal) (*types.Balance, bool) {
	b, ok := l.balances[p]
	return b, ok
}

// GetOrCreate returns p's balance, creating a zeroed one on first touch.
func (l *Ledger) GetOrCreate(p types.Principal, pubkey []byte) *types.Balance {
	b, ok := l.balances[p]
	if !ok {
		b = types.NewBalance(pubkey)
		l.balances[p] = b
	}
	return b
}

// AddCycles credits amount compute cycles to p's balance (top-up path).
func (l *Ledger) AddCycles(p types.Principal, pubkey []byte, amount *big.Int) *types.Balance {
	b := l.GetOrCreate(p, pubkey)
	b.Cycles.Add(b.Cycles, amount)
	return b
}

// ReduceCycles debits amount cycles from p's balance, failing with
// ErrInsufficientCyc if the balance would go negative. This is the only
// ledger operation the billing charge path calls.
func (l *Ledger) ReduceCycles(p types.Principal, amount *big.Int) error {
	b, ok := l.balances[p]
	if !ok {
		return types.NewError(types.ErrInsufficientCyc, "principal has no balance", nil)
	}
	if b.Cycles.Cmp(amount) < 0 {
		return types.NewError(types.ErrInsufficientCyc, "insufficient cycles", nil)
	}
	b.Cycles.Sub(b.Cycles, amount)
	return nil
}

// CreditTokens adds amount tokens to p's per-chain entry for chain,
// recording nonce (the source-chain top-up transaction's nonce) so the
// same top-up can never be credited twice. Fails with ErrNonceReplay if
// nonce is already present — this set is distinct from the destination
// tx_count nonce Writer allocates via WithTx/IncrTxCount; the two never
// share a namespace.
func (l *Ledger) CreditTokens(p types.Principal, pubkey []byte, chain types.ChainId, amount *uint256.Int, nonce uint64) (*types.ChainEntry, error) {
	b := l.GetOrCreate(p, pubkey)
	entry := b.EntryFor(chain)
	if entry.UsedNonces[nonce] {
		return nil, types.NewError(types.ErrNonceReplay, "top-up transaction nonce already credited", nil)
	}
	entry.Tokens.Add(entry.Tokens, amount)
	entry.UsedNonces[nonce] = true
	return entry, nil
}

// DebitTokens subtracts amount tokens from p's chain entry, failing if the
// entry doesn't hold enough. The Checker calls this once a submitted
// transaction's receipt arrives, debiting gas_used * gas_price from the
// destination chain's token pool.
func (l *Ledger) DebitTokens(p types.Principal, chain types.ChainId, amount *uint256.Int) error {
	b, ok := l.balances[p]
	if !ok {
		return types.NewError(types.ErrInsufficientCyc, "principal has no balance", nil)
	}
	entry, ok := b.ChainsData[chain]
	if !ok || entry.Tokens.Lt(amount) {
		return types.NewError(types.ErrInsufficientCyc, "insufficient chain tokens", nil)
	}
	entry.Tokens.Sub(entry.Tokens, amount)
	return nil
}

// IsUsedNonce reports whether source-chain top-up nonce has already been
// credited for p on chain (§4.4's top-up replay guard).
func (l *Ledger) IsUsedNonce(p types.Principal, chain types.ChainId, nonce uint64) bool {
	b, ok := l.balances[p]
	if !ok {
		return false
	}
	entry, ok := b.ChainsData[chain]
	if !ok {
		return false
	}
	return entry.UsedNonces[nonce]
}

// IncrTxCount bumps p's destination-chain transaction counter for chain
// and returns the post-increment value: the nonce the Writer stage hands
// to signed_call. This is the only source of destination-chain tx
// nonces — it is never derived from a Message's own index.
func (l *Ledger) IncrTxCount(p types.Principal, chain types.ChainId) uint64 {
	b, ok := l.balances[p]
	if !ok {
		return 0
	}
	entry := b.EntryFor(chain)
	entry.TxCount++
	return entry.TxCount
}

// DecrTxCount reverses one IncrTxCount when the Writer fails to build or
// submit the transaction it reserved a nonce for, or when WithTx's body
// returns an error.
func (l *Ledger) DecrTxCount(p types.Principal, chain types.ChainId) {
	b, ok := l.balances[p]
	if !ok {
		return
	}
	entry := b.EntryFor(chain)
	if entry.TxCount == 0 {
		return
	}
	entry.TxCount--
}

// UpdateLastBlock records the highest block number observed for p on
// chain; it never moves the value backwards. The Listener does not use
// it: its scan cursor is the chain's own EvmChain.LastObservedBlock.
func (l *Ledger) UpdateLastBlock(p types.Principal, chain types.ChainId, block uint64) {
	b, ok := l.balances[p]
	if !ok {
		return
	}
	entry := b.EntryFor(chain)
	if block > entry.LastBlock {
		entry.LastBlock = block
	}
}

// All returns every principal's balance the ledger currently tracks,
// keyed by principal. storage's snapshot path is the only caller — it
// needs to walk every balance, not just ones reachable through a
// daemon's creator field, since a principal can hold a balance without
// ever registering a daemon.
func (l *Ledger) All() map[types.Principal]*types.Balance {
	out := make(map[types.Principal]*types.Balance, len(l.balances))
	for p, b := range l.balances {
		out[p] = b
	}
	return out
}

// WithTx is the §4.4 "reserve tx-count / run / refund on failure" scoped
// helper: it calls IncrTxCount, runs body with the resulting tx_count,
// and calls DecrTxCount if body returns an error. On success the counter
// stays incremented — the spec's invariant that tx_count tracks
// submitted, not merely attempted, destination-chain transactions.
func (l *Ledger) WithTx(p types.Principal, chain types.ChainId, body func(txCount uint64) error) error {
	if _, ok := l.balances[p]; !ok {
		return types.NewError(types.ErrInsufficientCyc, "principal has no balance", nil)
	}
	txCount := l.IncrTxCount(p, chain)
	if err := body(txCount); err != nil {
		l.DecrTxCount(p, chain)
		return err
	}
	return nil
}
