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

// Package chainclient abstracts the per-destination-chain RPC surface the
// relay's jobs depend on, so the Listener/Writer/Checker stages never talk
// to ethclient.Client directly.
package chainclient

import (
	"context"
	"math/big"

	"github.com/erigontech/ccmp-relay/ccmp/types"
	gethcommon "github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ChainClient is the relay's view of one chain. Every method surfaces
// transport failures as *types.Error{Kind: types.ErrRpcFailure} so job
// code can treat all chains uniformly regardless of client backend.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Logs(ctx context.Context, query LogFilter) ([]gethtypes.Log, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash gethcommon.Hash) (*gethtypes.Receipt, error)
	TransactionByHash(ctx context.Context, txHash gethcommon.Hash) (*gethtypes.Transaction, bool, error)
	// SignedCall broadcasts a pre-built, already-signed raw transaction and
	// returns its hash. The relay's Writer stage constructs and signs the
	// transaction itself (via ccmp/signer + ccmp/evmcodec); this method
	// only knows how to submit bytes.
	SignedCall(ctx context.Context, rawTx []byte) (gethcommon.Hash, error)
}

// LogFilter mirrors ethereum.FilterQuery's shape without importing the
// geth filter machinery, so callers that only know block bounds and a
// contract address don't have to construct go-ethereum types themselves.
type LogFilter struct {
	FromBlock uint64
	ToBlock   uint64
	Addresses []gethcommon.Address
	Topics    [][]gethcommon.Hash
}

func wrapRpcErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return types.RpcFailure(op+": rpc call failed", err)
}
