package chainclient

import (
	"context"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// EvmClient wraps go-ethereum's ethclient.Client to satisfy ChainClient.
// This is the only ChainClient implementation the relay ships today — the
// spec's chain model is EVM-only (types.ChainTypeEvm is the sole variant)
// — but jobs never construct it directly, always through the interface.
type EvmClient struct {
	rpcUrl string
	client *ethclient.Client
}

// DialEvmClient opens an RPC connection to rpcUrl, retrying transient
// dial failures with capped exponential backoff (SPEC_FULL.md §10). This
// is the only retry loop in the relay's RPC path — once connected, a
// mid-tick RPC failure is surfaced to the caller and retried on the next
// scheduled tick instead, not retried in place.
func DialEvmClient(ctx context.Context, rpcUrl string) (*EvmClient, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	bo.MaxInterval = 5 * time.Second

	var rc *rpc.Client
	err := backoff.Retry(func() error {
		var dialErr error
		rc, dialErr = rpc.DialContext(ctx, rpcUrl)
		return dialErr
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, wrapRpcErr("dial", err)
	}
	return &EvmClient{rpcUrl: rpcUrl, client: ethclient.NewClient(rc)}, nil
}

func (c *EvmClient) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.client.ChainID(ctx)
	if err != nil {
		return nil, wrapRpcErr("chain_id", err)
	}
	return id, nil
}

func (c *EvmClient) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, wrapRpcErr("block_number", err)
	}
	return n, nil
}

func (c *EvmClient) Logs(ctx context.Context, query LogFilter) ([]types.Log, error) {
	fq := filterQuery(query)
	logs, err := c.client.FilterLogs(ctx, fq)
	if err != nil {
		return nil, wrapRpcErr("logs", err)
	}
	return logs, nil
}

func (c *EvmClient) GasPrice(ctx context.Context) (*big.Int, error) {
	p, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, wrapRpcErr("gas_price", err)
	}
	return p, nil
}

func (c *EvmClient) TransactionReceipt(ctx context.Context, txHash gethcommon.Hash) (*types.Receipt, error) {
	r, err := c.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, wrapRpcErr("transaction_receipt", err)
	}
	return r, nil
}

func (c *EvmClient) TransactionByHash(ctx context.Context, txHash gethcommon.Hash) (*types.Transaction, bool, error) {
	tx, isPending, err := c.client.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, false, wrapRpcErr("transaction", err)
	}
	return tx, isPending, nil
}

func (c *EvmClient) SignedCall(ctx context.Context, rawTx []byte) (gethcommon.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(rawTx); err != nil {
		return gethcommon.Hash{}, wrapRpcErr("signed_call: decode", err)
	}
	if err := c.client.SendTransaction(ctx, tx); err != nil {
		return gethcommon.Hash{}, wrapRpcErr("signed_call: send", err)
	}
	return tx.Hash(), nil
}

func filterQuery(f LogFilter) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(f.FromBlock),
		ToBlock:   new(big.Int).SetUint64(f.ToBlock),
		Addresses: f.Addresses,
		Topics:    f.Topics,
	}
}
