package jobs

import (
	"context"

	"github.com/erigontech/ccmp-relay/ccmp/billing"
	"github.com/erigontech/ccmp-relay/ccmp/chainclient"
	"github.com/erigontech/ccmp-relay/ccmp/storage"
	"github.com/erigontech/ccmp-relay/ccmp/types"
	"github.com/erigontech/erigon-lib/log/v3"
	"github.com/holiman/uint256"
)

// TxBuilder constructs and RLP-signs the destination-chain transaction
// that delivers m under nonce, returning the raw transaction and the gas
// price it was priced at; the sender is the message creator's EVM account,
// the key derived under the path [creator] (SPEC_FULL.md §4.2). nonce is the
// value ledger.Ledger.IncrTxCount reserved for (creator, to_chain) — never
// the message's own index. Kept as a seam so tests can swap in a
// deterministic builder without a live chain.
type TxBuilder interface {
	Build(ctx context.Context, client chainclient.ChainClient, m types.Message, nonce uint64) ([]byte, *uint256.Int, error)
}

// RunWriter drains the "signed" queue grouped by destination chain and
// submits each message's delivery transaction to that chain, one
// destination chain's batch at a time, serially (SPEC_FULL.md §9, Open
// Question 3: writer grouping is serial per destination chain — two
// messages bound for the same chain must not race each other's nonce).
//
// Each submission reserves its destination nonce with
// ledger.Ledger.IncrTxCount before building the transaction and releases
// it with DecrTxCount on any failure — the §4.4 with_tx pattern, just not
// expressed as a single call: the body here makes RPC calls, and per §5
// no component may hold storage.Storage's lock across one of those, so
// the reserve and the release are two separate WithState calls around
// the unlocked RPC work instead of one call wrapping it. A submission
// that reaches PendingTx starts the Checker job; draining nothing this
// tick stops the Writer itself (§4.7).
func RunWriter(ctx context.Context, st *storage.Storage, clients Clients, builder TxBuilder, ctrl JobControl, bill *billing.Coordinator, logger log.Logger) error {
	var batch []types.Message
	st.WithState(func(s *storage.State) {
		batch = s.Signed.DrainUpTo(BatchSize)
	})
	if len(batch) == 0 {
		ctrl.StopWrite()
		return nil
	}

	byDest := make(map[types.ChainId][]types.Message)
	order := make([]types.ChainId, 0)
	for _, m := range batch {
		if _, seen := byDest[m.ToChainId]; !seen {
			order = append(order, m.ToChainId)
		}
		byDest[m.ToChainId] = append(byDest[m.ToChainId], m)
	}

	var retry []types.Message
	var written []types.Message

	for _, dest := range order {
		client, err := clients.Get(ctx, dest)
		if err != nil {
			retry = append(retry, byDest[dest]...)
			continue
		}
		// Messages to the same destination chain are submitted one after
		// another so the destination account's nonce never races itself.
		for _, m := range byDest[dest] {
			if len(m.Receiver) != 20 {
				logger.Warn("[ccmp-writer] dropping message with malformed receiver", "index", m.Index, "to_chain", dest, "receiver_len", len(m.Receiver))
				continue
			}
			creator := creatorForDaemon(st, m.DaemonId)
			if creator.IsZero() {
				retry = append(retry, m)
				continue
			}

			var nonce uint64
			st.WithState(func(s *storage.State) {
				nonce = s.Ledger.IncrTxCount(creator, dest)
			})

			rawTx, gasPrice, err := builder.Build(ctx, client, m, nonce)
			if err != nil {
				logger.Warn("[ccmp-writer] build failed, retrying next tick", "index", m.Index, "to_chain", dest, "err", err)
				st.WithState(func(s *storage.State) { s.Ledger.DecrTxCount(creator, dest) })
				retry = append(retry, m)
				continue
			}
			txHash, err := client.SignedCall(ctx, rawTx)
			if err != nil {
				logger.Warn("[ccmp-writer] submit failed, retrying next tick", "index", m.Index, "to_chain", dest, "err", err)
				st.WithState(func(s *storage.State) { s.Ledger.DecrTxCount(creator, dest) })
				retry = append(retry, m)
				continue
			}

			st.WithState(func(s *storage.State) {
				s.Pending.Push(types.PendingTx{TxHash: txHash, Message: m, GasPrice: gasPrice})
			})
			ctrl.StartCheck(ctx)
			written = append(written, m)
		}
	}

	st.WithState(func(s *storage.State) {
		for i := len(retry) - 1; i >= 0; i-- {
			s.Signed.PushFront(retry[i])
		}
	})

	for _, m := range written {
		creator := creatorForDaemon(st, m.DaemonId)
		if err := bill.Charge(creator, billing.WriteCharge); err != nil {
			return err
		}
	}

	logger.Debug("[ccmp-writer] tick complete", "written", len(written), "retried", len(retry))
	return nil
}
