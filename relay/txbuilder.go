package relay

import (
	"context"
	"math/big"

	"github.com/erigontech/ccmp-relay/ccmp/chainclient"
	"github.com/erigontech/ccmp-relay/ccmp/evmcodec"
	"github.com/erigontech/ccmp-relay/ccmp/signer"
	"github.com/erigontech/ccmp-relay/ccmp/storage"
	"github.com/erigontech/ccmp-relay/ccmp/types"
	gethcommon "github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// gasPriceMarkupNum / gasPriceMarkupDen apply the §4.9 Writer markup:
// gas_price = gas_price * 12 / 10.
const (
	gasPriceMarkupNum = 12
	gasPriceMarkupDen = 10
)

// defaultTxBuilder builds the destination-chain delivery transaction for
// a signed Message: a call to the destination CcmpMessage contract's
// receiveMessage entrypoint (SPEC_FULL.md §6 wire format), signed under
// the per-creator derivation path (SPEC_FULL.md §9 design note). nonce is
// always the value the Writer job reserved via ledger.IncrTxCount, never
// m.Index.
type defaultTxBuilder struct {
	storage *storage.Storage
	vault   *signer.LocalVault
	keyName string
}

// Build returns the raw signed transaction bytes and the gas price it was
// priced at — the caller stores the latter on the resulting PendingTx so
// the Checker stage can later compute gas_used * gas_price without
// re-querying a gas price that may have moved on.
func (b *defaultTxBuilder) Build(ctx context.Context, client chainclient.ChainClient, m types.Message, nonce uint64) ([]byte, *uint256.Int, error) {
	var destination *types.EvmChain
	var creatorPrincipal types.Principal
	b.storage.WithState(func(s *storage.State) {
		destination = s.Chains[m.ToChainId]
		if d, ok := s.Daemons.Get(m.DaemonId); ok {
			creatorPrincipal = d.Creator
		}
	})
	if destination == nil {
		return nil, nil, types.NewError(types.ErrChainNotFound, "destination chain no longer registered", nil)
	}
	if creatorPrincipal.IsZero() {
		return nil, nil, types.NewError(types.ErrDaemonNotFound, "message's daemon no longer registered", nil)
	}

	suggested, err := client.GasPrice(ctx)
	if err != nil {
		return nil, nil, err
	}
	gasPrice := new(big.Int).Mul(suggested, big.NewInt(gasPriceMarkupNum))
	gasPrice.Div(gasPrice, big.NewInt(gasPriceMarkupDen))

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, nil, err
	}

	fromChain, toChain, ok := nativeChainPair(b.storage, m.FromChainId, m.ToChainId)
	if !ok {
		return nil, nil, types.NewError(types.ErrChainNotFound, "message references an unregistered chain", nil)
	}

	var receiver [20]byte
	copy(receiver[:], m.Receiver)
	calldata, err := evmcodec.EncodeReceiveMessageCall(m.Index, fromChain, toChain, m.Sender, m.Body, receiver, m.Signature)
	if err != nil {
		return nil, nil, err
	}
	contract := gethcommon.HexToAddress(destination.CcmpContractAddr)

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      300_000,
		To:       &contract,
		Value:    big.NewInt(0),
		Data:     calldata,
	})

	path := [][]byte{creatorPrincipal.Bytes()}
	txSigner := gethtypes.NewEIP155Signer(chainID)
	digest := [32]byte(txSigner.Hash(tx))

	rs, err := b.vault.Sign(ctx, b.keyName, path, digest)
	if err != nil {
		return nil, nil, err
	}
	relayPubkey, err := b.vault.PublicKey(ctx, b.keyName, path)
	if err != nil {
		return nil, nil, err
	}
	v, sig65, err := signer.Recover(digest, rs, relayPubkey)
	if err != nil {
		return nil, nil, err
	}
	// gethtypes' EIP155Signer expects the trailing byte as a raw recovery
	// id (0/1) and adds its own v offset; Recover's v is the Ethereum
	// ecrecover convention (27/28) evmcodec-level consumers expect, so the
	// signature handed to WithSignature needs that byte translated back.
	sig65[64] = v - 27
	signedTx, err := tx.WithSignature(txSigner, sig65)
	if err != nil {
		return nil, nil, err
	}
	rawTx, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}

	gasPriceU256, overflow := uint256.FromBig(gasPrice)
	if overflow {
		return nil, nil, types.NewError(types.ErrInvalidChainId, "gas price overflows uint256", nil)
	}
	return rawTx, gasPriceU256, nil
}

func nativeChainPair(st *storage.Storage, from, to types.ChainId) (*uint256.Int, *uint256.Int, bool) {
	var fromN, toN *uint256.Int
	ok := true
	st.WithState(func(s *storage.State) {
		fc, ok1 := s.Chains[from]
		tc, ok2 := s.Chains[to]
		if !ok1 || !ok2 {
			ok = false
			return
		}
		fromN, toN = fc.NativeChainId, tc.NativeChainId
	})
	return fromN, toN, ok
}
