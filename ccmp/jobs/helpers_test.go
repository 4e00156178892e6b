package jobs

import (
	"context"
	"math/big"
	"testing"

	"github.com/erigontech/ccmp-relay/ccmp/chainclient"
	"github.com/erigontech/ccmp-relay/ccmp/signer"
	"github.com/erigontech/ccmp-relay/ccmp/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var logArgs = mustArgs(
	abi.Argument{Name: "ccmp_chain_id", Type: mustAbiType("uint256")},
	abi.Argument{Name: "sender", Type: mustAbiType("address")},
	abi.Argument{Name: "message", Type: mustAbiType("bytes")},
	abi.Argument{Name: "receiver", Type: mustAbiType("bytes")},
)

func mustAbiType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

func mustArgs(args ...abi.Argument) abi.Arguments {
	return abi.Arguments(args)
}

// evmLogArgsForTest ABI-encodes the non-indexed CcmpMessage log fields
// the same way the source contract would, for building fake logs.
func evmLogArgsForTest(toNative uint64, sender gethcommon.Address, message, receiver []byte) ([]byte, error) {
	return logArgs.Pack(new(big.Int).SetUint64(toNative), sender, message, receiver)
}

// newTestVault builds a signer.LocalVault with one key, "k", for tests
// that need a real ECDSA signer rather than a stub.
func newTestVault(t *testing.T) *signer.LocalVault {
	t.Helper()
	v, err := signer.NewLocalVault("k")
	if err != nil {
		t.Fatalf("building test vault: %v", err)
	}
	return v
}

// fakeTxBuilder returns deterministic non-empty "raw transaction" bytes
// without needing a live chain or real RLP signing.
type fakeTxBuilder struct{}

func (fakeTxBuilder) Build(ctx context.Context, client chainclient.ChainClient, m types.Message, nonce uint64) ([]byte, *uint256.Int, error) {
	return []byte{byte(nonce), 0xFF}, uint256.NewInt(1200), nil
}
