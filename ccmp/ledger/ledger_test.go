package ledger

import (
	"math/big"
	"testing"

	"github.com/erigontech/ccmp-relay/ccmp/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func principal(b byte) types.Principal {
	return types.NewPrincipal([]byte{b})
}

func TestAddAndReduceCycles(t *testing.T) {
	l := New()
	p := principal(1)

	l.AddCycles(p, []byte{1}, big.NewInt(100))
	bal, ok := l.Get(p)
	require.True(t, ok)
	assert.Equal(t, big.NewInt(100), bal.Cycles)

	require.NoError(t, l.ReduceCycles(p, big.NewInt(40)))
	assert.Equal(t, big.NewInt(60), bal.Cycles)
}

func TestReduceCyclesNeverGoesNegative(t *testing.T) {
	l := New()
	p := principal(2)
	l.AddCycles(p, []byte{2}, big.NewInt(10))

	err := l.ReduceCycles(p, big.NewInt(11))
	assert.Error(t, err)

	bal, _ := l.Get(p)
	assert.Equal(t, big.NewInt(10), bal.Cycles, "failed reduction must not mutate the balance")
}

func TestCreditTokensRejectsNonceReplay(t *testing.T) {
	l := New()
	p := principal(3)
	chain := types.ChainId(1)

	_, err := l.CreditTokens(p, []byte{3}, chain, uint256.NewInt(5), 7)
	require.NoError(t, err)

	_, err = l.CreditTokens(p, []byte{3}, chain, uint256.NewInt(5), 7)
	var typedErr *types.Error
	require.ErrorAs(t, err, &typedErr)
	assert.Equal(t, types.ErrNonceReplay, typedErr.Kind)
}

func TestDebitTokensInsufficientBalance(t *testing.T) {
	l := New()
	p := principal(4)
	chain := types.ChainId(1)
	_, err := l.CreditTokens(p, []byte{4}, chain, uint256.NewInt(10), 1)
	require.NoError(t, err)

	err = l.DebitTokens(p, chain, uint256.NewInt(11))
	assert.Error(t, err)

	require.NoError(t, l.DebitTokens(p, chain, uint256.NewInt(10)))
}

func TestIncrDecrTxCount(t *testing.T) {
	l := New()
	p := principal(5)
	chain := types.ChainId(9)
	l.AddCycles(p, []byte{5}, big.NewInt(1))

	assert.Equal(t, uint64(1), l.IncrTxCount(p, chain))
	assert.Equal(t, uint64(2), l.IncrTxCount(p, chain))
	l.DecrTxCount(p, chain)
	bal, _ := l.Get(p)
	assert.Equal(t, uint64(1), bal.ChainsData[chain].TxCount)
}

func TestDecrTxCountNeverUnderflows(t *testing.T) {
	l := New()
	p := principal(6)
	chain := types.ChainId(1)
	l.AddCycles(p, []byte{6}, big.NewInt(1))

	l.DecrTxCount(p, chain) // no-op, count starts at 0
	bal, _ := l.Get(p)
	assert.Equal(t, uint64(0), bal.ChainsData[chain].TxCount)
}

func TestWithTxKeepsIncrementOnSuccess(t *testing.T) {
	l := New()
	p := principal(7)
	chain := types.ChainId(1)
	l.AddCycles(p, []byte{7}, big.NewInt(1))

	var seenCount uint64
	err := l.WithTx(p, chain, func(txCount uint64) error {
		seenCount = txCount
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seenCount)

	bal, _ := l.Get(p)
	assert.Equal(t, uint64(1), bal.ChainsData[chain].TxCount)
}

func TestWithTxRefundsOnFailure(t *testing.T) {
	l := New()
	p := principal(8)
	chain := types.ChainId(1)
	l.AddCycles(p, []byte{8}, big.NewInt(1))

	boom := assert.AnError
	err := l.WithTx(p, chain, func(txCount uint64) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	bal, _ := l.Get(p)
	assert.Equal(t, uint64(0), bal.ChainsData[chain].TxCount, "tx_count must be refunded on failure")
}

func TestUpdateLastBlockOnlyMovesForward(t *testing.T) {
	l := New()
	p := principal(9)
	chain := types.ChainId(1)
	l.AddCycles(p, []byte{9}, big.NewInt(1))

	l.UpdateLastBlock(p, chain, 100)
	l.UpdateLastBlock(p, chain, 50) // should not regress
	bal, _ := l.Get(p)
	assert.Equal(t, uint64(100), bal.ChainsData[chain].LastBlock)

	l.UpdateLastBlock(p, chain, 150)
	assert.Equal(t, uint64(150), bal.ChainsData[chain].LastBlock)
}

func TestIsUsedNonce(t *testing.T) {
	l := New()
	p := principal(10)
	chain := types.ChainId(1)
	assert.False(t, l.IsUsedNonce(p, chain, 1))

	_, err := l.CreditTokens(p, []byte{10}, chain, uint256.NewInt(1), 1)
	require.NoError(t, err)
	assert.True(t, l.IsUsedNonce(p, chain, 1))
}
