package storage

import (
	"math/big"
	"testing"

	"github.com/erigontech/ccmp-relay/ccmp/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryReflectsLiveState(t *testing.T) {
	st := New()
	st.WithState(func(s *State) {
		id := s.NextChainId()
		s.Chains[id] = &types.EvmChain{Name: "chain"}
		s.Listened.Push(types.Message{})
		s.Signed.Push(types.Message{})
		s.Pending.Push(types.PendingTx{})
	})

	sum := st.Summary()
	assert.Equal(t, 1, sum.Chains)
	assert.Equal(t, 1, sum.ListenedQueue)
	assert.Equal(t, 1, sum.SignedQueue)
	assert.Equal(t, 1, sum.PendingQueue)
}

func TestSnapshotDoesNotDrainLiveQueues(t *testing.T) {
	st := New()
	st.WithState(func(s *State) {
		s.Listened.Push(types.Message{Index: 1})
		s.Signed.Push(types.Message{Index: 2})
	})

	_, err := st.Snapshot()
	require.NoError(t, err)

	st.WithState(func(s *State) {
		assert.Equal(t, 1, s.Listened.Len())
		assert.Equal(t, 1, s.Signed.Len())
	})
}

// TestSnapshotRestoreRoundTrip is spec.md §8's durability round-trip
// property: every aggregate Snapshot captures must come back identical
// through Restore on a fresh Storage.
func TestSnapshotRestoreRoundTrip(t *testing.T) {
	src := New()
	creator := types.NewPrincipal([]byte{7, 7})
	var chainId types.ChainId

	src.WithState(func(s *State) {
		chainId = s.NextChainId()
		s.Chains[chainId] = &types.EvmChain{
			Name:             "testnet",
			NativeChainId:    uint256.NewInt(55),
			RpcUrl:           "http://rpc",
			CcmpContractAddr: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		}
		s.Meta[chainId] = &types.ChainMetadata{Name: "testnet", ChainType: types.ChainTypeEvm}

		s.Ledger.AddCycles(creator, []byte{1, 2, 3}, big.NewInt(123456))
		s.Ledger.CreditTokens(creator, []byte{1, 2, 3}, chainId, uint256.NewInt(900), 5)
		s.Ledger.IncrTxCount(creator, chainId)

		d, err := s.Daemons.Register(creator, chainId, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", 30)
		require.NoError(t, err)
		d.IsActive = true
		d.TimerHandle = "armed"

		s.Listened.Push(types.Message{DaemonId: d.Id, Index: 1})
		s.Signed.Push(types.Message{DaemonId: d.Id, Index: 2})
		s.Pending.Push(types.PendingTx{Message: types.Message{DaemonId: d.Id}})
	})

	blob, err := src.Snapshot()
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	dst := New()
	require.NoError(t, dst.Restore(blob))

	dst.WithState(func(s *State) {
		c, ok := s.Chains[chainId]
		require.True(t, ok)
		assert.Equal(t, "testnet", c.Name)
		assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", c.CcmpContractAddr)

		bal, ok := s.Ledger.Get(creator)
		require.True(t, ok)
		assert.Equal(t, big.NewInt(123456), bal.Cycles)
		entry, ok := bal.ChainsData[chainId]
		require.True(t, ok)
		assert.Equal(t, uint64(900), entry.Tokens.Uint64())
		assert.Equal(t, uint64(1), entry.TxCount)
		assert.True(t, s.Ledger.IsUsedNonce(creator, chainId, 5))

		daemons := s.Daemons.ListByCreator(creator)
		require.Len(t, daemons, 1)
		assert.True(t, daemons[0].IsActive)
		assert.Nil(t, daemons[0].TimerHandle, "restored daemons must not carry a stale timer handle")

		assert.Equal(t, 1, s.Listened.Len())
		assert.Equal(t, 1, s.Signed.Len())
		assert.Equal(t, 1, s.Pending.Len())
	})
}

func TestRestoreRejectsGarbageBlob(t *testing.T) {
	st := New()
	err := st.Restore([]byte{0xff, 0x00, 0x01})
	assert.Error(t, err)
}

func TestNextChainIdIsDenseAndMonotonic(t *testing.T) {
	st := New()
	var ids []types.ChainId
	st.WithState(func(s *State) {
		ids = append(ids, s.NextChainId(), s.NextChainId(), s.NextChainId())
	})
	assert.Equal(t, []types.ChainId{1, 2, 3}, ids)
}
