package jobs

import (
	"context"
	"math/big"
	"testing"

	"github.com/erigontech/ccmp-relay/ccmp/billing"
	"github.com/erigontech/ccmp-relay/ccmp/chainclient"
	"github.com/erigontech/ccmp-relay/ccmp/evmcodec"
	"github.com/erigontech/ccmp-relay/ccmp/storage"
	"github.com/erigontech/ccmp-relay/ccmp/types"
	"github.com/erigontech/erigon-lib/log/v3"
	gethcommon "github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChainClient is a deterministic, in-memory stand-in for
// chainclient.ChainClient used across the pipeline tests.
type fakeChainClient struct {
	chainID       *big.Int
	head          uint64
	logs          []gethtypes.Log
	gasPrice      *big.Int
	receipts      map[gethcommon.Hash]*gethtypes.Receipt
	txs           map[gethcommon.Hash]*gethtypes.Transaction
	sentHashes    []gethcommon.Hash
	nextSendHash  gethcommon.Hash
	sendErr       error
}

func (f *fakeChainClient) ChainID(ctx context.Context) (*big.Int, error) { return f.chainID, nil }
func (f *fakeChainClient) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }
func (f *fakeChainClient) Logs(ctx context.Context, query chainclient.LogFilter) ([]gethtypes.Log, error) {
	return f.logs, nil
}
func (f *fakeChainClient) GasPrice(ctx context.Context) (*big.Int, error) { return f.gasPrice, nil }
func (f *fakeChainClient) TransactionReceipt(ctx context.Context, txHash gethcommon.Hash) (*gethtypes.Receipt, error) {
	return f.receipts[txHash], nil
}
func (f *fakeChainClient) TransactionByHash(ctx context.Context, txHash gethcommon.Hash) (*gethtypes.Transaction, bool, error) {
	return f.txs[txHash], false, nil
}
func (f *fakeChainClient) SignedCall(ctx context.Context, rawTx []byte) (gethcommon.Hash, error) {
	if f.sendErr != nil {
		return gethcommon.Hash{}, f.sendErr
	}
	f.sentHashes = append(f.sentHashes, f.nextSendHash)
	return f.nextSendHash, nil
}

type fakeClients struct {
	byChain map[types.ChainId]chainclient.ChainClient
}

func (c *fakeClients) Get(ctx context.Context, chain types.ChainId) (chainclient.ChainClient, error) {
	cl, ok := c.byChain[chain]
	if !ok {
		return nil, types.NewError(types.ErrChainNotFound, "no client for chain", nil)
	}
	return cl, nil
}

type fakeCtrl struct {
	signStarted, writeStarted, checkStarted int
	signStopped, writeStopped, checkStopped int
}

func (c *fakeCtrl) StartSign(ctx context.Context)  { c.signStarted++ }
func (c *fakeCtrl) StopSign()                      { c.signStopped++ }
func (c *fakeCtrl) StartWrite(ctx context.Context) { c.writeStarted++ }
func (c *fakeCtrl) StopWrite()                     { c.writeStopped++ }
func (c *fakeCtrl) StartCheck(ctx context.Context) { c.checkStarted++ }
func (c *fakeCtrl) StopCheck()                     { c.checkStopped++ }

func testLogger() log.Logger { return log.New() }

// setupTwoChains registers a source chain (native id 10) and a
// destination chain (native id 20), returning their internal ChainIds.
func setupTwoChains(t *testing.T, st *storage.Storage) (src, dst types.ChainId) {
	t.Helper()
	st.WithState(func(s *storage.State) {
		src = s.NextChainId()
		s.Chains[src] = &types.EvmChain{Name: "src", NativeChainId: uint256.NewInt(10)}
		dst = s.NextChainId()
		s.Chains[dst] = &types.EvmChain{Name: "dst", NativeChainId: uint256.NewInt(20)}
	})
	return src, dst
}

func ccmpLog(t *testing.T, index uint64, toNative uint64, sender gethcommon.Address, message, receiver []byte) gethtypes.Log {
	t.Helper()
	data, err := evmLogArgsForTest(toNative, sender, message, receiver)
	require.NoError(t, err)
	return gethtypes.Log{
		Topics: []gethcommon.Hash{evmcodec.CcmpMessageTopic0, gethcommon.BigToHash(new(big.Int).SetUint64(index))},
		Data:   data,
	}
}

// TestListenerProducesMessagesAndAdvancesLastBlock covers scenario E2:
// two events observed across one tick append two messages and the chain
// cursor advances past the polled head (it holds the next block to scan,
// head+1).
func TestListenerProducesMessagesAndAdvancesLastBlock(t *testing.T) {
	st := storage.New()
	src, dst := setupTwoChains(t, st)

	creator := types.NewPrincipal([]byte{1})
	var daemonId uint64
	st.WithState(func(s *storage.State) {
		s.Ledger.AddCycles(creator, []byte{1}, big.NewInt(1_000_000_000_000_000))
		d, err := s.Daemons.Register(creator, src, "0xAbCdefAbCdefAbCdefAbCdefAbCdefAbCdefAbCd", 10)
		require.NoError(t, err)
		d.IsActive = true
		daemonId = d.Id
		s.Chains[src].LastObservedBlock = 100 // last_block = 99, next from = 100
	})

	sender := gethcommon.HexToAddress("0x00000000000000000000000000000000001234")
	log1 := ccmpLog(t, 1, 20, sender, []byte("m1"), make([]byte, 20))
	log2 := ccmpLog(t, 2, 20, sender, []byte("m2"), make([]byte, 20))

	fc := &fakeChainClient{head: 101, logs: []gethtypes.Log{log1, log2}}
	clients := &fakeClients{byChain: map[types.ChainId]chainclient.ChainClient{src: fc}}
	ctrl := &fakeCtrl{}
	bill := billing.NewCoordinator(st, nil)

	err := RunListener(context.Background(), st, clients, ctrl, bill, testLogger(), daemonId)
	require.NoError(t, err)

	st.WithState(func(s *storage.State) {
		assert.Equal(t, 2, s.Listened.Len())
		assert.Equal(t, uint64(102), s.Chains[src].LastObservedBlock)
	})
	_ = dst
	assert.Equal(t, 1, ctrl.signStarted, "producing messages must start the Signer job")
}

// TestSignerThenWriterProducesPendingTx covers scenario E3: one listened
// message, signed then written, yields exactly one PendingTx and bumps
// tx_count to 1.
func TestSignerThenWriterProducesPendingTx(t *testing.T) {
	st := storage.New()
	src, dst := setupTwoChains(t, st)

	creator := types.NewPrincipal([]byte{2})
	var daemonId uint64
	st.WithState(func(s *storage.State) {
		s.Ledger.AddCycles(creator, []byte{2}, big.NewInt(1_000_000_000_000_000))
		d, err := s.Daemons.Register(creator, src, "0xAbCdefAbCdefAbCdefAbCdefAbCdefAbCdefAbCd", 10)
		require.NoError(t, err)
		daemonId = d.Id
		s.Listened.Push(types.Message{
			Index:       5,
			FromChainId: src,
			ToChainId:   dst,
			Sender:      make([]byte, 20),
			Body:        []byte("payload"),
			Receiver:    randomBytes(20),
			DaemonId:    daemonId,
		})
	})

	vault := newTestVault(t)
	pubkey, err := vault.PublicKey(context.Background(), "k", nil)
	require.NoError(t, err)
	bill := billing.NewCoordinator(st, nil)

	require.NoError(t, RunSigner(context.Background(), st, vault, "k", pubkey, testLogger()))

	var signedMsg types.Message
	st.WithState(func(s *storage.State) {
		assert.Equal(t, 0, s.Listened.Len())
		require.Equal(t, 1, s.Signed.Len())
		signedMsg, _ = s.Signed.Peek()
		assert.True(t, signedMsg.Signed())
	})

	fc := &fakeChainClient{head: 1, gasPrice: big.NewInt(1000), nextSendHash: gethcommon.HexToHash("0xaa")}
	clients := &fakeClients{byChain: map[types.ChainId]chainclient.ChainClient{dst: fc}}
	ctrl := &fakeCtrl{}
	builder := &fakeTxBuilder{}

	require.NoError(t, RunWriter(context.Background(), st, clients, builder, ctrl, bill, testLogger()))

	st.WithState(func(s *storage.State) {
		assert.Equal(t, 0, s.Signed.Len())
		assert.Equal(t, 1, s.Pending.Len())
		bal, _ := s.Ledger.Get(creator)
		assert.Equal(t, uint64(1), bal.ChainsData[dst].TxCount)
	})
	assert.Equal(t, 1, ctrl.checkStarted)
}

// erroringSigner fails every Sign call, for exercising SignFailure.
type erroringSigner struct {
	pubkey []byte
}

func (s *erroringSigner) PublicKey(ctx context.Context, keyName string, path [][]byte) ([]byte, error) {
	return s.pubkey, nil
}

func (s *erroringSigner) Sign(ctx context.Context, keyName string, path [][]byte, digest [32]byte) ([]byte, error) {
	return nil, assert.AnError
}

// TestSignerDropsMessageOnSignFailure covers §4.7/§7's SignFailure
// behavior: a message that fails to sign is dropped from the batch, not
// requeued onto "listened" for retry — the source event can only be
// rediscovered by re-polling, and per §7 that possibility is lost once
// last_block has advanced, which is an accepted loss, not a retry.
func TestSignerDropsMessageOnSignFailure(t *testing.T) {
	st := storage.New()
	src, dst := setupTwoChains(t, st)

	creator := types.NewPrincipal([]byte{20})
	var daemonId uint64
	st.WithState(func(s *storage.State) {
		s.Ledger.AddCycles(creator, []byte{20}, big.NewInt(1_000_000_000_000_000))
		d, err := s.Daemons.Register(creator, src, "0xAbCdefAbCdefAbCdefAbCdefAbCdefAbCdefAbCd", 10)
		require.NoError(t, err)
		daemonId = d.Id
		s.Listened.Push(types.Message{
			Index:       9,
			FromChainId: src,
			ToChainId:   dst,
			Sender:      make([]byte, 20),
			Body:        []byte("payload"),
			Receiver:    randomBytes(20),
			DaemonId:    daemonId,
		})
	})

	vault := &erroringSigner{pubkey: make([]byte, 65)}

	require.NoError(t, RunSigner(context.Background(), st, vault, "k", vault.pubkey, testLogger()))

	st.WithState(func(s *storage.State) {
		assert.Equal(t, 0, s.Listened.Len(), "a message that fails to sign must be dropped, not requeued onto listened")
		assert.Equal(t, 0, s.Signed.Len())
	})
}

// TestWriterDropsMalformedReceiver covers scenario E5.
func TestWriterDropsMalformedReceiver(t *testing.T) {
	st := storage.New()
	src, dst := setupTwoChains(t, st)
	creator := types.NewPrincipal([]byte{3})
	var daemonId uint64
	st.WithState(func(s *storage.State) {
		s.Ledger.AddCycles(creator, []byte{3}, big.NewInt(1_000_000_000_000_000))
		d, err := s.Daemons.Register(creator, src, "0xAbCdefAbCdefAbCdefAbCdefAbCdefAbCdefAbCd", 10)
		require.NoError(t, err)
		daemonId = d.Id
		s.Signed.Push(types.Message{
			Index:     1,
			ToChainId: dst,
			Receiver:  randomBytes(19), // malformed: spec requires 20
			Signature: make([]byte, 65),
			DaemonId:  daemonId,
		})
	})

	fc := &fakeChainClient{head: 1, gasPrice: big.NewInt(1000)}
	clients := &fakeClients{byChain: map[types.ChainId]chainclient.ChainClient{dst: fc}}
	ctrl := &fakeCtrl{}
	bill := billing.NewCoordinator(st, nil)
	builder := &fakeTxBuilder{}

	require.NoError(t, RunWriter(context.Background(), st, clients, builder, ctrl, bill, testLogger()))

	st.WithState(func(s *storage.State) {
		assert.Equal(t, 0, s.Pending.Len())
		bal, _ := s.Ledger.Get(creator)
		entry, hasEntry := bal.ChainsData[dst]
		if hasEntry {
			assert.Equal(t, uint64(0), entry.TxCount)
		}
	})
}

// TestWriterRefundsTxCountOnSendFailure covers scenario E6 at the Writer
// integration level: a failing submission must leave tx_count exactly
// where it was before the attempt.
func TestWriterRefundsTxCountOnSendFailure(t *testing.T) {
	st := storage.New()
	src, dst := setupTwoChains(t, st)
	creator := types.NewPrincipal([]byte{4})
	var daemonId uint64
	st.WithState(func(s *storage.State) {
		s.Ledger.AddCycles(creator, []byte{4}, big.NewInt(1_000_000_000_000_000))
		d, err := s.Daemons.Register(creator, src, "0xAbCdefAbCdefAbCdefAbCdefAbCdefAbCdefAbCd", 10)
		require.NoError(t, err)
		daemonId = d.Id
		s.Signed.Push(types.Message{
			Index:     1,
			ToChainId: dst,
			Receiver:  randomBytes(20),
			Signature: make([]byte, 65),
			DaemonId:  daemonId,
		})
	})

	fc := &fakeChainClient{head: 1, gasPrice: big.NewInt(1000), sendErr: assert.AnError}
	clients := &fakeClients{byChain: map[types.ChainId]chainclient.ChainClient{dst: fc}}
	ctrl := &fakeCtrl{}
	bill := billing.NewCoordinator(st, nil)
	builder := &fakeTxBuilder{}

	require.NoError(t, RunWriter(context.Background(), st, clients, builder, ctrl, bill, testLogger()))

	st.WithState(func(s *storage.State) {
		assert.Equal(t, 0, s.Pending.Len())
		assert.Equal(t, 1, s.Signed.Len(), "failed submission must be retried, not dropped")
		bal, _ := s.Ledger.Get(creator)
		assert.Equal(t, uint64(0), bal.ChainsData[dst].TxCount)
	})
}

// TestCheckerDebitsGasUsedTimesGasPrice covers scenario E4.
func TestCheckerDebitsGasUsedTimesGasPrice(t *testing.T) {
	st := storage.New()
	_, dst := setupTwoChains(t, st)
	creator := types.NewPrincipal([]byte{5})
	var daemonId uint64
	st.WithState(func(s *storage.State) {
		s.Ledger.AddCycles(creator, []byte{5}, big.NewInt(1_000_000_000_000_000))
		_, err := s.Ledger.CreditTokens(creator, []byte{5}, dst, uint256.NewInt(100_000_000_000_000), 1)
		require.NoError(t, err)
		d, err := s.Daemons.Register(creator, dst, "0xAbCdefAbCdefAbCdefAbCdefAbCdefAbCdefAbCd", 10)
		require.NoError(t, err)
		daemonId = d.Id

		var hash [32]byte
		hash[0] = 0xAB
		s.Pending.Push(types.PendingTx{
			TxHash:   hash,
			GasPrice: uint256.NewInt(1_200_000_000),
			Message:  types.Message{ToChainId: dst, DaemonId: daemonId},
		})
	})

	// The receipt's block (1) sits right below the chain head (2): the
	// Checker debits on any present receipt, with no confirmation-depth
	// wait (§1 Non-goal (iii), §4.7).
	var txHash [32]byte
	txHash[0] = 0xAB
	hash := gethcommon.BytesToHash(txHash[:])
	fc := &fakeChainClient{
		head: 2,
		receipts: map[gethcommon.Hash]*gethtypes.Receipt{
			hash: {Status: 1, GasUsed: 21000, BlockNumber: big.NewInt(1)},
		},
	}
	clients := &fakeClients{byChain: map[types.ChainId]chainclient.ChainClient{dst: fc}}
	ctrl := &fakeCtrl{}
	bill := billing.NewCoordinator(st, nil)

	require.NoError(t, RunChecker(context.Background(), st, clients, ctrl, bill, testLogger()))

	st.WithState(func(s *storage.State) {
		assert.Equal(t, 0, s.Pending.Len())
		bal, _ := s.Ledger.Get(creator)
		want := new(uint256.Int).Sub(uint256.NewInt(100_000_000_000_000), uint256.NewInt(25_200_000_000_000))
		assert.True(t, bal.ChainsData[dst].Tokens.Eq(want), "expected tokens reduced by gas_used * gas_price")
	})
}

// TestCheckerRetriesWithoutReceipt ensures an entry without a receipt yet
// stays in "pending" rather than being dropped.
func TestCheckerRetriesWithoutReceipt(t *testing.T) {
	st := storage.New()
	_, dst := setupTwoChains(t, st)
	st.WithState(func(s *storage.State) {
		var hash [32]byte
		hash[0] = 0x01
		s.Pending.Push(types.PendingTx{TxHash: hash, GasPrice: uint256.NewInt(1), Message: types.Message{ToChainId: dst}})
	})

	fc := &fakeChainClient{head: 1}
	clients := &fakeClients{byChain: map[types.ChainId]chainclient.ChainClient{dst: fc}}
	ctrl := &fakeCtrl{}
	bill := billing.NewCoordinator(st, nil)

	require.NoError(t, RunChecker(context.Background(), st, clients, ctrl, bill, testLogger()))

	st.WithState(func(s *storage.State) {
		assert.Equal(t, 1, s.Pending.Len())
	})
}

// TestCheckerStopsWhenPendingEmpty and TestWriterStopsWhenSignedEmpty
// exercise §4.7's "drained nothing this tick stops the job" rule.
func TestCheckerStopsWhenPendingEmpty(t *testing.T) {
	st := storage.New()
	ctrl := &fakeCtrl{}
	bill := billing.NewCoordinator(st, nil)
	require.NoError(t, RunChecker(context.Background(), st, &fakeClients{byChain: map[types.ChainId]chainclient.ChainClient{}}, ctrl, bill, testLogger()))
	assert.Equal(t, 1, ctrl.checkStopped)
}

func TestWriterStopsWhenSignedEmpty(t *testing.T) {
	st := storage.New()
	ctrl := &fakeCtrl{}
	bill := billing.NewCoordinator(st, nil)
	require.NoError(t, RunWriter(context.Background(), st, &fakeClients{byChain: map[types.ChainId]chainclient.ChainClient{}}, &fakeTxBuilder{}, ctrl, bill, testLogger()))
	assert.Equal(t, 1, ctrl.writeStopped)
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i + 1)
	}
	return b
}
