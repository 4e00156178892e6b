package methods

import (
	"context"
	"math/big"

	"github.com/erigontech/ccmp-relay/ccmp/billing"
	"github.com/erigontech/ccmp-relay/ccmp/evmcodec"
	"github.com/erigontech/ccmp-relay/ccmp/jobs"
	"github.com/erigontech/ccmp-relay/ccmp/scheduler"
	"github.com/erigontech/ccmp-relay/ccmp/storage"
	"github.com/erigontech/ccmp-relay/ccmp/types"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// User groups every caller-facing (non-admin) operation: balance top-ups
// and daemon lifecycle management.
type User struct {
	storage   *storage.Storage
	scheduler *scheduler.Scheduler
	clients   jobs.Clients
}

// NewUser builds the user method group. clients resolves a registered
// chain to a live RPC client for top-up verification (§4.4); it is the
// same resolver the pipeline stages use.
func NewUser(st *storage.Storage, sched *scheduler.Scheduler, clients jobs.Clients) *User {
	return &User{storage: st, scheduler: sched, clients: clients}
}

// AddBalance registers caller's public key against the ledger if this is
// their first top-up; it performs no credit on its own — AddCycles and
// AddTokensToEvmChain do the crediting. Splitting registration from
// crediting mirrors the original's two-step "create, then top up" ledger
// flow (original_source jobs/writer top-up path).
func (u *User) AddBalance(caller types.Principal, pubkey []byte) *types.Balance {
	var bal *types.Balance
	u.storage.WithState(func(s *storage.State) {
		bal = s.Ledger.GetOrCreate(caller, pubkey)
	})
	return bal
}

// AddCycles credits amount compute cycles to caller's balance.
func (u *User) AddCycles(caller types.Principal, pubkey []byte, amount *big.Int) *types.Balance {
	var bal *types.Balance
	u.storage.WithState(func(s *storage.State) {
		bal = s.Ledger.AddCycles(caller, pubkey, amount)
	})
	return bal
}

// AddTokensToEvmChain verifies a source-chain top-up transaction and, if
// valid, credits its value to caller's per-chain token entry for chain
// (§4.4 top-up verification): txHash's receipt must report status 1, a
// destination address matching caller's own derived EVM address, and a
// transaction nonce never credited before. pubkey seeds caller's balance
// on first use, same as AddBalance/AddCycles.
func (u *User) AddTokensToEvmChain(ctx context.Context, caller types.Principal, pubkey []byte, chain types.ChainId, txHash gethcommon.Hash) (*types.ChainEntry, error) {
	err := u.storage.WithStateErr(func(s *storage.State) error {
		if _, ok := s.Chains[chain]; !ok {
			return types.NewError(types.ErrChainNotFound, "no such chain", nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	client, err := u.clients.Get(ctx, chain)
	if err != nil {
		return nil, err
	}

	tx, _, err := client.TransactionByHash(ctx, txHash)
	if err != nil || tx == nil {
		return nil, types.NewError(types.ErrTxNotFound, "top-up transaction not found", err)
	}

	receipt, err := client.TransactionReceipt(ctx, txHash)
	if err != nil || receipt == nil {
		return nil, types.NewError(types.ErrTxNotFinalized, "top-up transaction has no receipt yet", err)
	}
	if receipt.Status != 1 {
		return nil, types.NewError(types.ErrTxNotFinalized, "top-up transaction did not succeed", nil)
	}
	if receipt.To == nil {
		return nil, types.NewError(types.ErrTxWithoutDest, "top-up transaction has no destination address", nil)
	}

	var bal *types.Balance
	u.storage.WithState(func(s *storage.State) {
		bal = s.Ledger.GetOrCreate(caller, pubkey)
	})
	ownerAddr, err := evmcodec.PubkeyToAddress(bal.PublicKey)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidAddress, "caller has no derivable EVM address", err)
	}
	if *receipt.To != gethcommon.Address(ownerAddr) {
		return nil, types.NewError(types.ErrTxDestMismatch, "top-up transaction was not sent to the caller's relay address", nil)
	}

	amount, overflow := uint256.FromBig(tx.Value())
	if overflow {
		return nil, types.NewError(types.ErrInvalidAddress, "top-up value overflows uint256", nil)
	}

	var entry *types.ChainEntry
	err = u.storage.WithStateErr(func(s *storage.State) error {
		e, creditErr := s.Ledger.CreditTokens(caller, pubkey, chain, amount, tx.Nonce())
		if creditErr != nil {
			return creditErr
		}
		entry = e
		return nil
	})
	return entry, err
}

// RegisterDaemon registers a new listening daemon for caller on
// listenChain, watching ccmpContractAddr (checksummed before storage) at
// the given polling interval, and starts it immediately (§4.5): the
// caller does not need a separate StartDaemon call right after
// registering one.
func (u *User) RegisterDaemon(ctx context.Context, caller types.Principal, listenChain types.ChainId, ccmpContractAddr string, intervalSecs uint64) (*types.Daemon, error) {
	checksummed, err := evmcodec.ChecksumAddress(ccmpContractAddr)
	if err != nil {
		return nil, err
	}
	var daemon *types.Daemon
	err = u.storage.WithStateErr(func(s *storage.State) error {
		if _, ok := s.Chains[listenChain]; !ok {
			return types.NewError(types.ErrChainNotFound, "no such chain", nil)
		}
		bal, ok := s.Ledger.Get(caller)
		if !ok || bal.Cycles.Cmp(types.MinimumCycles) < 0 {
			return types.NewError(types.ErrInsufficientCyc, "balance below minimum required to register a daemon", nil)
		}
		d, regErr := s.Daemons.Register(caller, listenChain, checksummed, intervalSecs)
		if regErr != nil {
			return regErr
		}
		d.IsActive = true
		daemon = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.scheduler.ArmListener(ctx, daemon.Id)
	return daemon, nil
}

// StartDaemon activates daemonId (must be owned by caller) and arms its
// listener timer, refusing to start if caller's balance is already below
// the minimum cycle floor.
func (u *User) StartDaemon(ctx context.Context, caller types.Principal, daemonId uint64, bill *billing.Coordinator) (*types.Daemon, error) {
	if !bill.HasMinimum(caller) {
		return nil, types.NewError(types.ErrInsufficientCyc, "balance below minimum, top up before starting a daemon", nil)
	}
	var daemon *types.Daemon
	err := u.storage.WithStateErr(func(s *storage.State) error {
		d, startErr := s.Daemons.Start(daemonId, caller)
		if startErr != nil {
			return startErr
		}
		daemon = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.scheduler.ArmListener(ctx, daemonId)
	return daemon, nil
}

// StopDaemon deactivates daemonId (must be owned by caller) and disarms
// its listener timer.
func (u *User) StopDaemon(caller types.Principal, daemonId uint64) (*types.Daemon, error) {
	var daemon *types.Daemon
	err := u.storage.WithStateErr(func(s *storage.State) error {
		d, stopErr := s.Daemons.Stop(daemonId, caller)
		if stopErr != nil {
			return stopErr
		}
		daemon = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.scheduler.DisarmListener(daemonId)
	return daemon, nil
}

// GetDaemon returns daemonId if owned by caller.
func (u *User) GetDaemon(caller types.Principal, daemonId uint64) (*types.Daemon, error) {
	var daemon *types.Daemon
	err := u.storage.WithStateErr(func(s *storage.State) error {
		d, getErr := s.Daemons.GetIfOwner(daemonId, caller)
		if getErr != nil {
			return getErr
		}
		daemon = d
		return nil
	})
	return daemon, err
}

// GetDaemons lists every daemon caller has registered.
func (u *User) GetDaemons(caller types.Principal) []*types.Daemon {
	var out []*types.Daemon
	u.storage.WithState(func(s *storage.State) {
		out = s.Daemons.ListByCreator(caller)
	})
	return out
}

// GetBalance returns caller's ledger balance, or (nil, false) if they have
// never topped up.
func (u *User) GetBalance(caller types.Principal) (*types.Balance, bool) {
	var bal *types.Balance
	var ok bool
	u.storage.WithState(func(s *storage.State) {
		bal, ok = s.Ledger.Get(caller)
	})
	return bal, ok
}
