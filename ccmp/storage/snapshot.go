package storage

import (
	"github.com/erigontech/ccmp-relay/ccmp/types"
	"github.com/ugorji/go/codec"
)

// snapshotEnvelope is the on-disk shape: a flattening of State into
// plain, codec-friendly fields. Runtime-only fields (TimerHandle on Job
// and Daemon) are excluded by their `codec:"-"` tags on the underlying
// types and are re-armed by the scheduler after Restore, not persisted.
type snapshotEnvelope struct {
	Chains      map[types.ChainId]*types.EvmChain     `codec:"chains"`
	Meta        map[types.ChainId]*types.ChainMetadata `codec:"meta"`
	Balances    map[string]*types.Balance              `codec:"balances"`
	Daemons     []*types.Daemon                        `codec:"daemons"`
	Config      types.Config                           `codec:"config"`
	Listened    []types.Message                        `codec:"listened"`
	Signed      []types.Message                        `codec:"signed"`
	Pending     []types.PendingTx                      `codec:"pending"`
	Jobs        map[types.JobKind]*types.Job            `codec:"jobs"`
	NextChainId uint64                                  `codec:"next_chain_id"`
	NextDaemon  uint64                                  `codec:"next_daemon_id"`
}

var mpHandle = &codec.MsgpackHandle{}

// Snapshot serializes the entire storage state to msgpack bytes, suitable
// for writing to the host's durable-state facade (SPEC_FULL.md §4.10)
// across upgrades/restarts.
func (s *Storage) Snapshot() ([]byte, error) {
	var out []byte
	s.WithState(func(st *State) {
		env := snapshotEnvelope{
			Chains:      st.Chains,
			Meta:        st.Meta,
			Balances:    make(map[string]*types.Balance),
			Daemons:     st.Daemons.All(),
			Config:      st.Config,
			Listened:    st.Listened.DrainUpTo(maxInt),
			Signed:      st.Signed.DrainUpTo(maxInt),
			Pending:     st.Pending.DrainUpTo(maxInt),
			Jobs:        st.Jobs,
			NextChainId: uint64(st.nextChainId),
		}
		// DrainUpTo empties the live queues; put the items straight back so
		// Snapshot is read-only from the caller's point of view.
		for _, m := range env.Listened {
			st.Listened.Push(m)
		}
		for _, m := range env.Signed {
			st.Signed.Push(m)
		}
		for _, p := range env.Pending {
			st.Pending.Push(p)
		}
		for p, bal := range allBalances(st) {
			env.Balances[p.String()] = bal
		}

		enc := codec.NewEncoderBytes(&out, mpHandle)
		if err := enc.Encode(env); err != nil {
			out = nil
		}
	})
	return out, nil
}

const maxInt = int(^uint(0) >> 1)

// allBalances walks every principal the ledger currently tracks, not
// just daemon creators — a principal can hold a balance (AddBalance /
// AddCycles / a top-up) without ever registering a daemon.
func allBalances(st *State) map[types.Principal]*types.Balance {
	return st.Ledger.All()
}

// Restore replaces the storage state with the contents of a msgpack blob
// produced by Snapshot. Restore deliberately leaves every restored Job and
// Daemon's TimerHandle nil; calling Scheduler.Run afterward re-arms the
// three periodic jobs and one listener timer per active daemon from this
// restored state, the same way it arms them on a fresh Storage.
func (s *Storage) Restore(blob []byte) error {
	var env snapshotEnvelope
	dec := codec.NewDecoderBytes(blob, mpHandle)
	if err := dec.Decode(&env); err != nil {
		return types.NewError(types.ErrPreconditionFail, "restore: decode failed", err)
	}

	fresh := New()
	s.WithState(func(st *State) {
		st.Chains = env.Chains
		if st.Chains == nil {
			st.Chains = make(map[types.ChainId]*types.EvmChain)
		}
		st.Meta = env.Meta
		if st.Meta == nil {
			st.Meta = make(map[types.ChainId]*types.ChainMetadata)
		}
		st.Config = env.Config
		st.Jobs = env.Jobs
		if st.Jobs == nil {
			st.Jobs = defaultJobs(env.Config)
		}
		st.nextChainId = env.NextChainId

		st.Ledger = fresh.state.Ledger
		for hexPrincipal, bal := range env.Balances {
			raw, err := decodeHexPrincipal(hexPrincipal)
			if err != nil {
				continue
			}
			p := types.NewPrincipal(raw)
			st.Ledger.GetOrCreate(p, bal.PublicKey)
			restored, _ := st.Ledger.Get(p)
			restored.Cycles = bal.Cycles
			restored.ChainsData = bal.ChainsData
		}

		st.Daemons = fresh.state.Daemons
		for _, d := range env.Daemons {
			st.Daemons.AdoptRestored(d)
		}

		st.Listened = newQueueFrom(env.Listened)
		st.Signed = newQueueFrom(env.Signed)
		st.Pending = newQueueFrom(env.Pending)
	})
	return nil
}
