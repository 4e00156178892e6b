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

// Package storage is the relay's single source of truth: every aggregate
// (chains, ledger, daemons, message queues, jobs, config) lives behind one
// Storage value, reached only through WithState's coarse mutex. This
// mirrors the teacher's cached_reader2.go pattern of a single guarded
// state object rather than per-field locks — one lock, held briefly,
// never across an RPC or signing call.
package storage

import (
	"sync"
	"time"

	"github.com/erigontech/ccmp-relay/ccmp/daemons"
	"github.com/erigontech/ccmp-relay/ccmp/ledger"
	"github.com/erigontech/ccmp-relay/ccmp/msgqueue"
	"github.com/erigontech/ccmp-relay/ccmp/types"
)

// State is everything WithState serializes access to.
type State struct {
	Chains  map[types.ChainId]*types.EvmChain
	Meta    map[types.ChainId]*types.ChainMetadata
	Ledger  *ledger.Ledger
	Daemons *daemons.Registry
	Config  types.Config

	Listened *msgqueue.FIFOQueue[types.Message]
	Signed   *msgqueue.FIFOQueue[types.Message]
	Pending  *msgqueue.FIFOQueue[types.PendingTx]

	Jobs map[types.JobKind]*types.Job

	nextChainId uint64
}

// Storage is the root handle callers hold. Every field of State is reached
// only from inside WithState.
type Storage struct {
	mu    sync.Mutex
	state *State
}

// New builds an empty Storage with default config and the three fixed
// periodic jobs (Sign/Write/Check) pre-registered but inactive.
func New() *Storage {
	cfg := types.DefaultConfig()
	return &Storage{
		state: &State{
			Chains:  make(map[types.ChainId]*types.EvmChain),
			Meta:    make(map[types.ChainId]*types.ChainMetadata),
			Ledger:  ledger.New(),
			Daemons: daemons.New(),
			Config:  cfg,

			Listened: msgqueue.NewFIFOQueue[types.Message](),
			Signed:   msgqueue.NewFIFOQueue[types.Message](),
			Pending:  msgqueue.NewFIFOQueue[types.PendingTx](),

			Jobs: defaultJobs(cfg),
		},
	}
}

func defaultJobs(cfg types.Config) map[types.JobKind]*types.Job {
	return map[types.JobKind]*types.Job{
		types.JobSign:  {Kind: types.JobSign, Interval: secs(cfg.SignerIntervalSecs)},
		types.JobWrite: {Kind: types.JobWrite, Interval: secs(cfg.WriterIntervalSecs)},
		types.JobCheck: {Kind: types.JobCheck, Interval: secs(cfg.CheckerIntervalSecs)},
	}
}

// WithState runs fn with exclusive access to the state, holding the lock
// for fn's entire duration. Callers must never block on I/O (RPC calls,
// signing, disk) inside fn — those happen before/after WithState, with
// only the resulting state mutation wrapped here. This is the Go
// rendering of the original's "release the lock before every await":
// since Go has no explicit await, the discipline becomes "only ever call
// WithState around pure state transitions."
func (s *Storage) WithState(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// WithStateErr is WithState for functions that can fail; the error
// propagates to the caller unchanged.
func (s *Storage) WithStateErr(fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// NextChainId allocates the next dense ChainId for add_evm_chain.
func (st *State) NextChainId() types.ChainId {
	st.nextChainId++
	return types.ChainId(st.nextChainId)
}

func secs(n uint64) time.Duration {
	return time.Duration(n) * time.Second
}

// Summary is a point-in-time read of the aggregate counts, for
// operator-facing diagnostics (ccmprelayd's snapshot import/export
// subcommands print this instead of the raw state).
type Summary struct {
	Chains        int
	Daemons       int
	ListenedQueue int
	SignedQueue   int
	PendingQueue  int
}

func (s *Storage) Summary() Summary {
	var out Summary
	s.WithState(func(st *State) {
		out.Chains = len(st.Chains)
		out.Daemons = len(st.Daemons.All())
		out.ListenedQueue = st.Listened.Len()
		out.SignedQueue = st.Signed.Len()
		out.PendingQueue = st.Pending.Len()
	})
	return out
}
