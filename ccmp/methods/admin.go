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

// Package methods is the relay's external call surface: the admin and
// user operations a host process exposes over whatever transport it
// chooses (SPEC_FULL.md §6 treats admin authorization as a pluggable
// hook, not a fixed transport).
package methods

import (
	"context"
	"time"

	"github.com/erigontech/ccmp-relay/ccmp/evmcodec"
	"github.com/erigontech/ccmp-relay/ccmp/scheduler"
	"github.com/erigontech/ccmp-relay/ccmp/storage"
	"github.com/erigontech/ccmp-relay/ccmp/types"
	"github.com/holiman/uint256"
)

// AuthorizeAdmin is the pluggable authorization hook every admin method
// checks before mutating chain configuration. The default host wires a
// no-op that always authorizes (single-operator deployments); multi-admin
// hosts supply their own check.
type AuthorizeAdmin func(ctx context.Context, caller types.Principal) error

// AllowAll is the default AuthorizeAdmin: every caller is an admin.
func AllowAll(context.Context, types.Principal) error { return nil }

// Admin groups every admin-only operation.
type Admin struct {
	storage   *storage.Storage
	scheduler *scheduler.Scheduler
	authorize AuthorizeAdmin
}

// NewAdmin builds the admin method group. authorize is consulted by every
// method before it runs; pass AllowAll for a single-operator deployment.
func NewAdmin(st *storage.Storage, sched *scheduler.Scheduler, authorize AuthorizeAdmin) *Admin {
	if authorize == nil {
		authorize = AllowAll
	}
	return &Admin{storage: st, scheduler: sched, authorize: authorize}
}

// AddEvmChain registers a new EVM-type destination/source chain, checksumming
// ccmpContractAddr to its canonical EIP-55 form before storing it.
func (a *Admin) AddEvmChain(ctx context.Context, caller types.Principal, name string, nativeChainId *uint256.Int, rpcUrl string, ccmpContractAddr string) (types.ChainId, error) {
	if err := a.authorize(ctx, caller); err != nil {
		return 0, err
	}
	if !types.ValidNativeChainId(nativeChainId) {
		return 0, types.NewError(types.ErrInvalidChainId, "native_chain_id must fit in 64 bits", nil)
	}
	checksummed, err := evmcodec.ChecksumAddress(ccmpContractAddr)
	if err != nil {
		return 0, err
	}

	var id types.ChainId
	a.storage.WithState(func(s *storage.State) {
		id = s.NextChainId()
		s.Chains[id] = &types.EvmChain{
			Name:             name,
			NativeChainId:    nativeChainId,
			RpcUrl:           rpcUrl,
			CcmpContractAddr: checksummed,
		}
		s.Meta[id] = &types.ChainMetadata{Name: name, ChainType: types.ChainTypeEvm}
	})
	return id, nil
}

// UpdateEvmChainRpc replaces chain's RPC endpoint, e.g. to fail over to a
// backup provider without losing the chain's accumulated ledger state.
func (a *Admin) UpdateEvmChainRpc(ctx context.Context, caller types.Principal, chain types.ChainId, rpcUrl string) error {
	if err := a.authorize(ctx, caller); err != nil {
		return err
	}
	return a.storage.WithStateErr(func(s *storage.State) error {
		c, ok := s.Chains[chain]
		if !ok {
			return types.NewError(types.ErrChainNotFound, "no such chain", nil)
		}
		c.RpcUrl = rpcUrl
		return nil
	})
}

// RemoveChain deletes chain's configuration. It does not purge any ledger
// balances referencing it — those remain addressable, should the chain be
// re-added under the same ChainId later (it won't be; ids are never
// reused, so this is effectively a tombstone).
func (a *Admin) RemoveChain(ctx context.Context, caller types.Principal, chain types.ChainId) error {
	if err := a.authorize(ctx, caller); err != nil {
		return err
	}
	return a.storage.WithStateErr(func(s *storage.State) error {
		if _, ok := s.Chains[chain]; !ok {
			return types.NewError(types.ErrChainNotFound, "no such chain", nil)
		}
		delete(s.Chains, chain)
		delete(s.Meta, chain)
		return nil
	})
}

// UpdateConfig replaces the relay's signer/writer/checker cadence,
// re-arming the scheduler's three periodic jobs to the new intervals.
func (a *Admin) UpdateConfig(ctx context.Context, caller types.Principal, cfg types.Config) error {
	if err := a.authorize(ctx, caller); err != nil {
		return err
	}
	a.storage.WithState(func(s *storage.State) {
		s.Config = cfg
	})
	a.scheduler.UpdateInterval(ctx, types.JobSign, time.Duration(cfg.SignerIntervalSecs)*time.Second)
	a.scheduler.UpdateInterval(ctx, types.JobWrite, time.Duration(cfg.WriterIntervalSecs)*time.Second)
	a.scheduler.UpdateInterval(ctx, types.JobCheck, time.Duration(cfg.CheckerIntervalSecs)*time.Second)
	return nil
}

// GetConfig returns the relay's current configuration. Unlike the other
// admin methods, this is read-only and does not check authorize — it
// leaks no secret, only cadence, so any caller may read it.
func (a *Admin) GetConfig() types.Config {
	var cfg types.Config
	a.storage.WithState(func(s *storage.State) {
		cfg = s.Config
	})
	return cfg
}
