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

// Package daemons implements the registry of per-user listening daemons:
// the (creator, listen_chain_id, interval) configuration that drives the
// Listener job's per-chain polling schedule.
package daemons

import (
	"time"

	"github.com/erigontech/ccmp-relay/ccmp/types"
)

// Registry holds every registered daemon, keyed by its assigned id, plus
// a secondary index from creator to their daemon ids for List.
type Registry struct {
	byId      map[uint64]*types.Daemon
	byCreator map[types.Principal][]uint64
	nextId    uint64
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byId:      make(map[uint64]*types.Daemon),
		byCreator: make(map[types.Principal][]uint64),
	}
}

// Register creates a new daemon for creator listening on listenChainId
// with the given interval, failing if interval is out of
// [MinDaemonIntervalSecs, MaxDaemonIntervalSecs]. The daemon starts
// inactive; Start marks it active, and arming its timer is left to the
// scheduler (Scheduler.ArmListener).
func (r *Registry) Register(creator types.Principal, listenChainId types.ChainId, ccmpContract string, intervalSecs uint64) (*types.Daemon, error) {
	if !types.ValidInterval(intervalSecs) {
		return nil, types.NewError(types.ErrInvalidInterval, "daemon interval out of bounds", nil)
	}
	r.nextId++
	d := &types.Daemon{
		Id:            r.nextId,
		Creator:       creator,
		ListenChainId: listenChainId,
		CcmpContract:  ccmpContract,
		Interval:      time.Duration(intervalSecs) * time.Second,
		IsActive:      false,
	}
	r.byId[d.Id] = d
	r.byCreator[creator] = append(r.byCreator[creator], d.Id)
	return d, nil
}

// GetIfOwner returns the daemon with id if it exists and was created by
// creator; it returns ErrNotOwner (not ErrDaemonNotFound) if the id exists
// but belongs to someone else, so callers can distinguish "doesn't exist"
// from "exists, not yours" the way the admin-auth boundary (SPEC_FULL.md
// §6) requires.
func (r *Registry) GetIfOwner(id uint64, creator types.Principal) (*types.Daemon, error) {
	d, ok := r.byId[id]
	if !ok {
		return nil, types.NewError(types.ErrDaemonNotFound, "no such daemon", nil)
	}
	if d.Creator != creator {
		return nil, types.NewError(types.ErrNotOwner, "daemon belongs to another principal", nil)
	}
	return d, nil
}

// Get returns the daemon with id regardless of ownership; internal job
// code (Listener) uses this, external methods use GetIfOwner.
func (r *Registry) Get(id uint64) (*types.Daemon, bool) {
	d, ok := r.byId[id]
	return d, ok
}

// ListByCreator returns every daemon registered by creator.
func (r *Registry) ListByCreator(creator types.Principal) []*types.Daemon {
	ids := r.byCreator[creator]
	out := make([]*types.Daemon, 0, len(ids))
	for _, id := range ids {
		if d, ok := r.byId[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// All returns every registered daemon, active or not — Scheduler.Run uses
// this on startup (including after ccmp/storage.Restore) to rearm timers.
func (r *Registry) All() []*types.Daemon {
	out := make([]*types.Daemon, 0, len(r.byId))
	for _, d := range r.byId {
		out = append(out, d)
	}
	return out
}

// Start marks id active if owned by creator; it is idempotent.
func (r *Registry) Start(id uint64, creator types.Principal) (*types.Daemon, error) {
	d, err := r.GetIfOwner(id, creator)
	if err != nil {
		return nil, err
	}
	d.IsActive = true
	return d, nil
}

// Stop marks id inactive if owned by creator; it is idempotent.
func (r *Registry) Stop(id uint64, creator types.Principal) (*types.Daemon, error) {
	d, err := r.GetIfOwner(id, creator)
	if err != nil {
		return nil, err
	}
	d.IsActive = false
	return d, nil
}

// ForceStop marks id inactive regardless of ownership: ccmp/billing calls
// this when a principal's cycles run out (auto-stop-on-insufficient-cycles,
// SPEC_FULL.md §4.9), which is not a creator-initiated action.
func (r *Registry) ForceStop(id uint64) {
	if d, ok := r.byId[id]; ok {
		d.IsActive = false
	}
}

// AdoptRestored inserts d as-is (preserving its Id) into the registry,
// updating nextId so future Register calls never collide with a restored
// daemon. Used only by ccmp/storage.Restore.
func (r *Registry) AdoptRestored(d *types.Daemon) {
	d.TimerHandle = nil
	r.byId[d.Id] = d
	r.byCreator[d.Creator] = append(r.byCreator[d.Creator], d.Id)
	if d.Id > r.nextId {
		r.nextId = d.Id
	}
}

