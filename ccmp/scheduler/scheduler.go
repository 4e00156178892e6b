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

// Package scheduler drives the three periodic pipeline jobs (Sign, Write,
// Check) plus one per-daemon Listener timer, the way the teacher's
// execution_engine_pool.go drives its batching loop: a time.Ticker per
// timer, selected over in a dedicated goroutine, stopped on context
// cancellation.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/erigontech/ccmp-relay/ccmp/billing"
	"github.com/erigontech/ccmp-relay/ccmp/jobs"
	"github.com/erigontech/ccmp-relay/ccmp/signer"
	"github.com/erigontech/ccmp-relay/ccmp/storage"
	"github.com/erigontech/ccmp-relay/ccmp/types"
	"github.com/erigontech/erigon-lib/log/v3"
)

// Scheduler owns every periodic timer in the relay.
type Scheduler struct {
	storage *storage.Storage
	clients jobs.Clients
	vault   signer.Signer
	builder jobs.TxBuilder
	billing *billing.Coordinator
	logger  log.Logger
	keyName string
	pubkey  []byte

	mu        sync.Mutex
	listeners map[uint64]*timerHandle
	sign      *timerHandle
	write     *timerHandle
	check     *timerHandle
}

type timerHandle struct {
	ticker *time.Ticker
	stop   chan struct{}
}

// New builds a Scheduler. Nothing is armed until Run is called.
func New(st *storage.Storage, clients jobs.Clients, vault signer.Signer, builder jobs.TxBuilder, bill *billing.Coordinator, keyName string, pubkey []byte, logger log.Logger) *Scheduler {
	return &Scheduler{
		storage:   st,
		clients:   clients,
		vault:     vault,
		builder:   builder,
		billing:   bill,
		logger:    logger,
		keyName:   keyName,
		pubkey:    pubkey,
		listeners: make(map[uint64]*timerHandle),
	}
}

// Run re-arms the three periodic jobs and one listener timer per
// currently-active daemon, then returns — the §4.10 restore sequence of
// "stop then run" each of Sign/Write/Check unconditionally, and "start"
// every daemon whose saved IsActive is true. Background goroutines
// continue until ctx is cancelled or Stop is called. A job that finds
// its queue empty on its very first tick stops itself again (§4.7); Run
// does not try to predict that in advance.
func (s *Scheduler) Run(ctx context.Context) {
	var activeDaemons []uint64
	s.storage.WithState(func(st *storage.State) {
		for _, d := range st.Daemons.All() {
			if d.IsActive {
				activeDaemons = append(activeDaemons, d.Id)
			}
		}
	})

	s.StopSign()
	s.StartSign(ctx)
	s.StopWrite()
	s.StartWrite(ctx)
	s.StopCheck()
	s.StartCheck(ctx)

	for _, id := range activeDaemons {
		s.ArmListener(ctx, id)
	}
}

// StartSign installs the Signer job's periodic timer if it is not
// already running (§4.8 "run": no-op when is_active).
func (s *Scheduler) StartSign(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sign != nil {
		return
	}
	var interval time.Duration
	s.storage.WithState(func(st *storage.State) { interval = st.Jobs[types.JobSign].Interval })
	s.sign = s.armPeriodic(ctx, interval, func(ctx context.Context) error {
		return jobs.RunSigner(ctx, s.storage, s.vault, s.keyName, s.pubkey, s.logger)
	})
	s.storage.WithState(func(st *storage.State) { st.Jobs[types.JobSign].IsActive = true })
}

// StopSign cancels the Signer job's timer (§4.8 "stop": no-op when not
// active).
func (s *Scheduler) StopSign() {
	s.mu.Lock()
	defer s.mu.Unlock()
	stopHandle(s.sign)
	s.sign = nil
	s.storage.WithState(func(st *storage.State) { st.Jobs[types.JobSign].IsActive = false })
}

// StartWrite installs the Writer job's periodic timer if not already
// running.
func (s *Scheduler) StartWrite(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.write != nil {
		return
	}
	var interval time.Duration
	s.storage.WithState(func(st *storage.State) { interval = st.Jobs[types.JobWrite].Interval })
	s.write = s.armPeriodic(ctx, interval, func(ctx context.Context) error {
		return jobs.RunWriter(ctx, s.storage, s.clients, s.builder, s, s.billing, s.logger)
	})
	s.storage.WithState(func(st *storage.State) { st.Jobs[types.JobWrite].IsActive = true })
}

// StopWrite cancels the Writer job's timer.
func (s *Scheduler) StopWrite() {
	s.mu.Lock()
	defer s.mu.Unlock()
	stopHandle(s.write)
	s.write = nil
	s.storage.WithState(func(st *storage.State) { st.Jobs[types.JobWrite].IsActive = false })
}

// StartCheck installs the Checker job's periodic timer if not already
// running.
func (s *Scheduler) StartCheck(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.check != nil {
		return
	}
	var interval time.Duration
	s.storage.WithState(func(st *storage.State) { interval = st.Jobs[types.JobCheck].Interval })
	s.check = s.armPeriodic(ctx, interval, func(ctx context.Context) error {
		return jobs.RunChecker(ctx, s.storage, s.clients, s, s.billing, s.logger)
	})
	s.storage.WithState(func(st *storage.State) { st.Jobs[types.JobCheck].IsActive = true })
}

// StopCheck cancels the Checker job's timer.
func (s *Scheduler) StopCheck() {
	s.mu.Lock()
	defer s.mu.Unlock()
	stopHandle(s.check)
	s.check = nil
	s.storage.WithState(func(st *storage.State) { st.Jobs[types.JobCheck].IsActive = false })
}

// ArmListener starts (or restarts, if already armed) the polling timer
// for daemon id, using its currently configured interval.
func (s *Scheduler) ArmListener(ctx context.Context, daemonId uint64) {
	var interval time.Duration
	var ok bool
	s.storage.WithState(func(st *storage.State) {
		d, found := st.Daemons.Get(daemonId)
		if found {
			interval, ok = d.Interval, true
		}
	})
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, armed := s.listeners[daemonId]; armed {
		stopHandle(existing)
	}
	s.listeners[daemonId] = s.armPeriodic(ctx, interval, func(ctx context.Context) error {
		return jobs.RunListener(ctx, s.storage, s.clients, s, s.billing, s.logger, daemonId)
	})
}

// DisarmListener stops daemon id's polling timer without touching its
// stored IsActive flag — callers update that separately via ccmp/daemons.
func (s *Scheduler) DisarmListener(daemonId uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.listeners[daemonId]; ok {
		stopHandle(h)
		delete(s.listeners, daemonId)
	}
}

// UpdateInterval re-arms the periodic job kind with newInterval, used by
// update_config (§6), and stores newInterval as the job's interval so a
// later StartX re-arms at the new cadence.
func (s *Scheduler) UpdateInterval(ctx context.Context, kind types.JobKind, newInterval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage.WithState(func(st *storage.State) {
		if j, ok := st.Jobs[kind]; ok {
			j.Interval = newInterval
			j.IsActive = true
		}
	})
	switch kind {
	case types.JobSign:
		stopHandle(s.sign)
		s.sign = s.armPeriodic(ctx, newInterval, func(ctx context.Context) error {
			return jobs.RunSigner(ctx, s.storage, s.vault, s.keyName, s.pubkey, s.logger)
		})
	case types.JobWrite:
		stopHandle(s.write)
		s.write = s.armPeriodic(ctx, newInterval, func(ctx context.Context) error {
			return jobs.RunWriter(ctx, s.storage, s.clients, s.builder, s, s.billing, s.logger)
		})
	case types.JobCheck:
		stopHandle(s.check)
		s.check = s.armPeriodic(ctx, newInterval, func(ctx context.Context) error {
			return jobs.RunChecker(ctx, s.storage, s.clients, s, s.billing, s.logger)
		})
	}
}

// Stop cancels every armed timer. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	stopHandle(s.sign)
	s.sign = nil
	stopHandle(s.write)
	s.write = nil
	stopHandle(s.check)
	s.check = nil
	for _, h := range s.listeners {
		stopHandle(h)
	}
	s.listeners = make(map[uint64]*timerHandle)
}

func (s *Scheduler) armPeriodic(ctx context.Context, interval time.Duration, run func(context.Context) error) *timerHandle {
	if interval <= 0 {
		interval = time.Second
	}
	h := &timerHandle{ticker: time.NewTicker(interval), stop: make(chan struct{})}
	go func() {
		for {
			select {
			case <-ctx.Done():
				h.ticker.Stop()
				return
			case <-h.stop:
				h.ticker.Stop()
				return
			case <-h.ticker.C:
				if err := run(ctx); err != nil {
					s.logger.Warn("[ccmp-scheduler] tick failed", "err", err)
				}
			}
		}
	}()
	return h
}

func stopHandle(h *timerHandle) {
	if h == nil {
		return
	}
	close(h.stop)
}
