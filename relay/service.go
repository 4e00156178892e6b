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

// Package relay wires the ccmp subpackages into one runnable service: the
// storage facade, the chain client pool, the signing vault, the billing
// coordinator, the scheduler, and the admin/user method surfaces.
package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/erigontech/ccmp-relay/ccmp/billing"
	"github.com/erigontech/ccmp-relay/ccmp/chainclient"
	"github.com/erigontech/ccmp-relay/ccmp/methods"
	"github.com/erigontech/ccmp-relay/ccmp/scheduler"
	"github.com/erigontech/ccmp-relay/ccmp/signer"
	"github.com/erigontech/ccmp-relay/ccmp/storage"
	"github.com/erigontech/ccmp-relay/ccmp/types"
	"github.com/erigontech/erigon-lib/log/v3"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// Config is the host-supplied bootstrap configuration — the part of
// configuration that exists before Storage does, so it cannot itself
// live in Storage (see SPEC_FULL.md §10 on the config split).
type Config struct {
	KeyName         string
	ClientCacheSize int
	MetricsRegistry prometheus.Registerer
	AuthorizeAdmin  methods.AuthorizeAdmin
}

// DefaultConfig returns sensible bootstrap defaults for a single-operator
// deployment.
func DefaultConfig() Config {
	return Config{
		KeyName:         "ccmp_relay_key_1",
		ClientCacheSize: 64,
		MetricsRegistry: prometheus.DefaultRegisterer,
		AuthorizeAdmin:  methods.AllowAll,
	}
}

// Service is the embedded relay, following the same ctx/cancel/logger
// lifecycle shape as the teacher's CaplinService: constructed with a
// parent context, started once, stopped once.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger log.Logger

	storage   *storage.Storage
	vault     *signer.LocalVault
	billing   *billing.Coordinator
	scheduler *scheduler.Scheduler
	clients   *clientPool

	Admin *methods.Admin
	User  *methods.User

	cfg Config

	mu      sync.Mutex
	running bool
}

// NewService constructs the relay. Nothing is dialed or started until
// Start is called.
func NewService(ctx context.Context, logger log.Logger, cfg Config) (*Service, error) {
	if cfg.AuthorizeAdmin == nil {
		cfg.AuthorizeAdmin = methods.AllowAll
	}
	if cfg.ClientCacheSize <= 0 {
		cfg.ClientCacheSize = 64
	}

	vault, err := signer.NewLocalVault(cfg.KeyName)
	if err != nil {
		return nil, fmt.Errorf("relay: building signing vault: %w", err)
	}

	st := storage.New()
	bill := billing.NewCoordinator(st, cfg.MetricsRegistry)

	cache, err := lru.New[types.ChainId, chainclient.ChainClient](cfg.ClientCacheSize)
	if err != nil {
		return nil, fmt.Errorf("relay: building client cache: %w", err)
	}
	pool := &clientPool{storage: st, cache: cache}

	builder := &defaultTxBuilder{storage: st, vault: vault, keyName: cfg.KeyName}

	ctx, cancel := context.WithCancel(ctx)
	svcLogger := logger.New("service", "ccmp-relay")

	pubkey, err := vault.PublicKey(ctx, cfg.KeyName, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("relay: deriving relay public key: %w", err)
	}

	sched := scheduler.New(st, pool, vault, builder, bill, cfg.KeyName, pubkey, svcLogger)

	return &Service{
		ctx:       ctx,
		cancel:    cancel,
		logger:    svcLogger,
		storage:   st,
		vault:     vault,
		billing:   bill,
		scheduler: sched,
		clients:   pool,
		Admin:     methods.NewAdmin(st, sched, cfg.AuthorizeAdmin),
		User:      methods.NewUser(st, sched, pool),
		cfg:       cfg,
	}, nil
}

// Start arms the scheduler's periodic jobs and every active daemon's
// listener timer.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.logger.Info("[ccmp-relay] starting pipeline")
	s.scheduler.Run(s.ctx)
	s.running = true
	return nil
}

// Stop cancels every timer. Snapshotting storage for durable restart is
// the caller's responsibility (cmd/ccmprelayd does it via Storage()
// after Stop returns), not Service's — a library embedder may not want
// a snapshot taken at all.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.logger.Info("[ccmp-relay] stopping pipeline")
	s.scheduler.Stop()
	s.cancel()
	s.running = false
	return nil
}

// Storage exposes the underlying facade for the durable-state restore
// path (cmd/ccmprelayd reads a snapshot and calls Storage().Restore
// before Start).
func (s *Service) Storage() *storage.Storage {
	return s.storage
}

// Billing exposes the billing coordinator. cmd/ccmprelayd does not use
// it and serves no metrics endpoint.
func (s *Service) Billing() *billing.Coordinator {
	return s.billing
}
