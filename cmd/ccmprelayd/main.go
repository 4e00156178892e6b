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

// Command ccmprelayd runs the cross-chain message relay as a standalone
// process: one CLI entrypoint, one TOML config file, one relay.Service.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/erigontech/ccmp-relay/ccmp/methods"
	"github.com/erigontech/ccmp-relay/cmd/ccmprelayd/relayconf"
	"github.com/erigontech/ccmp-relay/cmd/ccmprelayd/snapshotcmd"
	"github.com/erigontech/ccmp-relay/relay"
	"github.com/erigontech/erigon-lib/log/v3"
	"github.com/urfave/cli/v2"
)

var ConfigFlag = cli.StringFlag{
	Name:  "config",
	Usage: "path to the relay's TOML configuration file",
	Value: "ccmprelayd.toml",
}

var StateFileFlag = cli.StringFlag{
	Name:  "state-file",
	Usage: "path to a msgpack snapshot to restore from on startup, and to write on shutdown",
}

var VerbosityFlag = cli.StringFlag{
	Name:  "verbosity",
	Usage: "log level: crit, error, warn, info, debug, trace",
	Value: "info",
}

func main() {
	app := &cli.App{
		Name:  "ccmprelayd",
		Usage: "cross-chain message relay daemon",
		Flags: []cli.Flag{
			&ConfigFlag,
			&StateFileFlag,
			&VerbosityFlag,
		},
		Commands: []*cli.Command{
			&snapshotcmd.Command,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ccmprelayd:", err)
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	logger := log.New()
	logger.SetHandler(log.LvlFilterHandler(parseLvl(cctx.String(VerbosityFlag.Name)), log.StreamHandler(os.Stderr, log.TerminalFormat(true))))

	fileCfg, err := relayconf.Load(cctx.String(ConfigFlag.Name))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg := relay.DefaultConfig()
	cfg.KeyName = fileCfg.KeyName
	cfg.ClientCacheSize = fileCfg.ClientCacheSize
	cfg.AuthorizeAdmin = methods.AllowAll

	ctx, cancel := context.WithCancel(cctx.Context)
	defer cancel()

	svc, err := relay.NewService(ctx, logger, cfg)
	if err != nil {
		return fmt.Errorf("constructing relay service: %w", err)
	}

	if statePath := cctx.String(StateFileFlag.Name); statePath != "" {
		if blob, err := os.ReadFile(statePath); err == nil {
			if err := svc.Storage().Restore(blob); err != nil {
				return fmt.Errorf("restoring state from %s: %w", statePath, err)
			}
			logger.Info("[ccmprelayd] restored state", "path", statePath)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("reading state file %s: %w", statePath, err)
		}
	}

	if err := svc.Start(); err != nil {
		return fmt.Errorf("starting relay service: %w", err)
	}

	listenSignals(ctx, cancel, logger)

	if err := svc.Stop(); err != nil {
		return fmt.Errorf("stopping relay service: %w", err)
	}

	if statePath := cctx.String(StateFileFlag.Name); statePath != "" {
		blob, err := svc.Storage().Snapshot()
		if err != nil {
			return fmt.Errorf("snapshotting state: %w", err)
		}
		if err := os.WriteFile(statePath, blob, 0o600); err != nil {
			return fmt.Errorf("writing state file %s: %w", statePath, err)
		}
		logger.Info("[ccmprelayd] wrote state", "path", statePath)
	}

	return nil
}

func parseLvl(s string) log.Lvl {
	lvl, err := log.LvlFromString(s)
	if err != nil {
		return log.LvlInfo
	}
	return lvl
}
