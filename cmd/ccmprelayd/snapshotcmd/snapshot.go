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

// Package snapshotcmd holds ccmprelayd's state-file maintenance
// subcommands, split out the way the teacher splits cmd/snapshots/downgrade
// into its own package with a package-level Command variable.
package snapshotcmd

import (
	"fmt"
	"os"

	"github.com/erigontech/ccmp-relay/ccmp/storage"
	"github.com/urfave/cli/v2"
)

var OutFlag = cli.StringFlag{
	Name:     "out",
	Usage:    "output path for the re-encoded snapshot",
	Required: true,
}

var ImportCommand = cli.Command{
	Name:      "import",
	Usage:     "decode a state snapshot and print its summary, without starting the relay",
	ArgsUsage: "<state-file>",
	Action:    runImport,
}

var ExportCommand = cli.Command{
	Name:      "export",
	Usage:     "decode a state snapshot and re-encode it to --out, validating the round trip",
	ArgsUsage: "<state-file>",
	Flags:     []cli.Flag{&OutFlag},
	Action:    runExport,
}

// Command is the top-level "snapshot" subcommand, grouping import/export.
var Command = cli.Command{
	Name:  "snapshot",
	Usage: "inspect and validate ccmprelayd state snapshots",
	Subcommands: []*cli.Command{
		&ImportCommand,
		&ExportCommand,
	},
}

func runImport(cctx *cli.Context) error {
	path := cctx.Args().First()
	if path == "" {
		return fmt.Errorf("snapshot import: missing <state-file> argument")
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	st := storage.New()
	if err := st.Restore(blob); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}

	printSummary(path, st.Summary())
	return nil
}

func runExport(cctx *cli.Context) error {
	path := cctx.Args().First()
	if path == "" {
		return fmt.Errorf("snapshot export: missing <state-file> argument")
	}
	outPath := cctx.String(OutFlag.Name)

	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	st := storage.New()
	if err := st.Restore(blob); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}

	reencoded, err := st.Snapshot()
	if err != nil {
		return fmt.Errorf("re-encoding snapshot: %w", err)
	}
	if err := os.WriteFile(outPath, reencoded, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}

	printSummary(outPath, st.Summary())
	return nil
}

func printSummary(path string, s storage.Summary) {
	fmt.Printf("%s: %d chains, %d daemons, queues listened=%d signed=%d pending=%d\n",
		path, s.Chains, s.Daemons, s.ListenedQueue, s.SignedQueue, s.PendingQueue)
}
