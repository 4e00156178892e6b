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

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/erigontech/erigon-lib/log/v3"
	"golang.org/x/sys/unix"
)

// listenSignals blocks until SIGINT/SIGTERM is received or ctx is
// otherwise cancelled, then calls cancel and returns. A second interrupt
// while shutdown is already underway force-exits, the same escalation
// turbo/debug.ListenSignals uses for the full node.
func listenSignals(ctx context.Context, cancel context.CancelFunc, logger log.Logger) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, unix.SIGINT, unix.SIGTERM)

	select {
	case <-sigc:
		logger.Info("[ccmprelayd] got interrupt, shutting down")
		cancel()
	case <-ctx.Done():
		signal.Stop(sigc)
		return
	}

	go func() {
		<-sigc
		logger.Warn("[ccmprelayd] force exiting")
		os.Exit(1)
	}()
}
