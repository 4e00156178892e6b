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

// Package relayconf loads ccmprelayd's host bootstrap configuration from
// a TOML file, the format the teacher's own config layer favors.
package relayconf

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// File is ccmprelayd's on-disk configuration: everything the relay needs
// before Storage exists (see relay.Config's doc comment on the same
// split).
type File struct {
	KeyName         string `toml:"key_name"`
	ClientCacheSize int    `toml:"client_cache_size"`
	MetricsAddr     string `toml:"metrics_addr"`
}

// Default returns the configuration used when no file is present.
func Default() File {
	return File{
		KeyName:         "ccmp_relay_key_1",
		ClientCacheSize: 64,
		MetricsAddr:     "127.0.0.1:6061",
	}
}

// Load reads and parses path, falling back to Default() if path does not
// exist — a missing config file is not an error for a first run.
func Load(path string) (File, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}
