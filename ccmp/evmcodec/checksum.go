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

// Package evmcodec implements the EVM-specific wire format this relay
// speaks: CcmpMessage log parsing, abi.encodePacked, the keccak256 digest
// over it, and EIP-55 address checksumming.
package evmcodec

import (
	"fmt"
	"strings"

	"github.com/erigontech/ccmp-relay/ccmp/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ChecksumAddress applies EIP-55 mixed-case checksumming to a 20-byte
// address. addr may be given with or without a leading "0x" and in any
// case; the result always has one.
func ChecksumAddress(addr string) (string, error) {
	hexPart := strings.TrimPrefix(addr, "0x")
	hexPart = strings.TrimPrefix(hexPart, "0X")
	if len(hexPart) != 40 {
		return "", types.NewError(types.ErrInvalidAddress, fmt.Sprintf("address must be 40 hex chars, got %d", len(hexPart)), nil)
	}
	lower := strings.ToLower(hexPart)
	for _, c := range lower {
		if !isHexChar(c) {
			return "", types.NewError(types.ErrInvalidAddress, fmt.Sprintf("non-hex character %q", c), nil)
		}
	}
	hash := crypto.Keccak256([]byte(lower))
	hashHex := fmt.Sprintf("%x", hash)

	var b strings.Builder
	b.WriteString("0x")
	for i, c := range lower {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
			continue
		}
		// hashHex[i] is a hex digit 0-f; nibble value > 7 means uppercase.
		if hashHex[i] > '7' {
			b.WriteRune(c - 32) // to uppercase
		} else {
			b.WriteRune(c)
		}
	}
	return b.String(), nil
}

// IsChecksummed reports whether addr is already in its unique EIP-55 form.
func IsChecksummed(addr string) bool {
	cs, err := ChecksumAddress(addr)
	if err != nil {
		return false
	}
	return cs == addr
}

func isHexChar(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
