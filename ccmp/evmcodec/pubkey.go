package evmcodec

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// PubkeyToAddress derives the 20-byte EVM address for an uncompressed
// secp256k1 public key (65 bytes, 0x04 prefix): the low 20 bytes of
// keccak256 of the 64 non-prefix bytes.
func PubkeyToAddress(pubkey []byte) ([20]byte, error) {
	var out [20]byte
	if len(pubkey) != 65 || pubkey[0] != 0x04 {
		return out, fmt.Errorf("pubkey_to_address: expected 65-byte uncompressed key, got %d bytes", len(pubkey))
	}
	hash := crypto.Keccak256(pubkey[1:])
	copy(out[:], hash[12:])
	return out, nil
}

// FormatEvmAddress renders a 20-byte address as its EIP-55 checksummed hex
// string. It is idempotent: FormatEvmAddress(addr) run through
// ChecksumAddress again yields the same string (§8 round-trip property).
func FormatEvmAddress(addr [20]byte) string {
	cs, err := ChecksumAddress(fmt.Sprintf("%x", addr))
	if err != nil {
		// addr is always exactly 20 valid bytes, so this cannot fail.
		panic(err)
	}
	return cs
}
