package evmcodec

import (
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// EncodePacked reproduces Solidity's abi.encodePacked for the exact tuple
// the relay signs over: (index:u256, from:u256, to:u256, sender:bytes,
// message:bytes, receiver:address). Unlike ABI "encode", encodePacked has
// no length prefixes or padding between dynamic fields — each value is
// concatenated at its natural width.
func EncodePacked(index uint64, fromNativeChainId, toNativeChainId *uint256.Int, sender []byte, message []byte, receiver [20]byte) []byte {
	out := make([]byte, 0, 32+32+32+len(sender)+len(message)+20)
	out = append(out, leftPad32(new(big.Int).SetUint64(index))...)
	out = append(out, leftPad32(fromNativeChainId.ToBig())...)
	out = append(out, leftPad32(toNativeChainId.ToBig())...)
	out = append(out, sender...)
	out = append(out, message...)
	out = append(out, receiver[:]...)
	return out
}

// Digest is keccak256(EncodePacked(...)) — the 32-byte value the ECDSA
// signer is asked to sign for an EVM destination.
func Digest(index uint64, fromNativeChainId, toNativeChainId *uint256.Int, sender []byte, message []byte, receiver [20]byte) [32]byte {
	packed := EncodePacked(index, fromNativeChainId, toNativeChainId, sender, message, receiver)
	var out [32]byte
	copy(out[:], crypto.Keccak256(packed))
	return out
}

// leftPad32 renders n as abi.encodePacked would for a uint256: a full
// 32-byte big-endian word, zero-padded on the left.
func leftPad32(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
