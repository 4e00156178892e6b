package evmcodec

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// ReceiveMessageSelector is the 4-byte selector for the destination
// contract's receiveMessage(uint256,uint256,uint256,bytes,bytes,address,
// bytes) entrypoint (SPEC_FULL.md §6 wire format) — standard ABI
// "encode", unlike the encodePacked digest the message is signed over.
var ReceiveMessageSelector = func() [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte("receiveMessage(uint256,uint256,uint256,bytes,bytes,address,bytes)"))[:4])
	return sel
}()

var receiveMessageArgs = mustArguments(
	abi.Argument{Name: "index", Type: mustType("uint256")},
	abi.Argument{Name: "from_chain", Type: mustType("uint256")},
	abi.Argument{Name: "to_chain", Type: mustType("uint256")},
	abi.Argument{Name: "sender", Type: mustType("bytes")},
	abi.Argument{Name: "message", Type: mustType("bytes")},
	abi.Argument{Name: "receiver", Type: mustType("address")},
	abi.Argument{Name: "signature", Type: mustType("bytes")},
)

// EncodeReceiveMessageCall ABI-encodes a call to receiveMessage for the
// given message fields, selector included, ready to use as a
// transaction's calldata.
func EncodeReceiveMessageCall(index uint64, fromNativeChainId, toNativeChainId *uint256.Int, sender []byte, message []byte, receiver [20]byte, signature []byte) ([]byte, error) {
	packed, err := receiveMessageArgs.Pack(
		new(big.Int).SetUint64(index),
		fromNativeChainId.ToBig(),
		toNativeChainId.ToBig(),
		sender,
		message,
		gethcommon.Address(receiver),
		signature,
	)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 4+len(packed))
	out = append(out, ReceiveMessageSelector[:]...)
	out = append(out, packed...)
	return out, nil
}
