package evmcodec

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// CcmpMessageEventSignature is the source-chain event this relay listens
// for: CcmpMessage(uint256 indexed index, uint256 ccmp_chain_id, address
// sender, bytes message, bytes receiver).
const CcmpMessageEventSignature = "CcmpMessage(uint256,uint256,address,bytes,bytes)"

// CcmpMessageTopic0 is the keccak256 of CcmpMessageEventSignature: the
// value topics[0] must equal for a log to be one of ours.
var CcmpMessageTopic0 = crypto.Keccak256Hash([]byte(CcmpMessageEventSignature))

var nonIndexedArgs = mustArguments(
	abi.Argument{Name: "ccmp_chain_id", Type: mustType("uint256")},
	abi.Argument{Name: "sender", Type: mustType("address")},
	abi.Argument{Name: "message", Type: mustType("bytes")},
	abi.Argument{Name: "receiver", Type: mustType("bytes")},
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

func mustArguments(args ...abi.Argument) abi.Arguments {
	return abi.Arguments(args)
}

// ParsedLog is the decoded payload of one CcmpMessage log, still missing
// the daemon/chain context that only the caller (the Listener stage)
// knows.
type ParsedLog struct {
	Index         uint64
	CcmpChainId   *uint256.Int
	Sender        [20]byte
	Message       []byte
	Receiver      []byte
}

// ParseCcmpMessageLog decodes log into a ParsedLog if it matches the
// CcmpMessage event signature; logs with a different topics[0] are not
// ours and are reported via the second return value, not an error — the
// spec calls for silently dropping topic mismatches, not failing the tick.
func ParseCcmpMessageLog(log types.Log) (*ParsedLog, bool, error) {
	if len(log.Topics) == 0 || log.Topics[0] != CcmpMessageTopic0 {
		return nil, false, nil
	}
	if len(log.Topics) < 2 {
		return nil, false, nil
	}

	index := new(big.Int).SetBytes(log.Topics[1].Bytes())

	values, err := nonIndexedArgs.Unpack(log.Data)
	if err != nil {
		return nil, true, err
	}
	if len(values) != 4 {
		return nil, true, errLogShape
	}

	chainIdBig, ok := values[0].(*big.Int)
	if !ok {
		return nil, true, errLogShape
	}
	sender, ok := values[1].(gethcommon.Address)
	if !ok {
		return nil, true, errLogShape
	}
	message, ok := values[2].([]byte)
	if !ok {
		return nil, true, errLogShape
	}
	receiver, ok := values[3].([]byte)
	if !ok {
		return nil, true, errLogShape
	}

	chainId, overflow := uint256.FromBig(chainIdBig)
	if overflow {
		return nil, true, errLogShape
	}

	return &ParsedLog{
		Index:       index.Uint64(),
		CcmpChainId: chainId,
		Sender:      sender,
		Message:     message,
		Receiver:    receiver,
	}, true, nil
}

var errLogShape = &logShapeError{}

type logShapeError struct{}

func (*logShapeError) Error() string {
	return "ccmp message log: unexpected decoded shape"
}

// EventSignatureTopic returns the lowercase-hex topic string for signature,
// handy for building RPC log filters without re-hashing in callers.
func EventSignatureTopic(signature string) string {
	return strings.ToLower(crypto.Keccak256Hash([]byte(signature)).Hex())
}
