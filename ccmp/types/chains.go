package types

import "github.com/holiman/uint256"

// ChainId is the relay's own dense internal handle for a registered chain.
type ChainId uint64

// ChainType tags which concrete capability set a chain supports. Only Evm
// is implemented today; future variants are dispatched on this tag rather
// than through an interface hierarchy, per the spec's "tagged variant, not
// virtual inheritance" design note.
type ChainType int

const (
	ChainTypeEvm ChainType = iota
)

func (t ChainType) String() string {
	switch t {
	case ChainTypeEvm:
		return "Evm"
	default:
		return "Unknown"
	}
}

// ChainMetadata is the common header every registered chain carries,
// regardless of ChainType.
type ChainMetadata struct {
	Name      string    `codec:"name"`
	ChainType ChainType `codec:"chain_type"`
}

// MaxNativeChainId is 2**64 - 1: the spec requires native_chain_id to fit in
// 64 bits even though it is carried as a 256-bit value on the wire.
var MaxNativeChainId = uint256.NewInt(^uint64(0))

// EvmChain is the Evm-specific chain record, keyed by ChainId in Storage.
type EvmChain struct {
	Name             string       `codec:"name"`
	NativeChainId    *uint256.Int `codec:"native_chain_id"`
	RpcUrl           string       `codec:"rpc_url"`
	CcmpContractAddr string       `codec:"ccmp_contract_addr"` // EIP-55 checksummed hex
	LastObservedBlock uint64      `codec:"last_observed_block"`
}

// ValidNativeChainId reports whether n fits in 64 bits, the invariant the
// spec places on EvmChain.native_chain_id.
func ValidNativeChainId(n *uint256.Int) bool {
	return n.BitLen() <= 64
}
