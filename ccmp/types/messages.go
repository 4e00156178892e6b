package types

// Message is one observed CcmpMessage event, in flight through the
// listened -> signed -> pending pipeline.
type Message struct {
	Index       uint64  `codec:"index"`
	FromChainId ChainId `codec:"from_chain_id"`
	ToChainId   ChainId `codec:"to_chain_id"`
	Sender      []byte  `codec:"sender"`   // 20 bytes for EVM
	Body        []byte  `codec:"message"`
	Receiver    []byte  `codec:"receiver"` // 20 bytes for EVM
	Signature   []byte  `codec:"signature,omitempty"` // 65 bytes once signed, for EVM
	DaemonId    uint64  `codec:"daemon_id"`
}

// Signed reports whether the Signer stage has already produced a signature.
func (m *Message) Signed() bool {
	return len(m.Signature) > 0
}
