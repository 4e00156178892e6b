package jobs

import (
	"context"

	"github.com/erigontech/ccmp-relay/ccmp/evmcodec"
	"github.com/erigontech/ccmp-relay/ccmp/signer"
	"github.com/erigontech/ccmp-relay/ccmp/storage"
	"github.com/erigontech/ccmp-relay/ccmp/types"
	"github.com/erigontech/erigon-lib/log/v3"
	"github.com/holiman/uint256"
)

// BatchSize bounds how many queued messages one Signer tick drains, so a
// burst of listened messages can't monopolize the threshold-signing
// service for an entire tick.
const BatchSize = 10

// RunSigner drains up to BatchSize messages from the "listened" queue,
// signs each over its EVM digest, and pushes the signed result onto
// "signed". A message that fails to sign is dropped from the batch and
// logged (§4.7, §7 SignFailure: "Drop message from batch … message
// lost") — the Signer has no billing of its own (§4.9's table has only
// Listener/Writer/Checker rows; the threshold-signing cost is charged as
// part of the Writer's destination signed_call, not here).
func RunSigner(ctx context.Context, st *storage.Storage, vault signer.Signer, keyName string, relayPubkey []byte, logger log.Logger) error {
	var batch []types.Message
	st.WithState(func(s *storage.State) {
		batch = s.Listened.DrainUpTo(BatchSize)
	})
	if len(batch) == 0 {
		return nil
	}

	signed := make([]types.Message, 0, len(batch))
	dropped := 0

	for _, m := range batch {
		fromNative, toNative, ok := nativeChainIds(st, m.FromChainId, m.ToChainId)
		if !ok {
			logger.Warn("[ccmp-signer] dropping message for unresolvable chain pair", "index", m.Index)
			dropped++
			continue
		}

		var receiver [20]byte
		copy(receiver[:], m.Receiver)
		digest := evmcodec.Digest(m.Index, fromNative, toNative, m.Sender, m.Body, receiver)

		// The message signature is produced under the relay-wide key: an
		// empty derivation path, the same for every message regardless of
		// destination chain, so relayPubkey (also derived with path=nil)
		// is what Recover compares the recovered key against below.
		rs, err := vault.Sign(ctx, keyName, nil, digest)
		if err != nil {
			logger.Warn("[ccmp-signer] sign failed, dropping message", "index", m.Index, "err", err)
			dropped++
			continue
		}
		_, sig65, err := signer.Recover(digest, rs, relayPubkey)
		if err != nil {
			logger.Warn("[ccmp-signer] recovery failed, dropping message", "index", m.Index, "err", err)
			dropped++
			continue
		}
		m.Signature = sig65
		signed = append(signed, m)
	}

	st.WithState(func(s *storage.State) {
		for _, m := range signed {
			s.Signed.Push(m)
		}
	})

	logger.Debug("[ccmp-signer] tick complete", "signed", len(signed), "dropped", dropped)
	return nil
}

func nativeChainIds(st *storage.Storage, from, to types.ChainId) (*uint256.Int, *uint256.Int, bool) {
	var fromN, toN *uint256.Int
	ok := true
	st.WithState(func(s *storage.State) {
		fc, ok1 := s.Chains[from]
		tc, ok2 := s.Chains[to]
		if !ok1 || !ok2 {
			ok = false
			return
		}
		fromN, toN = fc.NativeChainId, tc.NativeChainId
	})
	return fromN, toN, ok
}

func creatorForDaemon(st *storage.Storage, daemonId uint64) types.Principal {
	var p types.Principal
	st.WithState(func(s *storage.State) {
		if d, ok := s.Daemons.Get(daemonId); ok {
			p = d.Creator
		}
	})
	return p
}
