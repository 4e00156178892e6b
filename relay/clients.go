package relay

import (
	"context"
	"strconv"

	"github.com/erigontech/ccmp-relay/ccmp/chainclient"
	"github.com/erigontech/ccmp-relay/ccmp/storage"
	"github.com/erigontech/ccmp-relay/ccmp/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// clientPool resolves a registered chain to a dialed ChainClient,
// caching connections across ticks so the Listener/Writer/Checker jobs
// don't redial on every poll. It satisfies ccmp/jobs.Clients. A
// singleflight group collapses concurrent first-touch dials to the same
// chain (the Writer and Checker jobs can both miss the cache for a chain
// in the same tick) into one dial.
type clientPool struct {
	storage *storage.Storage
	cache   *lru.Cache[types.ChainId, chainclient.ChainClient]
	dial    singleflight.Group
}

func (p *clientPool) Get(ctx context.Context, chain types.ChainId) (chainclient.ChainClient, error) {
	if c, ok := p.cache.Get(chain); ok {
		return c, nil
	}

	result, err, _ := p.dial.Do(strconv.FormatUint(uint64(chain), 10), func() (any, error) {
		if c, ok := p.cache.Get(chain); ok {
			return c, nil
		}

		var rpcUrl string
		var found bool
		p.storage.WithState(func(s *storage.State) {
			c, ok := s.Chains[chain]
			if ok {
				rpcUrl, found = c.RpcUrl, true
			}
		})
		if !found {
			return nil, types.NewError(types.ErrChainNotFound, "no such chain", nil)
		}

		client, dialErr := chainclient.DialEvmClient(ctx, rpcUrl)
		if dialErr != nil {
			return nil, dialErr
		}
		p.cache.Add(chain, client)
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(chainclient.ChainClient), nil
}
