// Package hotwallet owns the mutable state of the payout hot wallet: its
// next nonce and the lock that serializes submissions from it.
package hotwallet

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// NonceSource reads the pending nonce from the network.
type NonceSource interface {
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
}

// NonceCache keeps the next nonce between submissions. It may be shared by
// replicas holding the same wallet lock.
type NonceCache interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, next uint64) error
	Reset(ctx context.Context) error
}

// NonceTracker hands out nonces for the hot wallet. Callers must hold the
// wallet Locker from Next until Advance or Invalidate.
type NonceTracker struct {
	address common.Address
	source  NonceSource
	cache   NonceCache
}

func NewNonceTracker(address common.Address, source NonceSource, cache NonceCache) *NonceTracker {
	if cache == nil {
		cache = NewMemoryNonceCache()
	}

	return &NonceTracker{address: address, source: source, cache: cache}
}

func (t *NonceTracker) Address() common.Address {
	return t.address
}

// Next returns the nonce for the next transaction without consuming it. The
// result is the larger of the cached value and the node's pending nonce, so a
// lagging node never causes a nonce to be reused.
func (t *NonceTracker) Next(ctx context.Context) (uint64, error) {
	pending, err := t.source.PendingNonce(ctx, t.address)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read pending nonce")
	}

	cached, ok, err := t.cache.Load(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to load cached nonce")
	}

	if ok && cached > pending {
		log.Debug().
			Str("address", t.address.Hex()).
			Uint64("cached", cached).
			Uint64("pending", pending).
			Msg("Node pending nonce is behind local nonce")
		return cached, nil
	}

	return pending, nil
}

// Advance records that a transaction with nonce used was accepted by the network.
func (t *NonceTracker) Advance(ctx context.Context, used uint64) error {
	cached, ok, err := t.cache.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load cached nonce")
	}

	if ok && cached > used+1 {
		return nil
	}

	return errors.Wrap(t.cache.Save(ctx, used+1), "failed to save nonce")
}

// Invalidate drops the cached nonce, the next call to Next trusts the node.
// Used after nonce conflicts and ambiguous submissions.
func (t *NonceTracker) Invalidate(ctx context.Context) error {
	log.Debug().Str("address", t.address.Hex()).Msg("Invalidating cached nonce")

	return errors.Wrap(t.cache.Reset(ctx), "failed to reset nonce")
}

// MemoryNonceCache is the single process NonceCache.
type MemoryNonceCache struct {
	mu   sync.Mutex
	next *uint64
}

func NewMemoryNonceCache() *MemoryNonceCache {
	return &MemoryNonceCache{}
}

func (c *MemoryNonceCache) Load(_ context.Context) (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.next == nil {
		return 0, false, nil
	}

	return *c.next, true, nil
}

func (c *MemoryNonceCache) Save(_ context.Context, next uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next = &next

	return nil
}

func (c *MemoryNonceCache) Reset(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next = nil

	return nil
}
