package hotwallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	defaultLockTTL       = 30 * time.Second
	defaultRetryInterval = 50 * time.Millisecond
	lockTokenBytes       = 16
	refreshDivisor       = 3
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker is a Locker shared by every replica using the same wallet. The
// lease is renewed while held. A failed or refused renewal marks the Lease
// lost, since another replica may then acquire it.
type RedisLocker struct {
	client        redis.UniversalClient
	key           string
	ttl           time.Duration
	retryInterval time.Duration
}

var _ Locker = (*RedisLocker)(nil)

func NewRedisLocker(client redis.UniversalClient, wallet common.Address, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	return &RedisLocker{
		client:        client,
		key:           "payout:wallet-lock:" + strings.ToLower(wallet.Hex()),
		ttl:           ttl,
		retryInterval: defaultRetryInterval,
	}
}

func (l *RedisLocker) Lock(ctx context.Context) (*Lease, error) {
	token, err := newLockToken()
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err == nil && ok {
			break
		}
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "failed to acquire wallet lock")
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to acquire wallet lock")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "failed to acquire wallet lock")
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup

	lease := newLease(func() {
		close(stop)
		wg.Wait()

		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.ttl)
		defer cancel()

		if err := releaseScript.Run(releaseCtx, l.client, []string{l.key}, token).Err(); err != nil {
			log.Error().Err(err).Str("key", l.key).Msg("Failed to release wallet lock")
		}
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		l.refresh(lease, token, stop)
	}()

	return lease, nil
}

func (l *RedisLocker) refresh(lease *Lease, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / refreshDivisor)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/refreshDivisor)
			n, err := refreshScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int64()
			cancel()

			switch {
			case err != nil:
				log.Error().Err(err).Str("key", l.key).Msg("Failed to refresh wallet lock, giving up the lease")
				lease.markLost()
				return
			case n == 0:
				log.Error().Err(ErrLockLost).Str("key", l.key).Msg("Wallet lock expired while held")
				lease.markLost()
				return
			}
		}
	}
}

func newLockToken() (string, error) {
	b := make([]byte, lockTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "failed to generate lock token")
	}

	return hex.EncodeToString(b), nil
}

// RedisNonceCache shares the next nonce between replicas.
type RedisNonceCache struct {
	client redis.UniversalClient
	key    string
}

var _ NonceCache = (*RedisNonceCache)(nil)

func NewRedisNonceCache(client redis.UniversalClient, wallet common.Address, chainID int64) *RedisNonceCache {
	return &RedisNonceCache{
		client: client,
		key:    "payout:nonce:" + strconv.FormatInt(chainID, 10) + ":" + strings.ToLower(wallet.Hex()),
	}
}

func (c *RedisNonceCache) Load(ctx context.Context) (uint64, bool, error) {
	v, err := c.client.Get(ctx, c.key).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to read nonce from redis")
	}

	return v, true, nil
}

func (c *RedisNonceCache) Save(ctx context.Context, next uint64) error {
	return errors.Wrap(c.client.Set(ctx, c.key, next, 0).Err(), "failed to write nonce to redis")
}

func (c *RedisNonceCache) Reset(ctx context.Context) error {
	return errors.Wrap(c.client.Del(ctx, c.key).Err(), "failed to delete nonce from redis")
}
