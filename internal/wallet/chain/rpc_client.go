package chain

import (
	"context"
	"math/big"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	defaultDialTimeout         = 10 * time.Second
	defaultReadRetryMaxElapsed = 15 * time.Second
	outcomeOK                  = "ok"
	outcomeRejected            = "rejected"
	outcomeNetworkError        = "network_error"
	maxUint8                   = 255
)

// RPCClient 封装以太坊 RPC 客户端，支持多个 URL 和故障转移
type RPCClient struct {
	urls     []string
	clients  []*ethclient.Client
	mu       sync.RWMutex
	current  int // 当前使用的客户端索引
	limiter  *rate.Limiter
	cfg      Config
	observer CallObserver
}

var _ Client = (*RPCClient)(nil)

// NewRPCClient 创建新的 RPC 客户端
func NewRPCClient(ctx context.Context, cfg Config) (*RPCClient, error) {
	urls := ParseRPCURLs(cfg.URL)
	if len(urls) == 0 {
		return nil, ErrNoEndpoints
	}

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ReadRetryMaxElapsed <= 0 {
		cfg.ReadRetryMaxElapsed = defaultReadRetryMaxElapsed
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	c := &RPCClient{
		urls:     urls,
		clients:  make([]*ethclient.Client, len(urls)),
		limiter:  rate.NewLimiter(limit, burst),
		cfg:      cfg,
		observer: cfg.Observer,
	}

	connected := 0
	for i, rpcURL := range urls {
		if _, err := c.dial(ctx, i); err != nil {
			log.Warn().
				Str("url", redactURL(rpcURL)).
				Err(err).
				Msg("Failed to connect to RPC node, will retry on use")
			// 继续尝试其他 URL，不立即失败
			continue
		}
		connected++
	}

	if connected == 0 {
		return nil, errors.New("failed to connect to any RPC node")
	}

	return c, nil
}

// Close 关闭所有客户端连接
func (c *RPCClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, client := range c.clients {
		if client != nil {
			client.Close()
			c.clients[i] = nil
		}
	}
}

func (c *RPCClient) dial(ctx context.Context, idx int) (*ethclient.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, c.urls[idx])
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing := c.clients[idx]; existing != nil {
		client.Close()
		return existing, nil
	}
	c.clients[idx] = client

	return client, nil
}

// endpoint returns the current client, dialing it if needed.
func (c *RPCClient) endpoint(ctx context.Context) (int, *ethclient.Client, error) {
	c.mu.RLock()
	idx := c.current
	client := c.clients[idx]
	c.mu.RUnlock()

	if client != nil {
		return idx, client, nil
	}

	client, err := c.dial(ctx, idx)
	if err != nil {
		return idx, nil, err
	}

	return idx, client, nil
}

// failover moves the current endpoint past idx after a network error.
func (c *RPCClient) failover(idx int, err error) {
	if len(c.urls) == 1 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != idx {
		return
	}
	c.current = (idx + 1) % len(c.clients)

	log.Warn().
		Str("from", redactURL(c.urls[idx])).
		Str("to", redactURL(c.urls[c.current])).
		Err(err).
		Msg("RPC endpoint failed, switching to next endpoint")
}

// call runs fn once against the current endpoint, failing over to the next
// endpoint on network errors. Every endpoint is tried at most once.
func (c *RPCClient) call(ctx context.Context, method string, fn func(*ethclient.Client) error) error {
	var lastErr error

	for range c.urls {
		if err := c.limiter.Wait(ctx); err != nil {
			return &NetworkError{Op: method, Err: err}
		}

		idx, client, err := c.endpoint(ctx)
		if err != nil {
			lastErr = &NetworkError{Op: method, Err: err}
			c.observe(method, outcomeNetworkError)
			c.failover(idx, err)
			continue
		}

		err = classify(method, fn(client))
		switch {
		case err == nil:
			c.observe(method, outcomeOK)
			return nil
		case IsNetworkError(err):
			c.observe(method, outcomeNetworkError)
			c.failover(idx, err)
			lastErr = err
			if ctx.Err() != nil {
				return err
			}
		default:
			c.observe(method, outcomeRejected)
			return err
		}
	}

	return lastErr
}

// read retries network failures with exponential backoff. Node rejections
// (reverts, invalid params) are returned immediately.
func (c *RPCClient) read(ctx context.Context, method string, fn func(*ethclient.Client) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond //nolint:mnd
	b.MaxElapsedTime = c.cfg.ReadRetryMaxElapsed

	return backoff.RetryNotify(func() error {
		err := c.call(ctx, method, fn)
		if err != nil && !IsNetworkError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		log.Debug().Str("method", method).Dur("retry_in", wait).Err(err).Msg("RPC read failed, retrying")
	})
}

func (c *RPCClient) observe(method string, outcome string) {
	if c.observer != nil {
		c.observer.ObserveRPCCall(method, outcome)
	}
}

// ChainID 获取链 ID
func (c *RPCClient) ChainID(ctx context.Context) (*big.Int, error) {
	var chainID *big.Int
	err := c.read(ctx, "eth_chainId", func(client *ethclient.Client) error {
		var err error
		chainID, err = client.ChainID(ctx)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chain ID")
	}

	return chainID, nil
}

// TokenBalance returns the ERC20 token balance for the given account.
func (c *RPCClient) TokenBalance(ctx context.Context, tokenAddress, account common.Address) (*big.Int, error) {
	callMsg := ethereum.CallMsg{
		To:   &tokenAddress,
		Data: balanceOfData(account),
	}

	var balance *big.Int
	err := c.read(ctx, "eth_call", func(client *ethclient.Client) error {
		resp, err := client.CallContract(ctx, callMsg, nil)
		if err != nil {
			return err
		}
		balance, err = decodeUint256(resp)
		return backoffPermanent(err)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to call balanceOf")
	}

	return balance, nil
}

// TokenDecimals calls decimals() on the token contract.
func (c *RPCClient) TokenDecimals(ctx context.Context, tokenAddress common.Address) (uint8, error) {
	callMsg := ethereum.CallMsg{
		To:   &tokenAddress,
		Data: decimalsMethodID,
	}

	var decimals *big.Int
	err := c.read(ctx, "eth_call", func(client *ethclient.Client) error {
		resp, err := client.CallContract(ctx, callMsg, nil)
		if err != nil {
			return err
		}
		decimals, err = decodeUint256(resp)
		return backoffPermanent(err)
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to call decimals")
	}

	if !decimals.IsUint64() || decimals.Uint64() > maxUint8 {
		return 0, errors.Errorf("decimals %s out of range", decimals)
	}

	return uint8(decimals.Uint64()), nil
}

// FeeEstimate reads eth_gasPrice and eth_maxPriorityFeePerGas. A node without
// eth_maxPriorityFeePerGas yields a nil TipCap.
func (c *RPCClient) FeeEstimate(ctx context.Context) (*FeeEstimate, error) {
	var gasPrice *big.Int
	err := c.read(ctx, "eth_gasPrice", func(client *ethclient.Client) error {
		var err error
		gasPrice, err = client.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to suggest gas price")
	}

	estimate := &FeeEstimate{GasPrice: gasPrice}

	err = c.read(ctx, "eth_maxPriorityFeePerGas", func(client *ethclient.Client) error {
		var err error
		estimate.TipCap, err = client.SuggestGasTipCap(ctx)
		return err
	})
	if err != nil {
		if IsNetworkError(err) {
			return nil, errors.Wrap(err, "failed to suggest gas tip cap")
		}
		log.Debug().Err(err).Msg("Node does not provide eth_maxPriorityFeePerGas, deriving tip from base fee")

		estimate.TipCap, err = c.tipFromBaseFee(ctx, gasPrice)
		if err != nil {
			return nil, err
		}
	}

	return estimate, nil
}

// tipFromBaseFee derives the tip as gas price minus the latest base fee. It
// returns nil on chains without a base fee.
func (c *RPCClient) tipFromBaseFee(ctx context.Context, gasPrice *big.Int) (*big.Int, error) {
	var head *types.Header
	err := c.read(ctx, "eth_getBlockByNumber", func(client *ethclient.Client) error {
		var err error
		head, err = client.HeaderByNumber(ctx, nil)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read latest base fee")
	}

	if head.BaseFee == nil {
		return nil, nil //nolint:nilnil // legacy chain, no tip
	}

	tip := new(big.Int).Sub(gasPrice, head.BaseFee)
	if tip.Sign() < 0 {
		tip.SetInt64(0)
	}

	return tip, nil
}

// EstimateGas 估算 Gas 用量
func (c *RPCClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := c.read(ctx, "eth_estimateGas", func(client *ethclient.Client) error {
		var err error
		gas, err = client.EstimateGas(ctx, msg)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to estimate gas")
	}

	return gas, nil
}

// PendingNonce returns the pending nonce for the given address.
func (c *RPCClient) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.read(ctx, "eth_getTransactionCount", func(client *ethclient.Client) error {
		var err error
		nonce, err = client.PendingNonceAt(ctx, account)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to get pending nonce")
	}

	return nonce, nil
}

// ConfirmedNonce returns the nonce at the latest block.
func (c *RPCClient) ConfirmedNonce(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.read(ctx, "eth_getTransactionCount", func(client *ethclient.Client) error {
		var err error
		nonce, err = client.NonceAt(ctx, account, nil)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to get confirmed nonce")
	}

	return nonce, nil
}

// Submit broadcasts a signed transaction exactly once. A node that already
// holds the transaction counts as success.
func (c *RPCClient) Submit(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return common.Hash{}, &NetworkError{Op: "eth_sendRawTransaction", Err: err}
	}

	idx, client, err := c.endpoint(ctx)
	if err != nil {
		c.observe("eth_sendRawTransaction", outcomeNetworkError)
		c.failover(idx, err)
		return common.Hash{}, &NetworkError{Op: "eth_sendRawTransaction", Err: err}
	}

	err = classify("eth_sendRawTransaction", client.SendTransaction(ctx, tx))
	switch {
	case err == nil, alreadyKnown(err):
		c.observe("eth_sendRawTransaction", outcomeOK)
		return tx.Hash(), nil
	case IsNetworkError(err):
		c.observe("eth_sendRawTransaction", outcomeNetworkError)
		c.failover(idx, err)
		return common.Hash{}, err
	default:
		c.observe("eth_sendRawTransaction", outcomeRejected)
		return common.Hash{}, err
	}
}

// AwaitConfirmation 查询一次交易回执和最新区块
//
// A reverted receipt is reported as failed only once it has
// minConfirmations, so a reorg cannot turn a recorded failure into a payout.
func (c *RPCClient) AwaitConfirmation(ctx context.Context, txHash common.Hash, minConfirmations uint64) (*Confirmation, error) {
	var receipt *types.Receipt
	err := c.read(ctx, "eth_getTransactionReceipt", func(client *ethclient.Client) error {
		var err error
		receipt, err = client.TransactionReceipt(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			receipt = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction receipt")
	}

	if receipt == nil || receipt.BlockNumber == nil {
		return &Confirmation{Status: ConfirmationPending}, nil
	}

	var head uint64
	err = c.read(ctx, "eth_blockNumber", func(client *ethclient.Client) error {
		var err error
		head, err = client.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest block number")
	}

	mined := receipt.BlockNumber.Uint64()
	confirmation := &Confirmation{
		Status:      ConfirmationPending,
		BlockNumber: mined,
		GasUsed:     receipt.GasUsed,
	}
	if head >= mined {
		confirmation.Confirmations = head - mined + 1
	}

	if minConfirmations == 0 {
		minConfirmations = 1
	}

	if confirmation.Confirmations >= minConfirmations {
		if receipt.Status == types.ReceiptStatusSuccessful {
			confirmation.Status = ConfirmationConfirmed
		} else {
			confirmation.Status = ConfirmationFailed
		}
	}

	return confirmation, nil
}

// redactURL drops path and query, hosted RPC providers put API keys there.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid url>"
	}

	return u.Scheme + "://" + u.Host
}

// backoffPermanent keeps decoding errors out of the network retry loop.
func backoffPermanent(err error) error {
	if err == nil {
		return nil
	}

	return &decodeError{err: err}
}

type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }
