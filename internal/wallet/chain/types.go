package chain

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Client is the payout engine's view of the EVM network.
//
// Reads are retried with backoff on transient failures. Submit is a single
// attempt and reports *NetworkError or *RejectedError.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)

	// TokenBalance ERC-20 balanceOf(owner)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	// TokenDecimals ERC-20 decimals()
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)

	// FeeEstimate is best effort, callers apply their own margin.
	FeeEstimate(ctx context.Context) (*FeeEstimate, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)

	// PendingNonce includes transactions still in the mempool.
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
	// ConfirmedNonce is the nonce at the latest block.
	ConfirmedNonce(ctx context.Context, account common.Address) (uint64, error)

	Submit(ctx context.Context, tx *types.Transaction) (common.Hash, error)

	// AwaitConfirmation performs exactly one check. Cadence and timeout are
	// up to the caller.
	AwaitConfirmation(ctx context.Context, txHash common.Hash, minConfirmations uint64) (*Confirmation, error)

	Close()
}

// FeeEstimate as reported by the node.
type FeeEstimate struct {
	GasPrice *big.Int // eth_gasPrice, base fee plus suggested tip
	TipCap   *big.Int // eth_maxPriorityFeePerGas, may be nil
}

type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "pending"
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationFailed    ConfirmationStatus = "failed"
)

type Confirmation struct {
	Status        ConfirmationStatus
	Confirmations uint64
	BlockNumber   uint64 // 0 while not mined
	GasUsed       uint64
}

// CallObserver receives one notification per RPC call.
type CallObserver interface {
	ObserveRPCCall(method string, outcome string)
}

// Config of RPCClient
type Config struct {
	// URL accepts a comma separated list, later entries are failover endpoints.
	URL                 string
	RateLimit           float64 // requests per second, <= 0 disables limiting
	RateBurst           int
	ReadRetryMaxElapsed time.Duration
	DialTimeout         time.Duration
	Observer            CallObserver
}

// ParseRPCURLs 解析 RPC URL（支持多个，逗号分隔）
func ParseRPCURLs(rpcURL string) []string {
	if rpcURL == "" {
		return nil
	}

	urls := strings.Split(rpcURL, ",")
	result := make([]string, 0, len(urls))

	for _, url := range urls {
		url = strings.TrimSpace(url)
		if url != "" {
			result = append(result, url)
		}
	}

	return result
}
