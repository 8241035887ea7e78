package signer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

var (
	ErrSignerClosed   = errors.New("signer is closed")
	ErrInvalidRequest = errors.New("invalid sign request")
)

// Service holds the hot wallet signing key. The key never leaves the service.
type Service interface {
	// Address returns the hot wallet address.
	Address() common.Address
	// SignEVMTransaction signs an EVM transaction (EIP-1559)
	SignEVMTransaction(ctx context.Context, req *SignEVMRequest) (*SignEVMResponse, error)
	// Close wipes the key from memory. Signing fails afterwards.
	Close() error
}

// Config locates the signing secret.
type Config struct {
	KeyFile        string
	PasswordFile   string
	DerivationPath string
	ChainID        int64
	// Prompt reads a keystore password interactively, nil disables prompting.
	Prompt func(prompt string) (string, error)
}

// SignEVMRequest represents a request to sign an EVM transaction
type SignEVMRequest struct {
	To                   common.Address // Contract or recipient address
	Value                *big.Int       // Native value in wei, nil for token transfers
	GasLimit             uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Nonce                uint64
	Data                 []byte // Transaction data (for contract calls)
}

// SignEVMResponse represents a signed EVM transaction
type SignEVMResponse struct {
	RawTransaction []byte // RLP-encoded signed transaction
	TxHash         common.Hash
	Tx             *types.Transaction
}
