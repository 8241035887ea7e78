package signer

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github/chapool/gem-payout/internal/util"
	"github/chapool/gem-payout/internal/wallet/keystore"
)

type service struct {
	mu      sync.RWMutex
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewService reads the signing secret once and returns the custodian for it.
// Any failure here leaves payouts disabled.
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(ctx context.Context, cfg Config) (Service, error) {
	if cfg.ChainID <= 0 {
		return nil, errors.Errorf("invalid chain id %d", cfg.ChainID)
	}

	key, format, err := keystore.Load(cfg.KeyFile, keystore.Options{
		PasswordFile:   cfg.PasswordFile,
		DerivationPath: cfg.DerivationPath,
		Prompt:         cfg.Prompt,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load signing key")
	}

	s := &service{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(cfg.ChainID),
	}

	util.LogFromContext(ctx).Info().
		Str("address", s.address.Hex()).
		Str("format", string(format)).
		Int64("chain_id", cfg.ChainID).
		Msg("Hot wallet signer initialized")

	return s, nil
}

func (s *service) Address() common.Address {
	return s.address
}

// SignEVMTransaction signs an EVM transaction (EIP-1559)
func (s *service) SignEVMTransaction(ctx context.Context, req *SignEVMRequest) (*SignEVMResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return nil, ErrSignerClosed
	}

	return s.signEIP1559Transaction(ctx, req)
}

func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key == nil {
		return nil
	}

	// overwrite the scalar words in place before dropping the reference
	words := s.key.D.Bits()
	for i := range words {
		words[i] = 0
	}
	s.key.D.SetInt64(0)
	s.key = nil

	return nil
}

// String never prints key material.
func (s *service) String() string {
	return "signer(" + s.address.Hex() + ")"
}
