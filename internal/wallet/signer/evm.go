package signer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// signEIP1559Transaction signs an EIP-1559 transaction
func (s *service) signEIP1559Transaction(_ context.Context, req *SignEVMRequest) (*SignEVMResponse, error) {
	if req == nil {
		return nil, errors.Wrap(ErrInvalidRequest, "request is nil")
	}

	if req.MaxFeePerGas == nil || req.MaxPriorityFeePerGas == nil {
		return nil, errors.Wrap(ErrInvalidRequest, "fee caps are required")
	}

	if req.MaxPriorityFeePerGas.Cmp(req.MaxFeePerGas) > 0 {
		return nil, errors.Wrap(ErrInvalidRequest, "maxPriorityFeePerGas exceeds maxFeePerGas")
	}

	if req.GasLimit == 0 {
		return nil, errors.Wrap(ErrInvalidRequest, "gas limit is zero")
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	to := req.To

	// Create EIP-1559 transaction
	//nolint:varnamelen // tx is a common abbreviation for transaction
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     req.Nonce,
		GasTipCap: new(big.Int).Set(req.MaxPriorityFeePerGas),
		GasFeeCap: new(big.Int).Set(req.MaxFeePerGas),
		Gas:       req.GasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})

	// Sign transaction
	signedTx, err := types.SignTx(tx, types.NewLondonSigner(s.chainID), s.key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	// Encode transaction to RLP
	txBytes, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal transaction")
	}

	return &SignEVMResponse{
		RawTransaction: txBytes,
		TxHash:         signedTx.Hash(),
		Tx:             signedTx,
	}, nil
}
