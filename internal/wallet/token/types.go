package token

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const maxDecimals = 36

var (
	ErrUnsupportedToken  = errors.New("unsupported token")
	ErrInvalidDescriptor = errors.New("invalid token descriptor")
	ErrDecimalsMismatch  = errors.New("token decimals do not match contract")
)

// Descriptor describes one supported ERC-20 token on the payout network.
type Descriptor struct {
	Symbol   string
	Contract common.Address
	Decimals uint8
}

// DecimalsReader reads decimals() from a token contract.
type DecimalsReader interface {
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
}

// Polygon mainnet stablecoins
var (
	PolygonUSDC = Descriptor{
		Symbol:   "USDC",
		Contract: common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"),
		Decimals: 6,
	}
	PolygonUSDT = Descriptor{
		Symbol:   "USDT",
		Contract: common.HexToAddress("0xc2132D05D31c914a87C6611C10748AEb04B58e8F"),
		Decimals: 6,
	}
)
