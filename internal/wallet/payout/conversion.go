package payout

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ConversionRate converts internal units to fiat. It is a versioned policy
// value, the version is stored on every record.
type ConversionRate struct {
	Version     string
	FiatPerUnit decimal.Decimal
}

// DefaultConversionRate 1 gem = 0.01 USD
var DefaultConversionRate = ConversionRate{
	Version:     "gem-usd-v1",
	FiatPerUnit: decimal.New(1, -2),
}

func ParseConversionRate(version, fiatPerUnit string) (ConversionRate, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return ConversionRate{}, errors.New("conversion rate version is required")
	}

	rate, err := decimal.NewFromString(strings.TrimSpace(fiatPerUnit))
	if err != nil {
		return ConversionRate{}, errors.Wrapf(err, "invalid conversion rate %q", fiatPerUnit)
	}

	if !rate.IsPositive() {
		return ConversionRate{}, errors.Errorf("conversion rate must be positive, got %s", rate)
	}

	return ConversionRate{Version: version, FiatPerUnit: rate}, nil
}

// AmountOnChain = floor(units * FiatPerUnit * 10^decimals). Truncates, a
// payout is never rounded up.
func (r ConversionRate) AmountOnChain(units int64, decimals uint8) (*big.Int, error) {
	if units <= 0 {
		return nil, errors.Wrap(ErrInvalidRequest, "amount must be positive")
	}
	if !r.FiatPerUnit.IsPositive() {
		return nil, errors.New("conversion rate is not configured")
	}

	amount := decimal.NewFromInt(units).
		Mul(r.FiatPerUnit).
		Shift(int32(decimals)).
		Floor().
		BigInt()

	if amount.Sign() <= 0 {
		return nil, errors.Wrapf(ErrInvalidRequest, "%d units convert to zero base units", units)
	}

	return amount, nil
}
