package gas_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/gem-payout/internal/wallet/chain"
	"github/chapool/gem-payout/internal/wallet/gas"
)

const gwei = 1_000_000_000

func estimate(gasPriceGwei, tipGwei int64) *chain.FeeEstimate {
	return &chain.FeeEstimate{
		GasPrice: big.NewInt(gasPriceGwei * gwei),
		TipCap:   big.NewInt(tipGwei * gwei),
	}
}

func newPolicy(t *testing.T, cfg gas.Config) *gas.Policy {
	t.Helper()

	p, err := gas.NewPolicy(cfg)
	require.NoError(t, err)

	return p
}

func TestComputeFeeAppliesMargin(t *testing.T) {
	p := newPolicy(t, gas.Config{})

	fee, err := p.ComputeFee(estimate(100, 30), 0)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(120*gwei), fee.FeeCap)
	assert.Equal(t, big.NewInt(36*gwei), fee.TipCap)

	// ceil, never below the estimate
	fee, err = p.ComputeFee(&chain.FeeEstimate{GasPrice: big.NewInt(1), TipCap: big.NewInt(1)}, 0)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2), fee.FeeCap)
	assert.Equal(t, big.NewInt(2), fee.TipCap)
}

func TestComputeFeeCapNotBelowTip(t *testing.T) {
	p := newPolicy(t, gas.Config{})

	fee, err := p.ComputeFee(estimate(10, 30), 0)
	require.NoError(t, err)
	assert.Equal(t, fee.TipCap, fee.FeeCap)
}

func TestComputeFeeWithoutTip(t *testing.T) {
	p := newPolicy(t, gas.Config{})

	fee, err := p.ComputeFee(&chain.FeeEstimate{GasPrice: big.NewInt(100)}, 0)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(120), fee.FeeCap)
	assert.Equal(t, 0, fee.TipCap.Sign())
}

func TestComputeFeeMinTip(t *testing.T) {
	p := newPolicy(t, gas.Config{MinTipCap: big.NewInt(30)})

	fee, err := p.ComputeFee(&chain.FeeEstimate{GasPrice: big.NewInt(100)}, 0)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(30), fee.TipCap)
	assert.Equal(t, big.NewInt(120), fee.FeeCap)

	// a higher node suggestion wins
	fee, err = p.ComputeFee(&chain.FeeEstimate{GasPrice: big.NewInt(100), TipCap: big.NewInt(50)}, 0)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(60), fee.TipCap)

	_, err = gas.NewPolicy(gas.Config{MinTipCap: big.NewInt(-1)})
	require.ErrorIs(t, err, gas.ErrInvalidConfig)
}

func TestComputeFeeInvalidEstimate(t *testing.T) {
	p := newPolicy(t, gas.Config{})

	_, err := p.ComputeFee(nil, 0)
	require.ErrorIs(t, err, gas.ErrInvalidEstimate)

	_, err = p.ComputeFee(&chain.FeeEstimate{GasPrice: big.NewInt(0)}, 0)
	require.ErrorIs(t, err, gas.ErrInvalidEstimate)

	_, err = p.ComputeFee(&chain.FeeEstimate{GasPrice: big.NewInt(1), TipCap: big.NewInt(-1)}, 0)
	require.ErrorIs(t, err, gas.ErrInvalidEstimate)
}

func TestComputeFeeMaxFeeCap(t *testing.T) {
	p := newPolicy(t, gas.Config{MaxFeeCap: big.NewInt(100 * gwei)})

	_, err := p.ComputeFee(estimate(90, 30), 0)
	require.ErrorIs(t, err, gas.ErrFeeCapExceeded)

	fee, err := p.ComputeFee(estimate(80, 30), 0)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(96*gwei), fee.FeeCap)
}

func TestEscalateLadder(t *testing.T) {
	p := newPolicy(t, gas.Config{})
	est := estimate(100, 30)

	previous, err := p.ComputeFee(est, 0)
	require.NoError(t, err)

	for attempt := 1; attempt < p.MaxAttempts(); attempt++ {
		next, err := p.Escalate(previous, est, attempt)
		require.NoError(t, err)

		// monotonic and accepted as a replacement
		floorCap := new(big.Int).Div(new(big.Int).Mul(previous.FeeCap, big.NewInt(110)), big.NewInt(100))
		floorTip := new(big.Int).Div(new(big.Int).Mul(previous.TipCap, big.NewInt(110)), big.NewInt(100))
		assert.Equal(t, 1, next.FeeCap.Cmp(floorCap), "attempt %d", attempt)
		assert.Equal(t, 1, next.TipCap.Cmp(floorTip), "attempt %d", attempt)
		assert.GreaterOrEqual(t, next.FeeCap.Cmp(next.TipCap), 0)

		previous = next
	}

	_, err = p.Escalate(previous, est, p.MaxAttempts())
	require.ErrorIs(t, err, gas.ErrMaxAttemptsExceeded)
}

func TestEscalateRequotesAgainstNewEstimate(t *testing.T) {
	p := newPolicy(t, gas.Config{})

	previous, err := p.ComputeFee(estimate(100, 30), 0)
	require.NoError(t, err)

	// the market moved: the new base estimate wins over the minimum bump
	next, err := p.Escalate(previous, estimate(300, 60), 1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(390*gwei), next.FeeCap)
	assert.Equal(t, big.NewInt(78*gwei), next.TipCap)

	// the market dropped: the replacement floor wins over the stale quote
	next, err = p.Escalate(previous, estimate(50, 10), 1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(132*gwei+1), next.FeeCap)
	assert.Equal(t, big.NewInt(39_600_000_001), next.TipCap)
}

func TestEscalateFeeCapExceeded(t *testing.T) {
	p := newPolicy(t, gas.Config{MaxFeeCap: big.NewInt(130 * gwei)})

	previous, err := p.ComputeFee(estimate(100, 30), 0)
	require.NoError(t, err)

	_, err = p.Escalate(previous, estimate(100, 30), 1)
	require.ErrorIs(t, err, gas.ErrFeeCapExceeded)
}

func TestEscalateInvalid(t *testing.T) {
	p := newPolicy(t, gas.Config{})

	_, err := p.Escalate(nil, estimate(1, 1), 1)
	require.Error(t, err)

	_, err = p.Escalate(&gas.Fee{FeeCap: big.NewInt(1), TipCap: big.NewInt(1)}, estimate(1, 1), 0)
	require.Error(t, err)
}

func TestGasLimit(t *testing.T) {
	p := newPolicy(t, gas.Config{})
	assert.Equal(t, uint64(78000), p.GasLimit(65000))
	assert.Equal(t, uint64(2), p.GasLimit(1))

	p = newPolicy(t, gas.Config{GasLimitMarginPercent: 150})
	assert.Equal(t, uint64(97500), p.GasLimit(65000))
}

func TestNewPolicyValidation(t *testing.T) {
	for _, cfg := range []gas.Config{
		{MarginPercent: 90},
		{EscalationStepPercent: -1},
		{MaxAttempts: -1},
		{GasLimitMarginPercent: 50},
		{MaxFeeCap: big.NewInt(0)},
	} {
		_, err := gas.NewPolicy(cfg)
		require.ErrorIs(t, err, gas.ErrInvalidConfig)
	}
}
