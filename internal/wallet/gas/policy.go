// Package gas prices payout transactions.
//
// A fresh quote applies MarginPercent to the node's estimate. Replacements of a
// stalled transaction (same nonce) re-quote against the new estimate with the
// margin raised by EscalationStepPercent per attempt and are bumped to at
// least 110% of the previous fee plus one wei, which is what nodes require to
// accept a replacement. MaxAttempts and MaxFeeCap bound the ladder.
package gas

import (
	"math/big"

	"github.com/pkg/errors"
	"github/chapool/gem-payout/internal/wallet/chain"
)

const (
	percent                 = 100
	replacementBumpPercent  = 110
	defaultMarginPercent    = 120
	defaultStepPercent      = 10
	defaultMaxAttempts      = 4
	defaultGasLimitMarginPc = 120
)

var (
	ErrInvalidConfig       = errors.New("invalid gas policy config")
	ErrInvalidEstimate     = errors.New("invalid fee estimate")
	ErrMaxAttemptsExceeded = errors.New("fee escalation attempts exhausted")
	ErrFeeCapExceeded      = errors.New("fee cap exceeds configured maximum")
)

// Config of the fee policy. Zero values select the defaults.
type Config struct {
	MarginPercent         int64
	EscalationStepPercent int64
	MaxAttempts           int
	// MaxFeeCap in wei, nil means unbounded.
	MaxFeeCap *big.Int
	// MinTipCap in wei is the lowest priority fee ever quoted. Chains such as
	// Polygon do not include transactions below their minimum tip.
	MinTipCap             *big.Int
	GasLimitMarginPercent int64
}

// Fee is the EIP-1559 fee pair attached to one signed transaction.
type Fee struct {
	FeeCap *big.Int
	TipCap *big.Int
}

// Policy is immutable and safe for concurrent use.
type Policy struct {
	cfg Config
}

func NewPolicy(cfg Config) (*Policy, error) {
	if cfg.MarginPercent == 0 {
		cfg.MarginPercent = defaultMarginPercent
	}
	if cfg.EscalationStepPercent == 0 {
		cfg.EscalationStepPercent = defaultStepPercent
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.GasLimitMarginPercent == 0 {
		cfg.GasLimitMarginPercent = defaultGasLimitMarginPc
	}

	switch {
	case cfg.MarginPercent < percent:
		return nil, errors.Wrapf(ErrInvalidConfig, "margin %d%% is below 100%%", cfg.MarginPercent)
	case cfg.EscalationStepPercent < 0:
		return nil, errors.Wrapf(ErrInvalidConfig, "escalation step %d%% is negative", cfg.EscalationStepPercent)
	case cfg.MaxAttempts < 1:
		return nil, errors.Wrapf(ErrInvalidConfig, "max attempts %d", cfg.MaxAttempts)
	case cfg.GasLimitMarginPercent < percent:
		return nil, errors.Wrapf(ErrInvalidConfig, "gas limit margin %d%% is below 100%%", cfg.GasLimitMarginPercent)
	case cfg.MaxFeeCap != nil && cfg.MaxFeeCap.Sign() <= 0:
		return nil, errors.Wrap(ErrInvalidConfig, "max fee cap must be positive")
	case cfg.MinTipCap != nil && cfg.MinTipCap.Sign() < 0:
		return nil, errors.Wrap(ErrInvalidConfig, "min tip cap is negative")
	}

	return &Policy{cfg: cfg}, nil
}

func (p *Policy) MaxAttempts() int {
	return p.cfg.MaxAttempts
}

// ComputeFee quotes the fee for the given attempt (0 = first submission).
func (p *Policy) ComputeFee(estimate *chain.FeeEstimate, attempt int) (*Fee, error) {
	fee, err := p.quote(estimate, attempt)
	if err != nil {
		return nil, err
	}

	if err := p.checkCap(fee); err != nil {
		return nil, err
	}

	return fee, nil
}

func (p *Policy) quote(estimate *chain.FeeEstimate, attempt int) (*Fee, error) {
	if attempt < 0 {
		return nil, errors.Errorf("negative attempt %d", attempt)
	}
	if attempt >= p.cfg.MaxAttempts {
		return nil, errors.Wrapf(ErrMaxAttemptsExceeded, "attempt %d of %d", attempt+1, p.cfg.MaxAttempts)
	}
	if estimate == nil || estimate.GasPrice == nil || estimate.GasPrice.Sign() <= 0 {
		return nil, ErrInvalidEstimate
	}
	if estimate.TipCap != nil && estimate.TipCap.Sign() < 0 {
		return nil, ErrInvalidEstimate
	}

	margin := p.cfg.MarginPercent + int64(attempt)*p.cfg.EscalationStepPercent

	tip := new(big.Int)
	if estimate.TipCap != nil {
		tip = mulPercentCeil(estimate.TipCap, margin)
	}
	if p.cfg.MinTipCap != nil && tip.Cmp(p.cfg.MinTipCap) < 0 {
		tip.Set(p.cfg.MinTipCap)
	}

	feeCap := mulPercentCeil(estimate.GasPrice, margin)
	if feeCap.Cmp(tip) < 0 {
		feeCap.Set(tip)
	}

	return &Fee{FeeCap: feeCap, TipCap: tip}, nil
}

// Escalate prices a same-nonce replacement of previous. The result is
// re-quoted against the current estimate and is never below what nodes
// accept as a replacement for previous.
func (p *Policy) Escalate(previous *Fee, estimate *chain.FeeEstimate, attempt int) (*Fee, error) {
	if previous == nil || previous.FeeCap == nil || previous.TipCap == nil {
		return nil, errors.New("previous fee is required")
	}
	if attempt < 1 {
		return nil, errors.Errorf("replacement attempt must be >= 1, got %d", attempt)
	}

	fee, err := p.quote(estimate, attempt)
	if err != nil {
		return nil, err
	}

	minFeeCap := replacementFloor(previous.FeeCap)
	minTip := replacementFloor(previous.TipCap)

	if fee.FeeCap.Cmp(minFeeCap) < 0 {
		fee.FeeCap = minFeeCap
	}
	if fee.TipCap.Cmp(minTip) < 0 {
		fee.TipCap = minTip
	}
	if fee.FeeCap.Cmp(fee.TipCap) < 0 {
		fee.FeeCap = new(big.Int).Set(fee.TipCap)
	}

	if err := p.checkCap(fee); err != nil {
		return nil, err
	}

	return fee, nil
}

// GasLimit applies the gas limit margin to a node estimate.
func (p *Policy) GasLimit(estimate uint64) uint64 {
	limit := mulPercentCeil(new(big.Int).SetUint64(estimate), p.cfg.GasLimitMarginPercent)
	if !limit.IsUint64() {
		return estimate
	}

	return limit.Uint64()
}

func (p *Policy) checkCap(fee *Fee) error {
	if p.cfg.MaxFeeCap != nil && fee.FeeCap.Cmp(p.cfg.MaxFeeCap) > 0 {
		return errors.Wrapf(ErrFeeCapExceeded, "fee cap %s > max %s", fee.FeeCap, p.cfg.MaxFeeCap)
	}

	return nil
}

// replacementFloor = previous * 110% + 1 wei
func replacementFloor(previous *big.Int) *big.Int {
	floor := new(big.Int).Mul(previous, big.NewInt(replacementBumpPercent))
	floor.Quo(floor, big.NewInt(percent))

	return floor.Add(floor, big.NewInt(1))
}

func mulPercentCeil(v *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(pct))
	out.Add(out, big.NewInt(percent-1))

	return out.Quo(out, big.NewInt(percent))
}
