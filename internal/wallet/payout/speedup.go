package payout

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github/chapool/gem-payout/internal/util"
	"github/chapool/gem-payout/internal/wallet/chain"
	"github/chapool/gem-payout/internal/wallet/gas"
	"github/chapool/gem-payout/internal/wallet/signer"
)

// SpeedUp replaces the pending transaction of a Submitted payout with a
// same-nonce, same-payload copy at an escalated fee. It returns without
// waiting for confirmation.
func (e *Executor) SpeedUp(ctx context.Context, requestID string) (*Result, error) {
	log := util.LogFromContext(ctx).With().Str("request_id", requestID).Logger()
	ctx = util.WithLogger(ctx, log)

	lease, err := e.lock.Lock(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrNetwork, "acquire wallet lock: %v", err)
	}
	defer lease.Unlock()

	rec, err := e.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusSubmitted || rec.Nonce == nil || len(rec.RawTx) == 0 {
		return nil, errors.Wrapf(ErrInvalidRequest, "payout %s is %s, only submitted payouts can be sped up", requestID, rec.Status)
	}

	rec, done, err := e.checkConfirmation(ctx, rec)
	if err != nil {
		return nil, errors.Wrapf(ErrNetwork, "receipt check: %v", err)
	}
	if done {
		_, err := e.finish(rec, nil)
		return resultFromRecord(rec), err
	}
	if rec.BlockNumber > 0 {
		log.Info().Str("tx_hash", rec.TxHash).Msg("Payout already mined, nothing to speed up")
		return resultFromRecord(rec), nil
	}

	var previous types.Transaction
	if err := previous.UnmarshalBinary(rec.RawTx); err != nil {
		return nil, errors.Wrap(err, "failed to decode stored transaction")
	}

	estimate, err := e.chain.FeeEstimate(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrNetwork, "fee estimate: %v", err)
	}

	fee, err := e.gas.Escalate(&gas.Fee{FeeCap: rec.FeeCap, TipCap: rec.TipCap}, estimate, rec.Attempts)
	switch {
	case errors.Is(err, gas.ErrFeeCapExceeded):
		return nil, errors.Wrap(ErrFeeCapExceeded, err.Error())
	case errors.Is(err, gas.ErrInvalidEstimate):
		return nil, errors.Wrapf(ErrNetwork, "fee estimate: %v", err)
	case err != nil:
		return nil, errors.Wrap(err, "failed to price replacement")
	}

	signed, err := e.signer.SignEVMTransaction(ctx, &signer.SignEVMRequest{
		To:                   *previous.To(),
		Value:                big.NewInt(0),
		GasLimit:             previous.Gas(),
		MaxFeePerGas:         fee.FeeCap,
		MaxPriorityFeePerGas: fee.TipCap,
		Nonce:                previous.Nonce(),
		Data:                 previous.Data(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign replacement")
	}

	if err := lease.Err(); err != nil {
		return nil, errors.Wrapf(ErrNetwork, "before persisting replacement: %v", err)
	}

	before := rec.Clone()

	rec.TxHash = signed.TxHash.Hex()
	rec.TxHashes = append(rec.TxHashes, rec.TxHash)
	rec.RawTx = signed.RawTransaction
	rec.FeeCap = fee.FeeCap
	rec.TipCap = fee.TipCap
	rec.Attempts++
	rec.UpdatedAt = e.clock.Now()

	if err := e.store.Update(ctx, rec); err != nil {
		return nil, errors.Wrap(err, "failed to persist replacement")
	}

	if err := lease.Err(); err != nil {
		before.UpdatedAt = e.clock.Now()
		if uerr := e.store.Update(ctx, before); uerr != nil {
			return nil, errors.Wrapf(uerr, "failed to drop unsent replacement (%v)", err)
		}

		return nil, errors.Wrapf(ErrNetwork, "before broadcasting replacement: %v", err)
	}

	log.Info().
		Uint64("nonce", previous.Nonce()).
		Str("replaces", before.TxHash).
		Str("tx_hash", rec.TxHash).
		Str("fee_cap", fee.FeeCap.String()).
		Str("tip_cap", fee.TipCap.String()).
		Int("attempt", rec.Attempts).
		Msg("Broadcasting replacement transaction")

	err = e.broadcast(ctx, signed.Tx)
	if err == nil {
		e.metrics.SubmissionAttempt("replaced")
		return resultFromRecord(rec), nil
	}

	if errors.Is(err, errAmbiguousBroadcast) {
		e.metrics.SubmissionAttempt("ambiguous")
		return resultFromRecord(rec), errors.Wrapf(ErrSubmissionPendingConfirmation, "%s: %v", rec.TxHash, err)
	}

	rejected, ok := chain.AsRejected(err)
	if !ok {
		return resultFromRecord(rec), errors.Wrap(err, "unexpected broadcast error")
	}
	e.metrics.SubmissionAttempt(string(rejected.Reason))

	// the replacement can never land, the earlier transactions still may
	before.UpdatedAt = e.clock.Now()
	if err := e.store.Update(ctx, before); err != nil {
		return resultFromRecord(rec), errors.Wrapf(err, "failed to drop rejected replacement (%v)", rejected)
	}

	if rejected.Reason == chain.RejectNonceTooLow {
		log.Info().Str("tx_hash", before.TxHash).Msg("Nonce already used, an earlier transaction was mined")
		return resultFromRecord(before), nil
	}

	return resultFromRecord(before), errors.Wrap(ErrRejectedByNetwork, rejected.Error())
}
