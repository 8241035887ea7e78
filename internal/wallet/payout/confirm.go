package payout

import (
	"context"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github/chapool/gem-payout/internal/util"
	"github/chapool/gem-payout/internal/wallet/chain"
)

// confirm polls a Submitted record until one of its transactions reaches the
// required depth or reverts. It never signs or broadcasts anything.
func (e *Executor) confirm(ctx context.Context, rec *Record) (*Record, error) {
	log := util.LogFromContext(ctx)
	started := e.clock.Now()

	timeout := time.NewTimer(e.cfg.ConfirmationTimeout)
	defer timeout.Stop()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		updated, done, err := e.checkConfirmation(ctx, rec)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("tx_hash", rec.TxHash).Msg("Confirmation check failed, will retry")
		case done:
			e.metrics.ConfirmationLatency(e.clock.Now().Sub(started))
			return updated, nil
		default:
			rec = updated
		}

		select {
		case <-ticker.C:
		case <-timeout.C:
			log.Warn().
				Str("tx_hash", rec.TxHash).
				Uint64("confirmations", rec.Confirmations).
				Dur("timeout", e.cfg.ConfirmationTimeout).
				Msg("Payout not confirmed in time, leaving it for reconciliation")

			return rec, errors.Wrapf(ErrSubmissionPendingConfirmation, "%s not confirmed within %s", rec.TxHash, e.cfg.ConfirmationTimeout)
		case <-ctx.Done():
			return rec, errors.Wrapf(ErrSubmissionPendingConfirmation, "%s: %v", rec.TxHash, ctx.Err())
		}
	}
}

// checkConfirmation looks at every transaction of rec, newest first, and
// finalizes the record when one of them is final. Progress of a mined but
// shallow transaction is persisted.
func (e *Executor) checkConfirmation(ctx context.Context, rec *Record) (*Record, bool, error) {
	var (
		mined     *chain.Confirmation
		minedHash string
	)

	for i := len(rec.TxHashes) - 1; i >= 0; i-- {
		hash := rec.TxHashes[i]

		c, err := e.chain.AwaitConfirmation(ctx, common.HexToHash(hash), e.cfg.MinConfirmations)
		if err != nil {
			return rec, false, err
		}

		switch c.Status {
		case chain.ConfirmationConfirmed:
			return e.finalize(ctx, rec, hash, c, StatusConfirmed)
		case chain.ConfirmationFailed:
			return e.finalize(ctx, rec, hash, c, StatusFailed)
		}

		if c.BlockNumber > 0 {
			mined, minedHash = c, hash
		}
	}

	if mined == nil || (rec.TxHash == minedHash && rec.Confirmations == mined.Confirmations) {
		return rec, false, nil
	}

	rec.TxHash = minedHash
	rec.Confirmations = mined.Confirmations
	rec.BlockNumber = mined.BlockNumber
	rec.UpdatedAt = e.clock.Now()

	if err := e.store.Update(ctx, rec); err != nil {
		if errors.Is(err, ErrRecordFinalized) {
			return e.reload(ctx, rec)
		}

		util.LogFromContext(ctx).Warn().Err(err).Msg("Failed to persist confirmation progress")
	}

	return rec, false, nil
}

// finalize moves rec to Confirmed or Failed (reverted) by hash's receipt.
func (e *Executor) finalize(ctx context.Context, rec *Record, hash string, c *chain.Confirmation, status Status) (*Record, bool, error) {
	rec.Status = status
	rec.TxHash = hash
	rec.Confirmations = c.Confirmations
	rec.BlockNumber = c.BlockNumber
	rec.UpdatedAt = e.clock.Now()

	if status == StatusFailed {
		rec.FailureKind = FailureReverted
		rec.FailureReason = "transaction reverted in block " + strconv.FormatUint(c.BlockNumber, 10)
	}

	if err := e.store.Update(ctx, rec); err != nil {
		if errors.Is(err, ErrRecordFinalized) {
			return e.reload(ctx, rec)
		}

		return rec, false, errors.Wrap(err, "failed to persist final payout status")
	}

	util.LogFromContext(ctx).Info().
		Str("status", string(status)).
		Str("tx_hash", hash).
		Uint64("block_number", c.BlockNumber).
		Uint64("confirmations", c.Confirmations).
		Uint64("gas_used", c.GasUsed).
		Msg("Payout finalized")

	return rec, true, nil
}

// reload returns the stored record after a concurrent writer finalized it.
func (e *Executor) reload(ctx context.Context, rec *Record) (*Record, bool, error) {
	stored, err := e.store.Get(ctx, rec.RequestID)
	if err != nil {
		return rec, false, err
	}

	return stored, stored.Status.Terminal(), nil
}
