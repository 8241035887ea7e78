package payout

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github/chapool/gem-payout/internal/util"
	"github/chapool/gem-payout/internal/wallet/chain"
)

// Reconcile brings a non-terminal record up to date with the chain:
//   - a receipt at the required depth finalizes it,
//   - without receipts and with its nonce used by another transaction it is dropped,
//   - otherwise the last signed transaction is rebroadcast unchanged.
//
// Pending records whose lease expired before anything was signed are
// abandoned. No transaction with a new nonce is ever created.
func (e *Executor) Reconcile(ctx context.Context, requestID string) (*Record, error) {
	log := util.LogFromContext(ctx).With().Str("request_id", requestID).Logger()
	ctx = util.WithLogger(ctx, log)

	rec, err := e.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case StatusConfirmed, StatusFailed:
		return rec, nil
	case StatusPending:
		return e.reconcilePending(ctx, rec)
	}

	// read the nonce before the receipts: a transaction mined in between is
	// then seen by its receipt rather than taken for dropped
	confirmedNonce, err := e.chain.ConfirmedNonce(ctx, e.signer.Address())
	if err != nil {
		return rec, errors.Wrapf(ErrNetwork, "confirmed nonce: %v", err)
	}

	rec, done, err := e.checkConfirmation(ctx, rec)
	if err != nil {
		return rec, errors.Wrapf(ErrNetwork, "receipt check: %v", err)
	}
	if done || rec.BlockNumber > 0 {
		return rec, nil
	}

	if rec.Nonce != nil && confirmedNonce > *rec.Nonce {
		e.alert(ctx, Alert{
			Kind:      AlertDropped,
			RequestID: rec.RequestID,
			Token:     rec.TokenSymbol,
			Required:  rec.AmountOnChain.String(),
			Message:   "payout transaction dropped, nonce used by another transaction",
		})

		rec, _ = e.fail(ctx, rec, FailureDropped,
			errors.Errorf("nonce %d used without any of %d transactions being mined", *rec.Nonce, len(rec.TxHashes)))

		return rec, nil
	}

	if len(rec.RawTx) == 0 {
		return rec, nil
	}

	var tx types.Transaction
	if err := tx.UnmarshalBinary(rec.RawTx); err != nil {
		return rec, errors.Wrap(err, "failed to decode stored transaction")
	}

	if _, err := e.chain.Submit(ctx, &tx); err != nil {
		if _, rejected := chain.AsRejected(err); !rejected {
			return rec, errors.Wrapf(ErrNetwork, "rebroadcast: %v", err)
		}

		// e.g. replaced by a sibling, the receipts decide on the next pass
		log.Info().Err(err).Str("tx_hash", rec.TxHash).Msg("Rebroadcast refused")

		return rec, nil
	}

	log.Info().Str("tx_hash", rec.TxHash).Uint64("nonce", *rec.Nonce).Msg("Rebroadcast pending payout transaction")

	return rec, nil
}

func (e *Executor) reconcilePending(ctx context.Context, rec *Record) (*Record, error) {
	if e.cfg.PendingLease <= 0 || len(rec.TxHashes) > 0 {
		return rec, nil
	}

	if age := e.clock.Now().Sub(rec.UpdatedAt); age < e.cfg.PendingLease {
		return rec, nil
	}

	lease, err := e.lock.Lock(ctx)
	if err != nil {
		return rec, errors.Wrapf(ErrNetwork, "acquire wallet lock: %v", err)
	}
	defer lease.Unlock()

	// a submission holding the lock may have moved it on
	current, err := e.store.Get(ctx, rec.RequestID)
	if err != nil {
		return rec, err
	}
	if current.Status != StatusPending || len(current.TxHashes) > 0 {
		return current, nil
	}

	current, _ = e.fail(ctx, current, FailureAbandoned,
		errors.Errorf("reserved at %s and never signed", current.CreatedAt.Format(time.RFC3339)))

	return current, nil
}

// ReconcilePending reconciles every non-terminal record and returns how many
// reached a terminal status.
func (e *Executor) ReconcilePending(ctx context.Context) (int, error) {
	records, err := e.store.ListByStatus(ctx, StatusPending, StatusSubmitted)
	if err != nil {
		return 0, err
	}

	var (
		finalized int
		failed    int
	)

	for _, rec := range records {
		if ctx.Err() != nil {
			return finalized, ctx.Err()
		}

		updated, err := e.Reconcile(ctx, rec.RequestID)
		if err != nil {
			failed++
			util.LogFromContext(ctx).Warn().Err(err).Str("request_id", rec.RequestID).Msg("Failed to reconcile payout")

			continue
		}

		if updated.Status.Terminal() {
			finalized++
			e.metrics.PayoutFinished(updated.TokenSymbol, updated.Status, updated.FailureKind)
		}
	}

	util.LogFromContext(ctx).Info().
		Int("records", len(records)).
		Int("finalized", finalized).
		Int("errors", failed).
		Msg("Reconciled outstanding payouts")

	return finalized, nil
}

// StartReconciler runs ReconcilePending every interval until ctx is done.
func (e *Executor) StartReconciler(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.ReconcilePending(ctx); err != nil && ctx.Err() == nil {
					util.LogFromContext(ctx).Error().Err(err).Msg("Reconciliation pass failed")
				}
			}
		}
	}()
}
