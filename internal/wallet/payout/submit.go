package payout

import (
	"context"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github/chapool/gem-payout/internal/util"
	"github/chapool/gem-payout/internal/wallet/chain"
	"github/chapool/gem-payout/internal/wallet/gas"
	"github/chapool/gem-payout/internal/wallet/signer"
)

// errAmbiguousBroadcast: the transaction may or may not have reached a node.
var errAmbiguousBroadcast = errors.New("broadcast outcome unknown")

// txPlan is everything needed to sign one transfer.
type txPlan struct {
	nonce    uint64
	fee      *gas.Fee
	gasLimit uint64
	data     []byte
}

// submit signs and broadcasts the transfer of a reserved record. It returns
// the Submitted record once a node accepted the transaction.
func (e *Executor) submit(ctx context.Context, rec *Record, p *prepared) (*Record, error) {
	log := util.LogFromContext(ctx)

	lease, err := e.lock.Lock(ctx)
	if err != nil {
		return e.stop(ctx, rec, errors.Wrapf(ErrNetwork, "acquire wallet lock: %v", err))
	}
	defer lease.Unlock()

	for conflicts := 0; ; conflicts++ {
		plan, err := e.plan(ctx, rec, p)
		if err != nil {
			return e.stop(ctx, rec, err)
		}

		signed, err := e.signer.SignEVMTransaction(ctx, &signer.SignEVMRequest{
			To:                   p.token.Contract,
			Value:                big.NewInt(0),
			GasLimit:             plan.gasLimit,
			MaxFeePerGas:         plan.fee.FeeCap,
			MaxPriorityFeePerGas: plan.fee.TipCap,
			Nonce:                plan.nonce,
			Data:                 plan.data,
		})
		if err != nil {
			return e.stop(ctx, rec, errors.Wrap(err, "failed to sign transaction"))
		}

		if err := lease.Err(); err != nil {
			return e.stop(ctx, rec, errors.Wrapf(ErrNetwork, "before persisting: %v", err))
		}

		nonce := plan.nonce
		rec.Status = StatusSubmitted
		rec.Nonce = &nonce
		rec.TxHash = signed.TxHash.Hex()
		rec.TxHashes = append(rec.TxHashes, rec.TxHash)
		rec.RawTx = signed.RawTransaction
		rec.FeeCap = plan.fee.FeeCap
		rec.TipCap = plan.fee.TipCap
		rec.GasLimit = plan.gasLimit
		rec.Attempts = 1
		rec.UpdatedAt = e.clock.Now()

		// nothing is broadcast unless the nonce and hash are on record
		if err := e.store.Update(ctx, rec); err != nil {
			return rec, errors.Wrap(err, "failed to persist signed transaction")
		}

		if err := lease.Err(); err != nil {
			return e.withdraw(ctx, rec, err)
		}

		log.Info().
			Uint64("nonce", nonce).
			Str("tx_hash", rec.TxHash).
			Str("fee_cap", rec.FeeCap.String()).
			Str("tip_cap", rec.TipCap.String()).
			Uint64("gas_limit", rec.GasLimit).
			Msg("Broadcasting payout transaction")

		err = e.broadcast(ctx, signed.Tx)
		if err == nil {
			e.metrics.SubmissionAttempt("accepted")
			e.advanceNonce(ctx, nonce)

			return rec, nil
		}

		if errors.Is(err, errAmbiguousBroadcast) {
			e.metrics.SubmissionAttempt("ambiguous")
			// the transaction may be in a mempool: its nonce counts as used
			e.advanceNonce(ctx, nonce)
			log.Warn().Err(err).Str("tx_hash", rec.TxHash).Msg("Payout broadcast outcome unknown, awaiting reconciliation")

			return rec, errors.Wrapf(ErrSubmissionPendingConfirmation, "%s: %v", rec.TxHash, err)
		}

		rejected, ok := chain.AsRejected(err)
		if !ok {
			return rec, errors.Wrap(err, "unexpected broadcast error")
		}
		e.metrics.SubmissionAttempt(string(rejected.Reason))

		// refused outright, the signed bytes can never land
		rec = unsign(rec)
		rec.UpdatedAt = e.clock.Now()
		if err := e.store.Update(ctx, rec); err != nil {
			return rec, errors.Wrapf(err, "failed to record rejected transaction (%v)", rejected)
		}

		if rejected.NonceConflict() {
			if err := e.nonces.Invalidate(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to invalidate nonce cache")
			}

			if conflicts < e.cfg.NonceConflictRetries {
				log.Warn().
					Str("reason", string(rejected.Reason)).
					Uint64("nonce", nonce).
					Int("retry", conflicts+1).
					Msg("Nonce conflict, re-signing with a fresh nonce")

				continue
			}

			return e.fail(ctx, rec, FailureRejected,
				errors.Wrapf(ErrRejectedByNetwork, "nonce conflict after %d retries: %s", conflicts, rejected.Message))
		}

		if rejected.Reason == chain.RejectInsufficientNativeFunds {
			e.alert(ctx, Alert{
				Kind:      AlertInsufficientNativeFunds,
				RequestID: rec.RequestID,
				Token:     rec.TokenSymbol,
				Message:   "hot wallet cannot pay network fees, native top-up required",
			})
		}

		return e.fail(ctx, rec, FailureRejected, errors.Wrap(ErrRejectedByNetwork, rejected.Error()))
	}
}

// withdraw returns a persisted but never broadcast record to Pending and
// releases it.
func (e *Executor) withdraw(ctx context.Context, rec *Record, cause error) (*Record, error) {
	rec = unsign(rec)
	rec.UpdatedAt = e.clock.Now()
	if err := e.store.Update(ctx, rec); err != nil {
		return rec, errors.Wrapf(err, "failed to withdraw unsent transaction (%v)", cause)
	}

	return e.stop(ctx, rec, errors.Wrapf(ErrNetwork, "before broadcast: %v", cause))
}

// plan re-checks funds under the wallet lock and prices the transfer.
func (e *Executor) plan(ctx context.Context, rec *Record, p *prepared) (*txPlan, error) {
	wallet := e.signer.Address()

	// read before balance: anything at or above it still spends from the balance
	confirmedNonce, err := e.chain.ConfirmedNonce(ctx, wallet)
	if err != nil {
		return nil, errors.Wrapf(ErrNetwork, "confirmed nonce: %v", err)
	}

	balance, err := e.chain.TokenBalance(ctx, p.token.Contract, wallet)
	if err != nil {
		return nil, errors.Wrapf(ErrNetwork, "balance check: %v", err)
	}

	inFlight, nextFree, err := e.outstanding(ctx, rec, confirmedNonce)
	if err != nil {
		return nil, err
	}

	available := new(big.Int).Sub(balance, inFlight)
	if available.Cmp(p.amount) < 0 {
		if available.Sign() < 0 {
			available.SetInt64(0)
		}

		return nil, &fundsError{Required: p.amount, Available: available}
	}

	nonce, err := e.nonces.Next(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrNetwork, "pending nonce: %v", err)
	}
	if nonce < nextFree {
		nonce = nextFree
	}

	estimate, err := e.chain.FeeEstimate(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrNetwork, "fee estimate: %v", err)
	}

	fee, err := e.gas.ComputeFee(estimate, 0)
	switch {
	case errors.Is(err, gas.ErrFeeCapExceeded):
		return nil, errors.Wrap(ErrFeeCapExceeded, err.Error())
	case errors.Is(err, gas.ErrInvalidEstimate):
		return nil, errors.Wrapf(ErrNetwork, "fee estimate: %v", err)
	case err != nil:
		return nil, errors.Wrap(err, "failed to price transaction")
	}

	data, err := chain.TransferData(p.destination, p.amount)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidRequest, err.Error())
	}

	gasEstimate, err := e.chain.EstimateGas(ctx, ethereum.CallMsg{
		From: wallet,
		To:   &p.token.Contract,
		Data: data,
	})
	if err != nil {
		if rejected, ok := chain.AsRejected(err); ok {
			return nil, errors.Wrapf(ErrRejectedByNetwork, "transfer would fail: %s", rejected.Message)
		}

		return nil, errors.Wrapf(ErrNetwork, "estimate gas: %v", err)
	}

	return &txPlan{
		nonce:    nonce,
		fee:      fee,
		gasLimit: e.gas.GasLimit(gasEstimate),
		data:     data,
	}, nil
}

// outstanding sums same-token amounts of other payouts that may still land
// and returns the first nonce above all of them.
func (e *Executor) outstanding(ctx context.Context, rec *Record, confirmedNonce uint64) (*big.Int, uint64, error) {
	submitted, err := e.store.ListByStatus(ctx, StatusSubmitted)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list submitted payouts")
	}

	inFlight := new(big.Int)
	var nextFree uint64

	for _, other := range submitted {
		if other.RequestID == rec.RequestID || other.Nonce == nil || *other.Nonce < confirmedNonce {
			continue
		}

		if other.TokenSymbol == rec.TokenSymbol && other.AmountOnChain != nil {
			inFlight.Add(inFlight, other.AmountOnChain)
		}
		if *other.Nonce+1 > nextFree {
			nextFree = *other.Nonce + 1
		}
	}

	return inFlight, nextFree, nil
}

// broadcast submits tx, resending the identical bytes after network errors.
// It returns nil, a *chain.RejectedError or errAmbiguousBroadcast.
func (e *Executor) broadcast(ctx context.Context, tx *types.Transaction) error {
	var firstNetErr error

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.BroadcastBackoff
	b.MaxElapsedTime = 0

	op := func() error {
		_, err := e.chain.Submit(ctx, tx)
		switch {
		case err == nil:
			return nil
		case chain.IsNetworkError(err):
			if firstNetErr == nil {
				firstNetErr = err
			}

			return err
		case firstNetErr != nil:
			// an earlier copy may have been accepted, e.g. nonce too low now
			return backoff.Permanent(errors.Wrapf(errAmbiguousBroadcast, "%v after %v", err, firstNetErr))
		default:
			return backoff.Permanent(err)
		}
	}

	notify := func(err error, next time.Duration) {
		util.LogFromContext(ctx).Warn().Err(err).Dur("retry_in", next).Str("tx_hash", tx.Hash().Hex()).Msg("Rebroadcasting payout transaction")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.BroadcastRetries)), ctx), notify)
	if err == nil {
		return nil
	}
	if errors.Is(err, errAmbiguousBroadcast) {
		return err
	}
	if _, ok := chain.AsRejected(err); ok {
		return err
	}

	return errors.Wrap(errAmbiguousBroadcast, err.Error())
}

func (e *Executor) advanceNonce(ctx context.Context, used uint64) {
	if err := e.nonces.Advance(ctx, used); err != nil {
		util.LogFromContext(ctx).Error().Err(err).Uint64("nonce", used).Msg("Failed to advance nonce cache")
	}
}

// unsign returns a record whose only transaction was refused to Pending.
func unsign(rec *Record) *Record {
	rec.Status = StatusPending
	rec.Nonce = nil
	rec.TxHash = ""
	rec.TxHashes = nil
	rec.RawTx = nil
	rec.FeeCap = nil
	rec.TipCap = nil
	rec.GasLimit = 0
	rec.Attempts = 0

	return rec
}
