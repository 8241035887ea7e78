// Package payout turns approved gem redemptions into ERC-20 transfers from
// the hot wallet.
//
// Execute runs validate, convert, balance check, fee quote, submit and
// confirm for one request. Every request id maps to one Record for its whole
// life: the record is reserved before any side effect, moved to Submitted
// (with nonce and hash) before broadcast and is only finalized by receipts.
// A request whose transaction may still land is never signed again with a
// different nonce.
package payout

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github/chapool/gem-payout/internal/util"
	"github/chapool/gem-payout/internal/wallet/address"
	"github/chapool/gem-payout/internal/wallet/chain"
	"github/chapool/gem-payout/internal/wallet/gas"
	"github/chapool/gem-payout/internal/wallet/hotwallet"
	"github/chapool/gem-payout/internal/wallet/signer"
	"github/chapool/gem-payout/internal/wallet/token"
	"golang.org/x/sync/singleflight"
)

const (
	maxRequestIDLength         = 128
	defaultMinConfirmations    = 5
	defaultPollInterval        = 3 * time.Second
	defaultConfirmationTimeout = 2 * time.Minute
	defaultBroadcastBackoff    = 500 * time.Millisecond
)

type Config struct {
	MinConfirmations    uint64
	PollInterval        time.Duration
	ConfirmationTimeout time.Duration
	// NonceConflictRetries bounds re-signing after nonce conflicts.
	NonceConflictRetries int
	// BroadcastRetries bounds rebroadcasts of identical bytes after network errors.
	BroadcastRetries int
	BroadcastBackoff time.Duration
	// PendingLease after which a reservation without transaction is abandoned.
	PendingLease time.Duration
	// LargePayoutUnits raises an operator alert at or above this amount, 0 disables.
	LargePayoutUnits int64
}

type Deps struct {
	Signer  signer.Service
	Chain   chain.Client
	Tokens  *token.Registry
	Gas     *gas.Policy
	Rate    ConversionRate
	Store   Store
	Nonces  *hotwallet.NonceTracker
	Lock    hotwallet.Locker
	Alerter Alerter
	Metrics Metrics
	Clock   time2.Clock
}

// Executor is safe for concurrent use. Submissions from the hot wallet are
// serialized by the wallet lock, everything else runs concurrently.
type Executor struct {
	signer  signer.Service
	chain   chain.Client
	tokens  *token.Registry
	gas     *gas.Policy
	rate    ConversionRate
	store   Store
	nonces  *hotwallet.NonceTracker
	lock    hotwallet.Locker
	alerter Alerter
	metrics Metrics
	clock   time2.Clock
	cfg     Config
	group   singleflight.Group
}

func NewExecutor(deps Deps, cfg Config) (*Executor, error) {
	switch {
	case deps.Signer == nil:
		return nil, errors.New("signer is required")
	case deps.Chain == nil:
		return nil, errors.New("chain client is required")
	case deps.Tokens == nil:
		return nil, errors.New("token registry is required")
	case deps.Gas == nil:
		return nil, errors.New("gas policy is required")
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case !deps.Rate.FiatPerUnit.IsPositive() || deps.Rate.Version == "":
		return nil, errors.New("conversion rate is required")
	}

	if deps.Nonces == nil {
		deps.Nonces = hotwallet.NewNonceTracker(deps.Signer.Address(), deps.Chain, nil)
	}
	if deps.Nonces.Address() != deps.Signer.Address() {
		return nil, errors.New("nonce tracker and signer disagree on the hot wallet address")
	}
	if deps.Lock == nil {
		deps.Lock = hotwallet.NewMutexLocker()
	}
	if deps.Alerter == nil {
		deps.Alerter = nopAlerter{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = time2.DefaultClock
	}

	if cfg.MinConfirmations == 0 {
		cfg.MinConfirmations = defaultMinConfirmations
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = defaultConfirmationTimeout
	}
	if cfg.BroadcastBackoff <= 0 {
		cfg.BroadcastBackoff = defaultBroadcastBackoff
	}
	if cfg.NonceConflictRetries < 0 || cfg.BroadcastRetries < 0 {
		return nil, errors.New("retry counts must not be negative")
	}

	return &Executor{
		signer:  deps.Signer,
		chain:   deps.Chain,
		tokens:  deps.Tokens,
		gas:     deps.Gas,
		rate:    deps.Rate,
		store:   deps.Store,
		nonces:  deps.Nonces,
		lock:    deps.Lock,
		alerter: deps.Alerter,
		metrics: deps.Metrics,
		clock:   deps.Clock,
		cfg:     cfg,
	}, nil
}

// Address of the hot wallet paying out.
func (e *Executor) Address() common.Address {
	return e.signer.Address()
}

// prepared is a validated request with its on-chain amount.
type prepared struct {
	req         Request
	destination common.Address
	token       token.Descriptor
	amount      *big.Int
}

// prepare validates and converts. No I/O.
func (e *Executor) prepare(req Request) (*prepared, error) {
	req.RequestID = strings.TrimSpace(req.RequestID)

	switch {
	case req.RequestID == "":
		return nil, errors.Wrap(ErrInvalidRequest, "request id is required")
	case len(req.RequestID) > maxRequestIDLength:
		return nil, errors.Wrapf(ErrInvalidRequest, "request id longer than %d characters", maxRequestIDLength)
	case req.AmountUnits <= 0:
		return nil, errors.Wrapf(ErrInvalidRequest, "amount %d must be positive", req.AmountUnits)
	}

	destination, err := address.Parse(req.Destination)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidRequest, "destination: %v", err)
	}
	if destination == e.signer.Address() {
		return nil, errors.Wrap(ErrInvalidRequest, "destination is the hot wallet")
	}

	descriptor, err := e.tokens.Resolve(req.TokenSymbol)
	if err != nil {
		return nil, err
	}
	if destination == descriptor.Contract {
		return nil, errors.Wrap(ErrInvalidRequest, "destination is the token contract")
	}

	amount, err := e.rate.AmountOnChain(req.AmountUnits, descriptor.Decimals)
	if err != nil {
		return nil, err
	}

	return &prepared{req: req, destination: destination, token: descriptor, amount: amount}, nil
}

func (p *prepared) newRecord(rateVersion string, now time.Time) *Record {
	return &Record{
		RequestID:     p.req.RequestID,
		UserID:        p.req.UserID,
		Destination:   p.destination.Hex(),
		TokenSymbol:   p.token.Symbol,
		AmountUnits:   p.req.AmountUnits,
		AmountOnChain: new(big.Int).Set(p.amount),
		RateVersion:   rateVersion,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// matches reports whether rec was created for the same payout.
func (p *prepared) matches(rec *Record) bool {
	return rec.UserID == p.req.UserID &&
		strings.EqualFold(rec.Destination, p.destination.Hex()) &&
		strings.EqualFold(rec.TokenSymbol, p.token.Symbol) &&
		rec.AmountUnits == p.req.AmountUnits
}

// Execute pays out one request. On success the result carries the confirmed
// transaction hash. ErrSubmissionPendingConfirmation comes with a non-nil
// Result holding the hash to reconcile.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	p, err := e.prepare(req)
	if err != nil {
		e.metrics.PayoutFinished(req.TokenSymbol, StatusFailed, FailureKindOf(err))
		util.LogFromContext(ctx).Info().Err(err).Str("request_id", req.RequestID).Msg("Payout request rejected")
		return nil, err
	}

	logger := util.LogFromContext(ctx).With().
		Str("request_id", p.req.RequestID).
		Str("token", p.token.Symbol).
		Logger()
	ctx = util.WithLogger(ctx, logger)

	// concurrent calls for one id share a single execution
	v, err, shared := e.group.Do(p.req.RequestID, func() (any, error) {
		return e.execute(ctx, p)
	})

	rec, _ := v.(*Record)
	if shared && rec != nil && !p.matches(rec) {
		return nil, errors.Wrapf(ErrInvalidRequest, "request id %s was used for a different payout", p.req.RequestID)
	}

	if !shared {
		status := StatusFailed
		if rec != nil {
			status = rec.Status
		}
		e.metrics.PayoutFinished(p.token.Symbol, status, FailureKindOf(err))
	}

	if rec == nil || rec.Status == StatusPending {
		return nil, err
	}

	return resultFromRecord(rec), err
}

func (e *Executor) execute(ctx context.Context, p *prepared) (*Record, error) {
	log := util.LogFromContext(ctx)

	rec, created, err := e.store.Reserve(ctx, p.newRecord(e.rate.Version, e.clock.Now()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to reserve payout request")
	}

	if !created {
		if !p.matches(rec) {
			return nil, errors.Wrapf(ErrInvalidRequest, "request id %s was used for a different payout", rec.RequestID)
		}

		log.Info().Str("status", string(rec.Status)).Msg("Payout request already known, resuming")

		return e.resume(ctx, rec)
	}

	log.Info().
		Str("user_id", rec.UserID).
		Str("destination", rec.Destination).
		Int64("amount_units", rec.AmountUnits).
		Str("amount_on_chain", rec.AmountOnChain.String()).
		Str("rate_version", rec.RateVersion).
		Msg("Payout request accepted")

	if e.cfg.LargePayoutUnits > 0 && rec.AmountUnits >= e.cfg.LargePayoutUnits {
		e.alert(ctx, Alert{
			Kind:      AlertLargePayout,
			RequestID: rec.RequestID,
			Token:     rec.TokenSymbol,
			Required:  rec.AmountOnChain.String(),
			Message:   "large payout requested",
		})
	}

	// read-only, runs outside the wallet lock
	balance, err := e.chain.TokenBalance(ctx, p.token.Contract, e.signer.Address())
	if err != nil {
		return e.stop(ctx, rec, errors.Wrapf(ErrNetwork, "balance check: %v", err))
	}
	if balance.Cmp(p.amount) < 0 {
		return e.stop(ctx, rec, &fundsError{Required: p.amount, Available: balance})
	}

	rec, err = e.submit(ctx, rec, p)
	if err != nil {
		return rec, err
	}

	return e.finish(e.confirm(ctx, rec))
}

// resume continues an existing record without signing anything new.
func (e *Executor) resume(ctx context.Context, rec *Record) (*Record, error) {
	switch rec.Status {
	case StatusConfirmed:
		return rec, nil
	case StatusFailed:
		return rec, recordError(rec)
	case StatusSubmitted:
		return e.finish(e.confirm(ctx, rec))
	default:
		return rec, errors.Wrapf(ErrRequestInFlight, "reserved at %s", rec.CreatedAt.Format(time.RFC3339))
	}
}

// finish turns a terminal Failed record into its typed error.
func (e *Executor) finish(rec *Record, err error) (*Record, error) {
	if err == nil && rec.Status == StatusFailed {
		return rec, recordError(rec)
	}

	return rec, err
}

// Status returns the stored record of a request.
func (e *Executor) Status(ctx context.Context, requestID string) (*Record, error) {
	return e.store.Get(ctx, requestID)
}

// stop ends a request before anything was broadcast. Permanent failures are
// recorded, transient ones release the reservation so the caller may retry.
func (e *Executor) stop(ctx context.Context, rec *Record, cause error) (*Record, error) {
	kind := FailureKindOf(cause)

	switch kind {
	case FailureInsufficientFunds:
		var funds *fundsError
		alert := Alert{
			Kind:      AlertInsufficientFunds,
			RequestID: rec.RequestID,
			Token:     rec.TokenSymbol,
			Required:  rec.AmountOnChain.String(),
			Message:   "hot wallet balance too low, top-up required",
		}
		if errors.As(cause, &funds) {
			alert.Available = funds.Available.String()
		}
		e.alert(ctx, alert)

		return e.fail(ctx, rec, kind, cause)
	case FailureRejected:
		return e.fail(ctx, rec, kind, cause)
	}

	if err := e.store.Release(ctx, rec.RequestID); err != nil {
		util.LogFromContext(ctx).Error().Err(err).Msg("Failed to release payout reservation")
	}

	util.LogFromContext(ctx).Warn().Err(cause).Str("failure_kind", string(kind)).Msg("Payout aborted before submission")

	return nil, cause
}

func (e *Executor) fail(ctx context.Context, rec *Record, kind FailureKind, cause error) (*Record, error) {
	rec.Status = StatusFailed
	rec.FailureKind = kind
	rec.FailureReason = cause.Error()
	rec.UpdatedAt = e.clock.Now()

	if err := e.store.Update(ctx, rec); err != nil {
		return rec, errors.Wrapf(err, "failed to record payout failure (%v)", cause)
	}

	util.LogFromContext(ctx).Warn().
		Str("failure_kind", string(kind)).
		Str("tx_hash", rec.TxHash).
		Err(cause).
		Msg("Payout failed")

	return rec, cause
}

func (e *Executor) alert(ctx context.Context, alert Alert) {
	util.LogFromContext(ctx).Warn().
		Str("alert", string(alert.Kind)).
		Str("required", alert.Required).
		Str("available", alert.Available).
		Msg(alert.Message)

	if err := e.alerter.Alert(ctx, alert); err != nil {
		util.LogFromContext(ctx).Error().Err(err).Str("alert", string(alert.Kind)).Msg("Failed to publish alert")
	}
}

// fundsError carries the amounts of an insufficient funds failure.
type fundsError struct {
	Required  *big.Int
	Available *big.Int
}

func (e *fundsError) Error() string {
	return ErrInsufficientFunds.Error() + ": available " + e.Available.String() + ", required " + e.Required.String()
}

func (e *fundsError) Unwrap() error {
	return ErrInsufficientFunds
}
