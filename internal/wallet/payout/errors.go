package payout

import (
	"github.com/pkg/errors"
	"github/chapool/gem-payout/internal/wallet/token"
)

var (
	ErrInvalidRequest    = errors.New("invalid payout request")
	ErrUnsupportedToken  = token.ErrUnsupportedToken
	ErrInsufficientFunds = errors.New("insufficient hot wallet funds")
	ErrNetwork           = errors.New("network error")
	ErrRejectedByNetwork = errors.New("rejected by network")
	// ErrSubmissionPendingConfirmation: a transaction was broadcast (or may
	// have been) and is not confirmed yet. Never resubmit, reconcile instead.
	ErrSubmissionPendingConfirmation = errors.New("submission pending confirmation")
	ErrRequestInFlight               = errors.New("payout request is being processed")
	ErrPayoutsDisabled               = errors.New("payouts are disabled")
	ErrRecordNotFound                = errors.New("payout record not found")
	ErrRecordFinalized               = errors.New("payout record is final")
	ErrFeeCapExceeded                = errors.New("network fee above configured maximum")
	// ErrNotStarted: the request was received but shutdown began before a
	// worker picked it up. Nothing was reserved, the producer may resend it.
	ErrNotStarted = errors.New("payout not started before shutdown")
)

// FailureKind is the stable failure identifier stored on records and published in results.
type FailureKind string

const (
	FailureNone                FailureKind = ""
	FailureInvalidRequest      FailureKind = "invalid_request"
	FailureUnsupportedToken    FailureKind = "unsupported_token"
	FailureInsufficientFunds   FailureKind = "insufficient_funds"
	FailureNetwork             FailureKind = "network_error"
	FailureRejected            FailureKind = "rejected_by_network"
	FailureReverted            FailureKind = "reverted"
	FailureDropped             FailureKind = "dropped"
	FailureAbandoned           FailureKind = "abandoned"
	FailurePendingConfirmation FailureKind = "submission_pending_confirmation"
	FailureInFlight            FailureKind = "request_in_flight"
	FailureDisabled            FailureKind = "payouts_disabled"
	FailureFeeCapExceeded      FailureKind = "fee_cap_exceeded"
	FailureNotStarted          FailureKind = "not_started"
	FailureInternal            FailureKind = "internal"
)

// FailureKindOf maps an Execute error to its FailureKind.
func FailureKindOf(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrInvalidRequest):
		return FailureInvalidRequest
	case errors.Is(err, ErrUnsupportedToken):
		return FailureUnsupportedToken
	case errors.Is(err, ErrInsufficientFunds):
		return FailureInsufficientFunds
	case errors.Is(err, ErrSubmissionPendingConfirmation):
		return FailurePendingConfirmation
	case errors.Is(err, ErrRejectedByNetwork):
		return FailureRejected
	case errors.Is(err, ErrNetwork):
		return FailureNetwork
	case errors.Is(err, ErrRequestInFlight):
		return FailureInFlight
	case errors.Is(err, ErrPayoutsDisabled):
		return FailureDisabled
	case errors.Is(err, ErrFeeCapExceeded):
		return FailureFeeCapExceeded
	case errors.Is(err, ErrNotStarted):
		return FailureNotStarted
	default:
		return FailureInternal
	}
}

// recordError rebuilds the typed error of a failed record.
func recordError(rec *Record) error {
	var base error

	switch rec.FailureKind {
	case FailureInvalidRequest:
		base = ErrInvalidRequest
	case FailureUnsupportedToken:
		base = ErrUnsupportedToken
	case FailureInsufficientFunds:
		base = ErrInsufficientFunds
	case FailureRejected, FailureReverted, FailureDropped:
		base = ErrRejectedByNetwork
	case FailureNetwork:
		base = ErrNetwork
	default:
		base = errors.New(string(rec.FailureKind))
	}

	if rec.FailureReason == "" {
		return base
	}

	return errors.Wrap(base, rec.FailureReason)
}
