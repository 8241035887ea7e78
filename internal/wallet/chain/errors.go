package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

var ErrNoEndpoints = errors.New("at least one RPC URL is required")

// NetworkError means the node could not be reached or did not answer. For a
// submission the transaction may or may not have been received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RejectReason is a normalized node rejection cause.
type RejectReason string

const (
	RejectNonceTooLow             RejectReason = "nonce_too_low"
	RejectNonceTooHigh            RejectReason = "nonce_too_high"
	RejectReplacementUnderpriced  RejectReason = "replacement_underpriced"
	RejectInsufficientNativeFunds RejectReason = "insufficient_native_funds"
	RejectUnderpriced             RejectReason = "underpriced"
	RejectOther                   RejectReason = "other"
)

// RejectedError means the node answered and refused the payload.
type RejectedError struct {
	Reason  RejectReason
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transaction rejected (%s): %s", e.Reason, e.Message)
}

// NonceConflict reports whether re-signing with a freshly read nonce can help.
func (e *RejectedError) NonceConflict() bool {
	switch e.Reason {
	case RejectNonceTooLow, RejectNonceTooHigh, RejectReplacementUnderpriced:
		return true
	default:
		return false
	}
}

// IsNetworkError reports whether err is (or wraps) a *NetworkError.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// AsRejected unwraps a *RejectedError.
func AsRejected(err error) (*RejectedError, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected, true
	}

	return nil, false
}

// classify turns an ethclient error into *RejectedError when the node sent
// a JSON-RPC error object, *NetworkError otherwise.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var decodeErr *decodeError
	if errors.As(err, &decodeErr) {
		return err
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &RejectedError{Reason: rejectReason(rpcErr.Error()), Message: rpcErr.Error()}
	}

	return &NetworkError{Op: op, Err: err}
}

func rejectReason(message string) RejectReason {
	msg := strings.ToLower(message)

	switch {
	case strings.Contains(msg, "nonce too low"):
		return RejectNonceTooLow
	case strings.Contains(msg, "nonce too high"):
		return RejectNonceTooHigh
	case strings.Contains(msg, "replacement transaction underpriced"):
		return RejectReplacementUnderpriced
	case strings.Contains(msg, "insufficient funds"):
		return RejectInsufficientNativeFunds
	case strings.Contains(msg, "underpriced"),
		strings.Contains(msg, "less than block base fee"),
		strings.Contains(msg, "gas tip cap"):
		return RejectUnderpriced
	default:
		return RejectOther
	}
}

// alreadyKnown reports the node answer for a transaction it already holds.
func alreadyKnown(err error) bool {
	rejected, ok := AsRejected(err)
	if !ok {
		return false
	}

	msg := strings.ToLower(rejected.Message)

	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}
