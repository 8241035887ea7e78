package payout

import (
	"context"
	"math/big"
	"time"
)

// Request is handed in by the approval workflow once the ledger debit is
// authorized. It is immutable, a changed payout needs a new RequestID.
type Request struct {
	RequestID   string `json:"request_id"`
	UserID      string `json:"user_id"`
	Destination string `json:"destination"`
	AmountUnits int64  `json:"amount_units"`
	TokenSymbol string `json:"token"`
}

type Status string

const (
	// StatusPending reserves the request id before any side effect.
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Record is the single persisted outcome of a request id.
type Record struct {
	RequestID     string
	UserID        string
	Destination   string
	TokenSymbol   string
	AmountUnits   int64
	AmountOnChain *big.Int
	RateVersion   string

	Status        Status
	FailureKind   FailureKind
	FailureReason string

	// Nonce is set once a transaction was signed.
	Nonce *uint64
	// TxHash is the most recent transaction, TxHashes every same-nonce
	// replacement in submission order.
	TxHash   string
	TxHashes []string
	// RawTx holds the signed bytes of TxHash for identical rebroadcasts.
	RawTx    []byte
	FeeCap   *big.Int
	TipCap   *big.Int
	GasLimit uint64
	Attempts int

	Confirmations uint64
	BlockNumber   uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	c := *r
	c.AmountOnChain = cloneInt(r.AmountOnChain)
	c.FeeCap = cloneInt(r.FeeCap)
	c.TipCap = cloneInt(r.TipCap)
	if r.Nonce != nil {
		n := *r.Nonce
		c.Nonce = &n
	}
	c.TxHashes = append([]string(nil), r.TxHashes...)
	c.RawTx = append([]byte(nil), r.RawTx...)

	return &c
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}

	return new(big.Int).Set(v)
}

// Result of a payout. It accompanies ErrSubmissionPendingConfirmation too,
// carrying the hash to reconcile.
type Result struct {
	RequestID     string `json:"request_id"`
	TxHash        string `json:"tx_hash,omitempty"`
	Status        Status `json:"status"`
	Confirmations uint64 `json:"confirmations"`
}

func resultFromRecord(rec *Record) *Result {
	return &Result{
		RequestID:     rec.RequestID,
		TxHash:        rec.TxHash,
		Status:        rec.Status,
		Confirmations: rec.Confirmations,
	}
}

// Store persists records. Implementations enforce one record per request id
// and refuse to modify terminal records.
type Store interface {
	// Reserve inserts rec unless a record with the same id exists. It
	// returns the stored record and whether it was created by this call.
	Reserve(ctx context.Context, rec *Record) (*Record, bool, error)
	Get(ctx context.Context, requestID string) (*Record, error)
	// Update replaces a non-terminal record, ErrRecordFinalized otherwise.
	Update(ctx context.Context, rec *Record) error
	// Release deletes a Pending record without transactions so the request
	// can be retried.
	Release(ctx context.Context, requestID string) error
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Record, error)
}

type AlertKind string

const (
	AlertInsufficientFunds       AlertKind = "insufficient_funds"
	AlertInsufficientNativeFunds AlertKind = "insufficient_native_funds"
	AlertLargePayout             AlertKind = "large_payout"
	AlertDropped                 AlertKind = "dropped_transaction"
)

// Alert for operators, e.g. a hot wallet top-up is needed.
type Alert struct {
	Kind      AlertKind `json:"kind"`
	RequestID string    `json:"request_id"`
	Token     string    `json:"token"`
	Required  string    `json:"required,omitempty"`
	Available string    `json:"available,omitempty"`
	Message   string    `json:"message"`
}

type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}

// Metrics receives payout lifecycle events.
type Metrics interface {
	PayoutFinished(token string, status Status, kind FailureKind)
	SubmissionAttempt(outcome string)
	ConfirmationLatency(d time.Duration)
}

type nopAlerter struct{}

func (nopAlerter) Alert(context.Context, Alert) error { return nil }

type nopMetrics struct{}

func (nopMetrics) PayoutFinished(string, Status, FailureKind) {}
func (nopMetrics) SubmissionAttempt(string) {}
func (nopMetrics) ConfirmationLatency(time.Duration) {}
