package payout_test

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dropbox/godropbox/time2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/gem-payout/internal/test"
	"github/chapool/gem-payout/internal/wallet/chain"
	"github/chapool/gem-payout/internal/wallet/gas"
	"github/chapool/gem-payout/internal/wallet/hotwallet"
	"github/chapool/gem-payout/internal/wallet/payout"
	"github/chapool/gem-payout/internal/wallet/token"
)

const destination = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

type alertRecorder struct {
	mu     sync.Mutex
	alerts []payout.Alert
}

func (r *alertRecorder) Alert(_ context.Context, alert payout.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *alertRecorder) kinds() []payout.AlertKind {
	r.mu.Lock()
	defer r.mu.Unlock()

	kinds := make([]payout.AlertKind, 0, len(r.alerts))
	for _, a := range r.alerts {
		kinds = append(kinds, a.Kind)
	}

	return kinds
}

type fixture struct {
	chain  *test.FakeChain
	store  *payout.MemoryStore
	alerts *alertRecorder
	clock  *time2.MockClock
	exec   *payout.Executor
}

func newFixture(t *testing.T, opts ...func(*payout.Config, *gas.Config)) *fixture {
	t.Helper()

	f := &fixture{
		chain:  test.NewFakeChain(),
		store:  payout.NewMemoryStore(),
		alerts: &alertRecorder{},
		clock:  time2.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.chain.AutoMine = true
	f.chain.SetBalance(token.PolygonUSDC.Contract, big.NewInt(1_000_000_000))
	f.chain.SetBalance(token.PolygonUSDT.Contract, big.NewInt(1_000_000_000))

	cfg := payout.Config{
		MinConfirmations:     1,
		PollInterval:         5 * time.Millisecond,
		ConfirmationTimeout:  5 * time.Second,
		NonceConflictRetries: 1,
		BroadcastRetries:     2,
		BroadcastBackoff:     time.Millisecond,
		PendingLease:         10 * time.Minute,
	}
	gasCfg := gas.Config{}

	for _, opt := range opts {
		opt(&cfg, &gasCfg)
	}

	policy, err := gas.NewPolicy(gasCfg)
	require.NoError(t, err)

	f.exec, err = payout.NewExecutor(payout.Deps{
		Signer:  test.NewSigner(t),
		Chain:   f.chain,
		Tokens:  token.DefaultRegistry(),
		Gas:     policy,
		Rate:    payout.DefaultConversionRate,
		Store:   f.store,
		Alerter: f.alerts,
		Clock:   f.clock,
	}, cfg)
	require.NoError(t, err)

	return f
}

func withTimeout(d time.Duration) func(*payout.Config, *gas.Config) {
	return func(cfg *payout.Config, _ *gas.Config) {
		cfg.ConfirmationTimeout = d
	}
}

func request(id string, units int64) payout.Request {
	return payout.Request{
		RequestID:   id,
		UserID:      "user-1",
		Destination: destination,
		AmountUnits: units,
		TokenSymbol: "USDC",
	}
}

func decodeTransfer(t *testing.T, tx *types.Transaction) (common.Address, *big.Int) {
	t.Helper()

	to, amount, err := chain.DecodeTransferData(tx.Data())
	require.NoError(t, err)

	return to, amount
}

func TestExecuteConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	res, err := f.exec.Execute(ctx, request("req-1", 250))
	require.NoError(t, err)

	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, payout.StatusConfirmed, res.Status)
	assert.NotEmpty(t, res.TxHash)
	assert.Equal(t, uint64(1), res.Confirmations)

	submitted := f.chain.Submitted()
	require.Len(t, submitted, 1)

	tx := submitted[0]
	assert.Equal(t, res.TxHash, tx.Hash().Hex())
	assert.Equal(t, token.PolygonUSDC.Contract, *tx.To())
	assert.Equal(t, uint64(0), tx.Nonce())
	assert.Equal(t, big.NewInt(test.ChainID), tx.ChainId())
	assert.Equal(t, 0, tx.Value().Sign())

	to, amount := decodeTransfer(t, tx)
	assert.Equal(t, common.HexToAddress(destination), to)
	assert.Equal(t, big.NewInt(2_500_000), amount)

	// 100 gwei gas price and 30 gwei tip with a 120% margin
	assert.Equal(t, big.NewInt(120_000_000_000), tx.GasFeeCap())
	assert.Equal(t, big.NewInt(36_000_000_000), tx.GasTipCap())
	assert.Equal(t, uint64(60_000), tx.Gas())

	rec, err := f.exec.Status(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusConfirmed, rec.Status)
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, "USDC", rec.TokenSymbol)
	assert.Equal(t, big.NewInt(2_500_000), rec.AmountOnChain)
	assert.Equal(t, "gem-usd-v1", rec.RateVersion)
	require.NotNil(t, rec.Nonce)
	assert.Equal(t, uint64(0), *rec.Nonce)
	assert.Equal(t, []string{res.TxHash}, rec.TxHashes)
	assert.NotZero(t, rec.BlockNumber)
}

func TestExecuteWaitsForConfirmations(t *testing.T) {
	f := newFixture(t, func(cfg *payout.Config, _ *gas.Config) {
		cfg.MinConfirmations = 3
	})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	go func() {
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.chain.AdvanceBlocks(1)
			}
		}
	}()

	res, err := f.exec.Execute(ctx, request("req-1", 100))
	require.NoError(t, err)
	assert.Equal(t, payout.StatusConfirmed, res.Status)
	assert.GreaterOrEqual(t, res.Confirmations, uint64(3))
}

func TestExecuteInvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		req  payout.Request
		err  error
	}{
		{name: "zero amount", req: request("req-1", 0), err: payout.ErrInvalidRequest},
		{name: "negative amount", req: request("req-1", -5), err: payout.ErrInvalidRequest},
		{name: "missing request id", req: request("  ", 100), err: payout.ErrInvalidRequest},
		{
			name: "malformed destination",
			req:  payout.Request{RequestID: "req-1", Destination: "0x1234", AmountUnits: 100, TokenSymbol: "USDC"},
			err:  payout.ErrInvalidRequest,
		},
		{
			name: "destination with bad checksum",
			req:  payout.Request{RequestID: "req-1", Destination: "0x70997970C51812dc3A010C7d01b50e0d17dc79c8", AmountUnits: 100, TokenSymbol: "USDC"},
			err:  payout.ErrInvalidRequest,
		},
		{
			name: "zero destination",
			req:  payout.Request{RequestID: "req-1", Destination: common.Address{}.Hex(), AmountUnits: 100, TokenSymbol: "USDC"},
			err:  payout.ErrInvalidRequest,
		},
		{
			name: "destination is the hot wallet",
			req:  payout.Request{RequestID: "req-1", Destination: test.HotWalletAddress.Hex(), AmountUnits: 100, TokenSymbol: "USDC"},
			err:  payout.ErrInvalidRequest,
		},
		{
			name: "destination is the token contract",
			req:  payout.Request{RequestID: "req-1", Destination: token.PolygonUSDC.Contract.Hex(), AmountUnits: 100, TokenSymbol: "USDC"},
			err:  payout.ErrInvalidRequest,
		},
		{
			name: "unsupported token",
			req:  payout.Request{RequestID: "req-1", Destination: destination, AmountUnits: 100, TokenSymbol: "DOGE"},
			err:  payout.ErrUnsupportedToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			res, err := f.exec.Execute(t.Context(), tt.req)
			require.ErrorIs(t, err, tt.err)
			assert.Nil(t, res)

			assert.Zero(t, f.chain.Calls(""), "no chain call for invalid requests")

			_, err = f.exec.Status(t.Context(), "req-1")
			assert.ErrorIs(t, err, payout.ErrRecordNotFound)
		})
	}
}

func TestExecuteInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	f.chain.SetBalance(token.PolygonUSDC.Contract, big.NewInt(1_000_000))

	res, err := f.exec.Execute(ctx, request("req-1", 200))
	require.ErrorIs(t, err, payout.ErrInsufficientFunds)
	require.NotNil(t, res)
	assert.Equal(t, payout.StatusFailed, res.Status)
	assert.Empty(t, res.TxHash)
	assert.Zero(t, f.chain.Calls("Submit"))

	rec, err := f.exec.Status(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, payout.FailureInsufficientFunds, rec.FailureKind)

	require.Len(t, f.alerts.alerts, 1)
	alert := f.alerts.alerts[0]
	assert.Equal(t, payout.AlertInsufficientFunds, alert.Kind)
	assert.Equal(t, "2000000", alert.Required)
	assert.Equal(t, "1000000", alert.Available)

	// never retried, even once funds arrived
	f.chain.SetBalance(token.PolygonUSDC.Contract, big.NewInt(5_000_000))

	_, err = f.exec.Execute(ctx, request("req-1", 200))
	require.ErrorIs(t, err, payout.ErrInsufficientFunds)
	assert.Zero(t, f.chain.Calls("Submit"))
}

func TestExecuteConcurrentSameRequest(t *testing.T) {
	f := newFixture(t)

	const callers = 8

	var wg sync.WaitGroup
	results := make([]*payout.Result, callers)
	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()
			results[i], errs[i] = f.exec.Execute(t.Context(), request("req-1", 250))
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].TxHash, results[i].TxHash)
	}

	assert.Len(t, f.chain.Submitted(), 1, "exactly one transaction for one request id")
}

func TestExecuteConcurrentRequestsUseGaplessNonces(t *testing.T) {
	f := newFixture(t)

	const requests = 12

	var wg sync.WaitGroup
	errs := make([]error, requests)

	for i := range requests {
		wg.Add(1)

		go func() {
			defer wg.Done()
			_, errs[i] = f.exec.Execute(t.Context(), request(fmt.Sprintf("req-%d", i), 100))
		}()
	}
	wg.Wait()

	for i := range requests {
		require.NoError(t, errs[i], "req-%d", i)
	}

	submitted := f.chain.Submitted()
	require.Len(t, submitted, requests, "one transaction per request")

	nonces := make([]uint64, 0, len(submitted))
	for _, tx := range submitted {
		nonces = append(nonces, tx.Nonce())
	}
	slices.Sort(nonces)

	for i, nonce := range nonces {
		assert.Equal(t, uint64(i), nonce)
	}

	for i := range requests {
		rec, err := f.exec.Status(t.Context(), fmt.Sprintf("req-%d", i))
		require.NoError(t, err)
		assert.Equal(t, payout.StatusConfirmed, rec.Status)
	}
}

// lostLocker hands out leases another replica has already taken over.
type lostLocker struct {
	mr     *miniredis.Miniredis
	locker *hotwallet.RedisLocker
}

func (l *lostLocker) Lock(ctx context.Context) (*hotwallet.Lease, error) {
	lease, err := l.locker.Lock(ctx)
	if err != nil {
		return nil, err
	}

	l.mr.FlushAll()

	select {
	case <-lease.Lost():
		return lease, nil
	case <-ctx.Done():
		lease.Unlock()
		return nil, ctx.Err()
	}
}

func TestExecuteStopsWhenWalletLockLost(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sgn := test.NewSigner(t)
	fake := test.NewFakeChain()
	fake.AutoMine = true
	fake.SetBalance(token.PolygonUSDC.Contract, big.NewInt(1_000_000_000))
	store := payout.NewMemoryStore()

	policy, err := gas.NewPolicy(gas.Config{})
	require.NoError(t, err)

	exec, err := payout.NewExecutor(payout.Deps{
		Signer: sgn,
		Chain:  fake,
		Tokens: token.DefaultRegistry(),
		Gas:    policy,
		Rate:   payout.DefaultConversionRate,
		Store:  store,
		Lock: &lostLocker{
			mr:     mr,
			locker: hotwallet.NewRedisLocker(client, sgn.Address(), 30*time.Millisecond),
		},
		Clock: time2.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}, payout.Config{
		MinConfirmations:    1,
		PollInterval:        5 * time.Millisecond,
		ConfirmationTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	res, err := exec.Execute(t.Context(), request("req-1", 250))
	require.ErrorIs(t, err, payout.ErrNetwork)
	assert.Contains(t, err.Error(), hotwallet.ErrLockLost.Error())
	assert.Nil(t, res)

	assert.Empty(t, fake.Submitted(), "nothing is broadcast without the lock")

	// released, the request can be retried
	_, err = exec.Status(t.Context(), "req-1")
	assert.ErrorIs(t, err, payout.ErrRecordNotFound)
}

func TestExecuteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	first, err := f.exec.Execute(ctx, request("req-1", 250))
	require.NoError(t, err)

	second, err := f.exec.Execute(ctx, request("req-1", 250))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.chain.Submitted(), 1)

	_, err = f.exec.Execute(ctx, request("req-1", 300))
	require.ErrorIs(t, err, payout.ErrInvalidRequest)
	assert.Len(t, f.chain.Submitted(), 1)
}

func TestExecuteNonceConflictRetry(t *testing.T) {
	f := newFixture(t)

	f.chain.SubmitHook = func(n int, _ *types.Transaction) error {
		if n == 0 {
			// another sender used nonce 0 meanwhile
			f.chain.SetConfirmedNonce(1)
			return &chain.RejectedError{Reason: chain.RejectNonceTooLow, Message: "nonce too low"}
		}

		return nil
	}

	res, err := f.exec.Execute(t.Context(), request("req-1", 250))
	require.NoError(t, err)
	assert.Equal(t, payout.StatusConfirmed, res.Status)

	assert.Equal(t, 2, f.chain.Calls("Submit"))

	submitted := f.chain.Submitted()
	require.Len(t, submitted, 1)
	assert.Equal(t, uint64(1), submitted[0].Nonce())
	assert.Equal(t, res.TxHash, submitted[0].Hash().Hex())

	rec, err := f.exec.Status(t.Context(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, []string{res.TxHash}, rec.TxHashes)
}

func TestExecuteNonceConflictExhausted(t *testing.T) {
	f := newFixture(t)

	f.chain.SubmitHook = func(int, *types.Transaction) error {
		return &chain.RejectedError{Reason: chain.RejectNonceTooLow, Message: "nonce too low"}
	}

	res, err := f.exec.Execute(t.Context(), request("req-1", 250))
	require.ErrorIs(t, err, payout.ErrRejectedByNetwork)
	require.NotNil(t, res)
	assert.Equal(t, payout.StatusFailed, res.Status)

	// first attempt plus one retry
	assert.Equal(t, 2, f.chain.Calls("Submit"))

	rec, err := f.exec.Status(t.Context(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, payout.FailureRejected, rec.FailureKind)
	assert.Nil(t, rec.Nonce)
	assert.Empty(t, rec.TxHashes)
}

func TestExecuteRejected(t *testing.T) {
	f := newFixture(t)

	f.chain.SubmitHook = func(int, *types.Transaction) error {
		return &chain.RejectedError{Reason: chain.RejectInsufficientNativeFunds, Message: "insufficient funds for gas * price + value"}
	}

	_, err := f.exec.Execute(t.Context(), request("req-1", 250))
	require.ErrorIs(t, err, payout.ErrRejectedByNetwork)
	assert.Equal(t, 1, f.chain.Calls("Submit"))
	assert.Equal(t, []payout.AlertKind{payout.AlertInsufficientNativeFunds}, f.alerts.kinds())
}

func TestExecuteReverted(t *testing.T) {
	f := newFixture(t)
	f.chain.Revert = true

	res, err := f.exec.Execute(t.Context(), request("req-1", 250))
	require.ErrorIs(t, err, payout.ErrRejectedByNetwork)
	require.NotNil(t, res)
	assert.Equal(t, payout.StatusFailed, res.Status)
	assert.NotEmpty(t, res.TxHash)

	rec, err := f.exec.Status(t.Context(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, payout.FailureReverted, rec.FailureKind)
}

func TestExecuteEstimateGasRevert(t *testing.T) {
	f := newFixture(t)
	f.chain.EstimateGasErr = &chain.RejectedError{Reason: chain.RejectOther, Message: "execution reverted: transfer amount exceeds balance"}

	_, err := f.exec.Execute(t.Context(), request("req-1", 250))
	require.ErrorIs(t, err, payout.ErrRejectedByNetwork)
	assert.Zero(t, f.chain.Calls("Submit"))

	rec, err := f.exec.Status(t.Context(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusFailed, rec.Status)
}

func TestExecuteConfirmationTimeout(t *testing.T) {
	f := newFixture(t, withTimeout(50*time.Millisecond))
	f.chain.AutoMine = false
	ctx := t.Context()

	res, err := f.exec.Execute(ctx, request("req-1", 250))
	require.ErrorIs(t, err, payout.ErrSubmissionPendingConfirmation)
	require.NotNil(t, res)
	assert.Equal(t, payout.StatusSubmitted, res.Status)
	assert.NotEmpty(t, res.TxHash)

	// a second call resumes waiting, it never submits again
	again, err := f.exec.Execute(ctx, request("req-1", 250))
	require.ErrorIs(t, err, payout.ErrSubmissionPendingConfirmation)
	assert.Equal(t, res.TxHash, again.TxHash)
	assert.Equal(t, 1, f.chain.Calls("Submit"))

	f.chain.Mine(common.HexToHash(res.TxHash), false)

	rec, err := f.exec.Reconcile(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusConfirmed, rec.Status)
	assert.Equal(t, res.TxHash, rec.TxHash)
}

func TestExecuteAmbiguousBroadcast(t *testing.T) {
	f := newFixture(t, withTimeout(20*time.Millisecond))
	ctx := t.Context()

	f.chain.SubmitHook = func(int, *types.Transaction) error {
		return &chain.NetworkError{Op: "eth_sendRawTransaction", Err: errors.New("connection reset by peer")}
	}

	res, err := f.exec.Execute(ctx, request("req-1", 250))
	require.ErrorIs(t, err, payout.ErrSubmissionPendingConfirmation)
	require.NotNil(t, res)
	assert.Equal(t, payout.StatusSubmitted, res.Status)

	// identical bytes, first attempt plus retries
	assert.Equal(t, 3, f.chain.Calls("Submit"))

	rec, err := f.exec.Status(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusSubmitted, rec.Status)
	assert.NotEmpty(t, rec.RawTx)

	// the next request must not reuse the nonce of the ambiguous one, it
	// queues behind it
	f.chain.SubmitHook = nil

	other, err := f.exec.Execute(ctx, request("req-2", 100))
	require.ErrorIs(t, err, payout.ErrSubmissionPendingConfirmation)

	submitted := f.chain.Submitted()
	require.Len(t, submitted, 1)
	assert.Equal(t, uint64(1), submitted[0].Nonce())

	// the rebroadcast lands the original transaction and unblocks the queue
	rec, err = f.exec.Reconcile(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusSubmitted, rec.Status)

	rec, err = f.exec.Reconcile(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusConfirmed, rec.Status)
	assert.Equal(t, res.TxHash, rec.TxHash)

	rec, err = f.exec.Reconcile(ctx, "req-2")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusConfirmed, rec.Status)
	assert.Equal(t, other.TxHash, rec.TxHash)
}

func TestExecuteNetworkErrorReleasesReservation(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	f.chain.ReadErr = &chain.NetworkError{Op: "eth_call", Err: errors.New("dial tcp: connection refused")}

	res, err := f.exec.Execute(ctx, request("req-1", 250))
	require.ErrorIs(t, err, payout.ErrNetwork)
	assert.Nil(t, res)

	_, err = f.exec.Status(ctx, "req-1")
	require.ErrorIs(t, err, payout.ErrRecordNotFound)

	f.chain.ReadErr = nil

	res, err = f.exec.Execute(ctx, request("req-1", 250))
	require.NoError(t, err)
	assert.Equal(t, payout.StatusConfirmed, res.Status)
}

func TestExecuteFeeCapExceeded(t *testing.T) {
	f := newFixture(t, func(_ *payout.Config, gasCfg *gas.Config) {
		gasCfg.MaxFeeCap = big.NewInt(50_000_000_000)
	})

	_, err := f.exec.Execute(t.Context(), request("req-1", 250))
	require.ErrorIs(t, err, payout.ErrFeeCapExceeded)
	assert.Zero(t, f.chain.Calls("Submit"))

	_, err = f.exec.Status(t.Context(), "req-1")
	require.ErrorIs(t, err, payout.ErrRecordNotFound)
}

func TestExecuteCountsInFlightPayouts(t *testing.T) {
	f := newFixture(t, withTimeout(20*time.Millisecond))
	f.chain.AutoMine = false
	f.chain.SetBalance(token.PolygonUSDC.Contract, big.NewInt(3_000_000))
	ctx := t.Context()

	_, err := f.exec.Execute(ctx, request("req-1", 200))
	require.ErrorIs(t, err, payout.ErrSubmissionPendingConfirmation)

	// 3 USDC on chain, 2 USDC still in flight
	_, err = f.exec.Execute(ctx, request("req-2", 200))
	require.ErrorIs(t, err, payout.ErrInsufficientFunds)

	// other tokens are not affected
	usdt := request("req-3", 200)
	usdt.TokenSymbol = "usdt"

	res, err := f.exec.Execute(ctx, usdt)
	require.ErrorIs(t, err, payout.ErrSubmissionPendingConfirmation)

	submitted := f.chain.Submitted()
	require.Len(t, submitted, 2)
	assert.Equal(t, uint64(0), submitted[0].Nonce())
	assert.Equal(t, uint64(1), submitted[1].Nonce())
	assert.Equal(t, res.TxHash, submitted[1].Hash().Hex())
	assert.Equal(t, token.PolygonUSDT.Contract, *submitted[1].To())
}

func TestExecuteLargePayoutAlert(t *testing.T) {
	f := newFixture(t, func(cfg *payout.Config, _ *gas.Config) {
		cfg.LargePayoutUnits = 10_000
	})

	_, err := f.exec.Execute(t.Context(), request("req-1", 9_999))
	require.NoError(t, err)
	assert.Empty(t, f.alerts.kinds())

	_, err = f.exec.Execute(t.Context(), request("req-2", 10_000))
	require.NoError(t, err)
	assert.Equal(t, []payout.AlertKind{payout.AlertLargePayout}, f.alerts.kinds())
}

func TestNewExecutorRequiresDependencies(t *testing.T) {
	_, err := payout.NewExecutor(payout.Deps{}, payout.Config{})
	require.Error(t, err)

	f := newFixture(t)
	_, err = payout.NewExecutor(payout.Deps{
		Signer: test.NewSigner(t),
		Chain:  f.chain,
		Tokens: token.DefaultRegistry(),
		Store:  f.store,
		Rate:   payout.DefaultConversionRate,
	}, payout.Config{})
	require.Error(t, err, "gas policy missing")
}
