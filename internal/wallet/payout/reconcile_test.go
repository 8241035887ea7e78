package payout_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/gem-payout/internal/wallet/gas"
	"github/chapool/gem-payout/internal/wallet/payout"
)

func TestSpeedUp(t *testing.T) {
	f := newFixture(t, withTimeout(20*time.Millisecond))
	f.chain.AutoMine = false
	ctx := t.Context()

	res, err := f.exec.Execute(ctx, request("req-1", 250))
	require.ErrorIs(t, err, payout.ErrSubmissionPendingConfirmation)

	sped, err := f.exec.SpeedUp(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusSubmitted, sped.Status)
	assert.NotEqual(t, res.TxHash, sped.TxHash)

	submitted := f.chain.Submitted()
	require.Len(t, submitted, 2)
	original, replacement := submitted[0], submitted[1]

	assert.Equal(t, original.Nonce(), replacement.Nonce())
	assert.Equal(t, original.Data(), replacement.Data())
	assert.Equal(t, original.To(), replacement.To())
	assert.Equal(t, original.Gas(), replacement.Gas())

	// at least 10% above the replaced transaction
	assert.Equal(t, big.NewInt(132_000_000_001), replacement.GasFeeCap())
	assert.Equal(t, big.NewInt(39_600_000_001), replacement.GasTipCap())

	rec, err := f.exec.Status(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, []string{res.TxHash, sped.TxHash}, rec.TxHashes)
	assert.Equal(t, 2, rec.Attempts)

	f.chain.Mine(replacement.Hash(), false)

	rec, err = f.exec.Reconcile(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusConfirmed, rec.Status)
	assert.Equal(t, sped.TxHash, rec.TxHash)
}

func TestSpeedUpOriginalMined(t *testing.T) {
	f := newFixture(t, withTimeout(20*time.Millisecond), func(cfg *payout.Config, _ *gas.Config) {
		cfg.MinConfirmations = 5
	})
	f.chain.AutoMine = false
	ctx := t.Context()

	res, err := f.exec.Execute(ctx, request("req-1", 250))
	require.ErrorIs(t, err, payout.ErrSubmissionPendingConfirmation)

	f.chain.Mine(common.HexToHash(res.TxHash), false)

	sped, err := f.exec.SpeedUp(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, res.TxHash, sped.TxHash)
	assert.Equal(t, payout.StatusSubmitted, sped.Status)
	assert.Equal(t, uint64(1), sped.Confirmations)
	assert.Len(t, f.chain.Submitted(), 1, "a mined transaction is never replaced")
}

func TestSpeedUpRequiresSubmitted(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	_, err := f.exec.SpeedUp(ctx, "unknown")
	require.ErrorIs(t, err, payout.ErrRecordNotFound)

	_, err = f.exec.Execute(ctx, request("req-1", 250))
	require.NoError(t, err)

	_, err = f.exec.SpeedUp(ctx, "req-1")
	require.ErrorIs(t, err, payout.ErrInvalidRequest)
}

func TestReconcileDropped(t *testing.T) {
	f := newFixture(t, withTimeout(20*time.Millisecond))
	f.chain.AutoMine = false
	ctx := t.Context()

	_, err := f.exec.Execute(ctx, request("req-1", 250))
	require.ErrorIs(t, err, payout.ErrSubmissionPendingConfirmation)

	// evicted from the mempool and the nonce used by another transaction
	f.chain.Drop()
	f.chain.SetConfirmedNonce(1)

	rec, err := f.exec.Reconcile(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusFailed, rec.Status)
	assert.Equal(t, payout.FailureDropped, rec.FailureKind)
	assert.Equal(t, []payout.AlertKind{payout.AlertDropped}, f.alerts.kinds())

	assert.Equal(t, 1, f.chain.Calls("Submit"), "dropped payouts are not resubmitted")
}

func TestReconcileAbandonedReservation(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	now := f.clock.Now()
	_, created, err := f.store.Reserve(ctx, &payout.Record{
		RequestID:     "req-1",
		Destination:   destination,
		TokenSymbol:   "USDC",
		AmountUnits:   250,
		AmountOnChain: big.NewInt(2_500_000),
		Status:        payout.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	require.NoError(t, err)
	require.True(t, created)

	rec, err := f.exec.Reconcile(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusPending, rec.Status, "lease not expired yet")

	f.clock.Advance(11 * time.Minute)

	rec, err = f.exec.Reconcile(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusFailed, rec.Status)
	assert.Equal(t, payout.FailureAbandoned, rec.FailureKind)
}

func TestReconcilePending(t *testing.T) {
	f := newFixture(t, withTimeout(20*time.Millisecond))
	f.chain.AutoMine = false
	ctx := t.Context()

	first, err := f.exec.Execute(ctx, request("req-1", 100))
	require.ErrorIs(t, err, payout.ErrSubmissionPendingConfirmation)
	second, err := f.exec.Execute(ctx, request("req-2", 100))
	require.ErrorIs(t, err, payout.ErrSubmissionPendingConfirmation)

	finalized, err := f.exec.ReconcilePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, finalized)

	f.chain.Mine(common.HexToHash(first.TxHash), false)
	f.chain.Mine(common.HexToHash(second.TxHash), false)

	finalized, err = f.exec.ReconcilePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, finalized)

	pending, err := f.store.ListByStatus(ctx, payout.StatusPending, payout.StatusSubmitted)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReconcileFinalRecord(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	res, err := f.exec.Execute(ctx, request("req-1", 100))
	require.NoError(t, err)

	calls := f.chain.Calls("")

	rec, err := f.exec.Reconcile(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusConfirmed, rec.Status)
	assert.Equal(t, res.TxHash, rec.TxHash)
	assert.Equal(t, calls, f.chain.Calls(""))
}
