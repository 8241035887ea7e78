package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/gem-payout/internal/api"
	"github/chapool/gem-payout/internal/test"
	"github/chapool/gem-payout/internal/wallet/payout"
)

func TestStartPayoutsWithoutNATS(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		s.Config.Payout.AutoReconcile = false

		done, err := startPayouts(t.Context(), t.Context(), s)
		require.NoError(t, err)

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("workers should not be started without NATS")
		}
	})
}

func TestStartPayoutsDisabled(t *testing.T) {
	cfg := test.DefaultTestConfig()
	cfg.Payout.Enabled = false

	test.WithTestServerConfigurable(t, cfg, func(s *api.Server) {
		done, err := startPayouts(t.Context(), t.Context(), s)
		require.NoError(t, err)

		_, open := <-done
		assert.False(t, open)
	})
}

func TestForwardRequests(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	intake := make(chan payout.Request)
	jobs := make(chan payout.Request)

	go forwardRequests(ctx, intake, jobs, func(context.Context, payout.Request) {
		t.Error("nothing should be abandoned")
	})

	intake <- payout.Request{RequestID: "req-1"}
	assert.Equal(t, "req-1", (<-jobs).RequestID)

	cancel()

	_, open := <-jobs
	assert.False(t, open)
}

func TestForwardRequestsAbandonsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	intake := make(chan payout.Request)
	jobs := make(chan payout.Request)
	abandoned := make(chan payout.Request, 1)

	go forwardRequests(ctx, intake, jobs, func(ctx context.Context, req payout.Request) {
		assert.NoError(t, ctx.Err(), "abandoned requests are reported after shutdown began")
		abandoned <- req
	})

	// no worker is free to take it
	intake <- payout.Request{RequestID: "req-1"}
	cancel()

	select {
	case req := <-abandoned:
		assert.Equal(t, "req-1", req.RequestID)
	case <-time.After(time.Second):
		t.Fatal("request dropped without a result")
	}

	_, open := <-jobs
	assert.False(t, open)
}

func TestWaitForWorkersCancelsAfterGrace(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		close(done)
	}()

	waitForWorkers(done, 10*time.Millisecond, cancel)
	assert.Error(t, ctx.Err())
}

func TestWaitForWorkersFinished(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	done := make(chan struct{})
	close(done)

	waitForWorkers(done, time.Hour, cancel)
	assert.NoError(t, ctx.Err())
}
