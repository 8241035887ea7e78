package test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github/chapool/gem-payout/internal/api"
	"github/chapool/gem-payout/internal/api/router"
	"github/chapool/gem-payout/internal/config"
)

const shutdownTimeout = 5 * time.Second

// DefaultTestConfig returns the env config with every outside service
// switched off and confirmation timings shortened.
func DefaultTestConfig() config.Server {
	cfg := config.DefaultServiceConfigFromEnv()

	cfg.Database.URL = ""
	cfg.Database.MemoryStore = true
	cfg.Redis.Addr = ""
	cfg.NATS.URL = ""
	cfg.Tokens.RegistryFile = ""
	cfg.Chain.ChainID = ChainID
	cfg.Logger.PrettyPrintConsole = false
	cfg.Payout.Enabled = true
	cfg.Payout.MinConfirmations = 1
	cfg.Payout.ConfirmationPoll = 5 * time.Millisecond
	cfg.Payout.ConfirmationTimeout = 5 * time.Second

	return cfg
}

// WithTestServer runs closure against a fully initialized server whose
// payouts use the development key and a FakeChain (see s.Chain) funded with
// USDC and USDT.
func WithTestServer(t *testing.T, closure func(s *api.Server)) {
	t.Helper()

	WithTestServerConfigurable(t, DefaultTestConfig(), closure)
}

func WithTestServerConfigurable(t *testing.T, cfg config.Server, closure func(s *api.Server)) {
	t.Helper()

	s, err := api.InitNewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, router.Init(s))

	fake := NewFakeChain()
	fake.AutoMine = true

	for _, d := range s.Tokens.Descriptors() {
		fake.SetDecimals(d.Contract, d.Decimals)
		fake.SetBalance(d.Contract, big.NewInt(1_000_000_000))
	}

	if cfg.Payout.Enabled {
		require.NoError(t, s.AttachPayouts(t.Context(), NewSigner(t), fake))
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = s.Shutdown(ctx)
	})

	closure(s)
}

