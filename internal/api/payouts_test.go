package api_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/gem-payout/internal/api"
	"github/chapool/gem-payout/internal/test"
	"github/chapool/gem-payout/internal/wallet/payout"
	"github/chapool/gem-payout/internal/wallet/signer"
)

func TestInitPayoutsDisabled(t *testing.T) {
	cfg := test.DefaultTestConfig()
	cfg.Payout.Enabled = false

	test.WithTestServerConfigurable(t, cfg, func(s *api.Server) {
		err := s.InitPayouts(t.Context())
		require.ErrorIs(t, err, payout.ErrPayoutsDisabled)
		assert.False(t, s.PayoutsEnabled())
		assert.ErrorIs(t, s.PayoutErr, payout.ErrPayoutsDisabled)
		assert.True(t, s.Ready())
	})
}

func TestInitPayoutsMissingKeyFile(t *testing.T) {
	cfg := test.DefaultTestConfig()
	cfg.Payout.Enabled = false

	test.WithTestServerConfigurable(t, cfg, func(s *api.Server) {
		s.Config.Payout.Enabled = true
		s.Config.Signer.KeyFile = ""

		err := s.InitPayouts(t.Context())
		require.Error(t, err)
		assert.False(t, s.PayoutsEnabled())
		assert.Nil(t, s.Signer)
	})
}

func TestAttachPayoutsChainMismatch(t *testing.T) {
	cfg := test.DefaultTestConfig()
	cfg.Payout.Enabled = false

	test.WithTestServerConfigurable(t, cfg, func(s *api.Server) {
		s.Config.Chain.ChainID = 1

		err := s.AttachPayouts(t.Context(), test.NewSigner(t), test.NewFakeChain())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configured chain is 1")
		assert.False(t, s.PayoutsEnabled())
	})
}

func TestAttachPayoutsRequiresDurableStore(t *testing.T) {
	cfg := test.DefaultTestConfig()
	cfg.Payout.Enabled = false

	test.WithTestServerConfigurable(t, cfg, func(s *api.Server) {
		s.Config.Database.MemoryStore = false

		err := s.AttachPayouts(t.Context(), test.NewSigner(t), test.NewFakeChain())
		require.ErrorIs(t, err, api.ErrNoDurableStore)
		assert.False(t, s.PayoutsEnabled())
		assert.Nil(t, s.Payout)
	})
}

func TestAttachPayoutsVerifiesDecimals(t *testing.T) {
	cfg := test.DefaultTestConfig()
	cfg.Payout.Enabled = false

	test.WithTestServerConfigurable(t, cfg, func(s *api.Server) {
		// no decimals configured on the fake chain
		err := s.AttachPayouts(t.Context(), test.NewSigner(t), test.NewFakeChain())
		require.Error(t, err)
		assert.False(t, s.PayoutsEnabled())
	})
}

func TestAttachPayoutsEnables(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		assert.True(t, s.PayoutsEnabled())
		assert.Equal(t, test.HotWalletAddress, s.Payout.Address())
		require.NoError(t, testutil.GatherAndCompare(s.Metrics.Registry, strings.NewReader(`
# HELP payout_enabled 1 when payouts are initialized and accepted, 0 in degraded mode.
# TYPE payout_enabled gauge
payout_enabled 1
`), "payout_enabled"))
	})
}

func TestAttachPayoutsExpectedAddress(t *testing.T) {
	cfg := test.DefaultTestConfig()
	cfg.Payout.Enabled = false

	test.WithTestServerConfigurable(t, cfg, func(s *api.Server) {
		s.Config.Signer.ExpectedAddress = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

		err := s.AttachPayouts(t.Context(), test.NewSigner(t), test.NewFakeChain())
		require.ErrorIs(t, err, signer.ErrAddressMismatch)
		assert.False(t, s.PayoutsEnabled())
	})
}
