package api

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github/chapool/gem-payout/internal/events"
	"github/chapool/gem-payout/internal/util"
	"github/chapool/gem-payout/internal/wallet/chain"
	"github/chapool/gem-payout/internal/wallet/hotwallet"
	"github/chapool/gem-payout/internal/wallet/keystore"
	"github/chapool/gem-payout/internal/wallet/payout"
	"github/chapool/gem-payout/internal/wallet/signer"
)

const startupCheckTimeout = 30 * time.Second

// ErrNoDurableStore is returned when payouts would run on the in-memory store
// without PAYOUT_DEV_MEMORY_STORE.
var ErrNoDurableStore = errors.New("no durable payout store configured")

// InitPayouts loads the signing key, dials the RPC endpoints and builds the
// executor. On error the server keeps running with payouts disabled and the
// cause is kept in s.PayoutErr.
func (s *Server) InitPayouts(ctx context.Context) error {
	err := s.initPayouts(ctx)
	if err != nil {
		s.disablePayouts(ctx, err)
	}

	return err
}

func (s *Server) initPayouts(ctx context.Context) error {
	if !s.Config.Payout.Enabled {
		return errors.Wrap(payout.ErrPayoutsDisabled, "PAYOUT_ENABLED is false")
	}

	sgn, err := signer.NewService(ctx, signer.Config{
		KeyFile:        s.Config.Signer.KeyFile,
		PasswordFile:   s.Config.Signer.PasswordFile,
		DerivationPath: s.Config.Signer.DerivationPath,
		ChainID:        s.Config.Chain.ChainID,
		Prompt:         keystore.TerminalPrompt,
	})
	if err != nil {
		return errors.Wrap(err, "failed to initialize signer")
	}

	client, err := chain.NewRPCClient(ctx, chain.Config{
		URL:                 s.Config.Chain.RPCURL,
		RateLimit:           s.Config.Chain.RateLimit,
		RateBurst:           s.Config.Chain.RateBurst,
		ReadRetryMaxElapsed: s.Config.Chain.ReadRetryMaxElapsed,
		DialTimeout:         s.Config.Chain.DialTimeout,
		Observer:            s.Metrics,
	})
	if err != nil {
		_ = sgn.Close()
		return errors.Wrap(err, "failed to connect chain client")
	}

	if err := s.AttachPayouts(ctx, sgn, client); err != nil {
		_ = sgn.Close()
		client.Close()
		return err
	}

	return nil
}

// AttachPayouts verifies the network against the configuration and builds the
// executor on top of an initialized signer and chain client. The server owns
// both afterwards.
func (s *Server) AttachPayouts(ctx context.Context, sgn signer.Service, client chain.Client) error {
	if s.DB == nil && !s.Config.Database.MemoryStore {
		return errors.Wrap(ErrNoDurableStore, "set PAYOUT_DATABASE_URL")
	}

	if err := signer.VerifyAddress(sgn, s.Config.Signer.ExpectedAddress); err != nil {
		return err
	}

	checkCtx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()

	if s.Config.Chain.ExpectedChainIDCheck {
		id, err := client.ChainID(checkCtx)
		if err != nil {
			return errors.Wrap(err, "failed to read chain id")
		}

		if id.Int64() != s.Config.Chain.ChainID {
			return errors.Errorf("rpc endpoint serves chain %s, configured chain is %d", id, s.Config.Chain.ChainID)
		}
	}

	if s.Config.Tokens.VerifyDecimals {
		if err := s.Tokens.VerifyDecimals(checkCtx, client); err != nil {
			return errors.Wrap(err, "token registry does not match the network")
		}
	}

	var (
		lock  hotwallet.Locker
		cache hotwallet.NonceCache
	)

	if s.Redis != nil {
		lock = hotwallet.NewRedisLocker(s.Redis, sgn.Address(), s.Config.Redis.WalletLockTTL)
		cache = hotwallet.NewRedisNonceCache(s.Redis, sgn.Address(), s.Config.Chain.ChainID)
	}

	var alerter payout.Alerter

	if s.Config.NATS.URL != "" {
		bus, err := events.Connect(events.Config{
			URL:             s.Config.NATS.URL,
			SubjectRequests: s.Config.NATS.SubjectRequests,
			SubjectResults:  s.Config.NATS.SubjectResults,
			SubjectAlerts:   s.Config.NATS.SubjectAlerts,
			ConnectTimeout:  s.Config.NATS.ConnectTimeout,
		}, s.Metrics)
		if err != nil {
			return errors.Wrap(err, "failed to connect to NATS")
		}

		s.Bus = bus
		alerter = bus
	}

	executor, err := payout.NewExecutor(payout.Deps{
		Signer:  sgn,
		Chain:   client,
		Tokens:  s.Tokens,
		Gas:     s.Gas,
		Rate:    s.Rate,
		Store:   s.Store,
		Nonces:  hotwallet.NewNonceTracker(sgn.Address(), client, cache),
		Lock:    lock,
		Alerter: alerter,
		Metrics: s.Metrics,
		Clock:   s.Clock,
	}, payout.Config{
		MinConfirmations:     s.Config.Payout.MinConfirmations,
		PollInterval:         s.Config.Payout.ConfirmationPoll,
		ConfirmationTimeout:  s.Config.Payout.ConfirmationTimeout,
		NonceConflictRetries: s.Config.Payout.NonceConflictRetries,
		BroadcastRetries:     s.Config.Payout.BroadcastRetries,
		PendingLease:         s.Config.Payout.PendingLease,
		LargePayoutUnits:     s.Config.Payout.LargePayoutAlertAmount,
	})
	if err != nil {
		if s.Bus != nil {
			_ = s.Bus.Close()
			s.Bus = nil
		}

		return errors.Wrap(err, "failed to create payout executor")
	}

	s.Signer = sgn
	s.Chain = client
	s.Payout = executor
	s.PayoutErr = nil
	s.Metrics.SetEnabled(true)

	util.LogFromContext(ctx).Info().
		Str("hot_wallet", sgn.Address().Hex()).
		Int64("chain_id", s.Config.Chain.ChainID).
		Strs("tokens", s.Tokens.Symbols()).
		Str("rate_version", s.Rate.Version).
		Bool("shared_lock", s.Redis != nil).
		Bool("nats", s.Bus != nil).
		Msg("Payouts enabled")

	return nil
}

func (s *Server) disablePayouts(ctx context.Context, cause error) {
	s.Payout = nil
	s.PayoutErr = cause

	if s.Metrics != nil {
		s.Metrics.SetEnabled(false)
	}

	util.LogFromContext(ctx).Error().Err(cause).Msg("Payouts disabled, running in degraded mode")
}
