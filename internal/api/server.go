package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/dropbox/godropbox/time2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github/chapool/gem-payout/internal/config"
	"github/chapool/gem-payout/internal/events"
	"github/chapool/gem-payout/internal/metrics"
	"github/chapool/gem-payout/internal/wallet/chain"
	"github/chapool/gem-payout/internal/wallet/gas"
	"github/chapool/gem-payout/internal/wallet/payout"
	"github/chapool/gem-payout/internal/wallet/signer"
	"github/chapool/gem-payout/internal/wallet/token"

	// Import postgres driver for database/sql package
	_ "github.com/lib/pq"
)

type Router struct {
	Routes     []*echo.Route
	Root       *echo.Group
	Management *echo.Group
}

// Server is a central struct keeping all the dependencies.
// It is initialized with wire, which handles making the new instances of the components
// in the right order. To add a new component, 3 steps are required:
// - declaring it in this struct
// - adding a provider function in providers.go
// - adding the provider's function name to the arguments of wire.Build() in wire.go
//
// Components labeled as `wire:"-"` will be skipped and have to be initialized after the InitNewServer* call.
// For more information about wire refer to https://pkg.go.dev/github.com/google/wire
type Server struct {
	// skip wire:
	// -> initialized with router.Init(s) function
	Echo   *echo.Echo `wire:"-"`
	Router *Router    `wire:"-"`
	// -> initialized with s.InitPayouts(ctx), nil while payouts are disabled
	Signer signer.Service   `wire:"-"`
	Chain  chain.Client     `wire:"-"`
	Bus    *events.Bus      `wire:"-"`
	Payout *payout.Executor `wire:"-"`
	// PayoutErr keeps the reason payouts are disabled.
	PayoutErr error `wire:"-"`

	Config  config.Server
	DB      *sql.DB // nil when records are kept in memory
	Redis   redis.UniversalClient
	Clock   time2.Clock
	Metrics *metrics.Service
	Tokens  *token.Registry
	Gas     *gas.Policy
	Rate    payout.ConversionRate
	Store   payout.Store
}

// newServerWithComponents is used by wire to initialize the server components.
// Components not listed here won't be handled by wire and should be initialized separately.
// Components which shouldn't be handled must be labeled `wire:"-"` in Server struct.
func newServerWithComponents(
	cfg config.Server,
	db *sql.DB,
	rdb redis.UniversalClient,
	clock time2.Clock,
	metrics *metrics.Service,
	tokens *token.Registry,
	gasPolicy *gas.Policy,
	rate payout.ConversionRate,
	store payout.Store,
) *Server {
	return &Server{
		Config:  cfg,
		DB:      db,
		Redis:   rdb,
		Clock:   clock,
		Metrics: metrics,
		Tokens:  tokens,
		Gas:     gasPolicy,
		Rate:    rate,
		Store:   store,
	}
}

func NewServer(config config.Server) *Server {
	s := &Server{
		Config: config,
	}

	return s
}

// Ready reports whether the management surface and the record store are
// usable. Payouts being disabled does not make the server unready.
func (s *Server) Ready() bool {
	if err := s.checkComponents(); err != nil {
		log.Debug().Err(err).Msg("Server is not fully initialized")
		return false
	}

	return true
}

func (s *Server) checkComponents() error {
	switch {
	case s.Echo == nil:
		return errors.New("echo is not initialized")
	case s.Router == nil:
		return errors.New("router is not initialized")
	case s.Clock == nil:
		return errors.New("clock is not initialized")
	case s.Metrics == nil:
		return errors.New("metrics are not initialized")
	case s.Tokens == nil:
		return errors.New("token registry is not initialized")
	case s.Gas == nil:
		return errors.New("gas policy is not initialized")
	case s.Store == nil:
		return errors.New("payout store is not initialized")
	}

	return nil
}

// PayoutsEnabled reports whether Execute requests are accepted.
func (s *Server) PayoutsEnabled() bool {
	return s.Payout != nil
}

func (s *Server) Start() error {
	if !s.Ready() {
		return errors.New("server is not ready")
	}

	if err := s.Echo.Start(s.Config.Management.ListenAddress); err != nil {
		return fmt.Errorf("failed to start echo server: %w", err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) []error {
	log.Warn().Msg("Shutting down server")

	var errs []error

	if s.Echo != nil {
		log.Debug().Msg("Shutting down echo server")

		if err := s.Echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Failed to shutdown echo server")
			errs = append(errs, err)
		}
	}

	if s.Bus != nil {
		log.Debug().Msg("Draining NATS connection")

		if err := s.Bus.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to drain NATS connection")
			errs = append(errs, err)
		}
	}

	if s.Signer != nil {
		log.Debug().Msg("Closing signer")

		if err := s.Signer.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close signer")
			errs = append(errs, err)
		}
	}

	if s.Chain != nil {
		s.Chain.Close()
	}

	if s.Redis != nil {
		log.Debug().Msg("Closing redis connection")

		if err := s.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close redis connection")
			errs = append(errs, err)
		}
	}

	if s.DB != nil {
		log.Debug().Msg("Closing database connection")

		if err := s.DB.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			log.Error().Err(err).Msg("Failed to close database connection")
			errs = append(errs, err)
		}
	}

	return errs
}
