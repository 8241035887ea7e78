package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/gem-payout/internal/api"
	"github/chapool/gem-payout/internal/api/router"
	"github/chapool/gem-payout/internal/config"
	"github/chapool/gem-payout/internal/util/command"
)

const (
	printRoutesFlag string = "print-routes"
)

type Flags struct {
	PrintRoutes bool
}

func New() *cobra.Command {
	var flags Flags

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Starts the payout workers and the management server",
		Long: `Starts the payout workers and the management server.

Payout requests are consumed from NATS and executed from the configured hot
wallet. If the signing key, the RPC endpoint or the token registry cannot be
initialized the management server still starts and reports payouts as
disabled. Requires configuration through ENV.`,
		Run: func(_ *cobra.Command, _ []string) {
			runServer(flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.PrintRoutes, printRoutesFlag, "p", false, "Print management routes on startup")

	return cmd
}

func runServer(flags Flags) {
	cfg := config.DefaultServiceConfigFromEnv()

	closeLog := command.ConfigureLogger(cfg.Logger)
	defer closeLog()

	log.Info().Str("version", config.GetFormattedBuildArgs()).Msg("Starting payout service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := api.InitNewServer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}

	if err := router.Init(s); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize router")
	}

	if flags.PrintRoutes {
		for _, r := range s.Echo.Routes() {
			log.Info().Str("method", r.Method).Str("path", r.Path).Msg("Route")
		}
	}

	// errors are logged, the server keeps running in degraded mode
	_ = s.InitPayouts(ctx)

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	workersDone, err := startPayouts(ctx, workCtx, s)
	if err != nil {
		log.Error().Err(err).Msg("Failed to start payout intake")
	}

	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start management server")
		}
	}()

	<-ctx.Done()
	log.Warn().Msg("Shutdown signal received, waiting for in-flight payouts")

	waitForWorkers(workersDone, cfg.Payout.ShutdownGracePeriod, cancelWork)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Payout.ShutdownGracePeriod)
	defer cancel()

	if errs := s.Shutdown(shutdownCtx); len(errs) > 0 {
		log.Error().Errs("shutdownErrors", errs).Msg("Failed to gracefully shut down server")
	}
}

// waitForWorkers gives in-flight payouts the grace period to finish and
// cancels them afterwards. Cancelled payouts stay Submitted or Pending and
// are picked up by reconciliation.
func waitForWorkers(done <-chan struct{}, grace time.Duration, cancel context.CancelFunc) {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
		log.Warn().Dur("grace_period", grace).Msg("In-flight payouts did not finish, cancelling")
		cancel()
		<-done
	}
}
