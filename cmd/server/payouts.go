package server

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github/chapool/gem-payout/internal/api"
	"github/chapool/gem-payout/internal/wallet/payout"
)

// startPayouts subscribes to the intake subject and runs the worker pool.
// Intake stops with intakeCtx; running payouts only stop with workCtx. The
// returned channel is closed once every worker returned.
func startPayouts(intakeCtx context.Context, workCtx context.Context, s *api.Server) (<-chan struct{}, error) {
	done := make(chan struct{})

	if !s.PayoutsEnabled() {
		close(done)
		return done, nil
	}

	if s.Config.Payout.AutoReconcile {
		if _, err := s.Payout.ReconcilePending(workCtx); err != nil {
			log.Error().Err(err).Msg("Startup reconciliation failed")
		}

		s.Payout.StartReconciler(intakeCtx, s.Config.Payout.ReconcileInterval)
	}

	if s.Bus == nil {
		log.Warn().Msg("NATS_URL is not set, payout requests are only accepted through the CLI")
		close(done)
		return done, nil
	}

	intake := make(chan payout.Request)
	if err := s.Bus.Subscribe(intakeCtx, intake); err != nil {
		close(done)
		return done, errors.Wrap(err, "failed to subscribe to payout requests")
	}

	jobs := make(chan payout.Request)

	go forwardRequests(intakeCtx, intake, jobs, s.Bus.Abandon)

	go func() {
		defer close(done)

		payout.RunWorkers(workCtx, s.Payout, s.Config.Payout.Workers, jobs, s.Bus)
		log.Info().Msg("Payout workers stopped")
	}()

	log.Info().Int("workers", s.Config.Payout.Workers).Msg("Payout workers started")

	return done, nil
}

// forwardRequests hands requests from intake to the workers until ctx is done
// and closes jobs afterwards. A request no worker took before ctx ended goes
// to abandon.
func forwardRequests(ctx context.Context, intake <-chan payout.Request, jobs chan<- payout.Request, abandon func(context.Context, payout.Request)) {
	defer close(jobs)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-intake:
			select {
			case jobs <- req:
			case <-ctx.Done():
				abandon(context.WithoutCancel(ctx), req)
				return
			}
		}
	}
}
