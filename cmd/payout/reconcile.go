package payout

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/gem-payout/internal/api"
	"github/chapool/gem-payout/internal/api/handlers/payouts"
	"github/chapool/gem-payout/internal/config"
	"github/chapool/gem-payout/internal/util/command"
)

func newReconcile() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [request-id]",
		Short: "Resolves submitted and stale pending payouts against the chain",
		Long: `Resolves submitted and stale pending payouts against the chain.

Without a request id every outstanding record is checked.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var requestID string
			if len(args) == 1 {
				requestID = args[0]
			}

			if err := runReconcile(cmd.Context(), requestID); err != nil {
				log.Fatal().Err(err).Msg("Reconciliation failed")
			}
		},
	}
}

func runReconcile(ctx context.Context, requestID string) error {
	return command.WithServer(ctx, config.DefaultServiceConfigFromEnv(), func(ctx context.Context, s *api.Server) error {
		return withPayouts(ctx, s, func() error {
			if requestID == "" {
				finalized, err := s.Payout.ReconcilePending(ctx)
				if err != nil {
					return err
				}

				log.Info().Int("finalized", finalized).Msg("Reconciliation finished")
				return nil
			}

			rec, err := s.Payout.Reconcile(ctx, requestID)
			if err != nil {
				return err
			}

			return printJSON(payouts.RecordFromPayout(rec))
		})
	})
}
