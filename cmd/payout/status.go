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

func newStatus() *cobra.Command {
	return &cobra.Command{
		Use:   "status <request-id>",
		Short: "Prints the stored record of a payout request",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runStatus(cmd.Context(), args[0]); err != nil {
				log.Fatal().Err(err).Msg("Failed to load payout")
			}
		},
	}
}

func runStatus(ctx context.Context, requestID string) error {
	return command.WithServer(ctx, config.DefaultServiceConfigFromEnv(), func(ctx context.Context, s *api.Server) error {
		rec, err := s.Store.Get(ctx, requestID)
		if err != nil {
			return err
		}

		return printJSON(payouts.RecordFromPayout(rec))
	})
}
