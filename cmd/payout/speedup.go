package payout

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/gem-payout/internal/api"
	"github/chapool/gem-payout/internal/config"
	"github/chapool/gem-payout/internal/util/command"
	"github/chapool/gem-payout/internal/wallet/payout"
)

func newSpeedUp() *cobra.Command {
	return &cobra.Command{
		Use:   "speedup <request-id>",
		Short: "Replaces a submitted payout transaction with a higher fee",
		Long: `Replaces a submitted payout transaction with a higher fee.

The replacement uses the same nonce, destination and amount, so at most one
of the transactions can be mined.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runSpeedUp(cmd.Context(), args[0]); err != nil {
				log.Fatal().Err(err).Msg("Speed up failed")
			}
		},
	}
}

func runSpeedUp(ctx context.Context, requestID string) error {
	return command.WithServer(ctx, config.DefaultServiceConfigFromEnv(), func(ctx context.Context, s *api.Server) error {
		return withPayouts(ctx, s, func() error {
			res, err := s.Payout.SpeedUp(ctx, requestID)
			if err != nil {
				return err
			}

			return printJSON(payout.NewResultMessage(payout.Request{RequestID: requestID}, res, nil))
		})
	})
}
