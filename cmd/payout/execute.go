package payout

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/gem-payout/internal/api"
	"github/chapool/gem-payout/internal/config"
	"github/chapool/gem-payout/internal/util/command"
	"github/chapool/gem-payout/internal/wallet/payout"
)

const (
	requestIDFlag   string = "request-id"
	userFlag        string = "user"
	destinationFlag string = "to"
	amountFlag      string = "amount"
	tokenFlag       string = "token"
)

type executeFlags struct {
	RequestID   string
	UserID      string
	Destination string
	AmountUnits int64
	Token       string
}

func newExecute() *cobra.Command {
	var flags executeFlags

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Pays out internal units to an address and waits for confirmation",
		Long: `Pays out internal units to an address and waits for confirmation.

Re-running the command with the same --request-id never sends a second
transfer, it reports the stored outcome instead.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := runExecute(cmd.Context(), flags); err != nil {
				log.Fatal().Err(err).Msg("Payout failed")
			}
		},
	}

	cmd.Flags().StringVar(&flags.RequestID, requestIDFlag, "", "Idempotency key, a random UUID when empty")
	cmd.Flags().StringVar(&flags.UserID, userFlag, "", "User the payout is debited from")
	cmd.Flags().StringVar(&flags.Destination, destinationFlag, "", "Destination address")
	cmd.Flags().Int64Var(&flags.AmountUnits, amountFlag, 0, "Amount in internal units")
	cmd.Flags().StringVar(&flags.Token, tokenFlag, "USDC", "Token symbol")

	for _, f := range []string{userFlag, destinationFlag, amountFlag} {
		_ = cmd.MarkFlagRequired(f)
	}

	return cmd
}

func runExecute(ctx context.Context, flags executeFlags) error {
	if flags.RequestID == "" {
		flags.RequestID = uuid.NewString()
	}

	req := payout.Request{
		RequestID:   flags.RequestID,
		UserID:      flags.UserID,
		Destination: flags.Destination,
		AmountUnits: flags.AmountUnits,
		TokenSymbol: flags.Token,
	}

	return command.WithServer(ctx, config.DefaultServiceConfigFromEnv(), func(ctx context.Context, s *api.Server) error {
		return withPayouts(ctx, s, func() error {
			res, err := s.Payout.Execute(ctx, req)
			if printErr := printJSON(payout.NewResultMessage(req, res, err)); printErr != nil {
				return printErr
			}

			return err
		})
	})
}
