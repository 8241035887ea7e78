package probe

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github/chapool/gem-payout/internal/config"
)

func newLiveness() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "liveness",
		Short: "Runs liveness probes",
		Long: `Runs liveness probes against the management server.

Checks the database connection and the RPC endpoint.`,
		Run: func(cmd *cobra.Command, _ []string) {
			verbose, _ := cmd.Flags().GetBool(verboseFlag)
			os.Exit(runProbe(cmd.Context(), "/-/healthy", verbose))
		},
	}

	cmd.Flags().BoolP(verboseFlag, "v", false, "Show verbose output.")

	return cmd
}

//nolint:forbidigo // probe output goes to stdout
func runProbe(ctx context.Context, path string, verbose bool) int {
	body, err := probe(ctx, config.DefaultServiceConfigFromEnv(), path)

	if verbose && body != "" {
		fmt.Println(body)
	}

	if err != nil {
		fmt.Println(err)
		return 1
	}

	return 0
}
