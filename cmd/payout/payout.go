package payout

import (
	"context"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/gem-payout/internal/api"
	"github/chapool/gem-payout/internal/util/command"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("payout",
		newExecute(),
		newStatus(),
		newReconcile(),
		newSpeedUp(),
	)
}

// withPayouts runs f on a server whose executor is initialized.
func withPayouts(ctx context.Context, s *api.Server, f func() error) error {
	if err := s.InitPayouts(ctx); err != nil {
		return errors.Wrap(err, "payouts are not available")
	}

	return f()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return errors.Wrap(enc.Encode(v), "failed to print result")
}
