package db

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
	"github/chapool/gem-payout/internal/api"
	"github/chapool/gem-payout/internal/config"
	"github/chapool/gem-payout/internal/util/command"
	"github/chapool/gem-payout/migrations"
)

const (
	migrationTable string = "migrations"
)

func newMigrate() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Executes all migrations which are not yet applied",
		Long: `Executes all migrations which are not yet applied.

Requires PAYOUT_DATABASE_URL.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := migrateCmdFunc(cmd.Context()); err != nil {
				log.Fatal().Err(err).Msg("Failed to apply migrations")
			}
		},
	}
}

func migrateCmdFunc(ctx context.Context) error {
	return command.WithServer(ctx, config.DefaultServiceConfigFromEnv(), func(_ context.Context, s *api.Server) error {
		if s.DB == nil {
			return errors.New("PAYOUT_DATABASE_URL is not set")
		}

		migrate.SetTable(migrationTable)

		n, err := migrate.Exec(s.DB, "postgres", migrations.Source(), migrate.Up)
		if err != nil {
			return errors.Wrap(err, "error while applying migrations")
		}

		log.Info().Int("appliedMigrationsCount", n).Msg("Successfully applied migrations")

		return nil
	})
}
