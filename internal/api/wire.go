//go:build wireinject

package api

import (
	"database/sql"

	"github.com/google/wire"
	"github/chapool/gem-payout/internal/config"
	"github/chapool/gem-payout/internal/metrics"
)

// INJECTORS - https://github.com/google/wire/blob/main/docs/guide.md#injectors

// serviceSet groups the default set of providers that are required for initing a server
var serviceSet = wire.NewSet(
	newServerWithComponents,
	NewRedis,
	metrics.New,
	NewTokenRegistry,
	NewGasPolicy,
	NewConversionRate,
	NewStore,
	NewClock,
)

// InitNewServer returns a new Server instance.
func InitNewServer(
	_ config.Server,
) (*Server, error) {
	wire.Build(serviceSet, NewDB)
	return new(Server), nil
}

// InitNewServerWithDB returns a new Server instance with the given DB instance.
// All the other components are initialized via go wire according to the configuration.
func InitNewServerWithDB(
	_ config.Server,
	_ *sql.DB,
) (*Server, error) {
	wire.Build(serviceSet)
	return new(Server), nil
}
