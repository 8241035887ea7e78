package api

import (
	"database/sql"
	"math/big"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github/chapool/gem-payout/internal/config"
	"github/chapool/gem-payout/internal/wallet/gas"
	"github/chapool/gem-payout/internal/wallet/payout"
	"github/chapool/gem-payout/internal/wallet/token"
)

// PROVIDERS - define here only providers that for various reasons (e.g. cyclic dependency) can't live in their corresponding packages
// or for wrapping providers that only accept sub-configs to prevent the requirement for defining providers for sub-configs.
// https://github.com/google/wire/blob/main/docs/guide.md#defining-providers

func NewClock() time2.Clock {
	return time2.DefaultClock
}

// NewDB opens the record database. Without PAYOUT_DATABASE_URL it returns nil;
// payouts then only start with PAYOUT_DEV_MEMORY_STORE.
func NewDB(cfg config.Server) (*sql.DB, error) {
	if cfg.Database.URL == "" {
		if cfg.Database.MemoryStore {
			log.Warn().Msg("No database configured, payout records are kept in memory")
		}

		return nil, nil //nolint:nilnil // payouts refuse to start without a store, see AttachPayouts
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	return db, nil
}

// NewRedis returns nil without REDIS_ADDR; the wallet lock and nonce cache
// then stay in process.
//
//nolint:ireturn
func NewRedis(cfg config.Server) redis.UniversalClient {
	if cfg.Redis.Addr == "" {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func NewTokenRegistry(cfg config.Server) (*token.Registry, error) {
	return token.LoadRegistry(cfg.Tokens.RegistryFile)
}

func NewGasPolicy(cfg config.Server) (*gas.Policy, error) {
	var maxFeeCap, minTipCap *big.Int
	if cfg.Gas.MaxFeeCapGwei > 0 {
		maxFeeCap = gwei(cfg.Gas.MaxFeeCapGwei)
	}
	if cfg.Gas.MinTipGwei > 0 {
		minTipCap = gwei(cfg.Gas.MinTipGwei)
	}

	return gas.NewPolicy(gas.Config{
		MarginPercent:         cfg.Gas.MarginPercent,
		EscalationStepPercent: cfg.Gas.EscalationStepPercent,
		MaxAttempts:           cfg.Gas.MaxAttempts,
		MaxFeeCap:             maxFeeCap,
		MinTipCap:             minTipCap,
		GasLimitMarginPercent: cfg.Gas.GasLimitMarginPercent,
	})
}

func gwei(n uint64) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(n), big.NewInt(1_000_000_000))
}

func NewConversionRate(cfg config.Server) (payout.ConversionRate, error) {
	return payout.ParseConversionRate(cfg.Conversion.RateVersion, cfg.Conversion.FiatPerUnit)
}

//nolint:ireturn
func NewStore(db *sql.DB) payout.Store {
	if db == nil {
		return payout.NewMemoryStore()
	}

	return payout.NewPostgresStore(db)
}
