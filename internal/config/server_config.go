package config

import (
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type ManagementServer struct {
	ListenAddress string
	HideBanner    bool
}

type LoggerServer struct {
	Level              zerolog.Level
	RequestLevel       zerolog.Level
	PrettyPrintConsole bool
	// File enables an additional rotating JSON log file when set.
	File           string
	FileMaxSizeMB  int
	FileMaxBackups int
}

type Database struct {
	// URL is a lib/pq connection string. Payouts stay disabled without it
	// unless MemoryStore is set.
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// MemoryStore keeps payout records in process memory. Development only,
	// records and their idempotency are lost on restart.
	MemoryStore bool
}

type Chain struct {
	// RPCURL may contain several comma separated endpoints, used in failover order.
	RPCURL               string
	ChainID              int64
	RateLimit            float64
	RateBurst            int
	ReadRetryMaxElapsed  time.Duration
	DialTimeout          time.Duration
	ExpectedChainIDCheck bool
}

type Signer struct {
	KeyFile        string
	PasswordFile   string
	DerivationPath string
	// ExpectedAddress is compared with the address of the loaded key when set.
	ExpectedAddress string
}

type Tokens struct {
	RegistryFile   string
	VerifyDecimals bool
}

type Conversion struct {
	RateVersion string
	FiatPerUnit string
}

type Gas struct {
	MarginPercent         int64
	EscalationStepPercent int64
	MaxAttempts           int
	MaxFeeCapGwei         uint64
	MinTipGwei            uint64
	GasLimitMarginPercent int64
}

type Payout struct {
	Enabled                bool
	MinConfirmations       uint64
	ConfirmationPoll       time.Duration
	ConfirmationTimeout    time.Duration
	NonceConflictRetries   int
	BroadcastRetries       int
	Workers                int
	ReconcileInterval      time.Duration
	PendingLease           time.Duration
	AutoReconcile          bool
	ShutdownGracePeriod    time.Duration
	LargePayoutAlertAmount int64
}

type NATS struct {
	URL             string
	SubjectRequests string
	SubjectResults  string
	SubjectAlerts   string
	ConnectTimeout  time.Duration
}

type Redis struct {
	Addr          string
	Password      string
	DB            int
	WalletLockTTL time.Duration
}

type Server struct {
	Management ManagementServer
	Logger     LoggerServer
	Database   Database
	Chain      Chain
	Signer     Signer
	Tokens     Tokens
	Conversion Conversion
	Gas        Gas
	Payout     Payout
	NATS       NATS
	Redis      Redis
}

// DefaultServiceConfigFromEnv returns the server config as parsed from environment variables
// and their respective defaults defined below.
// We don't expect that ENV_VARs change while we are running our application or our tests
// (and it would be a bad thing to do anyways with parallel testing).
// Do NOT use os.Setenv / os.Unsetenv in tests utilizing DefaultServiceConfigFromEnv()!
func DefaultServiceConfigFromEnv() Server {
	loadDotEnv()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return Server{
		Management: ManagementServer{
			ListenAddress: v.GetString("SERVER_MANAGEMENT_LISTEN_ADDRESS"),
			HideBanner:    v.GetBool("SERVER_MANAGEMENT_HIDE_BANNER"),
		},
		Logger: LoggerServer{
			Level:              parseLevel(v.GetString("SERVER_LOGGER_LEVEL"), zerolog.InfoLevel),
			RequestLevel:       parseLevel(v.GetString("SERVER_LOGGER_REQUEST_LEVEL"), zerolog.DebugLevel),
			PrettyPrintConsole: v.GetBool("SERVER_LOGGER_PRETTY_PRINT_CONSOLE"),
			File:               v.GetString("SERVER_LOGGER_FILE"),
			FileMaxSizeMB:      v.GetInt("SERVER_LOGGER_FILE_MAX_SIZE_MB"),
			FileMaxBackups:     v.GetInt("SERVER_LOGGER_FILE_MAX_BACKUPS"),
		},
		Database: Database{
			URL:             v.GetString("PAYOUT_DATABASE_URL"),
			MaxOpenConns:    v.GetInt("PAYOUT_DATABASE_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("PAYOUT_DATABASE_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("PAYOUT_DATABASE_CONN_MAX_LIFETIME"),
			MemoryStore:     v.GetBool("PAYOUT_DEV_MEMORY_STORE"),
		},
		Chain: Chain{
			RPCURL:               v.GetString("PAYOUT_CHAIN_RPC_URL"),
			ChainID:              v.GetInt64("PAYOUT_CHAIN_ID"),
			RateLimit:            v.GetFloat64("PAYOUT_RPC_RATE_LIMIT"),
			RateBurst:            v.GetInt("PAYOUT_RPC_RATE_BURST"),
			ReadRetryMaxElapsed:  v.GetDuration("PAYOUT_RPC_READ_RETRY_MAX_ELAPSED"),
			DialTimeout:          v.GetDuration("PAYOUT_RPC_DIAL_TIMEOUT"),
			ExpectedChainIDCheck: v.GetBool("PAYOUT_RPC_CHECK_CHAIN_ID"),
		},
		Signer: Signer{
			KeyFile:         v.GetString("PAYOUT_SIGNER_KEY_FILE"),
			PasswordFile:    v.GetString("PAYOUT_SIGNER_PASSWORD_FILE"),
			DerivationPath:  v.GetString("PAYOUT_SIGNER_DERIVATION_PATH"),
			ExpectedAddress: v.GetString("PAYOUT_SIGNER_EXPECTED_ADDRESS"),
		},
		Tokens: Tokens{
			RegistryFile:   v.GetString("PAYOUT_TOKEN_REGISTRY_FILE"),
			VerifyDecimals: v.GetBool("PAYOUT_TOKEN_VERIFY_DECIMALS"),
		},
		Conversion: Conversion{
			RateVersion: v.GetString("PAYOUT_CONVERSION_RATE_VERSION"),
			FiatPerUnit: v.GetString("PAYOUT_CONVERSION_FIAT_PER_UNIT"),
		},
		Gas: Gas{
			MarginPercent:         v.GetInt64("PAYOUT_GAS_MARGIN_PERCENT"),
			EscalationStepPercent: v.GetInt64("PAYOUT_GAS_ESCALATION_STEP_PERCENT"),
			MaxAttempts:           v.GetInt("PAYOUT_GAS_MAX_ATTEMPTS"),
			MaxFeeCapGwei:         v.GetUint64("PAYOUT_GAS_MAX_FEE_CAP_GWEI"),
			MinTipGwei:            v.GetUint64("PAYOUT_GAS_MIN_TIP_GWEI"),
			GasLimitMarginPercent: v.GetInt64("PAYOUT_GAS_LIMIT_MARGIN_PERCENT"),
		},
		Payout: Payout{
			Enabled:                v.GetBool("PAYOUT_ENABLED"),
			MinConfirmations:       v.GetUint64("PAYOUT_MIN_CONFIRMATIONS"),
			ConfirmationPoll:       v.GetDuration("PAYOUT_CONFIRMATION_POLL_INTERVAL"),
			ConfirmationTimeout:    v.GetDuration("PAYOUT_CONFIRMATION_TIMEOUT"),
			NonceConflictRetries:   v.GetInt("PAYOUT_NONCE_CONFLICT_RETRIES"),
			BroadcastRetries:       v.GetInt("PAYOUT_BROADCAST_RETRIES"),
			Workers:                v.GetInt("PAYOUT_WORKERS"),
			ReconcileInterval:      v.GetDuration("PAYOUT_RECONCILE_INTERVAL"),
			PendingLease:           v.GetDuration("PAYOUT_PENDING_LEASE"),
			AutoReconcile:          v.GetBool("PAYOUT_AUTO_RECONCILE"),
			ShutdownGracePeriod:    v.GetDuration("PAYOUT_SHUTDOWN_GRACE_PERIOD"),
			LargePayoutAlertAmount: v.GetInt64("PAYOUT_LARGE_PAYOUT_ALERT_UNITS"),
		},
		NATS: NATS{
			URL:             v.GetString("NATS_URL"),
			SubjectRequests: v.GetString("PAYOUT_NATS_SUBJECT_REQUESTS"),
			SubjectResults:  v.GetString("PAYOUT_NATS_SUBJECT_RESULTS"),
			SubjectAlerts:   v.GetString("PAYOUT_NATS_SUBJECT_ALERTS"),
			ConnectTimeout:  v.GetDuration("NATS_CONNECT_TIMEOUT"),
		},
		Redis: Redis{
			Addr:          v.GetString("REDIS_ADDR"),
			Password:      v.GetString("REDIS_PASSWORD"),
			DB:            v.GetInt("REDIS_DB"),
			WalletLockTTL: v.GetDuration("PAYOUT_WALLET_LOCK_TTL"),
		},
	}
}

//nolint:mnd // defaults are documented next to each key
func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_MANAGEMENT_LISTEN_ADDRESS", ":8081")
	v.SetDefault("SERVER_MANAGEMENT_HIDE_BANNER", true)
	v.SetDefault("SERVER_LOGGER_LEVEL", "info")
	v.SetDefault("SERVER_LOGGER_REQUEST_LEVEL", "debug")
	v.SetDefault("SERVER_LOGGER_PRETTY_PRINT_CONSOLE", false)
	v.SetDefault("SERVER_LOGGER_FILE_MAX_SIZE_MB", 100)
	v.SetDefault("SERVER_LOGGER_FILE_MAX_BACKUPS", 7)

	v.SetDefault("PAYOUT_DATABASE_MAX_OPEN_CONNS", 10)
	v.SetDefault("PAYOUT_DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("PAYOUT_DATABASE_CONN_MAX_LIFETIME", 15*time.Minute)
	v.SetDefault("PAYOUT_DEV_MEMORY_STORE", false)

	// Polygon PoS mainnet, matching the default token registry.
	v.SetDefault("PAYOUT_CHAIN_ID", 137)
	v.SetDefault("PAYOUT_RPC_RATE_LIMIT", 20.0)
	v.SetDefault("PAYOUT_RPC_RATE_BURST", 10)
	v.SetDefault("PAYOUT_RPC_READ_RETRY_MAX_ELAPSED", 15*time.Second)
	v.SetDefault("PAYOUT_RPC_DIAL_TIMEOUT", 10*time.Second)
	v.SetDefault("PAYOUT_RPC_CHECK_CHAIN_ID", true)

	v.SetDefault("PAYOUT_SIGNER_DERIVATION_PATH", "m/44'/60'/0'/0/0")

	v.SetDefault("PAYOUT_TOKEN_VERIFY_DECIMALS", true)

	// 1 gem = $0.01
	v.SetDefault("PAYOUT_CONVERSION_RATE_VERSION", "gem-usd-v1")
	v.SetDefault("PAYOUT_CONVERSION_FIAT_PER_UNIT", "0.01")

	v.SetDefault("PAYOUT_GAS_MARGIN_PERCENT", 120)
	v.SetDefault("PAYOUT_GAS_ESCALATION_STEP_PERCENT", 10)
	v.SetDefault("PAYOUT_GAS_MAX_ATTEMPTS", 4)
	v.SetDefault("PAYOUT_GAS_MAX_FEE_CAP_GWEI", 5000)
	// Polygon PoS minimum priority fee.
	v.SetDefault("PAYOUT_GAS_MIN_TIP_GWEI", 30)
	v.SetDefault("PAYOUT_GAS_LIMIT_MARGIN_PERCENT", 120)

	v.SetDefault("PAYOUT_ENABLED", true)
	v.SetDefault("PAYOUT_MIN_CONFIRMATIONS", 5)
	v.SetDefault("PAYOUT_CONFIRMATION_POLL_INTERVAL", 3*time.Second)
	v.SetDefault("PAYOUT_CONFIRMATION_TIMEOUT", 2*time.Minute)
	v.SetDefault("PAYOUT_NONCE_CONFLICT_RETRIES", 2)
	v.SetDefault("PAYOUT_BROADCAST_RETRIES", 3)
	v.SetDefault("PAYOUT_WORKERS", 4)
	v.SetDefault("PAYOUT_RECONCILE_INTERVAL", time.Minute)
	v.SetDefault("PAYOUT_PENDING_LEASE", 10*time.Minute)
	v.SetDefault("PAYOUT_AUTO_RECONCILE", true)
	v.SetDefault("PAYOUT_SHUTDOWN_GRACE_PERIOD", 30*time.Second)
	v.SetDefault("PAYOUT_LARGE_PAYOUT_ALERT_UNITS", 0)

	v.SetDefault("PAYOUT_NATS_SUBJECT_REQUESTS", "payouts.requests")
	v.SetDefault("PAYOUT_NATS_SUBJECT_RESULTS", "payouts.results")
	v.SetDefault("PAYOUT_NATS_SUBJECT_ALERTS", "payouts.alerts")
	v.SetDefault("NATS_CONNECT_TIMEOUT", 10*time.Second)

	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("PAYOUT_WALLET_LOCK_TTL", 30*time.Second)
}

// loadDotEnv reads an optional .env file (or the file named by DOTENV_FILE)
// without overriding variables that are already set.
func loadDotEnv() {
	file := os.Getenv("DOTENV_FILE")
	if file == "" {
		file = ".env"
	}

	if err := gotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("file", file).Msg("Failed to load dotenv file")
	}
}

func parseLevel(s string, fallback zerolog.Level) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return fallback
	}

	return level
}
