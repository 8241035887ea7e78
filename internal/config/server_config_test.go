package config_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github/chapool/gem-payout/internal/config"
)

func TestPrintServiceEnv(t *testing.T) {
	config := config.DefaultServiceConfigFromEnv()
	_, err := json.MarshalIndent(config, "", "  ")

	if err != nil {
		t.Fatal(err)
	}
}

func TestPayoutDefaults(t *testing.T) {
	cfg := config.DefaultServiceConfigFromEnv()

	assert.Equal(t, int64(120), cfg.Gas.MarginPercent)
	assert.Equal(t, "0.01", cfg.Conversion.FiatPerUnit)
	assert.Equal(t, int64(137), cfg.Chain.ChainID)
	assert.Equal(t, 2*time.Minute, cfg.Payout.ConfirmationTimeout)
	assert.Positive(t, cfg.Payout.NonceConflictRetries)
	assert.Equal(t, "payouts.requests", cfg.NATS.SubjectRequests)
	assert.Equal(t, uint64(30), cfg.Gas.MinTipGwei)
	assert.False(t, cfg.Database.MemoryStore)
}
