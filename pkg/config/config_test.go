package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0x0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
const testWallet = "0x1234567890123456789012345678901234567890"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PRIVATE_KEY", "FUNDER_ADDRESS", "TARGET_WALLET", "COPY_MULTIPLIER",
		"MIN_TRADE_SIZE", "MAX_TRADE_SIZE", "MAX_SLIPPAGE", "MAX_SESSION_NOTIONAL",
		"MAX_MARKET_NOTIONAL", "ORDER_TYPE", "POLL_INTERVAL_SEC", "WS_MODE",
		"MAX_CONSECUTIVE_ERRORS", "RPC_ENDPOINT", "AUTO_APPROVE", "LOG_LEVEL",
		"LOG_FILE", "DRY_RUN",
	} {
		os.Unsetenv(key)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	clearEnv(t)
	t.Setenv("PRIVATE_KEY", testKey)
	t.Setenv("TARGET_WALLET", testWallet)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1.0, cfg.Copy.Multiplier)
	assert.Equal(t, 1.0, cfg.Copy.MinTradeSize)
	assert.Equal(t, 100.0, cfg.Copy.MaxTradeSize)
	assert.Equal(t, 0.02, cfg.Copy.MaxSlippage)
	assert.Equal(t, "FAK", cfg.Copy.OrderType)
	assert.Equal(t, 5, cfg.Copy.PollIntervalSec)
	assert.Equal(t, "market", cfg.Copy.WSMode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DryRun)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
wallet:
  private_key: "` + testKey + `"
copy:
  target_wallet: "` + testWallet + `"
  multiplier: 0.5
  order_type: GTC
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	t.Setenv("COPY_MULTIPLIER", "2.0")

	cfg, err := Load(path)
	require.NoError(t, err)

	// 环境变量覆盖文件值，未覆盖的文件值保留
	assert.Equal(t, 2.0, cfg.Copy.Multiplier)
	assert.Equal(t, "GTC", cfg.Copy.OrderType)
}

func TestLoad_MissingFileIsError(t *testing.T) {
	clearEnv(t)
	t.Setenv("PRIVATE_KEY", testKey)
	t.Setenv("TARGET_WALLET", testWallet)

	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"missing key", map[string]string{"TARGET_WALLET": testWallet}},
		{"missing target", map[string]string{"PRIVATE_KEY": testKey}},
		{"bad target", map[string]string{"PRIVATE_KEY": testKey, "TARGET_WALLET": "not-an-address"}},
		{"bad multiplier", map[string]string{"PRIVATE_KEY": testKey, "TARGET_WALLET": testWallet, "COPY_MULTIPLIER": "-1"}},
		{"min above max", map[string]string{"PRIVATE_KEY": testKey, "TARGET_WALLET": testWallet, "MIN_TRADE_SIZE": "200", "MAX_TRADE_SIZE": "100"}},
		{"bad slippage", map[string]string{"PRIVATE_KEY": testKey, "TARGET_WALLET": testWallet, "MAX_SLIPPAGE": "1.5"}},
		{"bad order type", map[string]string{"PRIVATE_KEY": testKey, "TARGET_WALLET": testWallet, "ORDER_TYPE": "IOC"}},
		{"bad ws mode", map[string]string{"PRIVATE_KEY": testKey, "TARGET_WALLET": testWallet, "WS_MODE": "both"}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range c.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
		})
	}
}
