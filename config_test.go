package lnpay

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnpay/lncfg"
	"github.com/lightningnetwork/lnpay/signal"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T) Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.LpayDir = t.TempDir()
	cfg.LogConfig.File.Disable = true

	return cfg
}

// TestValidateConfig checks the derived paths and network of a valid
// config.
func TestValidateConfig(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Network = "regtest"

	validated, err := ValidateConfig(cfg, signal.Interceptor{})
	require.NoError(t, err)

	require.Equal(t, &chaincfg.RegressionNetParams,
		validated.ActiveNetParams)
	require.Equal(t,
		filepath.Join(cfg.LpayDir, lncfg.DefaultDataDirname, "regtest"),
		validated.DataDir)
	require.Equal(t,
		filepath.Join(validated.DataDir, "graph"), validated.dbDir())

	settings := validated.PanelSettings()
	require.Equal(t, lncfg.DefaultPanelSettings().InvoiceExpiry,
		settings.InvoiceExpiry)
	require.Equal(t, "regtest", settings.DefaultNetwork)
	require.True(t, settings.LightningEnabled)
	require.True(t, settings.AutoChannelManagement)
}

// TestValidateConfigErrors checks that invalid options are refused.
func TestValidateConfigErrors(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Config)
	}{{
		name: "unknown network",
		modify: func(cfg *Config) {
			cfg.Network = "signet"
		},
	}, {
		name: "negative funding delay",
		modify: func(cfg *Config) {
			cfg.FundingDelay = -time.Second
		},
	}, {
		name: "crossed capacity bounds",
		modify: func(cfg *Config) {
			cfg.Channels.MinCapacity = 2_000_000
			cfg.Channels.MaxCapacity = 1_000_000
		},
	}, {
		name: "expiry outside of panel range",
		modify: func(cfg *Config) {
			cfg.Invoices.Expiry = 30 * time.Second
		},
	}, {
		name: "bad color",
		modify: func(cfg *Config) {
			cfg.Color = "4968ad"
		},
	}, {
		name: "bad debug level",
		modify: func(cfg *Config) {
			cfg.DebugLevel = "verbose"
		},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			tc.modify(&cfg)

			_, err := ValidateConfig(cfg, signal.Interceptor{})
			require.Error(t, err)
		})
	}
}

func TestValidateColor(t *testing.T) {
	t.Parallel()

	require.NoError(t, validateColor(DefaultColor))
	require.NoError(t, validateColor("#3399FF"))

	for _, color := range []string{"", "#123", "#12345g", "1234567"} {
		err := validateColor(color)
		require.ErrorIs(t, err, lncfg.ErrInvalidValue)
		require.True(t, lncfg.IsConfigError(err))
	}
}

func TestNetworkParams(t *testing.T) {
	t.Parallel()

	params, err := NetworkParams("testnet")
	require.NoError(t, err)
	require.Equal(t, &chaincfg.TestNet3Params, params)

	_, err = NetworkParams("litecoin")
	require.True(t, lncfg.IsConfigError(err))
}
