package build

import (
	"bytes"
	"testing"

	btclogv1 "github.com/btcsuite/btclog"
	"github.com/btcsuite/btclog/v2"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*SubLoggerManager, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	handler := btclog.NewDefaultHandler(&buf, btclog.WithNoTimestamp())
	mgr := NewSubLoggerManager(handler)

	mgr.GenSubLogger("CHST", nil)
	mgr.GenSubLogger("PYMT", nil)

	return mgr, &buf
}

// TestParseAndSetDebugLevels checks global and per subsystem level parsing.
func TestParseAndSetDebugLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		level   string
		wantErr bool
		chst    btclogv1.Level
		pymt    btclogv1.Level
	}{
		{
			name:  "global only",
			level: "debug",
			chst:  btclog.LevelDebug,
			pymt:  btclog.LevelDebug,
		},
		{
			name:  "global and subsystem",
			level: "info,PYMT=trace",
			chst:  btclog.LevelInfo,
			pymt:  btclog.LevelTrace,
		},
		{
			name:    "unknown subsystem",
			level:   "info,NOPE=debug",
			wantErr: true,
		},
		{
			name:    "invalid level",
			level:   "loud",
			wantErr: true,
		},
		{
			name:    "malformed pair",
			level:   "info,PYMT",
			wantErr: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			mgr, _ := newTestManager(t)
			err := ParseAndSetDebugLevels(test.level, mgr)
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			loggers := mgr.SubLoggers()
			require.Equal(t, test.chst, loggers["CHST"].Level())
			require.Equal(t, test.pymt, loggers["PYMT"].Level())
		})
	}
}

// TestShutdownLogger makes sure critical messages trigger the shutdown hook.
func TestShutdownLogger(t *testing.T) {
	t.Parallel()

	mgr, buf := newTestManager(t)

	var called bool
	logger := mgr.GenSubLogger("ESCR", func() { called = true })
	logger.Criticalf("balance invariant broken on %v", "chan")

	require.True(t, called)
	require.Contains(t, buf.String(), "balance invariant broken")
	require.Equal(t, []string{"CHST", "ESCR", "PYMT"},
		mgr.SupportedSubsystems())
}
