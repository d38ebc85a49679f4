package build

import (
	"io"
	"os"

	"github.com/btcsuite/btclog/v2"
)

// NewDefaultLogHandler builds the handler shared by every subsystem logger.
// Console and file output share a single handler; the console options win
// when both are enabled. A nil rotator or a disabled file logger leaves
// only the console, and disabling both yields a handler writing nowhere.
func NewDefaultLogHandler(cfg *LogConfig,
	rotator *RotatingLogWriter) btclog.Handler {

	var (
		writers []io.Writer
		opts    []btclog.HandlerOption
	)

	if !cfg.File.Disable && rotator != nil {
		writers = append(writers, rotator)
		opts = cfg.File.HandlerOptions()
	}
	if !cfg.Console.Disable {
		writers = append(writers, os.Stdout)
		opts = cfg.Console.HandlerOptions()
	}

	return btclog.NewDefaultHandler(io.MultiWriter(writers...), opts...)
}
