package build

import (
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btclog/v2"
)

// NewSubLogger returns the logger of a subsystem built by genSubLogger.
// Package init functions pass a nil genSubLogger; they get a disabled logger,
// or a stdout logger in stdlog builds.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	switch {
	case genSubLogger != nil:
		return genSubLogger(subsystem)

	case stdoutLogLevel != "":
		handler := btclog.NewDefaultHandler(os.Stdout)
		logger := btclog.NewSLogger(handler.SubSystem(subsystem))

		level, _ := btclog.LevelFromString(stdoutLogLevel)
		logger.SetLevel(level)

		return logger
	}

	return btclog.Disabled
}

// SubLoggers is a type that holds a map of subsystem loggers keyed by their
// subsystem name.
type SubLoggers map[string]btclog.Logger

// LeveledSubLogger provides the ability to retrieve the subsystem loggers of
// a logger and set their log levels individually or all at once.
type LeveledSubLogger interface {
	// SubLoggers returns the map of all registered subsystem loggers.
	SubLoggers() SubLoggers

	// SupportedSubsystems returns a sorted slice of the names of the
	// supported subsystems.
	SupportedSubsystems() []string

	// SetLogLevel assigns an individual subsystem logger a new log level.
	SetLogLevel(subsystemID string, logLevel string)

	// SetLogLevels assigns all subsystem loggers the same new log level.
	SetLogLevels(logLevel string)
}

// ParseAndSetDebugLevels applies a level string to the logger. The string
// is either a single level for every subsystem, or a comma separated list of
// SUBSYS=level pairs, optionally led by a global level:
//
//	info
//	info,PYMT=debug,CRTR=trace
//	ESCR=debug
func ParseAndSetDebugLevels(level string, logger LeveledSubLogger) error {
	global, pairs, _ := strings.Cut(level, ",")
	if strings.Contains(global, "=") {
		global, pairs = "", level
	}

	if global != "" {
		if !validLogLevel(global) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", global)
		}
	}

	// Everything is checked before any level changes, so a bad string
	// leaves the levels as they were.
	levels := make(map[string]string)
	for _, pair := range strings.Split(pairs, ",") {
		if pair == "" {
			continue
		}

		subsysID, logLevel, ok := strings.Cut(pair, "=")
		if !ok || strings.Contains(logLevel, "=") {
			return fmt.Errorf("the specified debug level has an "+
				"invalid format [%v] -- use format "+
				"subsystem1=level1,subsystem2=level2", pair)
		}

		if _, ok := logger.SubLoggers()[subsysID]; !ok {
			return fmt.Errorf("the specified subsystem [%v] is "+
				"invalid -- supported subsystems are %v",
				subsysID, logger.SupportedSubsystems())
		}

		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", logLevel)
		}

		levels[subsysID] = logLevel
	}

	if global != "" {
		logger.SetLogLevels(global)
	}
	for subsysID, logLevel := range levels {
		logger.SetLogLevel(subsysID, logLevel)
	}

	return nil
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical", "off":
		return true
	}

	return false
}
