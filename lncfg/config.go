package lncfg

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultConfigFilename is the config file lnpayd reads from its base
	// directory.
	DefaultConfigFilename = "lnpay.conf"

	// DefaultDataDirname holds one database directory per network.
	DefaultDataDirname = "data"

	// DefaultLogDirname holds one log directory per network.
	DefaultLogDirname = "logs"

	// DefaultLogFilename is the name of the rotated log file.
	DefaultLogFilename = "lnpay.log"
)

// CleanAndExpandPath expands a leading ~ to the home directory and
// environment variables in $VAR form, then cleans the path. An empty path
// stays empty.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = home + path[1:]
		}
	}

	return filepath.Clean(os.ExpandEnv(path))
}

// NormalizeNetwork maps every testnet version to the same name, so they
// share data and log directories.
func NormalizeNetwork(network string) string {
	if strings.HasPrefix(network, "testnet") {
		return "testnet"
	}

	return network
}
