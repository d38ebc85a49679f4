//go:build !stdlog

package build

// Package loggers stay disabled until the daemon installs real ones.
const stdoutLogLevel = ""
